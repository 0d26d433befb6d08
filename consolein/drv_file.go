// drv_file creates a console input-driver which reads and returns
// fake console input from a file named "input.txt".
//
// The intent is that this driver will be useful for scripted
// automation, and for our own tests: the content is served exactly as
// a redirected pipe would serve it, ending with a clean end-of-file.

package consolein

import (
	"io"
	"os"
)

// FileInput is an input-driver that returns fake "console input" by
// reading the content of the file "input.txt".
type FileInput struct {

	// offset shows the offset into the buffer we're at.
	offset int

	// content contains the content of the "input.txt" file.
	content []byte
}

// Setup reads the contents of the file specified by the environmental
// variable $INPUT_FILE, and saves it away as a source of fake console
// input.
//
// If no filename is chosen "input.txt" will be used as a default.
func (fi *FileInput) Setup(ci *ConsoleIn) error {

	fileName := os.Getenv("INPUT_FILE")
	if fileName == "" {
		fileName = "input.txt"
	}

	dat, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}

	// Save our offset and data.
	fi.offset = 0
	fi.content = dat
	return nil
}

// TearDown is a NOP.
func (fi *FileInput) TearDown() error {
	return nil
}

// Refill serves the next chunk of the scripted input, and end-of-file
// once it has been exhausted.
func (fi *FileInput) Refill(p []byte) (int, error) {

	if fi.offset >= len(fi.content) {
		// Input is over.
		return 0, io.EOF
	}

	n := copy(p, fi.content[fi.offset:])
	fi.offset += n
	return n, nil
}

// LineInput is a NOP.
func (fi *FileInput) LineInput() error {
	return nil
}

// GetName is part of the module API, and returns the name of this driver.
func (fi *FileInput) GetName() string {
	return "file"
}

// init registers our driver, by name.
func init() {
	Register("file", func() InputDriver {
		return new(FileInput)
	})
}
