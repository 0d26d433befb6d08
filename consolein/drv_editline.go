// drv_editline.go implements the "editline" input mode: line fetches
// are handed to the line editor from golang.org/x/term, which gives
// history and editing keys beyond what the host's cooked mode offers.
//
// The editor renders its own echo, so it runs on the raw terminal; the
// firmware's echo of the line is suppressed just as in canonical mode.

package consolein

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// EditlineInput is the input-driver delegating line input to an
// external line editor.
type EditlineInput struct {
	TTYInput

	// editor is created lazily, on the first line fetch after the
	// session has a terminal to edit on.
	editor *term.Terminal
}

// LineInput obtains one full line from the editor and stuffs it into
// the line buffer, terminator rewritten to a carriage return.  An
// editor error or end-of-file is treated exactly like end of host
// input.
func (el *EditlineInput) LineInput() error {

	ci := el.ci

	// The firmware is about to echo the line; that is hidden even
	// when the line is already sitting in the buffer.
	ci.gate.Suppress()

	if ci.start < ci.end {
		// There are still buffered bytes to deliver.
		return nil
	}

	if el.editor == nil {
		f := ci.term.File()
		if f == nil {
			return fmt.Errorf("%w: editline requires an attached terminal", ErrSetup)
		}
		el.editor = term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{f, os.Stdout}, "")
	}

	line, err := el.editor.ReadLine()
	if err != nil {
		// Probably end-of-file, possibly worse; either way the
		// session is over once the placeholder is consumed.
		ci.eofFound = true
		return nil
	}

	ci.stuffLine([]byte(line))
	return nil
}

// GetName is part of the module API, and returns the name of this driver.
func (el *EditlineInput) GetName() string {
	return "editline"
}

// init registers our driver, by name.
func init() {
	Register("editline", func() InputDriver {
		return new(EditlineInput)
	})
}
