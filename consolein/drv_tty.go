// drv_tty.go implements the default "apple" input mode: bytes are
// pulled from the terminal, or from redirected STDIN, exactly as the
// Apple's keyboard would deliver them, one non-blocking read at a
// time.  The firmware's own line handling does the editing and the
// echo.

package consolein

import (
	"golang.org/x/sys/unix"
)

var (
	// TTYInputName contains the name of the default driver.
	TTYInputName = "apple"
)

// TTYInput is the input-driver reading raw bytes from the terminal
// controller's descriptor.  It is also the base for the drivers which
// only differ in their line-input behaviour.
type TTYInput struct {

	// ci gives us the terminal controller and the line buffer.
	ci *ConsoleIn
}

// Setup retains the ConsoleIn.
func (ti *TTYInput) Setup(ci *ConsoleIn) error {
	ti.ci = ci
	return nil
}

// TearDown is a NOP; the terminal controller owns the descriptor.
func (ti *TTYInput) TearDown() error {
	return nil
}

// Refill performs one read of whatever is available.  The descriptor
// is non-blocking when it is a terminal, so "would block" comes back
// as ErrNoInput; a pipe blocks until data or end-of-file arrives.
func (ti *TTYInput) Refill(p []byte) (int, error) {

	n, err := unix.Read(ti.ci.term.Fd(), p)
	if n < 0 {
		n = 0
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, ErrNoInput
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// LineInput is a NOP: the firmware fetches the line itself, a
// keystroke at a time.
func (ti *TTYInput) LineInput() error {
	return nil
}

// GetName is part of the module API, and returns the name of this driver.
func (ti *TTYInput) GetName() string {
	return TTYInputName
}

// init registers our driver, by name.
func init() {
	Register(TTYInputName, func() InputDriver {
		return new(TTYInput)
	})
}
