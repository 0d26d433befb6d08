// Package termios owns the host terminal's mode on behalf of the
// emulated console.
//
// The emulated keyboard expects a read to return immediately whether or
// not a key is ready, so our "raw" mode is non-canonical with zero
// minimum characters and a zero timeout.  Line-oriented input phases
// switch back to the host's cooked mode.  Whatever happens, the mode
// the terminal had when we attached is restored exactly once on the
// way out.
package termios

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Controller performs the raw/cooked transitions on the controlling
// terminal.  There is exactly one instance per process, owned by the
// console device; the terminal is an exclusive resource.
type Controller struct {

	// logger is used for the non-fatal attribute failures.
	logger *slog.Logger

	// fd is the descriptor input is read from.  It starts as STDIN
	// and becomes the controlling terminal once we go interactive.
	fd int

	// tty wraps the controlling terminal descriptor, so that callers
	// which want blocking semantics (the line editor) can read via
	// the runtime poller while we keep using raw non-blocking reads.
	tty *os.File

	// orig is the terminal state captured when we attached, and the
	// state Restore puts back.
	orig unix.Termios

	// cur is the state we last pushed to the terminal.
	cur unix.Termios

	// haveOrig records whether orig has been captured.
	haveOrig bool

	// interactive records whether input comes from a terminal at all.
	// Mode changes are no-ops until it is set.
	interactive bool

	// canon tracks whether the terminal is currently in cooked mode.
	canon bool

	// restore guarantees the terminal is put back at most once.
	restore sync.Once
}

// New returns a controller which is not yet attached to a terminal.
// Until EnterInteractive is called every mode change is a no-op and
// input is read from STDIN.
func New(logger *slog.Logger) *Controller {
	return &Controller{
		logger: logger,
		fd:     int(os.Stdin.Fd()),
		canon:  true,
	}
}

// Fd returns the descriptor console input is read from.
func (c *Controller) Fd() int {
	return c.fd
}

// File returns the controlling terminal, or nil before the session
// becomes interactive.
func (c *Controller) File() *os.File {
	return c.tty
}

// Interactive reports whether input comes from an attached terminal.
func (c *Controller) Interactive() bool {
	return c.interactive
}

// Canon reports whether the terminal is currently in cooked mode.
func (c *Controller) Canon() bool {
	return c.canon
}

// EnterInteractive attaches to the controlling terminal.  It is called
// either at startup, when STDIN is a terminal, or later when redirected
// input has been exhausted and the session falls back to the keyboard.
//
// The terminal's original mode is captured here, once, and the device
// is switched straight into raw mode.  Calling this a second time is a
// no-op - the capture must never repeat, or Restore would put back the
// wrong state.
func (c *Controller) EnterInteractive() error {

	if c.tty != nil {
		return nil
	}
	c.interactive = true

	// We always open the terminal directly rather than trusting
	// STDIN: it may be a pipe we've just drained.
	fd, err := unix.Open("/dev/tty", unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("couldn't open /dev/tty: %w", err)
	}
	c.fd = fd
	c.tty = os.NewFile(uintptr(fd), "/dev/tty")

	tio, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return fmt.Errorf("tcgetattr: %w", err)
	}
	c.orig = *tio
	c.cur = *tio
	c.haveOrig = true

	c.SetRaw()
	return nil
}

// SetRaw switches the terminal to non-canonical mode without echo.
// Reads return immediately, with nothing, like the Apple's keyboard
// register.  IXANY is set so any key resumes output after Ctrl-S,
// which is what an Apple does.
func (c *Controller) SetRaw() {
	if !c.interactive {
		return
	}

	c.cur.Lflag &^= unix.ICANON | unix.ECHO
	c.cur.Iflag |= unix.IXANY
	c.cur.Cc[unix.VMIN] = 0
	c.cur.Cc[unix.VTIME] = 0
	c.apply()
	c.canon = false
}

// SetCooked switches the terminal to canonical mode with echo, until
// the current line of input is complete.
func (c *Controller) SetCooked() {
	if !c.interactive {
		return
	}

	c.cur.Lflag |= unix.ICANON | unix.ECHO
	c.apply()
	c.canon = true
}

// apply pushes the current attribute set to the terminal.  A failure
// after startup only costs display fidelity, so it is logged and
// execution continues with whatever mode resulted.
func (c *Controller) apply() {
	if err := unix.IoctlSetTermios(c.fd, ioctlWriteTermios, &c.cur); err != nil {
		c.logger.Warn("tcsetattr",
			slog.String("error", err.Error()))
	}
}

// Restore puts the terminal back into the state captured by
// EnterInteractive.  It may be called from any exit path, any number
// of times; only the first call touches the terminal.
func (c *Controller) Restore() {
	c.restore.Do(func() {
		if !c.haveOrig {
			return
		}
		c.cur = c.orig
		if err := unix.IoctlSetTermios(c.fd, ioctlWriteTermios, &c.orig); err != nil {
			c.logger.Warn("tcsetattr",
				slog.String("error", err.Error()))
		}
		c.canon = true
	})
}
