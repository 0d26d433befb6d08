// Package consolein turns host input - a raw terminal, a cooked
// terminal, a line editor, or a redirected pipe - into the
// byte-at-a-time keyboard feed the emulated machine polls.
//
// The package supports a number of input drivers, registered by name,
// which differ in where bytes come from and in what happens when the
// firmware starts fetching a line.  On top of whichever driver is
// selected we keep a single line buffer, track pending end-of-input
// and pending interrupts, and translate everything into the Apple's
// high-bit keyboard codes.
//
// Note that no output functions are handled by this package, it is
// exclusively used for input; however consuming a keystroke can end a
// period of output suppression, so the package talks to the output
// gate through a tiny interface.
package consolein

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/wozcon/wozcon/charset"
)

// Capacity is the size of the line buffer: the most bytes a single
// host read, or a single edited line, can hand us.
const Capacity = 256

var (
	// ErrNoInput means no byte was ready; the caller should re-poll.
	ErrNoInput = errors.New("no input ready")

	// ErrSetup wraps failures to attach to the terminal, or to the
	// line editor.  These are fatal during interactive startup.
	ErrSetup = errors.New("setup failed")

	// ErrRead wraps a read failure which wasn't just "would block".
	// These are always fatal.
	ErrRead = errors.New("read failed")
)

// Terminal is the slice of the terminal-mode controller the input side
// drives.  It is an interface so that tests can substitute a fake.
type Terminal interface {

	// Interactive reports whether input comes from an attached terminal.
	Interactive() bool

	// Canon reports whether the terminal is currently in cooked mode.
	Canon() bool

	// SetRaw switches to character-at-a-time input without echo.
	SetRaw()

	// SetCooked switches to line-buffered input with echo.
	SetCooked()

	// Fd returns the descriptor input is read from.
	Fd() int

	// File returns the controlling terminal, nil when not interactive.
	File() *os.File

	// EnterInteractive attaches to the controlling terminal.
	EnterInteractive() error

	// Restore puts the terminal back the way we found it.
	Restore()
}

// OutputGate is the slice of the output device the input side needs:
// consuming input can end a period of output suppression.
type OutputGate interface {

	// Suppress starts dropping all firmware output.
	Suppress()

	// CarriageReturnConsumed notes that the keystroke which ends a
	// suppressed line fetch has been consumed.
	CarriageReturnConsumed()
}

// InputDriver is the interface each input mode implements.
type InputDriver interface {

	// Setup prepares the driver.  The ConsoleIn is retained so the
	// driver can reach the terminal controller and the line buffer.
	Setup(ci *ConsoleIn) error

	// TearDown releases anything Setup acquired.
	TearDown() error

	// Refill performs one non-blocking read into p.  It returns
	// ErrNoInput when nothing is ready, io.EOF when the source is
	// exhausted, and (0, nil) for a bare zero-byte read - which the
	// caller disambiguates, since its meaning depends on the
	// terminal mode.
	Refill(p []byte) (int, error)

	// LineInput is invoked when the firmware enters its line-fetch
	// routine and the session is interactive.  Most drivers do
	// nothing and let the firmware edit the line itself.
	LineInput() error

	// GetName returns the name of this driver.
	GetName() string
}

// Constructor is the signature of a constructor-function which is used
// to instantiate an instance of a driver.
type Constructor func() InputDriver

// This is a map of known-drivers
var handlers = struct {
	m map[string]Constructor
}{m: make(map[string]Constructor)}

// Register makes an input driver available, by name.
//
// When one needs to be created the constructor can be called to create
// an instance of it.
func Register(name string, obj Constructor) {
	// Downcase for consistency.
	name = strings.ToLower(name)

	handlers.m[name] = obj
}

// ConsoleIn holds our state.
type ConsoleIn struct {

	// driver is the thing that actually obtains input bytes.
	driver InputDriver

	// term owns the host terminal's mode.
	term Terminal

	// gate is poked when consuming input changes output suppression.
	gate OutputGate

	// logger is used for warnings and diagnostics.
	logger *slog.Logger

	// buf holds bytes fetched from the host but not yet delivered
	// to the emulated keyboard register.  start only ever advances
	// towards end, and is reset to zero exactly when a refill
	// happens.
	buf        [Capacity]byte
	start, end int

	// lastChar is the previous keystroke, with the strobe bit
	// clear.  It is what the register reads while no new key is
	// ready.
	lastChar uint8

	// eofFound records that end-of-input has been seen but not yet
	// consumed.  Once set, only the placeholder carriage return is
	// delivered until Consume ends the session.
	eofFound bool

	// interrupted is set by the signal watcher, and nowhere else.
	// It is read in ReadKey and cleared only in Consume.
	interrupted atomic.Bool

	// sigch receives the host's interrupt signal.
	sigch chan os.Signal

	// remainAfterPipe controls whether exhausting redirected input
	// falls back to the controlling terminal instead of ending the
	// session.
	remainAfterPipe bool

	// banner, when non-nil, is invoked once each time the session
	// becomes interactive.
	banner func()
}

// New returns a ConsoleIn using the named input driver.  An unknown
// name is an error, reported with the offending value.
func New(name string, term Terminal, gate OutputGate, logger *slog.Logger) (*ConsoleIn, error) {
	// Downcase for consistency.
	name = strings.ToLower(name)

	ctor, ok := handlers.m[name]
	if !ok {
		return nil, fmt.Errorf("unrecognized input driver %q", name)
	}

	return &ConsoleIn{
		driver: ctor(),
		term:   term,
		gate:   gate,
		logger: logger,
	}, nil
}

// GetName returns the name of the driver in use.
func (ci *ConsoleIn) GetName() string {
	return ci.driver.GetName()
}

// GetDriver allows getting our driver at runtime.
func (ci *ConsoleIn) GetDriver() InputDriver {
	return ci.driver
}

// GetDrivers returns all available driver-names.
//
// We hide the internal "file", and "error" drivers.
func (ci *ConsoleIn) GetDrivers() []string {
	valid := []string{}

	for x := range handlers.m {
		if x != "file" && x != "error" {
			valid = append(valid, x)
		}
	}
	return valid
}

// SetRemainAfterPipe chooses what happens when redirected input runs
// out: fall back to the terminal, or end the session.
func (ci *ConsoleIn) SetRemainAfterPipe(remain bool) {
	ci.remainAfterPipe = remain
}

// SetBanner registers a function invoked each time the session becomes
// interactive.
func (ci *ConsoleIn) SetBanner(fn func()) {
	ci.banner = fn
}

// Setup prepares the driver and starts watching for the host's
// interrupt signal.  The watcher does nothing but set a flag; all
// interpretation happens synchronously inside ReadKey and Consume.
func (ci *ConsoleIn) Setup() error {

	if err := ci.driver.Setup(ci); err != nil {
		return fmt.Errorf("%w: %s driver: %s", ErrSetup, ci.driver.GetName(), err)
	}

	ci.sigch = make(chan os.Signal, 1)
	signal.Notify(ci.sigch, os.Interrupt)
	go func() {
		for range ci.sigch {
			ci.interrupted.Store(true)
		}
	}()

	return nil
}

// TearDown stops the signal watcher and releases the driver.
func (ci *ConsoleIn) TearDown() error {
	if ci.sigch != nil {
		signal.Stop(ci.sigch)
		close(ci.sigch)
		ci.sigch = nil
	}
	return ci.driver.TearDown()
}

// BecomeInteractive switches input to the controlling terminal.  It is
// called at startup when STDIN is a terminal, and at runtime when
// piped input has been exhausted with the fallback configured.
func (ci *ConsoleIn) BecomeInteractive() error {

	if err := ci.term.EnterInteractive(); err != nil {
		return fmt.Errorf("%w: %s", ErrSetup, err)
	}
	if ci.banner != nil {
		ci.banner()
	}
	return nil
}

// LineInput tells the driver that the firmware is about to fetch a
// whole line of input, so it can substitute host-side editing.
func (ci *ConsoleIn) LineInput() error {
	return ci.driver.LineInput()
}

// ReadKey returns the value the keyboard-data register reads: the next
// input byte in Apple encoding with the strobe bit set, or the
// previous byte with the strobe clear when nothing new is ready.
func (ci *ConsoleIn) ReadKey() (uint8, error) {

	// Once end-of-input is pending nothing but the placeholder
	// comes out.  The placeholder looks like a ready keystroke so
	// the firmware is guaranteed to perform the consume that ends
	// the session.
	if ci.eofFound {
		return ci.key(charset.CR), nil
	}

	if ci.interrupted.Load() {
		if ci.term.Interactive() {
			// Delivered as an ordinary keystroke.
		} else if ci.remainAfterPipe {
			// Throw away whatever redirected input is left
			// and hand the session to the terminal.
			ci.start, ci.end = 0, 0
			if err := ci.BecomeInteractive(); err != nil {
				return 0, err
			}
		} else {
			ci.eofFound = true
		}
		return ci.key(charset.Interrupt), nil
	}

	if ci.start < ci.end {
		// We have bytes left from a buffered read, deliver the
		// next one.
		c := charset.FromHost(ci.buf[ci.start])
		if c == charset.CR {
			ci.term.SetRaw() // a line fetch has just finished
		}
		return ci.key(c), nil
	}

	return ci.refill()
}

// refill asks the driver for more input, and sorts out the several
// meanings of "nothing came back".
func (ci *ConsoleIn) refill() (uint8, error) {

	n, err := ci.driver.Refill(ci.buf[:])
	if err != nil && !errors.Is(err, ErrNoInput) && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: %s", ErrRead, err)
	}

	if n <= 0 {
		eof := errors.Is(err, io.EOF)

		if ci.term.Interactive() {
			if eof || (err == nil && ci.term.Canon()) {
				// A zero-byte read with no error.  In
				// cooked mode that is how a terminal
				// reports end-of-file; in raw mode a
				// non-blocking read may also legally return
				// zero bytes when idle, so we only believe
				// it when we were cooked.  A best-effort
				// reading of host behaviour, not a
				// guarantee - raw-mode end-of-file is
				// caught by the explicit Ctrl-D check
				// below instead.
				ci.eofFound = true
				return ci.key(charset.CR), nil
			}

			// No key ready at the terminal.  Report the
			// previous byte with the strobe clear so the
			// firmware keeps polling without blocking.
			return ci.lastChar, nil
		}

		if ci.remainAfterPipe {
			// Redirected input has been exhausted; switch to
			// reading the keyboard instead of ending the
			// session, and poll it straight away in case a
			// key is already waiting.  The retry cannot loop:
			// the session is interactive now, so this branch
			// is unreachable on the second pass.
			if err := ci.BecomeInteractive(); err != nil {
				return 0, err
			}
			return ci.refill()
		}

		// End of redirected input and not remaining after.
		ci.eofFound = true
		return ci.key(charset.CR), nil
	}

	ci.start, ci.end = 0, n

	if ci.buf[0] == '\n' {
		ci.term.SetRaw() // a (possibly empty) line fetch just finished
	}

	if ci.term.Interactive() && n == 1 && ci.buf[0] == 0x04 {
		// A lone Ctrl-D read from the terminal: end of session.
		ci.eofFound = true
		return ci.key(charset.CR), nil
	}

	return ci.key(charset.FromHost(ci.buf[ci.start])), nil
}

// key records c as the most recent keystroke and returns it.
func (ci *ConsoleIn) key(c uint8) uint8 {
	ci.lastChar = c & 0x7F
	return c
}

// Consume advances past the byte most recently delivered by ReadKey;
// the strobe-clear soft switch maps here.  It is the one place a
// pending interrupt is cleared.  io.EOF is returned once end-of-input
// has been acknowledged and the caller should end the session cleanly.
func (ci *ConsoleIn) Consume() error {

	if ci.eofFound {
		return io.EOF
	}

	if ci.interrupted.Load() {
		ci.interrupted.Store(false)
		return nil
	}

	if ci.start < ci.end {
		if b := ci.buf[ci.start]; b == '\n' || b == '\r' {
			ci.gate.CarriageReturnConsumed()
		}
		ci.start++
	}

	// Otherwise nothing: no keypress was ready.
	return nil
}

// StuffInput replaces the buffered input, as if the bytes had just
// been read from the host.  Used by tests and scripted automation.
func (ci *ConsoleIn) StuffInput(s string) {
	n := copy(ci.buf[:], s)
	ci.start, ci.end = 0, n
}

// stuffLine replaces the buffer with one edited line of input, its
// terminator rewritten to the carriage return the firmware expects.
// Over-long lines are truncated, with a warning.
func (ci *ConsoleIn) stuffLine(line []byte) {

	if len(line) > Capacity-1 {
		ci.logger.Warn("input line truncated",
			slog.Int("length", len(line)),
			slog.Int("max", Capacity-1))
		line = line[:Capacity-1]
	}

	n := copy(ci.buf[:], line)
	ci.buf[n] = '\r'
	ci.start, ci.end = 0, n+1
}
