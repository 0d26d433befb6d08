// Package consoleout renders the characters the emulated firmware
// prints, through a pluggable output driver.
//
// Sitting in front of the driver is a three-state suppression gate.
// When host-side input handling replaces the firmware's - piped input,
// the host's cooked mode, or a line editor - the firmware still echoes
// the line it reads, and that echo would collide with what the host
// has already shown.  The gate drops everything until the carriage
// return ending the line fetch has gone past, swallows at most one
// echoed carriage return after that, and then passes output through
// again.
package consoleout

import (
	"fmt"
	"io"
	"strings"

	"github.com/wozcon/wozcon/charset"
)

// Suppression is the state of the output gate.
type Suppression int

const (
	// SuppressNone passes all output through.
	SuppressNone Suppression = iota

	// SuppressCR drops exactly one more carriage return, then
	// becomes SuppressNone.
	SuppressCR

	// SuppressAll drops everything until the carriage return ending
	// the current line fetch is seen, then becomes SuppressCR.
	SuppressAll
)

// ConsoleOutput is the interface that must be implemented by anything
// that wishes to be used as an output driver.
//
// Providing this interface is implemented an object may register
// itself, by name, via the Register method.
type ConsoleOutput interface {

	// PutCharacter will output the specified character to the
	// defined writer.
	//
	// The writer will default to STDOUT, but can be changed, via
	// SetWriter.
	PutCharacter(c uint8)

	// GetName will return the name of the driver.
	GetName() string

	// SetWriter will update the writer.
	SetWriter(io.Writer)
}

// ConsoleRecorder is an interface that allows returning the contents
// that have been previously sent to the console.
//
// This is used solely for testing.
type ConsoleRecorder interface {

	// GetOutput returns the contents which have been displayed.
	GetOutput() string

	// Reset removes any stored state.
	Reset()
}

// This is a map of known-drivers
var handlers = struct {
	m map[string]Constructor
}{m: make(map[string]Constructor)}

// Constructor is the signature of a constructor-function which is used
// to instantiate an instance of a driver.
type Constructor func() ConsoleOutput

// Register makes an output driver available, by name.
//
// When one needs to be created the constructor can be called to create
// an instance of it.
func Register(name string, obj Constructor) {
	// Downcase for consistency.
	name = strings.ToLower(name)

	handlers.m[name] = obj
}

// ConsoleOut holds our state: the selected driver, and the gate in
// front of it.
type ConsoleOut struct {

	// driver is the thing that actually writes our output.
	driver ConsoleOutput

	// state is the gate's suppression state.
	state Suppression

	// outputSeen records whether anything has been written this
	// session; it controls whether a leading carriage return is
	// rendered at all.
	outputSeen bool

	// interactive reports whether the session is rendering to an
	// attached terminal.  Nil means no.
	interactive func() bool
}

// New is our constructor, it creates an output device which uses the
// specified driver.
func New(name string) (*ConsoleOut, error) {
	// Downcase for consistency.
	name = strings.ToLower(name)

	// Do we have a constructor with the given name?
	ctor, ok := handlers.m[name]
	if !ok {
		return nil, fmt.Errorf("unrecognized output driver %q", name)
	}

	return &ConsoleOut{
		driver: ctor(),
	}, nil
}

// SetInteractive supplies the session's interactive state, which
// decides whether carriage returns are rendered before any output has
// been seen.
func (co *ConsoleOut) SetInteractive(fn func() bool) {
	co.interactive = fn
}

// GetDriver allows getting our driver at runtime.
func (co *ConsoleOut) GetDriver() ConsoleOutput {
	return co.driver
}

// ChangeDriver allows changing our driver at runtime.
func (co *ConsoleOut) ChangeDriver(name string) error {

	// Do we have a constructor with the given name?
	ctor, ok := handlers.m[name]
	if !ok {
		return fmt.Errorf("unrecognized output driver %q", name)
	}

	// change the driver by creating a new object
	co.driver = ctor()
	return nil
}

// GetName returns the name of our selected driver.
func (co *ConsoleOut) GetName() string {
	return co.driver.GetName()
}

// GetDrivers returns all available driver-names.
//
// We hide the internal "null", and "logger" drivers.
func (co *ConsoleOut) GetDrivers() []string {
	valid := []string{}

	for x := range handlers.m {
		if x != "null" && x != "logger" {
			valid = append(valid, x)
		}
	}
	return valid
}

// State returns the gate's current suppression state.
func (co *ConsoleOut) State() Suppression {
	return co.state
}

// Suppress starts dropping all firmware output, until the carriage
// return ending the current line fetch has been seen.  It is invoked
// when the firmware is about to echo a prompt or a line the host has
// already rendered - or shouldn't render at all.
func (co *ConsoleOut) Suppress() {
	co.state = SuppressAll
}

// CarriageReturnConsumed notes that the input side has consumed the
// carriage return ending a suppressed line fetch.  One more echoed
// carriage return will be swallowed, then output resumes.
func (co *ConsoleOut) CarriageReturnConsumed() {
	if co.state == SuppressAll {
		co.state = SuppressCR
	}
}

// Emit renders one character of firmware output, in Apple encoding,
// applying the suppression rules and the host rendering rules.
func (co *ConsoleOut) Emit(val uint8) {

	state := co.state
	if state == SuppressCR {
		// Whatever we do with this character, the one-shot
		// suppression is over.
		co.state = SuppressNone
	}

	c := charset.ToHost(val)

	if state == SuppressAll {
		// Dropped - but an echoed carriage return means the
		// suppressed line fetch is complete.
		if c == '\r' {
			co.state = SuppressCR
		}
		return
	}

	switch {
	case charset.IsPrint(c), c == '\t', c == '\b':
		co.outputSeen = true
		co.driver.PutCharacter(c)

	case c == '\r':
		if state == SuppressCR {
			// This is the echo we were waiting to swallow.
			return
		}
		// The firmware prints a gratuitous newline at cold
		// start; don't render carriage returns until either the
		// user can see a terminal or some real output has
		// appeared.
		if co.isInteractive() || co.outputSeen {
			co.driver.PutCharacter('\n')
		}
	}
}

// isInteractive reports whether the session renders to a terminal.
func (co *ConsoleOut) isInteractive() bool {
	return co.interactive != nil && co.interactive()
}
