// Package console is the root of our device, it binds the input
// multiplexer, the output gate, and the terminal controller into one
// session and exposes the two faces the host emulator talks to: the
// per-instruction hook dispatcher and the memory-mapped register
// bridge.
//
// The package deliberately knows nothing about how the CPU is
// implemented, it only needs to read the accumulator and move the
// program counter, so both the CPU and the emulated memory are reached
// through small interfaces supplied by the caller.
package console

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/wozcon/wozcon/consolein"
	"github.com/wozcon/wozcon/consoleout"
	"github.com/wozcon/wozcon/termios"
	"github.com/wozcon/wozcon/version"
	"golang.org/x/term"
)

// Process exit statuses, used by the register bridge when a session
// ends or dies.
const (
	// ExitOK is used for a clean end of session, including running
	// out of piped input.
	ExitOK = 0

	// ExitSetup is used when the terminal, or the line editor,
	// could not be initialized.
	ExitSetup = 1

	// ExitIO is used when a read failed for a reason other than
	// "nothing there yet".
	ExitIO = 2
)

// Firmware entry points we dispatch on, and the two soft-switch pages
// we answer for.  Addresses are those of the Apple II Autostart and
// original monitor ROMs.
const (
	// addrCOUT1 is COUT1, the monitor's character-output routine.
	addrCOUT1 = 0xFDF0

	// addrGETLN is the common line-fetch loop shared by all of the
	// monitor's line-input entry points.
	addrGETLN = 0xFD75

	// addrPrompt and addrPromptNoCR are the two GETLN entries which
	// print the prompt character before fetching.
	addrPrompt     = 0xFD67
	addrPromptNoCR = 0xFD6A

	// addrWozPrompt is the prompt inside Integer BASIC.
	addrWozPrompt = 0xE006

	// addrMonitor is the monitor's cold entry, and addrBasic is
	// where we send the first boot instead when Integer BASIC is
	// resident.
	addrMonitor = 0xFF69
	addrBasic   = 0xE000

	// kbdData and kbdStrobe are the keyboard soft-switch pages.
	// Hardware decodes these with 16-byte granularity, so we match
	// them after masking with pageMask.
	kbdData   = 0xC000
	kbdStrobe = 0xC010
	pageMask  = 0xFFF0
)

// wozSignature is the byte pattern found at the Integer BASIC prompt
// entry when the original Woz ROMs are resident.
var wozSignature = []uint8{0x85, 0x33, 0x4C, 0xED, 0xFD}

// Memory is the view of the emulated address space we need: the ROM
// classification reads a handful of bytes through it.
type Memory interface {
	// Get returns a byte of emulated memory.
	Get(addr uint16) uint8
}

// CPU is the view of the emulated processor we need.  The character
// output hook reads the accumulator, the first-boot hook moves the
// program counter.
type CPU interface {
	// A returns the accumulator.
	A() uint8

	// SetPC moves the program counter.
	SetPC(addr uint16)
}

// Config contains the values the caller's configuration layer hands
// us.  Parsing flags, files, etc, is the caller's business.
type Config struct {
	// Input is the name of the input driver to use, "apple" when
	// empty.
	Input string

	// Output is the name of the output driver to use, "ansi" when
	// empty.
	Output string

	// RemainAfterPipe, when set, turns exhaustion of piped input
	// into a switch to the controlling terminal rather than the end
	// of the session.
	RemainAfterPipe bool

	// Quiet suppresses the banner we otherwise print on entering
	// interactive mode.
	Quiet bool
}

// HookFn contains the signature of a firmware hook.
type HookFn func(d *Device)

// Hook contains details of a firmware entry point we intercept.
//
// While we mostly need an "address to handler" mapping, having a name
// is useful for the logs we produce.
type Hook struct {
	// Desc contains the human-readable description of the entry
	// point.
	Desc string

	// Handler contains the function invoked when the program
	// counter reaches the entry point.
	Handler HookFn
}

// Device is the object that holds our session state.
type Device struct {

	// in is our buffered input multiplexer.
	in *consolein.ConsoleIn

	// out is our output gate.
	out *consoleout.ConsoleOut

	// term owns the host terminal's mode, and its restoration.
	term consolein.Terminal

	// mem is the emulated address space, used only for ROM
	// classification.
	mem Memory

	// cpu is the emulated processor.
	cpu CPU

	// hooks maps firmware entry points to behaviours, checked once
	// per emulated instruction.
	hooks map[uint16]Hook

	// wozChecked and wozROM memoize the ROM classification, which
	// is computed at most once however often it is consulted.
	wozChecked bool
	wozROM     bool

	// monitorSeen notes that the monitor entry point has been
	// reached before, the first-boot redirect fires only once.
	monitorSeen bool

	// logger handles our logging.
	logger *slog.Logger

	// exit ends the process.  It is a field so tests can observe
	// session endings instead of dying.
	exit func(code int)

	// isTerminal reports whether a descriptor is a terminal.  A
	// field so tests can pretend.
	isTerminal func(fd int) bool
}

// New creates a device from the given configuration, wiring the input
// driver, the output driver, and the terminal controller together.
//
// An unrecognized driver name is an error carrying the offending
// value.
func New(cfg Config, mem Memory, cpu CPU, logger *slog.Logger) (*Device, error) {
	if cfg.Input == "" {
		cfg.Input = consolein.TTYInputName
	}
	if cfg.Output == "" {
		cfg.Output = "ansi"
	}

	tc := termios.New(logger)

	out, err := consoleout.New(cfg.Output)
	if err != nil {
		return nil, err
	}
	out.SetInteractive(tc.Interactive)

	in, err := consolein.New(cfg.Input, tc, out, logger)
	if err != nil {
		return nil, err
	}
	in.SetRemainAfterPipe(cfg.RemainAfterPipe)
	if !cfg.Quiet {
		in.SetBanner(func() {
			fmt.Fprintf(os.Stderr, "%s", version.GetVersionBanner())
		})
	}

	d := &Device{
		in:         in,
		out:        out,
		term:       tc,
		mem:        mem,
		cpu:        cpu,
		logger:     logger,
		exit:       os.Exit,
		isTerminal: term.IsTerminal,
	}

	d.hooks = map[uint16]Hook{
		addrCOUT1:      {Desc: "COUT1", Handler: hookOutput},
		addrGETLN:      {Desc: "GETLN", Handler: hookLineInput},
		addrPrompt:     {Desc: "GETLN prompt", Handler: hookPrompt},
		addrPromptNoCR: {Desc: "GETLN prompt, no CR", Handler: hookPrompt},
		addrWozPrompt:  {Desc: "BASIC prompt", Handler: hookWozPrompt},
		addrMonitor:    {Desc: "monitor entry", Handler: hookMonitor},
	}

	return d, nil
}

// Start attaches to the terminal when our input is one, then prepares
// the input driver.  It must be called before the first emulated
// instruction runs.
//
// The attach happens before the driver runs: a driver may put the
// terminal into raw mode itself, and the state we capture for Restore
// must be the one the user started with, not the driver's.
func (d *Device) Start() error {
	if d.isTerminal(d.term.Fd()) {
		err := d.in.BecomeInteractive()
		if err != nil {
			return err
		}
	}
	return d.in.Setup()
}

// Close releases the input driver and restores the terminal.  It is
// safe to call more than once.
func (d *Device) Close() {
	err := d.in.TearDown()
	if err != nil {
		d.logger.Warn("teardown failed",
			slog.String("error", err.Error()))
	}
	d.term.Restore()
}

// Step examines the given program counter before the instruction there
// executes, and runs any hook registered for it.
func (d *Device) Step(pc uint16) {
	hook, ok := d.hooks[pc]
	if !ok {
		return
	}

	d.logger.Debug("firmware hook",
		slog.String("entry", hook.Desc),
		slog.Int("pc", int(pc)))

	hook.Handler(d)
}

// hookOutput routes the accumulator through the output gate.
func hookOutput(d *Device) {
	d.out.Emit(d.cpu.A())
}

// hookLineInput fires when the firmware starts fetching a line.  When
// the session isn't interactive the firmware's echo would collide with
// the piped transcript, so it is suppressed; otherwise the selected
// driver decides whether the host, an editor, or the firmware itself
// edits the line.
func hookLineInput(d *Device) {
	if !d.term.Interactive() {
		d.out.Suppress()
		return
	}

	err := d.in.LineInput()
	if err != nil {
		d.fatal(err)
	}
}

// hookPrompt hides the firmware's prompt when nobody is sitting at a
// terminal to see it.
func hookPrompt(d *Device) {
	if !d.term.Interactive() {
		d.out.Suppress()
	}
}

// hookWozPrompt is hookPrompt for the prompt inside Integer BASIC,
// which only exists when the Woz ROMs are resident.
func hookWozPrompt(d *Device) {
	if !d.term.Interactive() && d.isWozROM() {
		d.out.Suppress()
	}
}

// hookMonitor redirects the very first entry into the monitor straight
// into Integer BASIC, when that is resident.  Later entries, such as a
// user typing the reset vector, are left alone.
func hookMonitor(d *Device) {
	if d.monitorSeen {
		return
	}
	d.monitorSeen = true

	if d.isWozROM() {
		d.logger.Debug("first boot, redirecting into BASIC")
		d.cpu.SetPC(addrBasic)
	}
}

// isWozROM reports whether the original Woz ROMs are resident, by
// looking for a known byte pattern at the Integer BASIC prompt entry.
// The answer is computed once and remembered, the ROM region isn't
// expected to change under us.
func (d *Device) isWozROM() bool {
	if d.wozChecked {
		return d.wozROM
	}
	d.wozChecked = true

	d.wozROM = true
	for i, b := range wozSignature {
		if d.mem.Get(addrWozPrompt+uint16(i)) != b {
			d.wozROM = false
			break
		}
	}

	d.logger.Debug("ROM classified",
		slog.Bool("woz", d.wozROM))
	return d.wozROM
}

// Peek handles reads of the soft-switch pages.  The boolean return is
// false when the address is not one of our registers, in which case
// the memory subsystem supplies whatever the open bus would.
func (d *Device) Peek(addr uint16) (uint8, bool) {
	switch addr & pageMask {
	case kbdData:
		val, err := d.in.ReadKey()
		if err != nil {
			d.fatal(err)
			return 0x00, false
		}
		return val, true
	case kbdStrobe:
		// Reading the strobe clears it, but the value on the
		// bus isn't ours to provide.
		d.consume()
	}
	return 0x00, false
}

// Poke handles writes to the soft-switch pages.  The boolean return is
// false when the address is not one of our registers.  Writing the
// strobe page clears it just as reading does.
func (d *Device) Poke(addr uint16, val uint8) bool {
	if addr&pageMask == kbdStrobe {
		d.consume()
		return true
	}
	return false
}

// consume acknowledges the current keystroke.  When that keystroke was
// the end-of-input placeholder the session is over, and we end the
// process cleanly.
func (d *Device) consume() {
	err := d.in.Consume()
	if err == nil {
		return
	}

	if errors.Is(err, io.EOF) {
		// Leave the host shell on a fresh line.
		fmt.Println()
		d.Close()
		d.exit(ExitOK)
		return
	}

	d.fatal(err)
}

// fatal reports an unrecoverable error and ends the process, with a
// status telling setup failures and read failures apart.
func (d *Device) fatal(err error) {
	fmt.Fprintf(os.Stderr, "wozcon: %s\n", err)

	code := ExitIO
	if errors.Is(err, consolein.ErrSetup) {
		code = ExitSetup
	}

	d.Close()
	d.exit(code)
}
