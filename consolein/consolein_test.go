package consolein

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/wozcon/wozcon/charset"
)

// fakeTerm is a terminal controller for testing: it records the mode
// transitions instead of touching a real terminal.
type fakeTerm struct {
	interactive bool
	canon       bool
	entered     int
	restored    int
	enterErr    error
}

func (f *fakeTerm) Interactive() bool { return f.interactive }
func (f *fakeTerm) Canon() bool       { return f.canon }
func (f *fakeTerm) SetRaw()           { f.canon = false }
func (f *fakeTerm) SetCooked()        { f.canon = true }
func (f *fakeTerm) Fd() int           { return -1 }
func (f *fakeTerm) File() *os.File    { return nil }
func (f *fakeTerm) Restore()          { f.restored++ }

func (f *fakeTerm) EnterInteractive() error {
	f.entered++
	if f.enterErr != nil {
		return f.enterErr
	}
	f.interactive = true
	f.canon = false // the real controller attaches in raw mode
	return nil
}

// fakeGate records the suppression calls the input side makes.
type fakeGate struct {
	suppressed  int
	crsConsumed int
}

func (f *fakeGate) Suppress()               { f.suppressed++ }
func (f *fakeGate) CarriageReturnConsumed() { f.crsConsumed++ }

// scriptDriver serves queued chunks of input, then whatever final
// result it was configured with.  When then is set it is served after
// done has been reported once, playing the part of keys typed at the
// terminal a session has fallen back to.
type scriptDriver struct {
	chunks [][]byte
	done   error
	then   [][]byte
}

func (s *scriptDriver) Setup(ci *ConsoleIn) error { return nil }
func (s *scriptDriver) TearDown() error           { return nil }
func (s *scriptDriver) LineInput() error          { return nil }
func (s *scriptDriver) GetName() string           { return "script" }

func (s *scriptDriver) Refill(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		s.chunks, s.then = s.then, nil
		return 0, s.done
	}
	n := copy(p, s.chunks[0])
	s.chunks = s.chunks[1:]
	return n, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestConsole wires a ConsoleIn around fakes, bypassing the
// registry.
func newTestConsole(drv InputDriver, ft *fakeTerm) (*ConsoleIn, *fakeGate) {
	fg := &fakeGate{}
	ci := &ConsoleIn{
		driver: drv,
		term:   ft,
		gate:   fg,
		logger: testLogger(),
	}
	return ci, fg
}

// TestDriverRegistration performs some sanity-checks on our
// driver-registration.
func TestDriverRegistration(t *testing.T) {

	expected := []string{"apple", "canonical", "fgets", "editline", "term", "file", "error"}

	if len(handlers.m) != len(expected) {
		t.Fatalf("wrong number of handlers. found %d, expected %d", len(handlers.m), len(expected))
	}
	for _, nm := range expected {
		if _, ok := handlers.m[nm]; !ok {
			t.Fatalf("failed to find expected handler, %s", nm)
		}
	}

	// An unknown name must fail, and must name the offender.
	_, err := New("bogus", &fakeTerm{}, &fakeGate{}, testLogger())
	if err == nil {
		t.Fatalf("we got a driver that shouldn't exist")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("error doesn't name the offending value: %s", err)
	}

	// The internal drivers are hidden from the public list.
	ci, err := New("apple", &fakeTerm{}, &fakeGate{}, testLogger())
	if err != nil {
		t.Fatalf("failed to lookup driver by name: %s", err)
	}
	if ci.GetName() != "apple" {
		t.Fatalf("naming mismatch on driver")
	}
	if len(ci.GetDrivers()) != len(expected)-2 {
		t.Fatalf("unexpected number of public drivers: %d", len(ci.GetDrivers()))
	}

	// The alias resolves to the same driver.
	ci, err = New("FGETS", &fakeTerm{}, &fakeGate{}, testLogger())
	if err != nil {
		t.Fatalf("failed to lookup driver by alias: %s", err)
	}
	if ci.GetName() != "canonical" {
		t.Fatalf("alias resolved to the wrong driver: %s", ci.GetName())
	}
	if ci.GetDriver().GetName() != "canonical" {
		t.Fatalf("alias resolved to the wrong driver")
	}
}

// TestKeyTranslation walks an interactive "A<return>" through the
// register: the keystrokes come out in Apple encoding, and the
// carriage return puts the terminal back into raw mode.
func TestKeyTranslation(t *testing.T) {

	ft := &fakeTerm{interactive: true, canon: true}
	ci, _ := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)

	ci.StuffInput("A\n")

	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != 'A'|0x80 {
		t.Fatalf("wrong translation: %02X", c)
	}
	if err := ci.Consume(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	c, err = ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != charset.CR {
		t.Fatalf("newline should read as CR: %02X", c)
	}
	if ft.canon {
		t.Fatalf("delivering the CR should have switched back to raw")
	}
	if err := ci.Consume(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if ci.start != ci.end {
		t.Fatalf("buffer should be drained")
	}
}

// TestIdleRepeatsLast ensures that polling an idle keyboard returns
// the previous keystroke with the strobe bit clear.
func TestIdleRepeatsLast(t *testing.T) {

	ft := &fakeTerm{interactive: true}
	ci, _ := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)

	ci.StuffInput("A")
	c, _ := ci.ReadKey()
	if c != 'A'|0x80 {
		t.Fatalf("wrong keystroke: %02X", c)
	}
	if err := ci.Consume(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Nothing ready now: same character, strobe clear.
	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != 'A' {
		t.Fatalf("idle read should repeat the last key unstrobed: %02X", c)
	}
}

// TestPipedEOF runs a complete redirected session: every byte is
// delivered in order, then the placeholder appears, and consuming the
// placeholder reports that the session is over.
func TestPipedEOF(t *testing.T) {

	ft := &fakeTerm{}
	drv := &scriptDriver{chunks: [][]byte{[]byte("HELLO\n")}, done: io.EOF}
	ci, _ := newTestConsole(drv, ft)

	want := []uint8{'H' | 0x80, 'E' | 0x80, 'L' | 0x80, 'L' | 0x80, 'O' | 0x80, charset.CR}
	for i, w := range want {
		c, err := ci.ReadKey()
		if err != nil {
			t.Fatalf("unexpected error at %d: %s", i, err)
		}
		if c != w {
			t.Fatalf("byte %d: got %02X, want %02X", i, c, w)
		}
		if err := ci.Consume(); err != nil {
			t.Fatalf("unexpected error at %d: %s", i, err)
		}
	}

	// Exhausted: the placeholder, then a clean end.
	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != charset.CR {
		t.Fatalf("expected the placeholder, got %02X", c)
	}

	// EOF is sticky: more polling yields only the placeholder.
	for i := 0; i < 3; i++ {
		c, _ = ci.ReadKey()
		if c != charset.CR {
			t.Fatalf("EOF should be monotonic, got %02X", c)
		}
	}

	if err := ci.Consume(); err != io.EOF {
		t.Fatalf("consuming the placeholder should end the session, got %v", err)
	}
}

// TestRemainAfterPipe ensures an exhausted pipe falls back to the
// terminal when configured to, instead of ending the session.
func TestRemainAfterPipe(t *testing.T) {

	ft := &fakeTerm{}
	drv := &scriptDriver{done: io.EOF, then: [][]byte{[]byte("A")}}
	ci, _ := newTestConsole(drv, ft)
	ci.SetRemainAfterPipe(true)

	bannered := 0
	ci.SetBanner(func() { bannered++ })

	// The keyboard is polled again straight after the fallback, so a
	// key already waiting there is delivered by this very call.
	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != 'A'|0x80 {
		t.Fatalf("expected the waiting keystroke, got %02X", c)
	}
	if ft.entered != 1 {
		t.Fatalf("expected to enter interactive mode")
	}
	if !ft.interactive {
		t.Fatalf("session should have become interactive")
	}
	if bannered != 1 {
		t.Fatalf("banner wasn't shown")
	}
	if ci.eofFound {
		t.Fatalf("fallback shouldn't have declared EOF")
	}
}

// TestInterruptInteractive ensures Ctrl-C arrives as the Apple's
// interrupt keystroke, repeats until consumed, and is cleared by the
// consume.
func TestInterruptInteractive(t *testing.T) {

	ft := &fakeTerm{interactive: true}
	ci, _ := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)

	ci.interrupted.Store(true)

	for i := 0; i < 2; i++ {
		c, err := ci.ReadKey()
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if c != charset.Interrupt {
			t.Fatalf("expected the interrupt keystroke, got %02X", c)
		}
	}

	if err := ci.Consume(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ci.interrupted.Load() {
		t.Fatalf("consume should have cleared the pending interrupt")
	}
}

// TestInterruptFlushesPipe ensures an interrupt during redirected
// input, with the fallback configured, discards the buffered input and
// hands the session to the terminal.
func TestInterruptFlushesPipe(t *testing.T) {

	ft := &fakeTerm{}
	ci, _ := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)
	ci.SetRemainAfterPipe(true)

	ci.StuffInput("UNREAD INPUT")
	ci.interrupted.Store(true)

	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != charset.Interrupt {
		t.Fatalf("expected the interrupt keystroke, got %02X", c)
	}
	if ci.start != 0 || ci.end != 0 {
		t.Fatalf("buffered input should have been discarded")
	}
	if !ft.interactive {
		t.Fatalf("session should have become interactive")
	}
}

// TestInterruptEndsPipe ensures an interrupt during redirected input,
// without the fallback, declares end-of-input.
func TestInterruptEndsPipe(t *testing.T) {

	ft := &fakeTerm{}
	ci, _ := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)

	ci.interrupted.Store(true)

	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != charset.Interrupt {
		t.Fatalf("expected the interrupt keystroke, got %02X", c)
	}
	if !ci.eofFound {
		t.Fatalf("expected EOF to be pending")
	}
	if err := ci.Consume(); err != io.EOF {
		t.Fatalf("expected the session to end, got %v", err)
	}
}

// TestCtrlD ensures a lone Ctrl-D from the terminal means the session
// is over.
func TestCtrlD(t *testing.T) {

	ft := &fakeTerm{interactive: true}
	drv := &scriptDriver{chunks: [][]byte{{0x04}}, done: ErrNoInput}
	ci, _ := newTestConsole(drv, ft)

	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != charset.CR {
		t.Fatalf("expected the placeholder, got %02X", c)
	}
	if err := ci.Consume(); err != io.EOF {
		t.Fatalf("expected the session to end, got %v", err)
	}
}

// TestCanonZeroRead ensures a zero-byte read in cooked mode is taken
// as end-of-file, while the same read in raw mode is just an idle
// poll.
func TestCanonZeroRead(t *testing.T) {

	// Cooked: end-of-file.
	ft := &fakeTerm{interactive: true, canon: true}
	ci, _ := newTestConsole(&scriptDriver{}, ft)

	c, err := ci.ReadKey()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if c != charset.CR || !ci.eofFound {
		t.Fatalf("cooked zero-read should mean EOF")
	}

	// Raw: idle.
	ft = &fakeTerm{interactive: true, canon: false}
	ci, _ = newTestConsole(&scriptDriver{}, ft)

	if _, err := ci.ReadKey(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ci.eofFound {
		t.Fatalf("raw zero-read shouldn't mean EOF")
	}
}

// TestReadFailure ensures a genuine read error is reported as fatal.
func TestReadFailure(t *testing.T) {

	ft := &fakeTerm{interactive: true}
	ci, _ := newTestConsole(&ErrorInput{}, ft)

	_, err := ci.ReadKey()
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, ErrRead) {
		t.Fatalf("expected a read error, got %v", err)
	}
}

// TestConsumeSuppression ensures consuming the carriage return that
// ends a suppressed line fetch notifies the output gate.
func TestConsumeSuppression(t *testing.T) {

	ft := &fakeTerm{interactive: true}
	ci, fg := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)

	ci.StuffInput("A\n")

	if err := ci.Consume(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if fg.crsConsumed != 0 {
		t.Fatalf("consuming 'A' shouldn't have signalled the gate")
	}

	if err := ci.Consume(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if fg.crsConsumed != 1 {
		t.Fatalf("consuming the newline should have signalled the gate")
	}

	// Consuming with nothing buffered is a NOP.
	if err := ci.Consume(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ci.start > ci.end || ci.end > Capacity {
		t.Fatalf("buffer invariant broken: start %d end %d", ci.start, ci.end)
	}
}

// TestCanonicalLineInput ensures the canonical driver hands a line
// fetch to the host's cooked mode, echo suppressed.
func TestCanonicalLineInput(t *testing.T) {

	ft := &fakeTerm{interactive: true}
	drv := &CanonicalInput{}
	ci, fg := newTestConsole(drv, ft)

	if err := drv.Setup(ci); err != nil {
		t.Fatalf("setup failed: %s", err)
	}

	if err := ci.LineInput(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if fg.suppressed != 1 {
		t.Fatalf("firmware echo should be suppressed")
	}
	if !ft.canon {
		t.Fatalf("terminal should be cooked for the line fetch")
	}
}

// TestEditlineBuffered ensures a line fetch with bytes still queued
// suppresses the firmware's echo, without consulting the editor.
func TestEditlineBuffered(t *testing.T) {

	ft := &fakeTerm{interactive: true}
	drv := &EditlineInput{}
	ci, fg := newTestConsole(drv, ft)

	if err := drv.Setup(ci); err != nil {
		t.Fatalf("setup failed: %s", err)
	}

	ci.StuffInput("HELLO\r")

	if err := ci.LineInput(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if fg.suppressed != 1 {
		t.Fatalf("firmware echo should be suppressed")
	}
	if drv.editor != nil {
		t.Fatalf("editor consulted while bytes were queued")
	}
}

// TestStuffLine ensures edited lines arrive terminated with a carriage
// return, and that over-long lines are truncated with a warning.
func TestStuffLine(t *testing.T) {

	var logged bytes.Buffer

	ft := &fakeTerm{interactive: true}
	ci, _ := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)
	ci.logger = slog.New(slog.NewTextHandler(&logged, nil))

	ci.stuffLine([]byte("HELLO"))
	if ci.end != 6 || ci.buf[5] != '\r' {
		t.Fatalf("line wasn't terminated properly")
	}

	// Too long: truncated to capacity, warning logged.
	long := bytes.Repeat([]byte{'X'}, Capacity*2)
	ci.stuffLine(long)
	if ci.end != Capacity {
		t.Fatalf("line wasn't truncated: end %d", ci.end)
	}
	if ci.buf[Capacity-1] != '\r' {
		t.Fatalf("truncated line wasn't terminated")
	}
	if !strings.Contains(logged.String(), "truncated") {
		t.Fatalf("truncation wasn't logged")
	}
}

// TestSetupTearDown gives the signal watcher a work-out.
func TestSetupTearDown(t *testing.T) {

	ft := &fakeTerm{}
	ci, _ := newTestConsole(&scriptDriver{done: ErrNoInput}, ft)

	if err := ci.Setup(); err != nil {
		t.Fatalf("setup failed: %s", err)
	}
	if err := ci.TearDown(); err != nil {
		t.Fatalf("teardown failed: %s", err)
	}

	// A second teardown mustn't panic on the closed channel.
	if err := ci.TearDown(); err != nil {
		t.Fatalf("second teardown failed: %s", err)
	}
}
