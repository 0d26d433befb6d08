// drv_term.go uses the Termbox library to handle keyboard input, for
// hosts where we can't drive the termios attributes directly.
//
// A goroutine is launched which collects any keyboard input and saves
// that to a buffer where it is peeled off on-demand by Refill.  The
// portability of this solution is unknown, but it behaves like the
// Apple keyboard: keys appear immediately, unechoed, and polling never
// blocks.

package consolein

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nsf/termbox-go"
	"golang.org/x/term"
)

// TermboxInput is our termbox-backed input-driver.
type TermboxInput struct {

	// ci gives us the line buffer and terminal state.
	ci *ConsoleIn

	// oldState contains the state of the terminal, before switching
	// to RAW mode.
	oldState *term.State

	// cancel stops our polling goroutine.
	cancel context.CancelFunc

	// mu guards keyBuffer, which the polling goroutine appends to.
	mu sync.Mutex

	// keyBuffer builds up keys read "in the background", via termbox.
	keyBuffer []byte
}

// Setup ensures that the termbox init functions are called, and our
// terminal is set into RAW mode.
func (ti *TermboxInput) Setup(ci *ConsoleIn) error {

	ti.ci = ci

	var err error

	// switch STDIN into 'raw' mode - we must do this before
	// we setup termbox.
	ti.oldState, err = term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}

	if err = termbox.Init(); err != nil {
		return err
	}

	// This is "Show Cursor", which termbox hides by default.
	fmt.Printf("\x1b[?25h")

	ctx, cancel := context.WithCancel(context.Background())
	ti.cancel = cancel

	// Start polling for keyboard input "in the background".
	go ti.pollKeyboard(ctx)

	return nil
}

// pollKeyboard runs in a goroutine and collects keyboard input into a
// buffer where it will be read from in the future.
func (ti *TermboxInput) pollKeyboard(ctx context.Context) {
	for {
		// Are we done?
		select {
		case <-ctx.Done():
			return
		default:
			// NOP
		}

		// Now look for keyboard input
		switch ev := termbox.PollEvent(); ev.Type {
		case termbox.EventKey:
			ti.mu.Lock()
			if ev.Ch != 0 {
				ti.keyBuffer = append(ti.keyBuffer, byte(ev.Ch))
			} else {
				ti.keyBuffer = append(ti.keyBuffer, byte(ev.Key))
			}
			ti.mu.Unlock()
		}
	}
}

// TearDown stops the background polling of characters, closes down
// termbox, and restores the terminal state.
func (ti *TermboxInput) TearDown() error {

	if ti.cancel != nil {
		ti.cancel()
	}

	termbox.Close()

	if ti.oldState != nil {
		return term.Restore(int(os.Stdin.Fd()), ti.oldState)
	}
	return nil
}

// Refill drains whatever the polling goroutine has collected, without
// ever blocking.
func (ti *TermboxInput) Refill(p []byte) (int, error) {

	ti.mu.Lock()
	defer ti.mu.Unlock()

	if len(ti.keyBuffer) == 0 {
		return 0, ErrNoInput
	}

	n := copy(p, ti.keyBuffer)
	ti.keyBuffer = ti.keyBuffer[n:]
	return n, nil
}

// LineInput is a NOP: the firmware fetches the line itself.
func (ti *TermboxInput) LineInput() error {
	return nil
}

// GetName is part of the module API, and returns the name of this driver.
func (ti *TermboxInput) GetName() string {
	return "term"
}

// init registers our driver, by name.
func init() {
	Register("term", func() InputDriver {
		return new(TermboxInput)
	})
}
