package cli

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// activity shows a spinner on stderr while the CLI waits on the wallet.
// It pauses while a prompt owns the terminal.
type activity struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
}

// newActivity returns an activity indicator. It is inert unless w is a
// terminal and enabled is set.
func newActivity(w io.Writer, enabled bool) *activity {
	f, ok := w.(*os.File)
	if !enabled || !ok || !term.IsTerminal(int(f.Fd())) { //nolint:gosec // G115: Fd() returns uintptr, safe conversion for term.IsTerminal
		return &activity{}
	}
	return &activity{
		spinner: spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w)),
	}
}

// start shows msg with a spinner until the returned function is called.
func (a *activity) start(msg string) func() {
	if a.spinner == nil {
		return func() {}
	}
	a.mu.Lock()
	a.spinner.Suffix = " " + msg
	a.spinner.Start()
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.spinner.Stop()
			a.mu.Unlock()
		})
	}
}

// pause hides a running spinner and returns a function that restores it.
func (a *activity) pause() func() {
	if a.spinner == nil {
		return func() {}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.spinner.Active() {
		return func() {}
	}
	a.spinner.Stop()
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.spinner.Start()
	}
}
