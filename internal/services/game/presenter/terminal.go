package presenter

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/text/message"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/platform/i18n/catalog"
	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
)

// DefaultActivityLines is how many journal lines a frame shows.
const DefaultActivityLines = 8

// StateReader is the engine surface the terminal draws from.
type StateReader interface {
	CurrentSnapshot() (domain.Snapshot, bool)
	Board() (domain.Board, bool)
	Status() reconcile.Status
}

// EntryReader lists journal entries.
type EntryReader interface {
	Entries(account domain.AccountID) []activity.Entry
}

// TerminalOptions configures a Terminal.
type TerminalOptions struct {
	Locale        string
	ActivityLines int
	// Interactive redraws a live area; otherwise only journal lines are
	// printed as they arrive.
	Interactive bool
	Out         io.Writer
	Logf        func(string, ...any)
}

// Terminal redraws the game whenever Refresh is called.
type Terminal struct {
	state   StateReader
	entries EntryReader
	printer *message.Printer
	opts    TerminalOptions

	mu   sync.Mutex
	area *pterm.AreaPrinter
}

// NewTerminal builds a terminal presenter.
func NewTerminal(state StateReader, entries EntryReader, bundle *catalog.Bundle, opts TerminalOptions) (*Terminal, error) {
	if state == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "state reader is required")
	}
	if bundle == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "message catalog is required")
	}
	if opts.ActivityLines <= 0 {
		opts.ActivityLines = DefaultActivityLines
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	return &Terminal{
		state:   state,
		entries: entries,
		printer: bundle.Printer(opts.Locale),
		opts:    opts,
	}, nil
}

// Start opens the live area in interactive mode.
func (t *Terminal) Start() error {
	if !t.opts.Interactive {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.area != nil {
		return nil
	}
	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return fmt.Errorf("start terminal area: %w", err)
	}
	t.area = area
	return nil
}

// Stop closes the live area, leaving the last frame on screen.
func (t *Terminal) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.area == nil {
		return nil
	}
	err := t.area.Stop()
	t.area = nil
	return err
}

// View collects the current frame.
func (t *Terminal) View() View {
	status := t.state.Status()
	view := View{State: status.State.String()}
	view.Snapshot, view.HasSnapshot = t.state.CurrentSnapshot()
	view.Board, view.HasBoard = t.state.Board()
	if t.entries != nil {
		view.Activity = t.entries.Entries(status.Account)
	}
	return view
}

// Refresh redraws the live area. It does nothing outside interactive mode.
func (t *Terminal) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.area == nil {
		return
	}
	frame, err := Render(t.printer, t.View(), t.opts.ActivityLines)
	if err != nil {
		t.opts.Logf("render frame: %v", err)
		return
	}
	t.area.Update(frame)
}

// PrintEntry writes one journal line. In interactive mode the entry shows
// up in the next frame instead.
func (t *Terminal) PrintEntry(entry activity.Entry) {
	if t.opts.Interactive {
		t.Refresh()
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.opts.Out, FormatEntry(entry))
}
