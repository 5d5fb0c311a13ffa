package presenter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/pterm/pterm"

	"github.com/louisbranch/hederapoly/internal/platform/i18n/catalog"
	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
)

var testAccount = domain.MustAccountID("0x8F1e1DC747D66EA0958e271d7EFe1503a77c719E")

func testBoard(t *testing.T) domain.Board {
	t.Helper()
	board, err := domain.NewBoard([]domain.TileInfo{
		{Index: 0, Name: "Start"},
		{Index: 1, Name: "Bank", Kind: domain.TileProfit, Value: 50},
		{Index: 2, Name: "Fine", Kind: domain.TileLoss, Value: 20},
	})
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	return board
}

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Account:            testAccount,
		Position:           1,
		Balance:            *uint256.NewInt(480),
		HasStarted:         true,
		PointsEarned:       *uint256.NewInt(2),
		NextRequiredAmount: *uint256.NewInt(1000),
		TokenBalance:       *uint256.NewInt(750),
		TotalSupply:        *uint256.NewInt(600),
		WinnerCount:        *uint256.NewInt(1),
	}
}

func testCatalog(t *testing.T) *catalog.Bundle {
	t.Helper()
	bundle, err := catalog.LoadEmbedded()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return bundle
}

func plain(s string) string {
	return pterm.RemoveColorFromString(s)
}

func TestRenderBoardMarksPosition(t *testing.T) {
	out := plain(RenderBoard(testBoard(t), testSnapshot()))
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[1], "▶") || !strings.Contains(lines[1], "Bank (+50)") {
		t.Fatalf("player line = %q", lines[1])
	}
	if strings.Contains(lines[0], "▶") || !strings.Contains(lines[2], "Fine (-20)") {
		t.Fatalf("lines = %q", lines)
	}

	notStarted := testSnapshot()
	notStarted.HasStarted = false
	if strings.Contains(plain(RenderBoard(testBoard(t), notStarted)), "▶") {
		t.Fatal("marker shown before the game started")
	}
}

func TestRenderStats(t *testing.T) {
	p := testCatalog(t).Printer("en-US")
	out := plain(RenderStats(p, testSnapshot(), 12))
	for _, want := range []string{
		"0x8F1e...719E",
		"Position 1 of 12",
		"Game balance: 480 HPOLY",
		"Wallet: 750 HPOLY",
		"Points earned: 2",
		"1000 HPOLY needed to claim",
		"Total supply: 600 HPOLY",
		"Winners: 1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats missing %q:\n%s", want, out)
		}
	}

	rich := testSnapshot()
	rich.TokenBalance = *uint256.NewInt(1000)
	if out := plain(RenderStats(p, rich, 12)); !strings.Contains(out, "Ready to claim a point") {
		t.Fatalf("stats = %s", out)
	}
}

func TestRenderActivityKeepsNewest(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local)
	entries := []activity.Entry{
		{Message: "Game started!", Severity: activity.SeverityNeutral, CreatedAt: at},
		{Message: "+50 HPOLY from landing!", Severity: activity.SeverityProfit, CreatedAt: at.Add(time.Second)},
		{Message: "-20 HPOLY from landing!", Severity: activity.SeverityLoss, CreatedAt: at.Add(2 * time.Second)},
	}
	out := plain(RenderActivity(entries, 2))
	want := "[09:00:01] +50 HPOLY from landing!\n[09:00:02] -20 HPOLY from landing!"
	if out != want {
		t.Fatalf("activity = %q, want %q", out, want)
	}
}

func TestRenderWithoutSnapshotShowsState(t *testing.T) {
	out, err := Render(testCatalog(t).Printer(""), View{State: "connecting"}, 5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(plain(out), "connecting") {
		t.Fatalf("frame = %q", out)
	}
}

func TestRenderFullFrame(t *testing.T) {
	view := View{
		State:       "synced",
		Snapshot:    testSnapshot(),
		HasSnapshot: true,
		Board:       testBoard(t),
		HasBoard:    true,
		Activity:    []activity.Entry{{Message: "Wallet connected successfully", CreatedAt: time.Now()}},
	}
	out, err := Render(testCatalog(t).Printer(""), view, 5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	frame := plain(out)
	for _, want := range []string{"BOARD", "SYNCED", "ACTIVITY", "Bank (+50)", "Wallet connected successfully"} {
		if !strings.Contains(frame, want) {
			t.Fatalf("frame missing %q:\n%s", want, frame)
		}
	}
}

type fakeState struct {
	snapshot domain.Snapshot
	board    domain.Board
	status   reconcile.Status
}

func (f fakeState) CurrentSnapshot() (domain.Snapshot, bool) { return f.snapshot, !f.snapshot.Account.IsZero() }
func (f fakeState) Board() (domain.Board, bool)              { return f.board, f.board.Size() > 0 }
func (f fakeState) Status() reconcile.Status                 { return f.status }

type fakeEntries []activity.Entry

func (f fakeEntries) Entries(domain.AccountID) []activity.Entry { return f }

func TestTerminalViewAndPrintEntry(t *testing.T) {
	var out bytes.Buffer
	state := fakeState{snapshot: testSnapshot(), board: testBoard(t), status: reconcile.Status{State: reconcile.StateStale, Account: testAccount}}
	entries := fakeEntries{{Message: "Game started!"}}
	terminal, err := NewTerminal(state, entries, testCatalog(t), TerminalOptions{Out: &out})
	if err != nil {
		t.Fatalf("new terminal: %v", err)
	}

	view := terminal.View()
	if view.State != "stale" || !view.HasSnapshot || !view.HasBoard || len(view.Activity) != 1 {
		t.Fatalf("view = %+v", view)
	}

	if err := terminal.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	terminal.Refresh()
	terminal.PrintEntry(activity.Entry{Message: "Minted 1000 HPOLY", Severity: activity.SeverityProfit, CreatedAt: time.Now()})
	if !strings.Contains(plain(out.String()), "Minted 1000 HPOLY") {
		t.Fatalf("output = %q", out.String())
	}
	if err := terminal.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewTerminalValidates(t *testing.T) {
	if _, err := NewTerminal(nil, nil, testCatalog(t), TerminalOptions{}); err == nil {
		t.Fatal("expected error for missing state")
	}
	if _, err := NewTerminal(fakeState{}, nil, nil, TerminalOptions{}); err == nil {
		t.Fatal("expected error for missing catalog")
	}
}
