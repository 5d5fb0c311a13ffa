// Package presenter draws the game state in a terminal with pterm.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/text/message"

	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// View is everything one frame shows.
type View struct {
	State       string
	Snapshot    domain.Snapshot
	HasSnapshot bool
	Board       domain.Board
	HasBoard    bool
	Activity    []activity.Entry
}

// RenderBoard lists the tiles, marking the player's tile when the game has
// started.
func RenderBoard(board domain.Board, snapshot domain.Snapshot) string {
	var b strings.Builder
	for _, tile := range board.Tiles() {
		marker := "  "
		if snapshot.HasStarted && uint64(tile.Index) == snapshot.Position {
			marker = pterm.LightYellow("▶ ")
		}
		fmt.Fprintf(&b, "%s%2d  %s\n", marker, tile.Index, tileStyle(tile.Kind).Sprint(tile.Label()))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func tileStyle(kind domain.TileKind) pterm.Color {
	switch kind {
	case domain.TileProfit:
		return pterm.FgLightGreen
	case domain.TileLoss:
		return pterm.FgLightRed
	default:
		return pterm.FgDefault
	}
}

// RenderStats summarizes the snapshot with localized labels.
func RenderStats(printer *message.Printer, snapshot domain.Snapshot, boardSize int) string {
	lines := []string{pterm.LightCyan(snapshot.Account.Short())}
	if snapshot.HasStarted {
		lines = append(lines, printer.Sprintf("status.position", snapshot.Position, boardSize))
	}
	lines = append(lines,
		printer.Sprintf("status.balance", snapshot.Balance.Dec()),
		printer.Sprintf("status.tokens", snapshot.TokenBalance.Dec()),
		printer.Sprintf("status.points", snapshot.PointsEarned.Uint64()),
	)
	if snapshot.CanClaim() {
		lines = append(lines, pterm.LightGreen(printer.Sprintf("status.claim_ready")))
	} else {
		lines = append(lines, printer.Sprintf("status.claim_needed", snapshot.NextRequiredAmount.Dec()))
	}
	lines = append(lines,
		printer.Sprintf("status.supply", snapshot.TotalSupply.Dec()),
		printer.Sprintf("status.winners", snapshot.WinnerCount.Uint64()),
	)
	return strings.Join(lines, "\n")
}

// RenderActivity formats the newest limit entries, oldest first.
func RenderActivity(entries []activity.Entry, limit int) string {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, FormatEntry(entry))
	}
	return strings.Join(lines, "\n")
}

// FormatEntry renders one journal line as "[15:04:05] message", colored
// by severity.
func FormatEntry(entry activity.Entry) string {
	stamp := pterm.Gray("[" + entry.CreatedAt.In(time.Local).Format("15:04:05") + "]")
	switch entry.Severity {
	case activity.SeverityProfit:
		return stamp + " " + pterm.LightGreen(entry.Message)
	case activity.SeverityLoss:
		return stamp + " " + pterm.LightRed(entry.Message)
	default:
		return stamp + " " + entry.Message
	}
}

// Render lays out board, stats and activity as pterm panels.
func Render(printer *message.Printer, view View, activityLines int) (string, error) {
	box := pterm.DefaultBox.WithHorizontalPadding(2)

	if !view.HasSnapshot {
		return box.WithTitle(pterm.LightYellow("|HEDERAPOLY|")).WithTitleTopCenter().
			Sprintf("%s", view.State), nil
	}

	top := []pterm.Panel{}
	if view.HasBoard {
		top = append(top, pterm.Panel{Data: box.WithTitle("|BOARD|").WithTitleTopLeft().
			Sprint(RenderBoard(view.Board, view.Snapshot))})
	}
	top = append(top, pterm.Panel{Data: box.WithTitle("|" + strings.ToUpper(view.State) + "|").WithTitleTopLeft().
		Sprint(RenderStats(printer, view.Snapshot, view.Board.Size()))})

	rows := [][]pterm.Panel{top}
	if log := RenderActivity(view.Activity, activityLines); log != "" {
		rows = append(rows, []pterm.Panel{{Data: box.WithTitle("|ACTIVITY|").WithTitleTopLeft().Sprint(log)}})
	}
	return pterm.DefaultPanel.WithPanels(rows).Srender()
}
