package domain

import (
	"testing"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
)

func TestNewBoardOrdersTiles(t *testing.T) {
	board, err := NewBoard([]TileInfo{
		{Index: 2, Name: "Tax", Kind: TileLoss, Value: -30},
		{Index: 0, Name: "Go", Kind: TileNeutral},
		{Index: 1, Name: "Market", Kind: TileProfit, Value: 50},
	})
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	if board.Size() != 3 {
		t.Fatalf("size = %d", board.Size())
	}
	tiles := board.Tiles()
	for i, tile := range tiles {
		if tile.Index != i {
			t.Fatalf("tile %d has index %d", i, tile.Index)
		}
	}
	tiles[0].Name = "mutated"
	if got, _ := board.Tile(0); got.Name != "Go" {
		t.Fatal("expected Tiles to return a copy")
	}
	if _, ok := board.Tile(3); ok {
		t.Fatal("expected out of range lookup to fail")
	}
}

func TestNewBoardRejectsGaps(t *testing.T) {
	cases := map[string][]TileInfo{
		"empty":     nil,
		"duplicate": {{Index: 0}, {Index: 0}},
		"gap":       {{Index: 0}, {Index: 2}},
		"negative":  {{Index: -1}},
	}
	for name, tiles := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewBoard(tiles); !apperrors.HasCode(err, apperrors.CodeInvalidSnapshot) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestTileLabel(t *testing.T) {
	tests := []struct {
		tile TileInfo
		want string
	}{
		{tile: TileInfo{Index: 0, Name: "Start"}, want: "Start"},
		{tile: TileInfo{Index: 1, Name: "Bank", Kind: TileProfit, Value: 50}, want: "Bank (+50)"},
		{tile: TileInfo{Index: 2, Name: "Fine", Kind: TileLoss, Value: -20}, want: "Fine (-20)"},
		{tile: TileInfo{Index: 3, Kind: TileNeutral}, want: "Tile 3"},
	}
	for _, tc := range tests {
		if got := tc.tile.Label(); got != tc.want {
			t.Fatalf("Label() = %q, want %q", got, tc.want)
		}
	}
}

func TestParseTileKind(t *testing.T) {
	for raw, want := range map[uint8]TileKind{0: TileNeutral, 1: TileProfit, 2: TileLoss} {
		got, err := ParseTileKind(raw)
		if err != nil || got != want {
			t.Fatalf("ParseTileKind(%d) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseTileKind(3); err == nil {
		t.Fatal("expected unknown kind error")
	}
}
