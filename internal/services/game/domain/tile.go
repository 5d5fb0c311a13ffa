package domain

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
)

// TileKind classifies a board tile.
type TileKind uint8

const (
	TileNeutral TileKind = iota
	TileProfit
	TileLoss
)

// ParseTileKind maps the contract's uint8 tile type.
func ParseTileKind(raw uint8) (TileKind, error) {
	kind := TileKind(raw)
	switch kind {
	case TileNeutral, TileProfit, TileLoss:
		return kind, nil
	default:
		return 0, apperrors.WithMetadata(apperrors.CodeInvalidSnapshot, "unknown tile kind", map[string]string{"kind": fmt.Sprint(raw)})
	}
}

func (k TileKind) String() string {
	switch k {
	case TileNeutral:
		return "neutral"
	case TileProfit:
		return "profit"
	case TileLoss:
		return "loss"
	default:
		return fmt.Sprintf("TileKind(%d)", uint8(k))
	}
}

// TileInfo is the static metadata of one board tile.
type TileInfo struct {
	Index int
	Name  string
	Kind  TileKind
	Value int64
}

// Label renders the tile caption: the name plus the signed value for
// profit and loss tiles.
func (t TileInfo) Label() string {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = fmt.Sprintf("Tile %d", t.Index)
	}
	switch t.Kind {
	case TileProfit:
		return fmt.Sprintf("%s (+%d)", name, abs(t.Value))
	case TileLoss:
		return fmt.Sprintf("%s (-%d)", name, abs(t.Value))
	default:
		return name
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Board is an ordered, immutable tile set.
type Board struct {
	tiles []TileInfo
}

// NewBoard checks that tiles hold exactly indices 0..len-1 and copies them
// into index order.
func NewBoard(tiles []TileInfo) (Board, error) {
	if len(tiles) == 0 {
		return Board{}, apperrors.New(apperrors.CodeInvalidSnapshot, "board has no tiles")
	}
	ordered := make([]TileInfo, len(tiles))
	seen := make([]bool, len(tiles))
	for _, tile := range tiles {
		if tile.Index < 0 || tile.Index >= len(tiles) {
			return Board{}, apperrors.WithMetadata(apperrors.CodeInvalidSnapshot, "tile index out of range", map[string]string{"index": fmt.Sprint(tile.Index)})
		}
		if seen[tile.Index] {
			return Board{}, apperrors.WithMetadata(apperrors.CodeInvalidSnapshot, "duplicate tile index", map[string]string{"index": fmt.Sprint(tile.Index)})
		}
		seen[tile.Index] = true
		ordered[tile.Index] = tile
	}
	return Board{tiles: ordered}, nil
}

// Size returns the number of tiles.
func (b Board) Size() int {
	return len(b.tiles)
}

// Tile returns the tile at index.
func (b Board) Tile(index int) (TileInfo, bool) {
	if index < 0 || index >= len(b.tiles) {
		return TileInfo{}, false
	}
	return b.tiles[index], true
}

// Tiles returns a copy of the tiles in index order.
func (b Board) Tiles() []TileInfo {
	out := make([]TileInfo, len(b.tiles))
	copy(out, b.tiles)
	return out
}
