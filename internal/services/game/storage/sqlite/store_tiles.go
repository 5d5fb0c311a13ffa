package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
)

// PutTiles replaces the cached board of contract.
func (s *Store) PutTiles(ctx context.Context, contract string, tiles []domain.TileInfo) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	contract = strings.ToLower(strings.TrimSpace(contract))
	if contract == "" {
		return fmt.Errorf("contract is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tiles transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tiles WHERE contract = ?", contract); err != nil {
		return fmt.Errorf("clear tiles: %w", err)
	}
	updatedAt := toMillis(s.now())
	for _, tile := range tiles {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tiles (contract, tile_index, name, kind, value, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			contract, tile.Index, tile.Name, int(tile.Kind), tile.Value, updatedAt,
		); err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("duplicate tile index %d", tile.Index)
			}
			return fmt.Errorf("insert tile %d: %w", tile.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tiles: %w", err)
	}
	return nil
}

// GetTiles returns the cached board of contract ordered by index.
func (s *Store) GetTiles(ctx context.Context, contract string) ([]domain.TileInfo, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	contract = strings.ToLower(strings.TrimSpace(contract))
	if contract == "" {
		return nil, fmt.Errorf("contract is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT tile_index, name, kind, value FROM tiles WHERE contract = ? ORDER BY tile_index", contract)
	if err != nil {
		return nil, fmt.Errorf("list tiles: %w", err)
	}
	defer rows.Close()

	var tiles []domain.TileInfo
	for rows.Next() {
		var (
			tile domain.TileInfo
			kind int
		)
		if err := rows.Scan(&tile.Index, &tile.Name, &kind, &tile.Value); err != nil {
			return nil, fmt.Errorf("scan tile: %w", err)
		}
		if tile.Kind, err = domain.ParseTileKind(uint8(kind)); err != nil {
			return nil, err
		}
		tiles = append(tiles, tile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tiles: %w", err)
	}
	if len(tiles) == 0 {
		return nil, storage.ErrNotFound
	}
	return tiles, nil
}
