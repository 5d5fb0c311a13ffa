package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
)

// PutSnapshot stores a snapshot. A stored snapshot at a newer block wins.
func (s *Store) PutSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if snapshot.Account.IsZero() {
		return fmt.Errorf("snapshot account is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO snapshots (
    account, position, balance, has_started, points_earned, next_required,
    total_supply, winner_count, has_minted, token_balance, native_balance,
    as_of_block, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account) DO UPDATE SET
    position = excluded.position,
    balance = excluded.balance,
    has_started = excluded.has_started,
    points_earned = excluded.points_earned,
    next_required = excluded.next_required,
    total_supply = excluded.total_supply,
    winner_count = excluded.winner_count,
    has_minted = excluded.has_minted,
    token_balance = excluded.token_balance,
    native_balance = excluded.native_balance,
    as_of_block = excluded.as_of_block,
    updated_at = excluded.updated_at
WHERE excluded.as_of_block >= snapshots.as_of_block`,
		snapshot.Account.String(),
		int64(snapshot.Position),
		snapshot.Balance.Dec(),
		boolToInt(snapshot.HasStarted),
		snapshot.PointsEarned.Dec(),
		snapshot.NextRequiredAmount.Dec(),
		snapshot.TotalSupply.Dec(),
		snapshot.WinnerCount.Dec(),
		boolToInt(snapshot.HasMinted),
		snapshot.TokenBalance.Dec(),
		snapshot.NativeBalance.Dec(),
		int64(snapshot.AsOfBlock),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot for account.
func (s *Store) GetSnapshot(ctx context.Context, account domain.AccountID) (domain.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if account.IsZero() {
		return domain.Snapshot{}, fmt.Errorf("account is required")
	}

	var (
		position, asOfBlock                 int64
		hasStarted, hasMinted               int
		balance, points, nextRequired       string
		supply, winners, tokens, nativeFund string
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT position, balance, has_started, points_earned, next_required,
       total_supply, winner_count, has_minted, token_balance, native_balance,
       as_of_block
FROM snapshots WHERE account = ?`, account.String()).Scan(
		&position, &balance, &hasStarted, &points, &nextRequired,
		&supply, &winners, &hasMinted, &tokens, &nativeFund,
		&asOfBlock,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Snapshot{}, storage.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	snapshot := domain.Snapshot{
		Account:    account,
		Position:   uint64(position),
		HasStarted: hasStarted != 0,
		HasMinted:  hasMinted != 0,
		AsOfBlock:  uint64(asOfBlock),
	}
	amounts := []struct {
		column string
		raw    string
		dst    *uint256.Int
	}{
		{"balance", balance, &snapshot.Balance},
		{"points_earned", points, &snapshot.PointsEarned},
		{"next_required", nextRequired, &snapshot.NextRequiredAmount},
		{"total_supply", supply, &snapshot.TotalSupply},
		{"winner_count", winners, &snapshot.WinnerCount},
		{"token_balance", tokens, &snapshot.TokenBalance},
		{"native_balance", nativeFund, &snapshot.NativeBalance},
	}
	for _, amount := range amounts {
		value, err := uint256.FromDecimal(amount.raw)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode %s: %w", amount.column, err)
		}
		*amount.dst = *value
	}
	return snapshot, nil
}
