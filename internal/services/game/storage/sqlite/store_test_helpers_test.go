package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

var (
	testAccount  = domain.MustAccountID("0x00000000000000000000000000000000000000a1")
	otherAccount = domain.MustAccountID("0x00000000000000000000000000000000000000b2")
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.sqlite")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testSnapshot(block uint64, position uint64, balance uint64) domain.Snapshot {
	return domain.Snapshot{
		Account:            testAccount,
		Position:           position,
		Balance:            *uint256.NewInt(balance),
		HasStarted:         true,
		PointsEarned:       *uint256.NewInt(2),
		NextRequiredAmount: *uint256.NewInt(1000),
		TotalSupply:        *uint256.NewInt(600),
		WinnerCount:        *uint256.NewInt(1),
		HasMinted:          true,
		TokenBalance:       *uint256.NewInt(750),
		NativeBalance:      *uint256.MustFromDecimal("12000000000000000000"),
		AsOfBlock:          block,
	}
}
