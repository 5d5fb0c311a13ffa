package domain

import (
	"testing"

	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
)

var testAccount = MustAccountID("0x00000000000000000000000000000000000000a1")

func TestComposeSnapshot(t *testing.T) {
	player := PlayerState{
		Account:            testAccount,
		Position:           3,
		Balance:            *uint256.NewInt(500),
		HasStarted:         true,
		PointsEarned:       *uint256.NewInt(1),
		NextRequiredAmount: *uint256.NewInt(1000),
		HasMinted:          true,
		TokenBalance:       *uint256.NewInt(900),
		AsOfBlock:          42,
	}
	aggregates := Aggregates{TotalSupply: *uint256.NewInt(10000), WinnerCount: *uint256.NewInt(2)}

	snap := ComposeSnapshot(player, aggregates)
	if snap.Position != 3 || snap.Balance.Uint64() != 500 || !snap.HasStarted {
		t.Fatalf("player fields not copied: %+v", snap)
	}
	if snap.TotalSupply.Uint64() != 10000 || snap.WinnerCount.Uint64() != 2 {
		t.Fatalf("aggregate fields not copied: %+v", snap)
	}
	if snap.AsOfBlock != 42 {
		t.Fatalf("as of block = %d", snap.AsOfBlock)
	}
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		size int
		code apperrors.Code
	}{
		{name: "not started ignores position", snap: Snapshot{Account: testAccount, Position: 40}, size: 12},
		{name: "last tile", snap: Snapshot{Account: testAccount, HasStarted: true, Position: 11}, size: 12},
		{name: "outside board", snap: Snapshot{Account: testAccount, HasStarted: true, Position: 12}, size: 12, code: apperrors.CodeInvalidSnapshot},
		{name: "no account", snap: Snapshot{}, size: 12, code: apperrors.CodeInvalidSnapshot},
		{name: "bad board", snap: Snapshot{Account: testAccount}, size: 0, code: apperrors.CodeInvalidConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.snap.Validate(tc.size)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if !apperrors.HasCode(err, tc.code) {
				t.Fatalf("err = %v, want code %s", err, tc.code)
			}
		})
	}
}

func TestSnapshotEqualIgnoresBlock(t *testing.T) {
	a := Snapshot{Account: testAccount, Position: 7, Balance: *uint256.NewInt(480), AsOfBlock: 10}
	b := a
	b.AsOfBlock = 11
	if !a.Equal(b) {
		t.Fatal("expected snapshots at different blocks to be equal")
	}
	b.Balance = *uint256.NewInt(481)
	if a.Equal(b) {
		t.Fatal("expected balance change to differ")
	}
}

func TestSnapshotCanClaim(t *testing.T) {
	snap := Snapshot{TokenBalance: *uint256.NewInt(999), NextRequiredAmount: *uint256.NewInt(1000)}
	if snap.CanClaim() {
		t.Fatal("expected claim to be unavailable below threshold")
	}
	snap.TokenBalance = *uint256.NewInt(1000)
	if !snap.CanClaim() {
		t.Fatal("expected claim at threshold")
	}
}
