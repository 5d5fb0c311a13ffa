package domain

import (
	"fmt"

	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
)

// PlayerState is the per-account fragment read from the ledger. All of its
// reads are pinned to AsOfBlock.
type PlayerState struct {
	Account            AccountID
	Position           uint64
	Balance            uint256.Int
	HasStarted         bool
	PointsEarned       uint256.Int
	NextRequiredAmount uint256.Int
	HasMinted          bool
	TokenBalance       uint256.Int
	NativeBalance      uint256.Int
	AsOfBlock          uint64
}

// Aggregates holds the contract-wide counters.
type Aggregates struct {
	TotalSupply uint256.Int
	WinnerCount uint256.Int
}

// Snapshot is the locally held view of one account's game state. It is a
// value: copies never alias.
type Snapshot struct {
	Account            AccountID
	Position           uint64
	Balance            uint256.Int
	HasStarted         bool
	PointsEarned       uint256.Int
	NextRequiredAmount uint256.Int
	TotalSupply        uint256.Int
	WinnerCount        uint256.Int
	HasMinted          bool
	TokenBalance       uint256.Int
	NativeBalance      uint256.Int
	AsOfBlock          uint64
}

// ComposeSnapshot assembles a snapshot from its two fragments.
func ComposeSnapshot(player PlayerState, aggregates Aggregates) Snapshot {
	return Snapshot{
		Account:            player.Account,
		Position:           player.Position,
		Balance:            player.Balance,
		HasStarted:         player.HasStarted,
		PointsEarned:       player.PointsEarned,
		NextRequiredAmount: player.NextRequiredAmount,
		TotalSupply:        aggregates.TotalSupply,
		WinnerCount:        aggregates.WinnerCount,
		HasMinted:          player.HasMinted,
		TokenBalance:       player.TokenBalance,
		NativeBalance:      player.NativeBalance,
		AsOfBlock:          player.AsOfBlock,
	}
}

// Validate rejects snapshots that cannot describe a board of boardSize tiles.
func (s Snapshot) Validate(boardSize int) error {
	if s.Account.IsZero() {
		return apperrors.New(apperrors.CodeInvalidSnapshot, "snapshot account is required")
	}
	if boardSize < 1 {
		return apperrors.New(apperrors.CodeInvalidConfig, "board size must be positive")
	}
	if s.HasStarted && s.Position >= uint64(boardSize) {
		return apperrors.WithMetadata(apperrors.CodeInvalidSnapshot,
			fmt.Sprintf("position %d outside board of %d tiles", s.Position, boardSize),
			map[string]string{"position": fmt.Sprint(s.Position)})
	}
	return nil
}

// Equal compares state fields. AsOfBlock is provenance and is ignored, so a
// refetch at a newer block with unchanged values is equal.
func (s Snapshot) Equal(other Snapshot) bool {
	s.AsOfBlock = 0
	other.AsOfBlock = 0
	return s == other
}

// CanClaim reports whether the token balance covers the next point threshold.
func (s Snapshot) CanClaim() bool {
	return !s.TokenBalance.Lt(&s.NextRequiredAmount)
}
