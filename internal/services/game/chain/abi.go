// Package chain adapts the HederaPoly contract's JSON-RPC surface to the
// domain types: reads, log notifications and transactions.
package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

//go:embed abi/hederapoly.json
var contractABIJSON []byte

var (
	parseABIOnce sync.Once
	parsedABI    abi.ABI
	parseABIErr  error
)

// ContractABI returns the parsed HederaPoly contract interface.
func ContractABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		parsedABI, parseABIErr = abi.JSON(bytes.NewReader(contractABIJSON))
	})
	return parsedABI, parseABIErr
}

// Contract method names.
const (
	methodGetPlayerState = "getPlayerState"
	methodGetTile        = "getTile"
	methodBalanceOf      = "balanceOf"
	methodNextRequired   = "nextRequiredHPOLY"
	methodHasMinted      = "hasMinted"
	methodTotalSupply    = "totalSupply"
	methodWinnerCount    = "winnerCount"
	methodName           = "name"
	methodBoardSize      = "BOARD_SIZE"

	methodMint  = "mintTokens"
	methodStart = "startGame"
	methodRoll  = "rollDice"
	methodClaim = "claimPoint"
	methodEnd   = "endGame"
	methodBurn  = "burnTokens"
)

// EventTopics maps event kinds to their topic0 hashes.
func EventTopics(parsed abi.ABI, kinds []domain.EventKind) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(kinds))
	for _, kind := range kinds {
		event, ok := parsed.Events[string(kind)]
		if !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown event kind", map[string]string{"kind": string(kind)})
		}
		topics = append(topics, event.ID)
	}
	return topics, nil
}

// DecodeEvent turns one contract log into a RemoteEvent. Every decoded
// kind has the player address as its first indexed argument.
func DecodeEvent(parsed abi.ABI, log types.Log) (domain.RemoteEvent, error) {
	if len(log.Topics) < 2 {
		return domain.RemoteEvent{}, fmt.Errorf("log has %d topics, want at least 2", len(log.Topics))
	}
	event, err := parsed.EventByID(log.Topics[0])
	if err != nil {
		return domain.RemoteEvent{}, fmt.Errorf("lookup event: %w", err)
	}
	values, err := parsed.Unpack(event.Name, log.Data)
	if err != nil {
		return domain.RemoteEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}

	out := domain.RemoteEvent{
		Kind:    domain.EventKind(event.Name),
		Account: domain.AccountFromAddress(common.BytesToAddress(log.Topics[1].Bytes())),
		Source: domain.Provenance{
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
		},
	}

	switch out.Kind {
	case domain.EventGameStarted:
		return out, nil
	case domain.EventDiceRolled:
		if err := unpackInts(values, &out.Roll, &out.NewPosition); err != nil {
			return domain.RemoteEvent{}, fmt.Errorf("decode %s: %w", event.Name, err)
		}
	case domain.EventProfitLanded, domain.EventLossLanded, domain.EventTokensMinted, domain.EventTokensBurned:
		if err := unpackInts(values, &out.Amount); err != nil {
			return domain.RemoteEvent{}, fmt.Errorf("decode %s: %w", event.Name, err)
		}
	case domain.EventPointEarned:
		if err := unpackInts(values, &out.Points, &out.NewThreshold); err != nil {
			return domain.RemoteEvent{}, fmt.Errorf("decode %s: %w", event.Name, err)
		}
	default:
		return domain.RemoteEvent{}, fmt.Errorf("unsupported event %s", event.Name)
	}
	return out, nil
}

func unpackInts(values []any, targets ...*uint256.Int) error {
	if len(values) != len(targets) {
		return fmt.Errorf("got %d values, want %d", len(values), len(targets))
	}
	for i, target := range targets {
		value, err := toUint256(values[i])
		if err != nil {
			return err
		}
		*target = value
	}
	return nil
}

func toUint256(value any) (uint256.Int, error) {
	b, ok := value.(*big.Int)
	if !ok || b == nil {
		return uint256.Int{}, fmt.Errorf("value %T is not an integer", value)
	}
	if b.Sign() < 0 {
		return uint256.Int{}, fmt.Errorf("value %s is negative", b)
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return uint256.Int{}, fmt.Errorf("value %s overflows 256 bits", b)
	}
	return *out, nil
}
