package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

const tracerName = "github.com/louisbranch/hederapoly/internal/services/game/chain"

// Reader is the read-only RPC surface the Source needs.
type Reader interface {
	ethereum.ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Source reads game state from the contract with eth_call.
type Source struct {
	reader   Reader
	contract common.Address
	abi      abi.ABI
	tracer   trace.Tracer
}

// NewSource builds a Source for the contract deployed at address.
func NewSource(reader Reader, address common.Address) (*Source, error) {
	if reader == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "chain reader is required")
	}
	if address == (common.Address{}) {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "contract address is required")
	}
	parsed, err := ContractABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	return &Source{
		reader:   reader,
		contract: address,
		abi:      parsed,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// FetchPlayerState reads every per-account value at one block height.
func (s *Source) FetchPlayerState(ctx context.Context, account domain.AccountID) (state domain.PlayerState, err error) {
	ctx, span := s.tracer.Start(ctx, "chain.FetchPlayerState", trace.WithAttributes(attribute.String("account", account.String())))
	defer func() { endSpan(span, err) }()

	if account.IsZero() {
		return domain.PlayerState{}, apperrors.New(apperrors.CodeInvalidArgument, "account is required")
	}
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return domain.PlayerState{}, unavailable("read block number", err)
	}
	block := new(big.Int).SetUint64(head)
	addr := account.Address()

	var (
		player  []any
		next    []any
		minted  []any
		balance []any
		native  *big.Int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		player, err = s.call(groupCtx, block, methodGetPlayerState, addr)
		return err
	})
	group.Go(func() (err error) {
		next, err = s.call(groupCtx, block, methodNextRequired, addr)
		return err
	})
	group.Go(func() (err error) {
		minted, err = s.call(groupCtx, block, methodHasMinted, addr)
		return err
	})
	group.Go(func() (err error) {
		balance, err = s.call(groupCtx, block, methodBalanceOf, addr)
		return err
	})
	group.Go(func() (err error) {
		native, err = s.reader.BalanceAt(groupCtx, addr, block)
		if err != nil {
			return unavailable("read native balance", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return domain.PlayerState{}, err
	}

	state = domain.PlayerState{Account: account, AsOfBlock: head}
	if len(player) != 4 {
		return domain.PlayerState{}, invalid(methodGetPlayerState, fmt.Errorf("got %d values", len(player)))
	}
	position, ok := player[0].(*big.Int)
	if !ok || position == nil || !position.IsUint64() {
		return domain.PlayerState{}, invalid(methodGetPlayerState, fmt.Errorf("position %v is not a tile index", player[0]))
	}
	state.Position = position.Uint64()
	if state.Balance, err = toUint256(player[1]); err != nil {
		return domain.PlayerState{}, invalid(methodGetPlayerState, err)
	}
	if state.HasStarted, ok = player[2].(bool); !ok {
		return domain.PlayerState{}, invalid(methodGetPlayerState, fmt.Errorf("hasStarted is %T", player[2]))
	}
	if state.PointsEarned, err = toUint256(player[3]); err != nil {
		return domain.PlayerState{}, invalid(methodGetPlayerState, err)
	}
	if state.NextRequiredAmount, err = singleUint(methodNextRequired, next); err != nil {
		return domain.PlayerState{}, err
	}
	if state.TokenBalance, err = singleUint(methodBalanceOf, balance); err != nil {
		return domain.PlayerState{}, err
	}
	if len(minted) != 1 {
		return domain.PlayerState{}, invalid(methodHasMinted, fmt.Errorf("got %d values", len(minted)))
	}
	if state.HasMinted, ok = minted[0].(bool); !ok {
		return domain.PlayerState{}, invalid(methodHasMinted, fmt.Errorf("value is %T", minted[0]))
	}
	if state.NativeBalance, err = toUint256(native); err != nil {
		return domain.PlayerState{}, invalid("eth_getBalance", err)
	}
	return state, nil
}

// FetchTile reads the metadata of one board tile.
func (s *Source) FetchTile(ctx context.Context, index int) (tile domain.TileInfo, err error) {
	ctx, span := s.tracer.Start(ctx, "chain.FetchTile", trace.WithAttributes(attribute.Int("tile.index", index)))
	defer func() { endSpan(span, err) }()

	if index < 0 {
		return domain.TileInfo{}, apperrors.New(apperrors.CodeInvalidArgument, "tile index must not be negative")
	}
	values, err := s.call(ctx, nil, methodGetTile, big.NewInt(int64(index)))
	if err != nil {
		return domain.TileInfo{}, err
	}
	if len(values) != 3 {
		return domain.TileInfo{}, invalid(methodGetTile, fmt.Errorf("got %d values", len(values)))
	}
	name, ok := values[0].(string)
	if !ok {
		return domain.TileInfo{}, invalid(methodGetTile, fmt.Errorf("name is %T", values[0]))
	}
	rawKind, ok := values[1].(uint8)
	if !ok {
		return domain.TileInfo{}, invalid(methodGetTile, fmt.Errorf("kind is %T", values[1]))
	}
	kind, err := domain.ParseTileKind(rawKind)
	if err != nil {
		return domain.TileInfo{}, err
	}
	value, ok := values[2].(*big.Int)
	if !ok || value == nil || !value.IsInt64() {
		return domain.TileInfo{}, invalid(methodGetTile, fmt.Errorf("value %v does not fit int64", values[2]))
	}
	return domain.TileInfo{Index: index, Name: name, Kind: kind, Value: value.Int64()}, nil
}

// FetchAggregates reads the contract-wide counters at one block height.
func (s *Source) FetchAggregates(ctx context.Context) (aggregates domain.Aggregates, err error) {
	ctx, span := s.tracer.Start(ctx, "chain.FetchAggregates")
	defer func() { endSpan(span, err) }()

	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return domain.Aggregates{}, unavailable("read block number", err)
	}
	block := new(big.Int).SetUint64(head)

	supply, err := s.call(ctx, block, methodTotalSupply)
	if err != nil {
		return domain.Aggregates{}, err
	}
	winners, err := s.call(ctx, block, methodWinnerCount)
	if err != nil {
		return domain.Aggregates{}, err
	}
	if aggregates.TotalSupply, err = singleUint(methodTotalSupply, supply); err != nil {
		return domain.Aggregates{}, err
	}
	if aggregates.WinnerCount, err = singleUint(methodWinnerCount, winners); err != nil {
		return domain.Aggregates{}, err
	}
	return aggregates, nil
}

// Verify probes name() and checks BOARD_SIZE() against the configured size.
func (s *Source) Verify(ctx context.Context, boardSize int) (name string, err error) {
	ctx, span := s.tracer.Start(ctx, "chain.Verify")
	defer func() { endSpan(span, err) }()

	values, err := s.call(ctx, nil, methodName)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", invalid(methodName, fmt.Errorf("got %d values", len(values)))
	}
	name, _ = values[0].(string)
	if name == "" {
		return "", invalid(methodName, errors.New("contract name is empty"))
	}

	sizeValues, err := s.call(ctx, nil, methodBoardSize)
	if err != nil {
		return "", err
	}
	size, err := singleUint(methodBoardSize, sizeValues)
	if err != nil {
		return "", err
	}
	if !size.IsUint64() || size.Uint64() != uint64(boardSize) {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidConfig,
			fmt.Sprintf("contract board size %s does not match configured %d", size.Dec(), boardSize),
			map[string]string{"contract_board_size": size.Dec()})
	}
	return name, nil
}

// call packs, executes and unpacks one eth_call. A nil block reads latest.
func (s *Source) call(ctx context.Context, block *big.Int, method string, args ...any) ([]any, error) {
	input, err := s.abi.Pack(method, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "pack "+method, err)
	}
	output, err := s.reader.CallContract(ctx, ethereum.CallMsg{To: &s.contract, Data: input}, block)
	if err != nil {
		return nil, unavailable("call "+method, err)
	}
	if len(output) == 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeRemoteUnavailable, "call "+method+": empty result",
			map[string]string{"contract": s.contract.Hex()})
	}
	values, err := s.abi.Unpack(method, output)
	if err != nil {
		return nil, invalid(method, err)
	}
	return values, nil
}

func singleUint(method string, values []any) (uint256.Int, error) {
	if len(values) != 1 {
		return uint256.Int{}, invalid(method, fmt.Errorf("got %d values", len(values)))
	}
	value, err := toUint256(values[0])
	if err != nil {
		return uint256.Int{}, invalid(method, err)
	}
	return value, nil
}

func unavailable(message string, err error) error {
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.CodeRemoteUnavailable, message, err)
}

func invalid(method string, err error) error {
	return apperrors.Wrap(apperrors.CodeInvalidSnapshot, "decode "+method, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
	}
	span.End()
}
