package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/platform/timeouts"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// DefaultGasLimit is the gas budget attached to every game transaction.
const DefaultGasLimit uint64 = 500000

// userRejectedCode is the EIP-1193 "user rejected request" error code.
const userRejectedCode = 4001

// TxBackend is the write RPC surface the Gateway needs.
type TxBackend interface {
	bind.ContractTransactor
	bind.DeployBackend
}

// Signer hands out transaction options for the active wallet account.
type Signer interface {
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// GatewayOptions tunes transaction submission.
type GatewayOptions struct {
	GasLimit       uint64
	ReceiptTimeout time.Duration
	Logf           func(string, ...any)
}

// Receipt summarizes a mined game transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Gateway submits the game's mutating contract calls.
type Gateway struct {
	contract *bind.BoundContract
	backend  TxBackend
	signer   Signer
	options  GatewayOptions
	tracer   trace.Tracer
}

// NewGateway builds a Gateway that signs through signer.
func NewGateway(backend TxBackend, address common.Address, signer Signer, options GatewayOptions) (*Gateway, error) {
	if backend == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "transaction backend is required")
	}
	if signer == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "signer is required")
	}
	if address == (common.Address{}) {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "contract address is required")
	}
	parsed, err := ContractABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	if options.GasLimit == 0 {
		options.GasLimit = DefaultGasLimit
	}
	if options.ReceiptTimeout <= 0 {
		options.ReceiptTimeout = timeouts.Receipt
	}
	if options.Logf == nil {
		options.Logf = func(string, ...any) {}
	}
	return &Gateway{
		contract: bind.NewBoundContract(address, parsed, nil, backend, nil),
		backend:  backend,
		signer:   signer,
		options:  options,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Execute submits one of the argument-free play commands.
func (g *Gateway) Execute(ctx context.Context, command domain.Command) (Receipt, error) {
	switch command {
	case domain.CommandMint:
		return g.Mint(ctx)
	case domain.CommandStart:
		return g.Start(ctx)
	case domain.CommandRoll:
		return g.Roll(ctx)
	case domain.CommandClaim:
		return g.Claim(ctx)
	case domain.CommandEnd:
		return g.End(ctx)
	default:
		return Receipt{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			fmt.Sprintf("command %q cannot be executed without arguments", command),
			map[string]string{"command": string(command)})
	}
}

// Mint claims the one-time HPOLY allocation.
func (g *Gateway) Mint(ctx context.Context) (Receipt, error) {
	return g.submit(ctx, methodMint)
}

// Start places the player on the board.
func (g *Gateway) Start(ctx context.Context) (Receipt, error) {
	return g.submit(ctx, methodStart)
}

// Roll rolls the dice and moves the player.
func (g *Gateway) Roll(ctx context.Context) (Receipt, error) {
	return g.submit(ctx, methodRoll)
}

// Claim converts HPOLY into a point once the threshold is met.
func (g *Gateway) Claim(ctx context.Context) (Receipt, error) {
	return g.submit(ctx, methodClaim)
}

// End leaves the board.
func (g *Gateway) End(ctx context.Context) (Receipt, error) {
	return g.submit(ctx, methodEnd)
}

// Burn destroys amount HPOLY from the wallet account.
func (g *Gateway) Burn(ctx context.Context, amount uint256.Int) (Receipt, error) {
	if amount.IsZero() {
		return Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "burn amount must be positive")
	}
	return g.submit(ctx, methodBurn, amount.ToBig())
}

func (g *Gateway) submit(ctx context.Context, method string, args ...any) (receipt Receipt, err error) {
	if g == nil {
		return Receipt{}, apperrors.New(apperrors.CodeInvalidConfig, "gateway is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := g.tracer.Start(ctx, "chain.Transact", trace.WithAttributes(attribute.String("method", method)))
	defer func() { endSpan(span, err) }()

	opts, err := g.signer.TransactOpts(ctx)
	if err != nil {
		return Receipt{}, classifyTxError("sign "+method, err)
	}
	submitOpts := *opts
	submitOpts.Context = ctx
	submitOpts.GasLimit = g.options.GasLimit

	tx, err := g.contract.Transact(&submitOpts, method, args...)
	if err != nil {
		return Receipt{}, classifyTxError("submit "+method, err)
	}
	span.SetAttributes(attribute.String("tx.hash", tx.Hash().Hex()))
	g.options.Logf("%s submitted as %s", method, tx.Hash().Hex())

	waitCtx, cancel := context.WithTimeout(ctx, g.options.ReceiptTimeout)
	defer cancel()
	mined, err := bind.WaitMined(waitCtx, g.backend, tx)
	if err != nil {
		return Receipt{}, apperrors.WithMetadata(apperrors.CodeRemoteUnavailable,
			fmt.Sprintf("wait for %s receipt: %v", method, err),
			map[string]string{"tx": tx.Hash().Hex()})
	}

	receipt = Receipt{TxHash: tx.Hash(), GasUsed: mined.GasUsed}
	if mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		return receipt, apperrors.WithMetadata(apperrors.CodeTransactionFailed,
			method+" reverted",
			map[string]string{"tx": tx.Hash().Hex(), "gas_used": fmt.Sprint(mined.GasUsed)})
	}
	return receipt, nil
}

// classifyTxError maps a signing or submission failure onto the error
// taxonomy: refusals are Rejected, node errors are TransactionFailed and
// everything else is RemoteUnavailable.
func classifyTxError(message string, err error) error {
	switch {
	case apperrors.CodeOf(err) != apperrors.CodeUnknown:
		return err
	case errors.Is(err, bind.ErrNotAuthorized), isUserRejection(err):
		return apperrors.Wrap(apperrors.CodeRejected, message, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return apperrors.Wrap(apperrors.CodeTransactionFailed, message, err)
	}
	return apperrors.Wrap(apperrors.CodeRemoteUnavailable, message, err)
}

func isUserRejection(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "user rejected")
}
