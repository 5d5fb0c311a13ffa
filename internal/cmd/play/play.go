// Package play submits one game command to the contract from the command line.
package play

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pterm/pterm"

	entrypoint "github.com/louisbranch/hederapoly/internal/platform/cmd"
	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/chain"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/wallet"
)

const (
	rollFrames     = 3
	rollFrameDelay = 300 * time.Millisecond
)

// Config holds play command configuration.
type Config struct {
	RPCURL     string `env:"GAME_RPC_URL" envDefault:"https://testnet.hashio.io/api"`
	Contract   string `env:"GAME_CONTRACT"`
	PrivateKey string `env:"GAME_PRIVATE_KEY"`
	GasLimit   uint64 `env:"GAME_GAS_LIMIT" envDefault:"500000"`

	Command domain.Command
	// Amount is the burn amount in base units.
	Amount uint256.Int
}

// ParseConfig parses environment, flags and the positional command.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Ledger JSON-RPC endpoint")
	fs.StringVar(&cfg.Contract, "contract", cfg.Contract, "HederaPoly contract address")
	fs.Uint64Var(&cfg.GasLimit, "gas-limit", cfg.GasLimit, "Gas limit per transaction")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, apperrors.New(apperrors.CodeInvalidArgument, "usage: play mint|start|roll|claim|end|burn <amount>")
	}
	command, err := domain.ParseCommand(rest[0])
	if err != nil {
		return Config{}, err
	}
	cfg.Command = command
	if command == domain.CommandBurn {
		if len(rest) != 2 {
			return Config{}, apperrors.New(apperrors.CodeInvalidArgument, "burn needs an amount")
		}
		amount, err := uint256.FromDecimal(strings.TrimSpace(rest[1]))
		if err != nil {
			return Config{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse burn amount", err)
		}
		cfg.Amount = *amount
	} else if len(rest) > 1 {
		return Config{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			fmt.Sprintf("%s takes no arguments", command), map[string]string{"command": string(command)})
	}
	return cfg, nil
}

// Validate rejects configuration the command cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "rpc url is required")
	}
	if !common.IsHexAddress(strings.TrimSpace(c.Contract)) {
		return apperrors.New(apperrors.CodeInvalidConfig, "contract must be a hex address")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "private key is required to sign transactions")
	}
	if c.Command == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "command is required")
	}
	if c.Command == domain.CommandBurn && c.Amount.IsZero() {
		return apperrors.New(apperrors.CodeInvalidArgument, "burn amount must be positive")
	}
	return nil
}

// Backend is the ledger connection the command signs and submits through.
type Backend interface {
	chain.TxBackend
	chain.Reader
	wallet.ChainReader
	Close()
}

type playerConfig struct {
	dial       func(context.Context, string, chain.DialOptions) (Backend, error)
	out        io.Writer
	chain      wallet.ChainDescriptor
	frameDelay time.Duration
}

func normalizePlayerConfig(cfg playerConfig) playerConfig {
	if cfg.dial == nil {
		cfg.dial = func(ctx context.Context, rpcURL string, options chain.DialOptions) (Backend, error) {
			return chain.Dial(ctx, rpcURL, options)
		}
	}
	if cfg.out == nil {
		cfg.out = os.Stdout
	}
	if cfg.chain.ChainID == 0 {
		cfg.chain = wallet.HederaTestnet
	}
	if cfg.frameDelay <= 0 {
		cfg.frameDelay = rollFrameDelay
	}
	return cfg
}

// Run signs and submits the configured command.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePlay, func(ctx context.Context) error {
		return play(ctx, cfg, playerConfig{})
	})
}

func play(ctx context.Context, cfg Config, pc playerConfig) error {
	pc = normalizePlayerConfig(pc)
	contract := common.HexToAddress(strings.TrimSpace(cfg.Contract))

	backend, err := pc.dial(ctx, cfg.RPCURL, chain.DialOptions{ChainID: pc.chain.ChainID})
	if err != nil {
		return err
	}
	defer backend.Close()

	signer, err := wallet.NewKeyWallet(cfg.PrivateKey, backend)
	if err != nil {
		return err
	}
	if err := wallet.EnsureChain(ctx, signer, pc.chain); err != nil {
		return err
	}
	gateway, err := chain.NewGateway(backend, contract, signer, chain.GatewayOptions{GasLimit: cfg.GasLimit})
	if err != nil {
		return err
	}

	var receipt chain.Receipt
	switch cfg.Command {
	case domain.CommandBurn:
		receipt, err = gateway.Burn(ctx, cfg.Amount)
	case domain.CommandRoll:
		receipt, err = roll(ctx, gateway, pc)
	default:
		receipt, err = gateway.Execute(ctx, cfg.Command)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.Command, err)
	}

	fmt.Fprintf(pc.out, "%s confirmed in block %d (gas %d)\n", cfg.Command, receipt.BlockNumber, receipt.GasUsed)
	fmt.Fprintf(pc.out, "%s\n", pc.chain.TxURL(receipt.TxHash.Hex()))

	if cfg.Command == domain.CommandRoll {
		source, err := chain.NewSource(backend, contract)
		if err != nil {
			return err
		}
		state, err := source.FetchPlayerState(ctx, signer.Account())
		if err != nil {
			return err
		}
		fmt.Fprintf(pc.out, "Now at position %d\n", state.Position)
	}
	return nil
}

// roll plays the dice animation while the transaction is submitted.
func roll(ctx context.Context, gateway *chain.Gateway, pc playerConfig) (chain.Receipt, error) {
	spinner, err := pterm.DefaultSpinner.WithWriter(pc.out).WithRemoveWhenDone(true).Start("Rolling dice...")
	if err != nil {
		return gateway.Roll(ctx)
	}
	for i := 0; i < rollFrames; i++ {
		select {
		case <-ctx.Done():
			_ = spinner.Stop()
			return chain.Receipt{}, ctx.Err()
		case <-time.After(pc.frameDelay):
		}
	}
	receipt, err := gateway.Roll(ctx)
	_ = spinner.Stop()
	return receipt, err
}
