// Package game parses game command flags and starts the sync service.
package game

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	entrypoint "github.com/louisbranch/hederapoly/internal/platform/cmd"
	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	platformgrpc "github.com/louisbranch/hederapoly/internal/platform/grpc"
	"github.com/louisbranch/hederapoly/internal/platform/timeouts"
	server "github.com/louisbranch/hederapoly/internal/services/game/app"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// Config holds game command configuration. Environment variables carry the
// HEDERAPOLY_ prefix.
type Config struct {
	RPCURL     string `env:"GAME_RPC_URL" envDefault:"https://testnet.hashio.io/api"`
	Contract   string `env:"GAME_CONTRACT"`
	Account    string `env:"GAME_ACCOUNT"`
	PrivateKey string `env:"GAME_PRIVATE_KEY"`

	BoardSize              int           `env:"GAME_BOARD_SIZE" envDefault:"12"`
	AutoRefresh            bool          `env:"GAME_AUTO_REFRESH" envDefault:"true"`
	RefreshInterval        time.Duration `env:"GAME_REFRESH_INTERVAL" envDefault:"5s"`
	ReloadTilesOnGameStart bool          `env:"GAME_RELOAD_TILES_ON_START" envDefault:"false"`
	CallTimeout            time.Duration `env:"GAME_CALL_TIMEOUT" envDefault:"10s"`
	GasLimit               uint64        `env:"GAME_GAS_LIMIT" envDefault:"500000"`

	DBPath   string `env:"GAME_DB_PATH" envDefault:"data/game.db"`
	HTTPAddr string `env:"GAME_HTTP_ADDR" envDefault:"localhost:8080"`
	GRPCAddr string `env:"GAME_GRPC_ADDR" envDefault:"localhost:8082"`

	Locale        string `env:"GAME_LOCALE" envDefault:"en-US"`
	Interactive   bool   `env:"GAME_INTERACTIVE" envDefault:"true"`
	ActivityLines int    `env:"GAME_ACTIVITY_LINES" envDefault:"8"`

	// HealthCheck probes a running service instead of starting one.
	HealthCheck bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Ledger JSON-RPC endpoint")
	fs.StringVar(&cfg.Contract, "contract", cfg.Contract, "HederaPoly contract address")
	fs.StringVar(&cfg.Account, "account", cfg.Account, "Account to watch read-only")
	fs.IntVar(&cfg.BoardSize, "board-size", cfg.BoardSize, "Number of board tiles")
	fs.BoolVar(&cfg.AutoRefresh, "auto-refresh", cfg.AutoRefresh, "Poll the ledger on an interval")
	fs.DurationVar(&cfg.RefreshInterval, "refresh-interval", cfg.RefreshInterval, "Auto refresh interval")
	fs.BoolVar(&cfg.ReloadTilesOnGameStart, "reload-tiles", cfg.ReloadTilesOnGameStart, "Re-read the board when a game starts")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Ledger cache path; empty keeps state in memory")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "Web API listen address; empty disables it")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address; empty disables it")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Activity and status language")
	fs.BoolVar(&cfg.Interactive, "interactive", cfg.Interactive, "Redraw a live board in the terminal")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Probe the running service's gRPC health and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configuration the service cannot start with.
func (c Config) Validate() error {
	if c.HealthCheck {
		if strings.TrimSpace(c.GRPCAddr) == "" {
			return apperrors.New(apperrors.CodeInvalidConfig, "grpc addr is required for the health check")
		}
		return nil
	}
	if strings.TrimSpace(c.RPCURL) == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "rpc url is required")
	}
	if !common.IsHexAddress(strings.TrimSpace(c.Contract)) {
		return apperrors.New(apperrors.CodeInvalidConfig, "contract must be a hex address")
	}
	account := strings.TrimSpace(c.Account)
	key := strings.TrimSpace(c.PrivateKey)
	if (account == "") == (key == "") {
		return apperrors.New(apperrors.CodeInvalidConfig, "set exactly one of account and private key")
	}
	if account != "" {
		if _, err := domain.ParseAccountID(account); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidConfig, "parse account", err)
		}
	}
	if c.BoardSize < 1 {
		return apperrors.New(apperrors.CodeInvalidConfig, "board size must be at least 1")
	}
	if c.AutoRefresh && c.RefreshInterval <= 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "refresh interval must be positive")
	}
	if c.CallTimeout <= 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "call timeout must be positive")
	}
	if c.ActivityLines < 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "activity lines must not be negative")
	}
	return nil
}

// serverConfig maps the command configuration onto the service.
func (c Config) serverConfig() server.Config {
	return server.Config{
		RPCURL:                 c.RPCURL,
		Contract:               c.Contract,
		Account:                c.Account,
		PrivateKey:             c.PrivateKey,
		BoardSize:              c.BoardSize,
		RefreshInterval:        c.RefreshInterval,
		AutoRefresh:            c.AutoRefresh,
		ReloadTilesOnGameStart: c.ReloadTilesOnGameStart,
		CallTimeout:            c.CallTimeout,
		GasLimit:               c.GasLimit,
		DBPath:                 strings.TrimSpace(c.DBPath),
		HTTPAddr:               strings.TrimSpace(c.HTTPAddr),
		GRPCAddr:               strings.TrimSpace(c.GRPCAddr),
		Locale:                 c.Locale,
		Interactive:            c.Interactive,
		ActivityLines:          c.ActivityLines,
		Out:                    os.Stdout,
	}
}

// Run starts the sync service, or probes a running one with -healthcheck.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.HealthCheck {
		return platformgrpc.ProbeHealth(ctx, strings.TrimSpace(cfg.GRPCAddr), server.HealthService, timeouts.HealthProbe, log.Printf)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(ctx context.Context) error {
		return server.Run(ctx, cfg.serverConfig())
	})
}
