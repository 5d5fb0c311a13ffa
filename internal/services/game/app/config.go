package server

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
	"github.com/louisbranch/hederapoly/internal/services/game/wallet"
)

// HealthService is the gRPC health service name that reports whether the
// engine holds a snapshot.
const HealthService = "hederapoly.game"

// Config holds the sync service settings.
type Config struct {
	RPCURL   string
	Contract string
	// Account is watched read-only. Exactly one of Account and PrivateKey
	// is set.
	Account    string
	PrivateKey string

	BoardSize       int
	RefreshInterval time.Duration
	// AutoRefresh off leaves refreshes to events, commands and the fallback
	// poll while the event channel is down.
	AutoRefresh            bool
	ReloadTilesOnGameStart bool
	CallTimeout            time.Duration
	GasLimit               uint64

	// DBPath is the sqlite ledger cache; empty keeps everything in memory.
	DBPath string
	// HTTPAddr serves the web API and stream; empty disables listening.
	HTTPAddr string
	// GRPCAddr serves gRPC health; empty disables it.
	GRPCAddr string

	Locale        string
	Interactive   bool
	ActivityLines int

	Chain wallet.ChainDescriptor
	Out   io.Writer
}

func (c Config) normalized() (Config, error) {
	c.RPCURL = strings.TrimSpace(c.RPCURL)
	c.Contract = strings.TrimSpace(c.Contract)
	c.Account = strings.TrimSpace(c.Account)
	c.PrivateKey = strings.TrimSpace(c.PrivateKey)

	if c.RPCURL == "" {
		return Config{}, apperrors.New(apperrors.CodeInvalidConfig, "rpc url is required")
	}
	if !common.IsHexAddress(c.Contract) {
		return Config{}, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "contract must be a hex address",
			map[string]string{"contract": c.Contract})
	}
	switch {
	case c.Account == "" && c.PrivateKey == "":
		return Config{}, apperrors.New(apperrors.CodeInvalidConfig, "account or private key is required")
	case c.Account != "" && c.PrivateKey != "":
		return Config{}, apperrors.New(apperrors.CodeInvalidConfig, "set either account or private key, not both")
	case c.Account != "":
		if _, err := domain.ParseAccountID(c.Account); err != nil {
			return Config{}, apperrors.Wrap(apperrors.CodeInvalidConfig, "parse account", err)
		}
	}
	if c.BoardSize == 0 {
		c.BoardSize = reconcile.DefaultBoardSize
	}
	if c.BoardSize < 1 {
		return Config{}, apperrors.New(apperrors.CodeInvalidConfig, "board size must be positive")
	}
	if c.RefreshInterval < 0 {
		return Config{}, apperrors.New(apperrors.CodeInvalidConfig, "refresh interval must not be negative")
	}
	if !c.AutoRefresh {
		c.RefreshInterval = 0
	}
	if c.Chain.ChainID == 0 {
		c.Chain = wallet.HederaTestnet
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	return c, nil
}

// ContractAddress returns the configured contract as an address.
func (c Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}
