package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v5"

	"github.com/louisbranch/hederapoly/internal/platform/i18n/catalog"
	platformgrpc "github.com/louisbranch/hederapoly/internal/platform/grpc"
	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/chain"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/presenter"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
	storagesqlite "github.com/louisbranch/hederapoly/internal/services/game/storage/sqlite"
	"github.com/louisbranch/hederapoly/internal/services/game/wallet"
	"github.com/louisbranch/hederapoly/internal/services/web"
)

// ChainClient is the ledger RPC surface the service runs on.
// *ethclient.Client satisfies it.
type ChainClient interface {
	chain.Reader
	chain.LogBackend
	chain.TxBackend
	wallet.ChainReader
	Close()
}

// serverBootstrap configures each startup phase for the sync service.
type serverBootstrap struct {
	config serverBootstrapConfig
}

// serverBootstrapConfig defines per-phase seams.
type serverBootstrapConfig struct {
	dialChain   func(context.Context, string, chain.DialOptions) (ChainClient, error)
	openStore   func(context.Context, string) (storage.Store, error)
	listen      func(network, address string) (net.Listener, error)
	loadCatalog func() (*catalog.Bundle, error)
	newBackOff  func() backoff.BackOff
	logf        func(string, ...any)
}

func newServerBootstrap() *serverBootstrap {
	return newServerBootstrapWithConfig(serverBootstrapConfig{})
}

func newServerBootstrapWithConfig(cfg serverBootstrapConfig) *serverBootstrap {
	return &serverBootstrap{config: normalizeServerBootstrapConfig(cfg)}
}

func normalizeServerBootstrapConfig(cfg serverBootstrapConfig) serverBootstrapConfig {
	if cfg.dialChain == nil {
		cfg.dialChain = dialChain
	}
	if cfg.openStore == nil {
		cfg.openStore = openStore
	}
	if cfg.listen == nil {
		cfg.listen = net.Listen
	}
	if cfg.loadCatalog == nil {
		cfg.loadCatalog = catalog.LoadEmbedded
	}
	if cfg.newBackOff == nil {
		cfg.newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if cfg.logf == nil {
		cfg.logf = log.Printf
	}
	return cfg
}

func dialChain(ctx context.Context, rpcURL string, options chain.DialOptions) (ChainClient, error) {
	client, err := chain.Dial(ctx, rpcURL, options)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func openStore(ctx context.Context, path string) (storage.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := storagesqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

// New builds the service using named startup phases. Everything opened
// before a failing phase is closed again.
func (b *serverBootstrap) New(ctx context.Context, config Config) (server *Server, err error) {
	config, err = config.normalized()
	if err != nil {
		return nil, err
	}
	logf := b.config.logf
	bundle, err := b.config.loadCatalog()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	s := &Server{
		config:     config,
		logf:       logf,
		newBackOff: b.config.newBackOff,
		switches:   make(chan domain.AccountID, 1),
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.client, err = b.config.dialChain(ctx, config.RPCURL, chain.DialOptions{ChainID: config.Chain.ChainID, Logf: logf})
	if err != nil {
		return nil, err
	}

	if err := b.resolveWallet(ctx, s); err != nil {
		return nil, err
	}

	address := config.ContractAddress()
	source, err := chain.NewSource(s.client, address)
	if err != nil {
		return nil, err
	}
	name, err := source.Verify(ctx, config.BoardSize)
	if err != nil {
		return nil, fmt.Errorf("verify contract: %w", err)
	}
	logf("contract %s at %s, board of %d tiles", name, address.Hex(), config.BoardSize)

	channel, err := chain.NewChannel(s.client, address, chain.ChannelOptions{Logf: logf})
	if err != nil {
		return nil, err
	}

	if config.DBPath != "" {
		s.store, err = b.config.openStore(ctx, config.DBPath)
		if err != nil {
			return nil, err
		}
	}

	journalOpts := activity.Options{Locale: config.Locale, Logf: logf}
	if s.store != nil {
		journalOpts.Store = s.store
	}
	s.journal, err = activity.NewJournal(bundle, journalOpts)
	if err != nil {
		return nil, err
	}

	s.engine, err = reconcile.New(source, channel, reconcile.Options{
		BoardSize:              config.BoardSize,
		CallTimeout:            config.CallTimeout,
		RefreshInterval:        config.RefreshInterval,
		ReloadTilesOnGameStart: config.ReloadTilesOnGameStart,
		NewBackOff:             b.config.newBackOff,
		OnNotice:               s.observeNotice,
		Logf:                   logf,
	})
	if err != nil {
		return nil, err
	}

	var commands web.Commander
	if s.signer != nil {
		gateway, err := chain.NewGateway(s.client, address, s.signer, chain.GatewayOptions{GasLimit: config.GasLimit, Logf: logf})
		if err != nil {
			return nil, err
		}
		commands = gateway
	}

	s.terminal, err = presenter.NewTerminal(s.engine, s.journal, bundle, presenter.TerminalOptions{
		Locale:        config.Locale,
		ActivityLines: config.ActivityLines,
		Interactive:   config.Interactive,
		Out:           config.Out,
		Logf:          logf,
	})
	if err != nil {
		return nil, err
	}

	deps := web.Dependencies{
		Engine:   s.engine,
		Journal:  s.journal,
		Commands: commands,
		Logf:     logf,
	}
	if s.watch != nil {
		deps.Accounts = s.watch
	}
	if s.store != nil {
		deps.Snapshots = s.store
		deps.Tiles = s.store
	}
	s.web, err = web.NewServer(web.Config{
		HTTPAddr: config.HTTPAddr,
		Contract: address.Hex(),
		Account:  s.account,
		TxURL:    config.Chain.TxURL,
	}, deps)
	if err != nil {
		return nil, err
	}

	if config.GRPCAddr != "" {
		s.healthListener, err = b.config.listen("tcp", config.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", config.GRPCAddr, err)
		}
		s.health = platformgrpc.NewHealthServer(logf, HealthService)
		s.health.SetServing("", true)
	}

	s.unregister = append(s.unregister,
		s.engine.OnChange(s.onChange),
		s.journal.OnEntry(s.onEntry),
		s.wallet.OnAccountsChanged(s.requestSwitch),
	)
	return s, nil
}

// resolveWallet picks the signing or watch-only wallet, checks its network
// and reads the account to attach.
func (b *serverBootstrap) resolveWallet(ctx context.Context, s *Server) error {
	if s.config.PrivateKey != "" {
		keyWallet, err := wallet.NewKeyWallet(s.config.PrivateKey, s.client)
		if err != nil {
			return err
		}
		s.wallet = keyWallet
		s.signer = keyWallet
	} else {
		account, err := domain.ParseAccountID(s.config.Account)
		if err != nil {
			return err
		}
		watchWallet, err := wallet.NewWatchWallet(account, s.client)
		if err != nil {
			return err
		}
		s.wallet = watchWallet
		s.watch = watchWallet
	}

	if err := wallet.EnsureChain(ctx, s.wallet, s.config.Chain); err != nil {
		return err
	}
	accounts, err := s.wallet.RequestAccounts(ctx)
	if err != nil {
		return fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("wallet returned no accounts")
	}
	s.account = accounts[0]
	return nil
}
