package server

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	platformgrpc "github.com/louisbranch/hederapoly/internal/platform/grpc"
	"github.com/louisbranch/hederapoly/internal/platform/timeouts"
	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/chain"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/presenter"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
	"github.com/louisbranch/hederapoly/internal/services/game/wallet"
	"github.com/louisbranch/hederapoly/internal/services/web"
)

// Server hosts the game sync service.
type Server struct {
	config     Config
	logf       func(string, ...any)
	newBackOff func() backoff.BackOff

	client  ChainClient
	wallet  wallet.Wallet
	signer  chain.Signer
	watch   *wallet.WatchWallet
	account domain.AccountID

	store          storage.Store
	journal        *activity.Journal
	engine         *reconcile.Engine
	terminal       *presenter.Terminal
	web            *web.Server
	health         *platformgrpc.HealthServer
	healthListener net.Listener

	// switches holds at most the latest requested account.
	switches   chan domain.AccountID
	unregister []func()

	tilesMu    sync.Mutex
	savedTiles []domain.TileInfo

	closeOnce sync.Once
}

// New dials the ledger and builds a service ready to Serve.
func New(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return newServerBootstrap().New(ctx, config)
}

// Run creates and serves the sync service until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := New(ctx, config)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// HealthAddr returns the gRPC health listener address, if any.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Account returns the account the service was started for.
func (s *Server) Account() domain.AccountID {
	return s.account
}

// Serve attaches the engine and runs every long-lived part until the
// context ends or one of them fails. The service is closed on return.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	if err := s.terminal.Start(); err != nil {
		return err
	}
	defer func() {
		if err := s.terminal.Stop(); err != nil {
			s.logf("stop terminal: %v", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.engine.Run(groupCtx) })
	group.Go(func() error { return s.runSessions(groupCtx) })
	if s.health != nil {
		listener := s.healthListener
		group.Go(func() error { return s.health.Serve(groupCtx, listener) })
	}
	if s.config.HTTPAddr != "" {
		group.Go(func() error { return s.web.ListenAndServe(groupCtx) })
	}

	err := group.Wait()
	s.engine.Detach()
	return err
}

// Close releases the ledger connection and the cache. It is safe to call
// more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		for _, fn := range s.unregister {
			fn()
		}
		if s.healthListener != nil {
			_ = s.healthListener.Close()
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logf("close store: %v", err)
			}
		}
		if s.client != nil {
			s.client.Close()
		}
	})
}

// runSessions attaches the starting account, then follows account changes.
// Each change cancels an attach still retrying.
func (s *Server) runSessions(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc = func() {}
	)
	stop := func() {
		cancel()
		wg.Wait()
	}
	defer stop()

	start := func(account domain.AccountID) {
		attachCtx, attachCancel := context.WithCancel(ctx)
		cancel = attachCancel
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.attach(attachCtx, account); err != nil {
				s.logf("attach %s: %v", account.Short(), err)
			}
		}()
	}

	start(s.account)
	for {
		select {
		case <-ctx.Done():
			return nil
		case account := <-s.switches:
			stop()
			s.journal.Record(ctx, account, activity.SeverityNeutral, "activity.account_changed")
			s.engine.Detach()
			start(account)
		}
	}
}

// attach retries recoverable attach failures until it succeeds, the
// context ends or a newer session takes over.
func (s *Server) attach(ctx context.Context, account domain.AccountID) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.engine.Attach(ctx, account)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case apperrors.HasCode(err, apperrors.CodeDetached):
			return struct{}{}, backoff.Permanent(err)
		case apperrors.CodeOf(err).ProgrammerError():
			return struct{}{}, backoff.Permanent(err)
		}
		s.journal.Record(ctx, account, activity.SeverityLoss, "activity.connect_failed", err.Error())
		return struct{}{}, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctx.Err() != nil || apperrors.HasCode(err, apperrors.CodeDetached) {
			return nil
		}
		return err
	}

	if err := s.journal.Restore(ctx, account); err != nil {
		s.logf("restore activity for %s: %v", account.Short(), err)
	}
	s.terminal.Refresh()
	return nil
}

// requestSwitch queues account for runSessions, replacing any request
// not yet picked up.
func (s *Server) requestSwitch(account domain.AccountID) {
	for {
		select {
		case s.switches <- account:
			return
		default:
		}
		select {
		case <-s.switches:
		default:
		}
	}
}

func (s *Server) observeNotice(notice reconcile.Notice) {
	s.journal.ObserveNotice(notice)
	s.updateHealth()
}

// onChange runs for every applied snapshot, serialized by the engine.
func (s *Server) onChange(snapshot domain.Snapshot) {
	s.persist(snapshot)
	s.terminal.Refresh()
	s.web.PublishSnapshot(snapshot)
	s.updateHealth()
}

func (s *Server) onEntry(entry activity.Entry) {
	s.terminal.PrintEntry(entry)
	s.web.PublishEntry(entry)
}

func (s *Server) persist(snapshot domain.Snapshot) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StorageWrite)
	defer cancel()

	if err := s.store.PutSnapshot(ctx, snapshot); err != nil {
		s.logf("cache snapshot: %v", err)
	}

	board, ok := s.engine.Board()
	if !ok {
		return
	}
	tiles := board.Tiles()
	s.tilesMu.Lock()
	defer s.tilesMu.Unlock()
	if slices.Equal(tiles, s.savedTiles) {
		return
	}
	if err := s.store.PutTiles(ctx, s.config.ContractAddress().Hex(), tiles); err != nil {
		s.logf("cache tiles: %v", err)
		return
	}
	s.savedTiles = tiles
}

// updateHealth reports the service as serving while the engine holds a
// snapshot, including a stale one.
func (s *Server) updateHealth() {
	if s.health == nil {
		return
	}
	state := s.engine.State()
	s.health.SetServing(HealthService, state == reconcile.StateSynced || state == reconcile.StateStale)
}
