// Package reconcile keeps one account's local game snapshot consistent
// with the ledger. Notifications and poll ticks only invalidate the
// snapshot; values always come from a full re-fetch, and at most one
// re-fetch is in flight at a time.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/platform/timeouts"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

const (
	// DefaultBoardSize is the deployed contract's board size.
	DefaultBoardSize = 12
	// DefaultFallbackInterval polls while push updates are suspended and
	// auto refresh is off.
	DefaultFallbackInterval = 5 * time.Second

	tileFetchLimit = 4
)

// Options configures an Engine.
type Options struct {
	BoardSize int
	// CallTimeout bounds every remote read.
	CallTimeout time.Duration
	// RefreshInterval is the poll cadence; zero disables auto refresh.
	RefreshInterval time.Duration
	// FallbackInterval is used instead of RefreshInterval while the event
	// channel is down.
	FallbackInterval time.Duration
	// ReloadTilesOnGameStart re-reads the board when GameStarted arrives.
	// Tiles are otherwise cached for the attached session.
	ReloadTilesOnGameStart bool
	// NewBackOff builds the resubscribe schedule.
	NewBackOff func() backoff.BackOff
	// OnNotice observes engine activity. Calls are serialized with change
	// notifications.
	OnNotice func(Notice)
	Logf     func(string, ...any)
}

// Engine owns the snapshot of the attached account.
type Engine struct {
	source  Source
	channel Channel
	opts    Options

	// notifyMu serializes listener delivery and is taken before mu.
	notifyMu sync.Mutex

	mu            sync.Mutex
	state         State
	account       domain.AccountID
	snapshot      domain.Snapshot
	hasSnapshot   bool
	board         domain.Board
	generation    uint64
	sessionGen    uint64
	appliedGen    uint64
	refreshing    bool
	pending       bool
	reloadTiles   bool
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	sub           domain.Subscription
	pushSuspended bool
	lastErr       error
	refreshes     int
	listeners     map[int]func(domain.Snapshot)
	nextListener  int

	resubscribe chan struct{}
}

// New builds a detached engine.
func New(source Source, channel Channel, opts Options) (*Engine, error) {
	if source == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "state source is required")
	}
	if channel == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "event channel is required")
	}
	if opts.BoardSize == 0 {
		opts.BoardSize = DefaultBoardSize
	}
	if opts.BoardSize < 1 {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "board size must be positive")
	}
	if opts.RefreshInterval < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "refresh interval must not be negative")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = timeouts.RemoteCall
	}
	if opts.FallbackInterval <= 0 {
		opts.FallbackInterval = DefaultFallbackInterval
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	return &Engine{
		source:      source,
		channel:     channel,
		opts:        opts,
		listeners:   make(map[int]func(domain.Snapshot)),
		resubscribe: make(chan struct{}, 1),
	}, nil
}

// Attach starts listening for account's notifications and performs the
// initial full fetch. It is a no-op for the account already attached.
func (e *Engine) Attach(ctx context.Context, account domain.AccountID) error {
	if account.IsZero() {
		return apperrors.New(apperrors.CodeInvalidArgument, "account is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.state != StateDisconnected {
		same := e.account.Equal(account)
		current := e.account
		e.mu.Unlock()
		if same {
			return nil
		}
		return apperrors.WithMetadata(apperrors.CodeAlreadyAttached, "engine is attached to another account",
			map[string]string{"account": current.String()})
	}
	e.generation++
	gen := e.generation
	e.sessionGen = gen
	e.account = account
	e.state = StateConnecting
	e.sessionCtx, e.sessionCancel = context.WithCancel(context.Background())
	sessionCtx := e.sessionCtx
	e.mu.Unlock()

	// Subscribe before reading so that notifications racing the initial
	// fetch queue a follow-up refresh instead of being lost.
	e.subscribe(sessionCtx, gen, account)

	fetchCtx, cancelFetch := context.WithCancel(sessionCtx)
	stop := context.AfterFunc(ctx, cancelFetch)
	snapshot, board, err := e.fetch(fetchCtx, account, true)
	stop()
	cancelFetch()

	e.mu.Lock()
	if e.sessionGen != gen {
		e.mu.Unlock()
		return apperrors.New(apperrors.CodeDetached, "detached during attach")
	}
	if err != nil {
		sub := e.resetLocked()
		e.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		e.opts.Logf("attach %s: %v", account.Short(), err)
		if apperrors.HasCode(err, apperrors.CodeRemoteUnavailable) {
			return err
		}
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, "attach "+account.Short(), err)
	}
	e.snapshot = snapshot
	e.hasSnapshot = true
	e.board = board
	e.appliedGen = gen
	e.state = StateSynced
	e.reloadTiles = false
	// Held until the attach snapshot is delivered, so a follow-up refresh
	// cannot notify ahead of it.
	e.refreshing = true
	suspended := e.pushSuspended
	e.mu.Unlock()

	e.emit(gen, Notice{Kind: NoticeAttached, Account: account})
	e.notify(gen, snapshot)

	e.mu.Lock()
	if e.sessionGen == gen {
		e.refreshing = false
		if e.pending {
			e.startRefreshLocked()
		}
	}
	e.mu.Unlock()
	if suspended {
		e.requestResubscribe()
	}
	return nil
}

// Detach drops the session: in-flight completions are discarded, the
// subscription is closed and the snapshot cleared. It waits for change
// notifications in progress, so listeners must not call it synchronously.
func (e *Engine) Detach() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}
	account := e.account
	sub := e.resetLocked()
	e.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if e.opts.OnNotice != nil {
		e.opts.OnNotice(Notice{Kind: NoticeDetached, Account: account})
	}
}

// Switch moves the engine to account, detaching any other account first.
func (e *Engine) Switch(ctx context.Context, account domain.AccountID) error {
	e.mu.Lock()
	same := e.state != StateDisconnected && e.account.Equal(account)
	e.mu.Unlock()
	if same {
		return nil
	}
	e.Detach()
	return e.Attach(ctx, account)
}

// CurrentSnapshot returns the last applied snapshot, if any.
func (e *Engine) CurrentSnapshot() (domain.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot, e.hasSnapshot
}

// Board returns the tiles loaded for the session.
func (e *Engine) Board() (domain.Board, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board, e.hasSnapshot
}

// State returns the connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:         e.state,
		Account:       e.account,
		PushSuspended: e.pushSuspended,
		Refreshing:    e.refreshing,
		LastError:     e.lastErr,
		Refreshes:     e.refreshes,
	}
}

// ForceRefresh requests a re-fetch. While one is in flight, requests
// coalesce into a single follow-up.
func (e *Engine) ForceRefresh() {
	e.mu.Lock()
	gen := e.sessionGen
	e.mu.Unlock()
	e.invalidate(gen, false)
}

// OnChange registers fn to receive every snapshot that differs in value
// from the previous one. It returns an unregister func.
func (e *Engine) OnChange(fn func(domain.Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// invalidate marks the snapshot of session sessionGen as outdated.
func (e *Engine) invalidate(sessionGen uint64, reloadTiles bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionGen != sessionGen {
		return
	}
	if reloadTiles {
		e.reloadTiles = true
	}
	switch {
	case e.state == StateDisconnected:
	case e.state == StateConnecting, e.refreshing:
		e.pending = true
	default:
		e.startRefreshLocked()
	}
}

func (e *Engine) startRefreshLocked() {
	e.refreshing = true
	e.pending = false
	e.generation++
	e.refreshes++
	e.state = StateStale
	gen, sessionGen := e.generation, e.sessionGen
	reload := e.reloadTiles
	e.reloadTiles = false
	ctx, account := e.sessionCtx, e.account

	go func() {
		snapshot, board, err := e.fetch(ctx, account, reload)
		e.complete(gen, sessionGen, snapshot, board, reload, err)
	}()
}

// complete applies a finished re-fetch. Completions from an older session,
// with a generation not newer than the applied one, or pinned to an older
// block than the held snapshot are discarded.
func (e *Engine) complete(gen, sessionGen uint64, snapshot domain.Snapshot, board domain.Board, reloaded bool, err error) {
	e.mu.Lock()
	if e.sessionGen != sessionGen {
		e.mu.Unlock()
		return
	}
	account := e.account
	changed := false
	switch {
	case err != nil:
		e.lastErr = err
	case gen <= e.appliedGen:
		e.opts.Logf("discard refresh generation %d: generation %d already applied", gen, e.appliedGen)
	case e.hasSnapshot && snapshot.AsOfBlock < e.snapshot.AsOfBlock:
		e.opts.Logf("discard refresh at block %d: holding block %d", snapshot.AsOfBlock, e.snapshot.AsOfBlock)
	default:
		changed = !e.hasSnapshot || !e.snapshot.Equal(snapshot)
		e.snapshot = snapshot
		e.hasSnapshot = true
		e.appliedGen = gen
		e.lastErr = nil
		if reloaded {
			e.board = board
		}
	}
	e.state = StateSynced
	e.mu.Unlock()

	if err != nil {
		e.opts.Logf("refresh %s: %v", account.Short(), err)
		e.emit(sessionGen, Notice{Kind: NoticeRefreshFailed, Account: account, Err: err})
	}
	if changed {
		e.notify(sessionGen, snapshot)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionGen != sessionGen {
		return
	}
	e.refreshing = false
	if err != nil {
		// Retried by the next tick, not immediately. Without auto refresh
		// or fallback polling no tick comes, so one is scheduled.
		e.pending = false
		if e.opts.RefreshInterval == 0 && !e.pushSuspended {
			time.AfterFunc(e.opts.FallbackInterval, func() { e.invalidate(sessionGen, false) })
		}
		return
	}
	if e.pending {
		e.startRefreshLocked()
	}
}

// fetch reads a complete snapshot, plus the board when withTiles is set.
func (e *Engine) fetch(ctx context.Context, account domain.AccountID, withTiles bool) (domain.Snapshot, domain.Board, error) {
	var (
		player     domain.PlayerState
		aggregates domain.Aggregates
		tiles      []domain.TileInfo
	)
	if withTiles {
		tiles = make([]domain.TileInfo, e.opts.BoardSize)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(tileFetchLimit + 2)
	group.Go(func() error {
		callCtx, cancel := context.WithTimeout(groupCtx, e.opts.CallTimeout)
		defer cancel()
		var err error
		player, err = e.source.FetchPlayerState(callCtx, account)
		return err
	})
	group.Go(func() error {
		callCtx, cancel := context.WithTimeout(groupCtx, e.opts.CallTimeout)
		defer cancel()
		var err error
		aggregates, err = e.source.FetchAggregates(callCtx)
		return err
	})
	for i := range tiles {
		group.Go(func() error {
			callCtx, cancel := context.WithTimeout(groupCtx, e.opts.CallTimeout)
			defer cancel()
			tile, err := e.source.FetchTile(callCtx, i)
			if err != nil {
				return err
			}
			tile.Index = i
			tiles[i] = tile
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return domain.Snapshot{}, domain.Board{}, asRemoteUnavailable("fetch state", err)
	}

	if !player.Account.Equal(account) {
		return domain.Snapshot{}, domain.Board{}, apperrors.WithMetadata(apperrors.CodeInvalidSnapshot,
			"player state belongs to another account", map[string]string{"account": player.Account.String()})
	}
	snapshot := domain.ComposeSnapshot(player, aggregates)
	if err := snapshot.Validate(e.opts.BoardSize); err != nil {
		return domain.Snapshot{}, domain.Board{}, err
	}
	var board domain.Board
	if withTiles {
		var err error
		if board, err = domain.NewBoard(tiles); err != nil {
			return domain.Snapshot{}, domain.Board{}, err
		}
	}
	return snapshot, board, nil
}

// notify delivers snapshot to listeners if session sessionGen is current.
func (e *Engine) notify(sessionGen uint64, snapshot domain.Snapshot) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if e.sessionGen != sessionGen {
		e.mu.Unlock()
		return
	}
	listeners := make([]func(domain.Snapshot), 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (e *Engine) emit(sessionGen uint64, notice Notice) {
	if e.opts.OnNotice == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	current := e.sessionGen == sessionGen
	e.mu.Unlock()
	if current {
		e.opts.OnNotice(notice)
	}
}

// resetLocked ends the current session and returns its subscription for
// the caller to close outside the lock.
func (e *Engine) resetLocked() domain.Subscription {
	e.generation++
	e.sessionGen = e.generation
	if e.sessionCancel != nil {
		e.sessionCancel()
	}
	sub := e.sub
	e.sub = nil
	e.sessionCtx, e.sessionCancel = nil, nil
	e.state = StateDisconnected
	e.account = domain.AccountID{}
	e.snapshot = domain.Snapshot{}
	e.hasSnapshot = false
	e.board = domain.Board{}
	e.refreshing = false
	e.pending = false
	e.reloadTiles = false
	e.pushSuspended = false
	e.lastErr = nil
	e.refreshes = 0
	return sub
}

func asRemoteUnavailable(message string, err error) error {
	if err == nil {
		return nil
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.CodeRemoteUnavailable, message, err)
}
