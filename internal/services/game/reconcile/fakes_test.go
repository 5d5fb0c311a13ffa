package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

var (
	accountA = domain.MustAccountID("0x00000000000000000000000000000000000000a1")
	accountB = domain.MustAccountID("0x00000000000000000000000000000000000000b2")
)

// fakeSource serves per-account player state. A gate blocks player reads
// for one account until the gate channel is closed or receives.
type fakeSource struct {
	mu          sync.Mutex
	players     map[domain.AccountID]domain.PlayerState
	block       uint64
	gates       map[domain.AccountID]chan struct{}
	playerErr   error
	tileErr     error
	playerCalls map[domain.AccountID]int
	tileCalls   int
	started     chan domain.AccountID
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		players:     make(map[domain.AccountID]domain.PlayerState),
		block:       100,
		gates:       make(map[domain.AccountID]chan struct{}),
		playerCalls: make(map[domain.AccountID]int),
		started:     make(chan domain.AccountID, 64),
	}
}

func (s *fakeSource) setPlayer(account domain.AccountID, position uint64, balance uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block++
	s.players[account] = domain.PlayerState{
		Account:    account,
		Position:   position,
		Balance:    *uint256.NewInt(balance),
		HasStarted: true,
	}
}

func (s *fakeSource) gate(account domain.AccountID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gates[account] = gate
	return gate
}

func (s *fakeSource) setPlayerErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerErr = err
}

func (s *fakeSource) calls(account domain.AccountID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerCalls[account]
}

func (s *fakeSource) FetchPlayerState(ctx context.Context, account domain.AccountID) (domain.PlayerState, error) {
	s.mu.Lock()
	s.playerCalls[account]++
	gate := s.gates[account]
	s.mu.Unlock()

	select {
	case s.started <- account:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.PlayerState{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playerErr != nil {
		return domain.PlayerState{}, s.playerErr
	}
	state, ok := s.players[account]
	if !ok {
		state = domain.PlayerState{Account: account}
	}
	state.AsOfBlock = s.block
	return state, nil
}

func (s *fakeSource) FetchTile(_ context.Context, index int) (domain.TileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tileCalls++
	if s.tileErr != nil {
		return domain.TileInfo{}, s.tileErr
	}
	return domain.TileInfo{Index: index, Name: "tile", Kind: domain.TileKind(index % 3)}, nil
}

func (s *fakeSource) FetchAggregates(context.Context) (domain.Aggregates, error) {
	return domain.Aggregates{TotalSupply: *uint256.NewInt(10000), WinnerCount: *uint256.NewInt(1)}, nil
}

// fakeChannel captures the handlers of the latest subscription.
type fakeChannel struct {
	mu           sync.Mutex
	handler      domain.EventHandler
	onError      func(error)
	account      domain.AccountID
	subscribes   int
	unsubscribes int
	failWith     error
}

type fakeSubscription struct {
	channel *fakeChannel
	once    sync.Once
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.channel.mu.Lock()
		s.channel.unsubscribes++
		s.channel.mu.Unlock()
	})
}

func (c *fakeChannel) Subscribe(_ context.Context, account domain.AccountID, _ []domain.EventKind, handler domain.EventHandler, onError func(error)) (domain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.handler = handler
	c.onError = onError
	c.account = account
	return &fakeSubscription{channel: c}, nil
}

func (c *fakeChannel) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

func (c *fakeChannel) deliver(event domain.RemoteEvent) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	handler(event)
}

func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	onError := c.onError
	c.mu.Unlock()
	onError(err)
}

func (c *fakeChannel) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes, c.unsubscribes
}

// snapshotRecorder collects OnChange deliveries.
type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
}

func (r *snapshotRecorder) record(snapshot domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
}

func (r *snapshotRecorder) all() []domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Snapshot(nil), r.snapshots...)
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) record(notice Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
}

func (r *noticeRecorder) kinds() []NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NoticeKind, 0, len(r.notices))
	for _, notice := range r.notices {
		out = append(out, notice.Kind)
	}
	return out
}

func newTestEngine(t *testing.T, source *fakeSource, channel *fakeChannel, opts Options) *Engine {
	t.Helper()
	if opts.CallTimeout == 0 {
		opts.CallTimeout = time.Second
	}
	engine, err := New(source, channel, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Detach)
	return engine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// waitIdle waits until no refresh is in flight or queued.
func waitIdle(t *testing.T, engine *Engine) {
	t.Helper()
	waitFor(t, "engine idle", func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return !engine.refreshing && !engine.pending && engine.state == StateSynced
	})
}

func waitStarted(t *testing.T, source *fakeSource, account domain.AccountID) {
	t.Helper()
	for {
		select {
		case got := <-source.started:
			if got.Equal(account) {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for fetch of %s", account)
		}
	}
}

func drainStarted(source *fakeSource) {
	for {
		select {
		case <-source.started:
		default:
			return
		}
	}
}

func event(kind domain.EventKind, account domain.AccountID, logIndex uint) domain.RemoteEvent {
	return domain.RemoteEvent{Kind: kind, Account: account, Source: domain.Provenance{BlockNumber: 1, LogIndex: logIndex}}
}

var errBoom = errors.New("boom")
