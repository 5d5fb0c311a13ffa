package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(nil, &fakeChannel{}, Options{}); !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
		t.Fatalf("nil source err = %v", err)
	}
	if _, err := New(newFakeSource(), nil, Options{}); !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
		t.Fatalf("nil channel err = %v", err)
	}
	if _, err := New(newFakeSource(), &fakeChannel{}, Options{BoardSize: -1}); !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
		t.Fatalf("negative board err = %v", err)
	}
	if _, err := New(newFakeSource(), &fakeChannel{}, Options{RefreshInterval: -time.Second}); !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
		t.Fatalf("negative interval err = %v", err)
	}
}

func TestAttachLoadsSnapshotAndBoard(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 3, 500)
	channel := &fakeChannel{}
	engine := newTestEngine(t, source, channel, Options{})
	recorder := &snapshotRecorder{}
	engine.OnChange(recorder.record)

	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if engine.State() != StateSynced {
		t.Fatalf("state = %s, want synced", engine.State())
	}
	snapshot, ok := engine.CurrentSnapshot()
	if !ok || snapshot.Position != 3 || snapshot.Balance.Uint64() != 500 {
		t.Fatalf("snapshot = %+v, ok = %v", snapshot, ok)
	}
	if snapshot.TotalSupply.Uint64() != 10000 {
		t.Fatalf("aggregates not applied: %+v", snapshot)
	}
	board, ok := engine.Board()
	if !ok || board.Size() != DefaultBoardSize {
		t.Fatalf("board size = %d", board.Size())
	}
	if got := len(recorder.all()); got != 1 {
		t.Fatalf("change notifications = %d, want 1", got)
	}
	if subscribes, _ := channel.counts(); subscribes != 1 {
		t.Fatalf("subscribes = %d, want 1", subscribes)
	}
}

func TestAttachIsIdempotentForSameAccount(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, source, &fakeChannel{}, Options{})

	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}
	same := domain.MustAccountID("0x00000000000000000000000000000000000000A1")
	if err := engine.Attach(context.Background(), same); err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if got := source.calls(accountA); got != 1 {
		t.Fatalf("player fetches = %d, want 1", got)
	}
}

func TestAttachRejectsDifferentAccount(t *testing.T) {
	engine := newTestEngine(t, newFakeSource(), &fakeChannel{}, Options{})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}
	err := engine.Attach(context.Background(), accountB)
	if !apperrors.HasCode(err, apperrors.CodeAlreadyAttached) {
		t.Fatalf("err = %v, want already attached", err)
	}
	if !apperrors.CodeOf(err).ProgrammerError() {
		t.Fatal("expected already attached to be a programmer error")
	}
}

func TestAttachFailureReturnsToDisconnected(t *testing.T) {
	source := newFakeSource()
	source.setPlayerErr(errBoom)
	channel := &fakeChannel{}
	engine := newTestEngine(t, source, channel, Options{})

	err := engine.Attach(context.Background(), accountA)
	if !apperrors.HasCode(err, apperrors.CodeRemoteUnavailable) {
		t.Fatalf("err = %v, want remote unavailable", err)
	}
	if engine.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", engine.State())
	}
	if _, ok := engine.CurrentSnapshot(); ok {
		t.Fatal("expected no snapshot after failed attach")
	}
	if _, unsubscribes := channel.counts(); unsubscribes != 1 {
		t.Fatalf("unsubscribes = %d, want 1", unsubscribes)
	}

	source.setPlayerErr(nil)
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach after recovery: %v", err)
	}
}

func TestAttachTimesOutAsRemoteUnavailable(t *testing.T) {
	source := newFakeSource()
	source.gate(accountA)
	engine := newTestEngine(t, source, &fakeChannel{}, Options{CallTimeout: 20 * time.Millisecond})

	err := engine.Attach(context.Background(), accountA)
	if !apperrors.HasCode(err, apperrors.CodeRemoteUnavailable) {
		t.Fatalf("err = %v, want remote unavailable", err)
	}
	if engine.State() != StateDisconnected {
		t.Fatalf("state = %s", engine.State())
	}
}

func TestAttachRejectsInvalidSnapshot(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 12, 500)
	engine := newTestEngine(t, source, &fakeChannel{}, Options{})

	err := engine.Attach(context.Background(), accountA)
	if !apperrors.HasCode(err, apperrors.CodeRemoteUnavailable) {
		t.Fatalf("err = %v, want remote unavailable", err)
	}
	if !apperrors.HasCode(err, apperrors.CodeInvalidSnapshot) {
		t.Fatalf("expected invalid snapshot cause, got %v", err)
	}
}

func TestAttachRequiresAccount(t *testing.T) {
	engine := newTestEngine(t, newFakeSource(), &fakeChannel{}, Options{})
	if err := engine.Attach(context.Background(), domain.AccountID{}); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestForceRefreshBeforeAttachIsIgnored(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, source, &fakeChannel{}, Options{})
	engine.ForceRefresh()
	if engine.State() != StateDisconnected || source.calls(accountA) != 0 {
		t.Fatal("expected refresh without session to be ignored")
	}
}

func TestOnChangeSkipsEqualSnapshots(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 3, 500)
	engine := newTestEngine(t, source, &fakeChannel{}, Options{})
	recorder := &snapshotRecorder{}
	unregister := engine.OnChange(recorder.record)

	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}
	engine.ForceRefresh()
	waitIdle(t, engine)
	if got := len(recorder.all()); got != 1 {
		t.Fatalf("notifications after equal refresh = %d, want 1", got)
	}

	source.setPlayer(accountA, 5, 520)
	engine.ForceRefresh()
	waitIdle(t, engine)
	if got := len(recorder.all()); got != 2 {
		t.Fatalf("notifications after change = %d, want 2", got)
	}

	unregister()
	unregister()
	source.setPlayer(accountA, 6, 520)
	engine.ForceRefresh()
	waitIdle(t, engine)
	if got := len(recorder.all()); got != 2 {
		t.Fatalf("notifications after unregister = %d, want 2", got)
	}
}

func TestFailedRefreshKeepsLastGoodSnapshot(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 3, 500)
	notices := &noticeRecorder{}
	engine := newTestEngine(t, source, &fakeChannel{}, Options{OnNotice: notices.record})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}

	source.setPlayerErr(errBoom)
	engine.ForceRefresh()
	waitIdle(t, engine)

	snapshot, ok := engine.CurrentSnapshot()
	if !ok || snapshot.Position != 3 || snapshot.Balance.Uint64() != 500 {
		t.Fatalf("snapshot = %+v, want last good", snapshot)
	}
	status := engine.Status()
	if status.State != StateSynced {
		t.Fatalf("state = %s, want synced", status.State)
	}
	if !apperrors.HasCode(status.LastError, apperrors.CodeRemoteUnavailable) {
		t.Fatalf("last error = %v", status.LastError)
	}
	kinds := notices.kinds()
	if kinds[len(kinds)-1] != NoticeRefreshFailed {
		t.Fatalf("notices = %v, want trailing refresh failure", kinds)
	}

	source.setPlayerErr(nil)
	source.setPlayer(accountA, 4, 510)
	engine.ForceRefresh()
	waitIdle(t, engine)
	if status := engine.Status(); status.LastError != nil {
		t.Fatalf("last error after recovery = %v", status.LastError)
	}
}

func TestFailedRefreshDropsQueuedFollowUp(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, source, &fakeChannel{}, Options{})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}

	drainStarted(source)
	gate := source.gate(accountA)
	source.setPlayerErr(errBoom)
	engine.ForceRefresh()
	waitStarted(t, source, accountA)
	engine.ForceRefresh()
	close(gate)
	waitIdle(t, engine)

	if got := source.calls(accountA); got != 2 {
		t.Fatalf("player fetches = %d, want 2 (attach + failed refresh, no immediate retry)", got)
	}
}

func TestFailedRefreshRetriesWithoutPolling(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 3, 500)
	engine := newTestEngine(t, source, &fakeChannel{}, Options{FallbackInterval: 20 * time.Millisecond})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}

	source.setPlayerErr(errBoom)
	engine.ForceRefresh()
	waitFor(t, "failed refresh", func() bool {
		return source.calls(accountA) >= 2
	})
	source.setPlayerErr(nil)
	source.setPlayer(accountA, 9, 500)

	// No Run loop and no further events: only the scheduled retry can
	// pick up the change.
	waitFor(t, "retry after failed refresh", func() bool {
		snapshot, _ := engine.CurrentSnapshot()
		return snapshot.Position == 9
	})
	waitIdle(t, engine)
	settled := source.calls(accountA)
	time.Sleep(60 * time.Millisecond)
	if got := source.calls(accountA); got != settled {
		t.Fatalf("player fetches grew from %d to %d after a successful retry", settled, got)
	}
}

func TestAttachSnapshotDeliveredBeforeFollowUp(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 3, 500)
	recorder := &snapshotRecorder{}
	var (
		engine       *Engine
		callsDuring  int
		fetchedEarly bool
	)
	engine = newTestEngine(t, source, &fakeChannel{}, Options{
		OnNotice: func(notice Notice) {
			if notice.Kind != NoticeAttached {
				return
			}
			source.setPlayer(accountA, 7, 700)
			engine.ForceRefresh()
			// A follow-up started now could land ahead of the attach
			// snapshot.
			time.Sleep(30 * time.Millisecond)
			callsDuring = source.calls(accountA)
			fetchedEarly = callsDuring > 1
		},
	})
	engine.OnChange(recorder.record)

	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitIdle(t, engine)

	if fetchedEarly {
		t.Fatalf("player fetches = %d before the attach snapshot was delivered", callsDuring)
	}
	snapshots := recorder.all()
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want attach and follow-up", len(snapshots))
	}
	if snapshots[0].Position != 3 || snapshots[1].Position != 7 {
		t.Fatalf("positions = %d then %d, want 3 then 7", snapshots[0].Position, snapshots[1].Position)
	}
}

func TestDetachClearsSession(t *testing.T) {
	source := newFakeSource()
	channel := &fakeChannel{}
	notices := &noticeRecorder{}
	engine := newTestEngine(t, source, channel, Options{OnNotice: notices.record})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}

	engine.Detach()
	engine.Detach()
	if engine.State() != StateDisconnected {
		t.Fatalf("state = %s", engine.State())
	}
	if _, ok := engine.CurrentSnapshot(); ok {
		t.Fatal("expected snapshot to be cleared")
	}
	if _, ok := engine.Board(); ok {
		t.Fatal("expected board to be cleared")
	}
	if _, unsubscribes := channel.counts(); unsubscribes != 1 {
		t.Fatalf("unsubscribes = %d, want 1", unsubscribes)
	}
	kinds := notices.kinds()
	if kinds[len(kinds)-1] != NoticeDetached {
		t.Fatalf("notices = %v", kinds)
	}

	// Events from the closed subscription are ignored.
	channel.deliver(event(domain.EventDiceRolled, accountA, 1))
	if engine.State() != StateDisconnected {
		t.Fatalf("state after stale event = %s", engine.State())
	}
}

func TestDetachDuringAttach(t *testing.T) {
	source := newFakeSource()
	source.gate(accountA)
	engine := newTestEngine(t, source, &fakeChannel{}, Options{})

	done := make(chan error, 1)
	go func() { done <- engine.Attach(context.Background(), accountA) }()
	waitStarted(t, source, accountA)
	engine.Detach()

	select {
	case err := <-done:
		if !apperrors.HasCode(err, apperrors.CodeDetached) {
			t.Fatalf("attach err = %v, want detached", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("attach did not return")
	}
	if _, ok := engine.CurrentSnapshot(); ok {
		t.Fatal("expected no snapshot")
	}
}

func TestSwitchMovesToNewAccount(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 1, 100)
	source.setPlayer(accountB, 2, 200)
	channel := &fakeChannel{}
	engine := newTestEngine(t, source, channel, Options{})

	if err := engine.Switch(context.Background(), accountA); err != nil {
		t.Fatalf("switch to A: %v", err)
	}
	if err := engine.Switch(context.Background(), accountA); err != nil {
		t.Fatalf("switch to same account: %v", err)
	}
	if err := engine.Switch(context.Background(), accountB); err != nil {
		t.Fatalf("switch to B: %v", err)
	}
	snapshot, _ := engine.CurrentSnapshot()
	if !snapshot.Account.Equal(accountB) || snapshot.Position != 2 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if subscribes, unsubscribes := channel.counts(); subscribes != 2 || unsubscribes != 1 {
		t.Fatalf("subscribes = %d unsubscribes = %d", subscribes, unsubscribes)
	}
}

func TestEventsForOtherAccountsAreIgnored(t *testing.T) {
	source := newFakeSource()
	channel := &fakeChannel{}
	engine := newTestEngine(t, source, channel, Options{})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}

	channel.deliver(event(domain.EventDiceRolled, accountB, 1))
	if status := engine.Status(); status.Refreshes != 0 {
		t.Fatalf("refreshes = %d, want 0", status.Refreshes)
	}
}

func TestEventDuringAttachQueuesFollowUp(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 3, 500)
	gate := source.gate(accountA)
	channel := &fakeChannel{}
	engine := newTestEngine(t, source, channel, Options{})

	done := make(chan error, 1)
	go func() { done <- engine.Attach(context.Background(), accountA) }()
	waitStarted(t, source, accountA)
	if engine.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", engine.State())
	}
	channel.deliver(event(domain.EventTokensMinted, accountA, 1))
	source.setPlayer(accountA, 3, 1100)
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitIdle(t, engine)
	if got := source.calls(accountA); got != 2 {
		t.Fatalf("player fetches = %d, want 2", got)
	}
	snapshot, _ := engine.CurrentSnapshot()
	if snapshot.Balance.Uint64() != 1100 {
		t.Fatalf("balance = %s, want 1100", snapshot.Balance.Dec())
	}
}

func TestGameStartedReloadsTilesWhenEnabled(t *testing.T) {
	for _, reload := range []bool{false, true} {
		source := newFakeSource()
		channel := &fakeChannel{}
		engine := newTestEngine(t, source, channel, Options{ReloadTilesOnGameStart: reload})
		if err := engine.Attach(context.Background(), accountA); err != nil {
			t.Fatalf("attach: %v", err)
		}
		channel.deliver(event(domain.EventGameStarted, accountA, 1))
		waitIdle(t, engine)

		source.mu.Lock()
		tileCalls := source.tileCalls
		source.mu.Unlock()
		want := DefaultBoardSize
		if reload {
			want = 2 * DefaultBoardSize
		}
		if tileCalls != want {
			t.Fatalf("reload=%v tile fetches = %d, want %d", reload, tileCalls, want)
		}
	}
}

func TestSubscribeFailureSuspendsPush(t *testing.T) {
	source := newFakeSource()
	channel := &fakeChannel{}
	channel.setFail(errBoom)
	notices := &noticeRecorder{}
	engine := newTestEngine(t, source, channel, Options{OnNotice: notices.record})

	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !engine.Status().PushSuspended {
		t.Fatal("expected push to be suspended")
	}
	if kinds := notices.kinds(); len(kinds) == 0 || kinds[0] != NoticeChannelDropped {
		t.Fatalf("notices = %v", kinds)
	}
}

func TestConcurrentRefreshesStaySerial(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 1, 100)
	channel := &fakeChannel{}
	engine := newTestEngine(t, source, channel, Options{})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.ForceRefresh()
			channel.deliver(event(domain.EventProfitLanded, accountA, uint(i)))
		}()
	}
	wg.Wait()
	source.setPlayer(accountA, 9, 900)
	engine.ForceRefresh()
	waitIdle(t, engine)

	snapshot, _ := engine.CurrentSnapshot()
	if snapshot.Position != 9 || snapshot.Balance.Uint64() != 900 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if got := source.calls(accountA); got > 102 {
		t.Fatalf("player fetches = %d exceeds one per signal", got)
	}
}

func TestCompleteDiscardsOlderBlock(t *testing.T) {
	source := newFakeSource()
	source.setPlayer(accountA, 3, 500)
	engine := newTestEngine(t, source, &fakeChannel{}, Options{})
	if err := engine.Attach(context.Background(), accountA); err != nil {
		t.Fatalf("attach: %v", err)
	}
	held, _ := engine.CurrentSnapshot()

	engine.mu.Lock()
	engine.generation++
	gen, sessionGen := engine.generation, engine.sessionGen
	engine.refreshing = true
	engine.mu.Unlock()

	older := held
	older.Position = 0
	older.Balance = *uint256.NewInt(1)
	older.AsOfBlock = held.AsOfBlock - 1
	engine.complete(gen, sessionGen, older, domain.Board{}, false, nil)

	if got, _ := engine.CurrentSnapshot(); !got.Equal(held) {
		t.Fatalf("snapshot = %+v, want held %+v", got, held)
	}
}
