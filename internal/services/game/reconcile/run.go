package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// errStillConnecting defers a resubscribe until the initial fetch lands.
var errStillConnecting = errors.New("initial fetch still in flight")

// Run drives periodic refreshes and event channel recovery until ctx ends.
// With auto refresh off it still polls at the fallback interval while the
// channel is down.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.opts.RefreshInterval
	autoRefresh := interval > 0
	if !autoRefresh {
		interval = e.opts.FallbackInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	schedule := e.opts.NewBackOff()
	var (
		retryTimer *time.Timer
		retryC     <-chan time.Time
	)
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()
	arm := func() {
		if retryC != nil {
			return
		}
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			e.opts.Logf("event channel resubscribe gave up; polling only")
			return
		}
		retryTimer = time.NewTimer(delay)
		retryC = retryTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.tick(autoRefresh)
		case <-e.resubscribe:
			arm()
		case <-retryC:
			retryC = nil
			if err := e.resubscribeNow(); err != nil {
				e.opts.Logf("resubscribe: %v", err)
				arm()
				continue
			}
			schedule.Reset()
		}
	}
}

func (e *Engine) tick(autoRefresh bool) {
	e.mu.Lock()
	due := autoRefresh || e.pushSuspended
	gen := e.sessionGen
	e.mu.Unlock()
	if due {
		e.invalidate(gen, false)
	}
}

// subscribe opens the event channel for session gen. A failure suspends
// push updates and schedules a retry.
func (e *Engine) subscribe(ctx context.Context, gen uint64, account domain.AccountID) {
	sub, err := e.channel.Subscribe(ctx, account, domain.AllEventKinds(), e.eventHandler(gen), e.dropHandler(gen))

	e.mu.Lock()
	if e.sessionGen != gen {
		e.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return
	}
	if err != nil {
		e.pushSuspended = true
		e.mu.Unlock()
		e.opts.Logf("subscribe %s: %v", account.Short(), err)
		e.emit(gen, Notice{Kind: NoticeChannelDropped, Account: account,
			Err: apperrors.Wrap(apperrors.CodeChannelDropped, "subscribe", err)})
		e.requestResubscribe()
		return
	}
	e.sub = sub
	e.pushSuspended = false
	e.mu.Unlock()
}

func (e *Engine) resubscribeNow() error {
	e.mu.Lock()
	if e.state == StateConnecting && e.pushSuspended {
		e.mu.Unlock()
		return errStillConnecting
	}
	if e.state == StateDisconnected || !e.pushSuspended {
		e.mu.Unlock()
		return nil
	}
	gen, ctx, account := e.sessionGen, e.sessionCtx, e.account
	e.mu.Unlock()

	sub, err := e.channel.Subscribe(ctx, account, domain.AllEventKinds(), e.eventHandler(gen), e.dropHandler(gen))
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.sessionGen != gen {
		e.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	e.sub = sub
	e.pushSuspended = false
	e.mu.Unlock()

	e.emit(gen, Notice{Kind: NoticeResubscribed, Account: account})
	// Events may have been missed while suspended.
	e.invalidate(gen, false)
	return nil
}

func (e *Engine) requestResubscribe() {
	select {
	case e.resubscribe <- struct{}{}:
	default:
	}
}

func (e *Engine) eventHandler(gen uint64) domain.EventHandler {
	return func(event domain.RemoteEvent) {
		e.mu.Lock()
		current := e.sessionGen == gen && event.Account.Equal(e.account)
		e.mu.Unlock()
		if !current {
			return
		}
		e.emit(gen, Notice{Kind: NoticeEvent, Account: event.Account, Event: event})
		e.invalidate(gen, event.ReloadsTiles() && e.opts.ReloadTilesOnGameStart)
	}
}

func (e *Engine) dropHandler(gen uint64) func(error) {
	return func(err error) {
		e.mu.Lock()
		if e.sessionGen != gen {
			e.mu.Unlock()
			return
		}
		stale := e.sub
		e.sub = nil
		e.pushSuspended = true
		account := e.account
		e.mu.Unlock()

		if stale != nil {
			stale.Unsubscribe()
		}

		if !apperrors.HasCode(err, apperrors.CodeChannelDropped) {
			err = apperrors.Wrap(apperrors.CodeChannelDropped, "event channel dropped", err)
		}
		e.opts.Logf("event channel for %s dropped: %v", account.Short(), err)
		e.emit(gen, Notice{Kind: NoticeChannelDropped, Account: account, Err: err})
		e.requestResubscribe()
	}
}
