package reconcile

import (
	"context"
	"fmt"

	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// State is the engine's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSynced
	StateStale
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source reads authoritative state from the ledger.
type Source interface {
	FetchPlayerState(ctx context.Context, account domain.AccountID) (domain.PlayerState, error)
	FetchTile(ctx context.Context, index int) (domain.TileInfo, error)
	FetchAggregates(ctx context.Context) (domain.Aggregates, error)
}

// Channel pushes ledger notifications for one account.
type Channel interface {
	Subscribe(ctx context.Context, account domain.AccountID, kinds []domain.EventKind, handler domain.EventHandler, onError func(error)) (domain.Subscription, error)
}

// NoticeKind classifies engine activity reported to observers.
type NoticeKind string

const (
	NoticeAttached       NoticeKind = "attached"
	NoticeDetached       NoticeKind = "detached"
	NoticeEvent          NoticeKind = "event"
	NoticeRefreshFailed  NoticeKind = "refresh_failed"
	NoticeChannelDropped NoticeKind = "channel_dropped"
	NoticeResubscribed   NoticeKind = "resubscribed"
)

// Notice is one piece of engine activity. Event is set for NoticeEvent,
// Err for failures.
type Notice struct {
	Kind    NoticeKind
	Account domain.AccountID
	Event   domain.RemoteEvent
	Err     error
}

// Status is a point-in-time view of the engine for health and display.
type Status struct {
	State         State
	Account       domain.AccountID
	PushSuspended bool
	Refreshing    bool
	LastError     error
	// Refreshes counts re-fetches started in the current session.
	Refreshes int
}
