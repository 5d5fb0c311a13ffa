package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names one ledger notification.
type EventKind string

const (
	EventGameStarted  EventKind = "GameStarted"
	EventDiceRolled   EventKind = "DiceRolled"
	EventProfitLanded EventKind = "ProfitLanded"
	EventLossLanded   EventKind = "LossLanded"
	EventTokensMinted EventKind = "TokensMinted"
	EventTokensBurned EventKind = "TokensBurned"
	EventPointEarned  EventKind = "PointEarned"
)

// AllEventKinds lists every kind the contract emits.
func AllEventKinds() []EventKind {
	return []EventKind{
		EventGameStarted,
		EventDiceRolled,
		EventProfitLanded,
		EventLossLanded,
		EventTokensMinted,
		EventTokensBurned,
		EventPointEarned,
	}
}

// Provenance locates the log an event was decoded from.
type Provenance struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// RemoteEvent is one decoded notification. Only the fields belonging to
// Kind are set. Events only signal that something changed; their payload
// is never written into a snapshot.
type RemoteEvent struct {
	Kind    EventKind
	Account AccountID
	Source  Provenance

	// DiceRolled
	Roll        uint256.Int
	NewPosition uint256.Int
	// ProfitLanded, LossLanded, TokensMinted, TokensBurned
	Amount uint256.Int
	// PointEarned
	Points       uint256.Int
	NewThreshold uint256.Int
}

// Key identifies the underlying log, so duplicate deliveries share a key.
func (e RemoteEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.Source.TxHash.Hex(), e.Source.LogIndex)
}

// ReloadsTiles reports whether the event starts a new board session.
func (e RemoteEvent) ReloadsTiles() bool {
	return e.Kind == EventGameStarted
}

// EventHandler receives events in transport order.
type EventHandler func(RemoteEvent)

// Subscription is a live event feed.
type Subscription interface {
	Unsubscribe()
}
