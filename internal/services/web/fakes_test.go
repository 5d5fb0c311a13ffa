package web

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/louisbranch/hederapoly/internal/platform/i18n/catalog"
	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/chain"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
)

var (
	testAccount  = domain.MustAccountID("0x1111111111111111111111111111111111111111")
	otherAccount = domain.MustAccountID("0x2222222222222222222222222222222222222222")
)

const testContract = "0x00000000000000000000000000000000005ee0e4"

func testSnapshot(position uint64, balance uint64) domain.Snapshot {
	return domain.Snapshot{
		Account:            testAccount,
		Position:           position,
		Balance:            *uint256.NewInt(balance),
		HasStarted:         true,
		PointsEarned:       *uint256.NewInt(1),
		NextRequiredAmount: *uint256.NewInt(1000),
		TotalSupply:        *uint256.MustFromDecimal("5000000000000000000000"),
		WinnerCount:        *uint256.NewInt(2),
		HasMinted:          true,
		TokenBalance:       *uint256.NewInt(1200),
		AsOfBlock:          42,
	}
}

func testBoard(t *testing.T) domain.Board {
	t.Helper()
	board, err := domain.NewBoard([]domain.TileInfo{
		{Index: 0, Name: "Start", Kind: domain.TileNeutral},
		{Index: 1, Name: "Bonus", Kind: domain.TileProfit, Value: 50},
		{Index: 2, Name: "Tax", Kind: domain.TileLoss, Value: -30},
	})
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	return board
}

type fakeEngine struct {
	mu          sync.Mutex
	snapshot    domain.Snapshot
	hasSnapshot bool
	board       domain.Board
	hasBoard    bool
	status      reconcile.Status
	refreshes   int
}

func (e *fakeEngine) CurrentSnapshot() (domain.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot, e.hasSnapshot
}

func (e *fakeEngine) Board() (domain.Board, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board, e.hasBoard
}

func (e *fakeEngine) Status() reconcile.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *fakeEngine) ForceRefresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshes++
}

func (e *fakeEngine) setSnapshot(snapshot domain.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = snapshot
	e.hasSnapshot = true
	e.status = reconcile.Status{State: reconcile.StateSynced, Account: snapshot.Account}
}

func (e *fakeEngine) refreshCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshes
}

type fakeCommander struct {
	mu      sync.Mutex
	calls   []domain.Command
	receipt chain.Receipt
	err     error
}

func (c *fakeCommander) Execute(_ context.Context, command domain.Command) (chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, command)
	if c.err != nil {
		return chain.Receipt{}, c.err
	}
	return c.receipt, nil
}

type fakeAccounts struct {
	mu  sync.Mutex
	set []domain.AccountID
	err error
}

func (a *fakeAccounts) SetAccount(account domain.AccountID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.set = append(a.set, account)
	return nil
}

type memorySnapshots struct {
	byAccount map[string]domain.Snapshot
}

func (m *memorySnapshots) PutSnapshot(_ context.Context, snapshot domain.Snapshot) error {
	if m.byAccount == nil {
		m.byAccount = make(map[string]domain.Snapshot)
	}
	m.byAccount[snapshot.Account.String()] = snapshot
	return nil
}

func (m *memorySnapshots) GetSnapshot(_ context.Context, account domain.AccountID) (domain.Snapshot, error) {
	snapshot, ok := m.byAccount[account.String()]
	if !ok {
		return domain.Snapshot{}, storage.ErrNotFound
	}
	return snapshot, nil
}

type memoryTiles struct {
	byContract map[string][]domain.TileInfo
}

func (m *memoryTiles) PutTiles(_ context.Context, contract string, tiles []domain.TileInfo) error {
	if m.byContract == nil {
		m.byContract = make(map[string][]domain.TileInfo)
	}
	m.byContract[contract] = tiles
	return nil
}

func (m *memoryTiles) GetTiles(_ context.Context, contract string) ([]domain.TileInfo, error) {
	tiles, ok := m.byContract[contract]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return tiles, nil
}

func newTestJournal(t *testing.T) *activity.Journal {
	t.Helper()
	bundle, err := catalog.LoadEmbedded()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	var (
		mu   sync.Mutex
		next uint64
	)
	journal, err := activity.NewJournal(bundle, activity.Options{
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() uuid.UUID {
			mu.Lock()
			defer mu.Unlock()
			next++
			var id uuid.UUID
			id[15] = byte(next)
			return id
		},
	})
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return journal
}

type testDeps struct {
	engine   *fakeEngine
	journal  *activity.Journal
	commands *fakeCommander
	accounts *fakeAccounts
}

func newTestServer(t *testing.T, config Config, mutate func(*Dependencies)) (*Server, testDeps) {
	t.Helper()
	td := testDeps{
		engine:  &fakeEngine{},
		journal: newTestJournal(t),
		commands: &fakeCommander{receipt: chain.Receipt{
			TxHash:      common.HexToHash("0xabc1"),
			BlockNumber: 77,
			GasUsed:     21000,
		}},
		accounts: &fakeAccounts{},
	}
	deps := Dependencies{
		Engine:   td.engine,
		Journal:  td.journal,
		Commands: td.commands,
		Accounts: td.accounts,
	}
	if mutate != nil {
		mutate(&deps)
	}
	server, err := NewServer(config, deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server, td
}
