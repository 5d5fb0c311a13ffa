// Package chainfakes provides an in-memory JSON-RPC ledger speaking the
// HederaPoly contract ABI, for tests of the chain adapters and everything
// built on them.
package chainfakes

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/louisbranch/hederapoly/internal/services/game/chain"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// ContractAddress is the address the fake contract answers on.
var ContractAddress = common.HexToAddress("0x8F1e1DC747D66EA0958e271d7EFe1503a77c719E")

// Player is the contract-side state of one account.
type Player struct {
	Position     uint64
	Balance      uint64
	HasStarted   bool
	Points       uint64
	NextRequired uint64
	HasMinted    bool
	TokenBalance uint64
	Native       uint64
}

// Tile is the contract-side metadata of one tile.
type Tile struct {
	Name  string
	Kind  uint8
	Value int64
}

// SentTx records one submitted transaction.
type SentTx struct {
	Method string
	From   common.Address
	Tx     *types.Transaction
}

// Ledger is a fake RPC endpoint. Zero-value fields mean "no error".
type Ledger struct {
	mu sync.Mutex

	abi      abi.ABI
	block    uint64
	players  map[common.Address]*Player
	tiles    []Tile
	supply   uint64
	winners  uint64
	name     string
	chainID  *big.Int
	nonce    uint64
	logs     []types.Log
	subs     []*fakeSubscription
	sent     []SentTx
	receipts map[common.Hash]*types.Receipt
	calls    map[string]int

	callErrs  map[string]error
	blockErr  error
	filterErr error
	closed    bool

	// NoNotifications makes SubscribeFilterLogs behave like an HTTP endpoint.
	NoNotifications bool
	// SendErr fails eth_sendRawTransaction.
	SendErr error
	// Revert marks transactions to the named methods as failed.
	Revert map[string]bool
	// OnCall runs before every eth_call with the method name, outside the lock.
	OnCall func(method string)
	// OnSend runs after a transaction is accepted, outside the lock.
	OnSend func(method string, from common.Address)
}

// NewLedger builds a ledger with a 12-tile board at block 100.
func NewLedger() *Ledger {
	parsed, err := chain.ContractABI()
	if err != nil {
		panic(fmt.Sprintf("parse contract abi: %v", err))
	}
	tiles := make([]Tile, 12)
	for i := range tiles {
		switch i % 3 {
		case 0:
			tiles[i] = Tile{Name: fmt.Sprintf("Plaza %d", i), Kind: 0}
		case 1:
			tiles[i] = Tile{Name: fmt.Sprintf("Market %d", i), Kind: 1, Value: int64(10 * i)}
		default:
			tiles[i] = Tile{Name: fmt.Sprintf("Tax %d", i), Kind: 2, Value: -int64(5 * i)}
		}
	}
	return &Ledger{
		abi:      parsed,
		block:    100,
		players:  make(map[common.Address]*Player),
		tiles:    tiles,
		supply:   600,
		name:     "HederaPoly",
		chainID:  big.NewInt(296),
		receipts: make(map[common.Hash]*types.Receipt),
		calls:    make(map[string]int),
		callErrs: make(map[string]error),
	}
}

// FailCall makes eth_call to method fail with err; nil clears it.
func (l *Ledger) FailCall(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.callErrs, method)
		return
	}
	l.callErrs[method] = err
}

// FailBlockNumber makes eth_blockNumber fail with err; nil clears it.
func (l *Ledger) FailBlockNumber(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockErr = err
}

// FailFilterLogs makes eth_getLogs fail with err; nil clears it.
func (l *Ledger) FailFilterLogs(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filterErr = err
}

// SetPlayer replaces the state of account.
func (l *Ledger) SetPlayer(account common.Address, player Player) {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := player
	l.players[account] = &copied
}

// UpdatePlayer mutates the state of account in place.
func (l *Ledger) UpdatePlayer(account common.Address, update func(*Player)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	player, ok := l.players[account]
	if !ok {
		player = &Player{}
		l.players[account] = player
	}
	update(player)
}

// SetTiles replaces the board.
func (l *Ledger) SetTiles(tiles []Tile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tiles = append([]Tile(nil), tiles...)
}

// SetAggregates replaces the contract-wide counters.
func (l *Ledger) SetAggregates(supply, winners uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supply = supply
	l.winners = winners
}

// SetChainID changes the chain id reported by eth_chainId.
func (l *Ledger) SetChainID(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chainID = new(big.Int).SetUint64(id)
}

// Mine advances the head by n blocks and returns the new head.
func (l *Ledger) Mine(n uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block += n
	return l.block
}

// Head returns the current block number.
func (l *Ledger) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block
}

// Calls returns how many eth_calls hit method.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// Sent returns the accepted transactions in order.
func (l *Ledger) Sent() []SentTx {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SentTx(nil), l.sent...)
}

// Emit mines a new block holding one contract event for account, stores it
// for eth_getLogs and pushes it to live subscriptions.
func (l *Ledger) Emit(kind domain.EventKind, account common.Address, values ...*big.Int) (types.Log, error) {
	event, ok := l.abi.Events[string(kind)]
	if !ok {
		return types.Log{}, fmt.Errorf("unknown event %s", kind)
	}
	args := make([]any, len(values))
	for i, value := range values {
		args[i] = value
	}
	data, err := event.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack %s: %w", kind, err)
	}

	l.mu.Lock()
	l.block++
	entry := types.Log{
		Address:     ContractAddress,
		Topics:      []common.Hash{event.ID, common.BytesToHash(account.Bytes())},
		Data:        data,
		BlockNumber: l.block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(l.block)),
		Index:       uint(len(l.logs)),
	}
	l.logs = append(l.logs, entry)
	subs := append([]*fakeSubscription(nil), l.subs...)
	l.mu.Unlock()

	for _, sub := range subs {
		sub.send(entry)
	}
	return entry, nil
}

// Redeliver pushes an already emitted log again, like a reconnect overlap.
func (l *Ledger) Redeliver(entry types.Log) {
	l.mu.Lock()
	subs := append([]*fakeSubscription(nil), l.subs...)
	l.mu.Unlock()
	for _, sub := range subs {
		sub.send(entry)
	}
}

// DropSubscriptions fails every live push subscription with err.
func (l *Ledger) DropSubscriptions(err error) {
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()
	for _, sub := range subs {
		sub.fail(err)
	}
}

// Subscriptions returns the number of live push subscriptions.
func (l *Ledger) Subscriptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Close marks the ledger closed, like ethclient.Client.Close.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// Closed reports whether Close was called.
func (l *Ledger) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ChainID implements eth_chainId.
func (l *Ledger) ChainID(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.chainID), nil
}

// BlockNumber implements eth_blockNumber.
func (l *Ledger) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blockErr != nil {
		return 0, l.blockErr
	}
	return l.block, nil
}

// BalanceAt implements eth_getBalance.
func (l *Ledger) BalanceAt(ctx context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if player, ok := l.players[account]; ok {
		return new(big.Int).SetUint64(player.Native), nil
	}
	return new(big.Int), nil
}

// CallContract implements eth_call for the contract's view methods.
func (l *Ledger) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil || *msg.To != ContractAddress || len(msg.Data) < 4 {
		return nil, nil
	}
	method, err := l.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	if l.OnCall != nil {
		l.OnCall(method.Name)
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[method.Name]++
	if err := l.callErrs[method.Name]; err != nil {
		return nil, err
	}

	player := func() Player {
		if len(args) == 0 {
			return Player{}
		}
		addr, _ := args[0].(common.Address)
		if p, ok := l.players[addr]; ok {
			return *p
		}
		return Player{}
	}
	u := func(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

	switch method.Name {
	case "getPlayerState":
		p := player()
		return method.Outputs.Pack(u(p.Position), u(p.Balance), p.HasStarted, u(p.Points))
	case "nextRequiredHPOLY":
		return method.Outputs.Pack(u(player().NextRequired))
	case "hasMinted":
		return method.Outputs.Pack(player().HasMinted)
	case "balanceOf":
		return method.Outputs.Pack(u(player().TokenBalance))
	case "points":
		return method.Outputs.Pack(u(player().Points))
	case "totalSupply":
		return method.Outputs.Pack(u(l.supply))
	case "winnerCount":
		return method.Outputs.Pack(u(l.winners))
	case "name":
		return method.Outputs.Pack(l.name)
	case "BOARD_SIZE":
		return method.Outputs.Pack(u(uint64(len(l.tiles))))
	case "getTile":
		index, _ := args[0].(*big.Int)
		if index == nil || !index.IsInt64() || index.Int64() >= int64(len(l.tiles)) {
			return nil, errors.New("execution reverted: invalid tile")
		}
		tile := l.tiles[index.Int64()]
		return method.Outputs.Pack(tile.Name, tile.Kind, big.NewInt(tile.Value))
	default:
		return nil, fmt.Errorf("method %s not faked", method.Name)
	}
}

// FilterLogs implements eth_getLogs.
func (l *Ledger) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filterErr != nil {
		return nil, l.filterErr
	}
	var out []types.Log
	for _, entry := range l.logs {
		if query.FromBlock != nil && entry.BlockNumber < query.FromBlock.Uint64() {
			continue
		}
		if query.ToBlock != nil && entry.BlockNumber > query.ToBlock.Uint64() {
			continue
		}
		if matches(query, entry) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// SubscribeFilterLogs implements eth_subscribe("logs").
func (l *Ledger) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.NoNotifications {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := &fakeSubscription{
		ledger: l,
		query:  query,
		ch:     ch,
		errCh:  make(chan error, 1),
		quit:   make(chan struct{}),
	}
	l.subs = append(l.subs, sub)
	return sub, nil
}

// HeaderByNumber implements eth_getBlockByNumber for the transactor.
// Headers carry no base fee, so transactions are built as legacy.
func (l *Ledger) HeaderByNumber(ctx context.Context, _ *big.Int) (*types.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(l.block)}, nil
}

// PendingCodeAt implements eth_getCode at the pending block.
func (l *Ledger) PendingCodeAt(_ context.Context, account common.Address) ([]byte, error) {
	return l.code(account), nil
}

// CodeAt implements eth_getCode.
func (l *Ledger) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return l.code(account), nil
}

func (l *Ledger) code(account common.Address) []byte {
	if account == ContractAddress {
		return []byte{0x60, 0x80}
	}
	return nil
}

// PendingNonceAt implements eth_getTransactionCount.
func (l *Ledger) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonce, nil
}

// SuggestGasPrice implements eth_gasPrice.
func (l *Ledger) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

// SuggestGasTipCap implements eth_maxPriorityFeePerGas.
func (l *Ledger) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

// EstimateGas implements eth_estimateGas.
func (l *Ledger) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

// SendTransaction implements eth_sendRawTransaction. The transaction is
// mined immediately into a new block.
func (l *Ledger) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tx.Data()) < 4 {
		return errors.New("transaction has no calldata")
	}
	method, err := l.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.SendErr != nil {
		err := l.SendErr
		l.mu.Unlock()
		return err
	}
	l.nonce++
	l.block++
	status := types.ReceiptStatusSuccessful
	if l.Revert[method.Name] {
		status = types.ReceiptStatusFailed
	}
	l.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas() / 2,
		BlockNumber: new(big.Int).SetUint64(l.block),
	}
	l.sent = append(l.sent, SentTx{Method: method.Name, From: from, Tx: tx})
	onSend := l.OnSend
	l.mu.Unlock()

	if onSend != nil && status == types.ReceiptStatusSuccessful {
		onSend(method.Name, from)
	}
	return nil
}

// TransactionReceipt implements eth_getTransactionReceipt.
func (l *Ledger) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	receipt, ok := l.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func matches(query ethereum.FilterQuery, entry types.Log) bool {
	if len(query.Addresses) > 0 {
		found := false
		for _, addr := range query.Addresses {
			if addr == entry.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range query.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(entry.Topics) {
			return false
		}
		found := false
		for _, topic := range alternatives {
			if topic == entry.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type fakeSubscription struct {
	ledger *Ledger
	query  ethereum.FilterQuery
	ch     chan<- types.Log
	errCh  chan error
	quit   chan struct{}
	once   sync.Once
}

func (s *fakeSubscription) send(entry types.Log) {
	if !matches(s.query, entry) {
		return
	}
	select {
	case s.ch <- entry:
	case <-s.quit:
	}
}

func (s *fakeSubscription) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errCh
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.ledger.mu.Lock()
		defer s.ledger.mu.Unlock()
		for i, sub := range s.ledger.subs {
			if sub == s {
				s.ledger.subs = append(s.ledger.subs[:i], s.ledger.subs[i+1:]...)
				break
			}
		}
	})
}
