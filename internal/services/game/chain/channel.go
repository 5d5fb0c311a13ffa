package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// LogBackend is the log-reading RPC surface the Channel needs.
type LogBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ChannelOptions tunes the polling fallback.
type ChannelOptions struct {
	// PollInterval is the eth_getLogs cadence when the endpoint has no
	// notification support. Defaults to 2s.
	PollInterval time.Duration
	// MaxPollFailures is the number of consecutive failed polls reported
	// as a drop. Defaults to 3.
	MaxPollFailures int
	Logf            func(string, ...any)
}

// Channel delivers contract notifications for one account.
type Channel struct {
	backend  LogBackend
	contract common.Address
	abi      abi.ABI
	options  ChannelOptions
}

// NewChannel builds a Channel for the contract deployed at address.
func NewChannel(backend LogBackend, address common.Address, options ChannelOptions) (*Channel, error) {
	if backend == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "log backend is required")
	}
	if address == (common.Address{}) {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "contract address is required")
	}
	parsed, err := ContractABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 2 * time.Second
	}
	if options.MaxPollFailures <= 0 {
		options.MaxPollFailures = 3
	}
	if options.Logf == nil {
		options.Logf = func(string, ...any) {}
	}
	return &Channel{backend: backend, contract: address, abi: parsed, options: options}, nil
}

// Subscribe starts delivering events of kinds naming account to handler.
// Delivery is serial and in transport order; duplicates are possible.
// onError is called at most once, with a ChannelDropped error, after
// which no more events are delivered.
func (c *Channel) Subscribe(ctx context.Context, account domain.AccountID, kinds []domain.EventKind, handler domain.EventHandler, onError func(error)) (domain.Subscription, error) {
	if account.IsZero() {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "account is required")
	}
	if handler == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "event handler is required")
	}
	if len(kinds) == 0 {
		kinds = domain.AllEventKinds()
	}
	topics, err := EventTopics(c.abi, kinds)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{topics, {common.BytesToHash(account.Address().Bytes())}},
	}
	wanted := make(map[domain.EventKind]struct{}, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = struct{}{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &logSubscription{
		channel: c,
		account: account,
		wanted:  wanted,
		handler: handler,
		onError: onError,
		cancel:  cancel,
	}

	logs := make(chan types.Log, 64)
	remote, err := c.backend.SubscribeFilterLogs(runCtx, query, logs)
	switch {
	case err == nil:
		c.options.Logf("log subscription opened for %s", account.Short())
		go sub.push(runCtx, remote, logs)
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		head, headErr := c.backend.BlockNumber(runCtx)
		if headErr != nil {
			cancel()
			return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, "read block number", headErr)
		}
		c.options.Logf("endpoint has no notifications, polling logs for %s from block %d", account.Short(), head+1)
		go sub.poll(runCtx, query, head+1)
	default:
		cancel()
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, "subscribe logs", err)
	}
	return sub, nil
}

type logSubscription struct {
	channel *Channel
	account domain.AccountID
	wanted  map[domain.EventKind]struct{}
	handler domain.EventHandler
	onError func(error)
	cancel  context.CancelFunc

	dropOnce sync.Once
	stopOnce sync.Once
}

// Unsubscribe stops delivery. It does not wait for a handler call in
// progress to return.
func (s *logSubscription) Unsubscribe() {
	s.stopOnce.Do(s.cancel)
}

func (s *logSubscription) push(ctx context.Context, remote ethereum.Subscription, logs <-chan types.Log) {
	defer remote.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-remote.Err():
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("subscription closed")
			}
			s.drop(err)
			return
		case entry := <-logs:
			s.deliver(ctx, entry)
		}
	}
}

func (s *logSubscription) poll(ctx context.Context, query ethereum.FilterQuery, next uint64) {
	ticker := time.NewTicker(s.channel.options.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := s.channel.backend.BlockNumber(ctx)
		if err == nil && head >= next {
			query.FromBlock = new(big.Int).SetUint64(next)
			query.ToBlock = new(big.Int).SetUint64(head)
			var entries []types.Log
			entries, err = s.channel.backend.FilterLogs(ctx, query)
			if err == nil {
				for _, entry := range entries {
					s.deliver(ctx, entry)
				}
				next = head + 1
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			s.channel.options.Logf("poll logs for %s: %v (%d/%d)", s.account.Short(), err, failures, s.channel.options.MaxPollFailures)
			if failures >= s.channel.options.MaxPollFailures {
				s.drop(err)
				return
			}
			continue
		}
		failures = 0
	}
}

func (s *logSubscription) deliver(ctx context.Context, entry types.Log) {
	if ctx.Err() != nil || entry.Removed || entry.Address != s.channel.contract {
		return
	}
	event, err := DecodeEvent(s.channel.abi, entry)
	if err != nil {
		s.channel.options.Logf("skip undecodable log %s#%d: %v", entry.TxHash.Hex(), entry.Index, err)
		return
	}
	if _, ok := s.wanted[event.Kind]; !ok || !event.Account.Equal(s.account) {
		return
	}
	s.handler(event)
}

func (s *logSubscription) drop(err error) {
	s.dropOnce.Do(func() {
		if s.onError != nil {
			s.onError(apperrors.Wrap(apperrors.CodeChannelDropped, "event channel dropped", err))
		}
	})
}
