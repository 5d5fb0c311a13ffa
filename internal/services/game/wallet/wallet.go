package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// Wallet is the account and network handshake collaborator.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]domain.AccountID, error)
	CurrentChain(ctx context.Context) (uint64, error)
	SwitchOrAddChain(ctx context.Context, descriptor ChainDescriptor) error
	// OnAccountsChanged registers fn for account changes and returns an
	// unregister func.
	OnAccountsChanged(fn func(domain.AccountID)) func()
}

// ChainReader reports the endpoint's chain id.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// KeyWallet signs with a local private key against one endpoint.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	account domain.AccountID
	chain   ChainReader
}

// NewKeyWallet parses a hex private key, with or without 0x.
func NewKeyWallet(hexKey string, chain ChainReader) (*KeyWallet, error) {
	if chain == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "chain reader is required")
	}
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "parse private key", err)
	}
	return &KeyWallet{
		key:     key,
		account: domain.AccountFromAddress(crypto.PubkeyToAddress(key.PublicKey)),
		chain:   chain,
	}, nil
}

// Account returns the key's address.
func (w *KeyWallet) Account() domain.AccountID {
	return w.account
}

// RequestAccounts returns the key's single account.
func (w *KeyWallet) RequestAccounts(context.Context) ([]domain.AccountID, error) {
	return []domain.AccountID{w.account}, nil
}

// CurrentChain reads eth_chainId from the endpoint.
func (w *KeyWallet) CurrentChain(ctx context.Context) (uint64, error) {
	id, err := w.chain.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

// SwitchOrAddChain cannot move an RPC endpoint to another network; it
// only succeeds when the endpoint already serves descriptor.
func (w *KeyWallet) SwitchOrAddChain(ctx context.Context, descriptor ChainDescriptor) error {
	current, err := w.CurrentChain(ctx)
	if err != nil {
		return err
	}
	if current == descriptor.ChainID {
		return nil
	}
	hint := ""
	if len(descriptor.RPCURLs) > 0 {
		hint = "; point the rpc url at " + descriptor.RPCURLs[0]
	}
	return fmt.Errorf("endpoint serves chain 0x%x%s", current, hint)
}

// OnAccountsChanged never fires: the key is fixed.
func (w *KeyWallet) OnAccountsChanged(func(domain.AccountID)) func() {
	return func() {}
}

// TransactOpts returns EIP-155 signing options for the endpoint's chain.
func (w *KeyWallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	chainID, err := w.chain.ChainID(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, "read chain id", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "build transactor", err)
	}
	opts.Context = ctx
	return opts, nil
}

// WatchWallet observes an account it cannot sign for. The account can be
// changed at runtime, which notifies listeners.
type WatchWallet struct {
	chain ChainReader

	mu        sync.Mutex
	account   domain.AccountID
	listeners map[int]func(domain.AccountID)
	nextID    int
}

// NewWatchWallet observes account through chain.
func NewWatchWallet(account domain.AccountID, chain ChainReader) (*WatchWallet, error) {
	if chain == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "chain reader is required")
	}
	if account.IsZero() {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "watch account is required")
	}
	return &WatchWallet{chain: chain, account: account, listeners: make(map[int]func(domain.AccountID))}, nil
}

// RequestAccounts returns the watched account.
func (w *WatchWallet) RequestAccounts(context.Context) ([]domain.AccountID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return []domain.AccountID{w.account}, nil
}

// CurrentChain reads eth_chainId from the endpoint.
func (w *WatchWallet) CurrentChain(ctx context.Context) (uint64, error) {
	id, err := w.chain.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

// SwitchOrAddChain succeeds only when the endpoint already serves descriptor.
func (w *WatchWallet) SwitchOrAddChain(ctx context.Context, descriptor ChainDescriptor) error {
	current, err := w.CurrentChain(ctx)
	if err != nil {
		return err
	}
	if current != descriptor.ChainID {
		return fmt.Errorf("endpoint serves chain 0x%x", current)
	}
	return nil
}

// TransactOpts always refuses.
func (w *WatchWallet) TransactOpts(context.Context) (*bind.TransactOpts, error) {
	return nil, apperrors.Wrap(apperrors.CodeRejected, "watch-only wallet cannot sign", bind.ErrNotAuthorized)
}

// SetAccount switches the watched account and notifies listeners when it
// actually changed.
func (w *WatchWallet) SetAccount(account domain.AccountID) error {
	if account.IsZero() {
		return apperrors.New(apperrors.CodeInvalidArgument, "account is required")
	}
	w.mu.Lock()
	if w.account.Equal(account) {
		w.mu.Unlock()
		return nil
	}
	w.account = account
	listeners := make([]func(domain.AccountID), 0, len(w.listeners))
	for _, fn := range w.listeners {
		listeners = append(listeners, fn)
	}
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(account)
	}
	return nil
}

// OnAccountsChanged registers fn for SetAccount changes.
func (w *WatchWallet) OnAccountsChanged(fn func(domain.AccountID)) func() {
	if fn == nil {
		return func() {}
	}
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}
