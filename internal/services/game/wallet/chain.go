// Package wallet resolves the account the game acts for and checks that
// the ledger endpoint is on the expected network.
package wallet

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
)

// Currency describes a chain's native currency.
type Currency struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// ChainDescriptor is the network definition a wallet switches to or adds.
type ChainDescriptor struct {
	ChainID        uint64
	ChainName      string
	NativeCurrency Currency
	RPCURLs        []string
	ExplorerURLs   []string
}

// HederaTestnet is the network the HederaPoly contract is deployed on.
var HederaTestnet = ChainDescriptor{
	ChainID:   0x128,
	ChainName: "Hedera Testnet",
	NativeCurrency: Currency{
		Name:     "HBAR",
		Symbol:   "HBAR",
		Decimals: 8,
	},
	RPCURLs:      []string{"https://testnet.hashio.io/api"},
	ExplorerURLs: []string{"https://hashscan.io/testnet"},
}

// HexChainID renders the chain id as wallets expect it, e.g. 0x128.
func (d ChainDescriptor) HexChainID() string {
	return fmt.Sprintf("0x%x", d.ChainID)
}

// TxURL links a transaction hash to the first block explorer.
func (d ChainDescriptor) TxURL(hash string) string {
	if len(d.ExplorerURLs) == 0 || strings.TrimSpace(hash) == "" {
		return ""
	}
	return strings.TrimRight(d.ExplorerURLs[0], "/") + "/transaction/" + hash
}

// EnsureChain checks the wallet's network and asks it to switch when it
// differs. Any remaining mismatch is Unsupported.
func EnsureChain(ctx context.Context, w Wallet, descriptor ChainDescriptor) error {
	if w == nil {
		return apperrors.New(apperrors.CodeInvalidConfig, "wallet is required")
	}
	current, err := w.CurrentChain(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, "read current chain", err)
	}
	if current == descriptor.ChainID {
		return nil
	}
	if err := w.SwitchOrAddChain(ctx, descriptor); err != nil {
		if apperrors.HasCode(err, apperrors.CodeRejected) {
			return err
		}
		return apperrors.WithMetadata(apperrors.CodeUnsupported,
			fmt.Sprintf("switch to %s: %v", descriptor.ChainName, err),
			map[string]string{"chain_id": descriptor.HexChainID(), "current_chain_id": fmt.Sprintf("0x%x", current)})
	}
	current, err = w.CurrentChain(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, "read current chain", err)
	}
	if current != descriptor.ChainID {
		return apperrors.WithMetadata(apperrors.CodeUnsupported,
			fmt.Sprintf("wallet is on chain 0x%x, want %s", current, descriptor.HexChainID()),
			map[string]string{"chain_id": descriptor.HexChainID()})
	}
	return nil
}
