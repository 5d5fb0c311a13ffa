// Package domain defines the value types shared by the ledger adapters, the
// reconciliation engine and the presenters.
package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
)

// AccountID identifies the observed wallet account. The zero value means no
// account.
type AccountID struct {
	addr common.Address
}

// ParseAccountID validates a 0x-prefixed, 40 hex digit address in any case.
func ParseAccountID(raw string) (AccountID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AccountID{}, apperrors.New(apperrors.CodeInvalidArgument, "account is required")
	}
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return AccountID{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "account must be 0x-prefixed", map[string]string{"account": raw})
	}
	if !common.IsHexAddress(raw) {
		return AccountID{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "account is not a hex address", map[string]string{"account": raw})
	}
	return AccountID{addr: common.HexToAddress(raw)}, nil
}

// MustAccountID parses raw or panics. Intended for constants and tests.
func MustAccountID(raw string) AccountID {
	id, err := ParseAccountID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// AccountFromAddress wraps a decoded ledger address.
func AccountFromAddress(addr common.Address) AccountID {
	return AccountID{addr: addr}
}

// Address returns the ledger address.
func (a AccountID) Address() common.Address {
	return a.addr
}

// IsZero reports whether no account is set.
func (a AccountID) IsZero() bool {
	return a.addr == (common.Address{})
}

// Equal compares two accounts ignoring hex letter case.
func (a AccountID) Equal(other AccountID) bool {
	return a.addr == other.addr
}

// String returns the EIP-55 checksummed form.
func (a AccountID) String() string {
	if a.IsZero() {
		return ""
	}
	return a.addr.Hex()
}

// Short renders the 0x1234...abcd form shown in the wallet badge.
func (a AccountID) Short() string {
	full := a.String()
	if len(full) < 10 {
		return full
	}
	return full[:6] + "..." + full[len(full)-4:]
}

// MarshalText implements encoding.TextMarshaler.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = AccountID{}
		return nil
	}
	parsed, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
