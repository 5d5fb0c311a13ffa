package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/platform/timeouts"
)

// DialOptions controls connecting to the JSON-RPC endpoint.
type DialOptions struct {
	// ChainID is the expected network; zero skips the check.
	ChainID  uint64
	MaxTries uint
	Logf     func(string, ...any)
}

// Dial connects to rpcURL and confirms it answers eth_chainId, retrying
// transient failures with exponential backoff.
func Dial(ctx context.Context, rpcURL string, options DialOptions) (*ethclient.Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "rpc url is required")
	}
	if options.MaxTries == 0 {
		options.MaxTries = 5
	}
	logf := options.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	operation := func() (*ethclient.Client, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeouts.Dial)
		defer cancel()
		client, err := ethclient.DialContext(dialCtx, rpcURL)
		if err != nil {
			return nil, err
		}
		chainID, err := client.ChainID(dialCtx)
		if err != nil {
			client.Close()
			return nil, err
		}
		if options.ChainID != 0 && chainID.Cmp(new(big.Int).SetUint64(options.ChainID)) != 0 {
			client.Close()
			return nil, backoff.Permanent(apperrors.WithMetadata(apperrors.CodeUnsupported,
				fmt.Sprintf("endpoint is on chain %s, want %d", chainID, options.ChainID),
				map[string]string{"chain_id": chainID.String()}))
		}
		return client, nil
	}

	client, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(options.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logf("dial %s: %v (retry in %s)", rpcURL, err, next.Round(time.Millisecond))
		}),
	)
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.CodeUnknown {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, "dial "+rpcURL, err)
	}
	return client, nil
}
