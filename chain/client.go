// Package chain reads the tipping registry contract: batched profile fetches,
// registration event scans, aggregate stats, and the live registration
// subscription feeding the cache layer.
package chain

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the subset of the Ethereum RPC used by the registry fetchers.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// Dial initialises an Ethereum RPC client for the provided endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errors.New("rpc endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// ErrNoClient is returned when a fetch runs without a configured client. The
// condition is fatal for the calling operation; callers decide whether to
// fall back to cache.
var ErrNoClient = errors.New("chain: client not configured")

// ErrUnavailable marks the upstream-overload failure class. Calls failing
// this way are not retried; the caller falls back to cache immediately.
var ErrUnavailable = errors.New("chain: service temporarily unavailable")

// IsUnavailable reports whether err belongs to the "temporarily unavailable"
// class: the provider returned HTTP 503 or an equivalent overload signal.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusServiceUnavailable {
		return true
	}
	return strings.Contains(err.Error(), "503")
}
