package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"basetip/creator"
)

// DefaultScanWindow bounds event scans to the most recent blocks, chosen to
// stay under public provider per-request limits.
const DefaultScanWindow = 10_000

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Fetcher reads creator data from the registry contract. Every retrieval path
// normalizes into the canonical creator.Record shape, carrying both raw
// base-unit amounts and their human-decimal equivalents.
type Fetcher struct {
	client      Client
	contract    common.Address
	multicall   common.Address
	scanWindow  uint64
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	log         *slog.Logger
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithMulticall overrides the Multicall3 deployment address.
func WithMulticall(addr common.Address) FetcherOption {
	return func(f *Fetcher) { f.multicall = addr }
}

// WithScanWindow overrides the event-scan block window.
func WithScanWindow(blocks uint64) FetcherOption {
	return func(f *Fetcher) { f.scanWindow = blocks }
}

// WithFetcherClock overrides the time source, for tests.
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// WithFetcherLogger sets the fetcher logger.
func WithFetcherLogger(log *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = log }
}

// WithSleep overrides the backoff sleeper, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// NewFetcher constructs a fetcher for the registry at contract.
func NewFetcher(client Client, contract common.Address, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      client,
		contract:    contract,
		multicall:   DefaultMulticallAddress,
		scanWindow:  DefaultScanWindow,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		now:         time.Now,
		log:         slog.Default(),
	}
	f.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// withRetry runs fn with exponential backoff, capped, up to maxAttempts.
// The unavailable class fails fast: retrying an overloaded provider only
// prolongs the outage, and the caller has a cache to fall back on.
func (f *Fetcher) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := f.baseDelay << (attempt - 1)
			if delay > f.maxDelay {
				delay = f.maxDelay
			}
			if serr := f.sleep(ctx, delay); serr != nil {
				return serr
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoClient) || IsUnavailable(err) {
			return err
		}
		f.log.Warn("chain: call failed, retrying", "op", op, "attempt", attempt+1, "err", err)
	}
	return err
}

func (f *Fetcher) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if f.client == nil {
		return nil, ErrNoClient
	}
	return f.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// CreatorAddresses returns the full set of registered creator addresses.
func (f *Fetcher) CreatorAddresses(ctx context.Context) ([]common.Address, error) {
	data, err := registryABI.Pack("getAllCreators")
	if err != nil {
		return nil, fmt.Errorf("pack getAllCreators: %w", err)
	}
	var out []common.Address
	err = f.withRetry(ctx, "getAllCreators", func(ctx context.Context) error {
		raw, err := f.call(ctx, f.contract, data)
		if err != nil {
			return err
		}
		vals, err := registryABI.Unpack("getAllCreators", raw)
		if err != nil {
			return fmt.Errorf("decode getAllCreators: %w", err)
		}
		out = *abi.ConvertType(vals[0], new([]common.Address)).(*[]common.Address)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch creator addresses: %w", err)
	}
	return out, nil
}

// FetchCreator reads a single creator profile by address.
func (f *Fetcher) FetchCreator(ctx context.Context, addr common.Address) (creator.Record, error) {
	data, err := registryABI.Pack("getCreator", addr)
	if err != nil {
		return creator.Record{}, fmt.Errorf("pack getCreator: %w", err)
	}
	var rec creator.Record
	err = f.withRetry(ctx, "getCreator", func(ctx context.Context) error {
		raw, err := f.call(ctx, f.contract, data)
		if err != nil {
			return err
		}
		rec, err = f.decodeCreator(addr, raw)
		return err
	})
	if err != nil {
		return creator.Record{}, fmt.Errorf("fetch creator %s: %w", addr.Hex(), err)
	}
	return rec, nil
}

// FetchAll reads every registered profile: the address list first, then one
// Multicall3 batch of getCreator reads. Individual profile reads that fail
// inside the batch are skipped rather than failing the whole fetch.
func (f *Fetcher) FetchAll(ctx context.Context) ([]creator.Record, error) {
	addrs, err := f.CreatorAddresses(ctx)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, nil
	}

	calls := make([]multicallCall, 0, len(addrs))
	for _, addr := range addrs {
		data, err := registryABI.Pack("getCreator", addr)
		if err != nil {
			return nil, fmt.Errorf("pack getCreator: %w", err)
		}
		calls = append(calls, multicallCall{Target: f.contract, AllowFailure: true, CallData: data})
	}
	payload, err := multicallABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	var results []multicallResult
	err = f.withRetry(ctx, "aggregate3", func(ctx context.Context) error {
		raw, err := f.call(ctx, f.multicall, payload)
		if err != nil {
			return err
		}
		vals, err := multicallABI.Unpack("aggregate3", raw)
		if err != nil {
			return fmt.Errorf("decode aggregate3: %w", err)
		}
		results = *abi.ConvertType(vals[0], new([]multicallResult)).(*[]multicallResult)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch fetch creators: %w", err)
	}

	records := make([]creator.Record, 0, len(results))
	for i, res := range results {
		if i >= len(addrs) {
			break
		}
		if !res.Success {
			f.log.Warn("chain: profile read failed in batch", "address", addrs[i].Hex())
			continue
		}
		rec, err := f.decodeCreator(addrs[i], res.ReturnData)
		if err != nil {
			f.log.Warn("chain: profile decode failed", "address", addrs[i].Hex(), "err", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ScanRegistrations reads CreatorRegistered events over the recent block
// window and synthesizes a profile per event. Tips and supporter counts are
// unknown at registration time and stay zero; the bio and avatar are
// placeholders until a full profile read replaces them.
func (f *Fetcher) ScanRegistrations(ctx context.Context) ([]creator.Record, error) {
	if f.client == nil {
		return nil, ErrNoClient
	}
	var records []creator.Record
	err := f.withRetry(ctx, "scanRegistrations", func(ctx context.Context) error {
		head, err := f.client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		from := uint64(0)
		if head > f.scanWindow {
			from = head - f.scanWindow
		}
		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{f.contract},
			Topics:    [][]common.Hash{{creatorRegisteredTopic}},
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(head),
		})
		if err != nil {
			return err
		}
		records = records[:0]
		for _, lg := range logs {
			rec, err := f.decodeRegistration(lg)
			if err != nil {
				f.log.Warn("chain: registration decode failed", "tx", lg.TxHash.Hex(), "err", err)
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan registrations: %w", err)
	}
	return records, nil
}

// FetchStats reads the registry's aggregate counters.
func (f *Fetcher) FetchStats(ctx context.Context) (creator.GlobalStats, error) {
	data, err := registryABI.Pack("getStats")
	if err != nil {
		return creator.GlobalStats{}, fmt.Errorf("pack getStats: %w", err)
	}
	var stats creator.GlobalStats
	err = f.withRetry(ctx, "getStats", func(ctx context.Context) error {
		raw, err := f.call(ctx, f.contract, data)
		if err != nil {
			return err
		}
		vals, err := registryABI.Unpack("getStats", raw)
		if err != nil {
			return fmt.Errorf("decode getStats: %w", err)
		}
		totalCreators := vals[0].(*big.Int)
		totalTips := vals[1].(*big.Int)
		totalSupporters := vals[2].(*big.Int)
		stats = creator.GlobalStats{
			TotalCreators:   int(totalCreators.Int64()),
			TotalTips:       creator.HumanAmount(totalTips),
			TotalSupporters: int(totalSupporters.Int64()),
		}
		return nil
	})
	if err != nil {
		return creator.GlobalStats{}, fmt.Errorf("fetch stats: %w", err)
	}
	return stats, nil
}

// TipEvent is a decoded TipSent log.
type TipEvent struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	Memo   string
	Block  uint64
}

// TipsFrom returns the donor's TipSent events over the recent block window.
func (f *Fetcher) TipsFrom(ctx context.Context, donor common.Address) ([]TipEvent, error) {
	if f.client == nil {
		return nil, ErrNoClient
	}
	var events []TipEvent
	err := f.withRetry(ctx, "tipsFrom", func(ctx context.Context) error {
		head, err := f.client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		from := uint64(0)
		if head > f.scanWindow {
			from = head - f.scanWindow
		}
		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{f.contract},
			Topics: [][]common.Hash{
				{tipSentTopic},
				{common.BytesToHash(donor.Bytes())},
			},
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(head),
		})
		if err != nil {
			return err
		}
		events = events[:0]
		for _, lg := range logs {
			if len(lg.Topics) < 3 {
				continue
			}
			vals, err := registryABI.Unpack("TipSent", lg.Data)
			if err != nil {
				f.log.Warn("chain: tip decode failed", "tx", lg.TxHash.Hex(), "err", err)
				continue
			}
			events = append(events, TipEvent{
				From:   common.BytesToAddress(lg.Topics[1].Bytes()),
				To:     common.BytesToAddress(lg.Topics[2].Bytes()),
				Amount: vals[0].(*big.Int),
				Memo:   vals[1].(string),
				Block:  lg.BlockNumber,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch tips from %s: %w", donor.Hex(), err)
	}
	return events, nil
}

// BlockTime returns the timestamp of a block.
func (f *Fetcher) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	if f.client == nil {
		return time.Time{}, ErrNoClient
	}
	header, err := f.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (f *Fetcher) decodeCreator(addr common.Address, raw []byte) (creator.Record, error) {
	vals, err := registryABI.Unpack("getCreator", raw)
	if err != nil {
		return creator.Record{}, fmt.Errorf("decode getCreator: %w", err)
	}
	wallet := vals[0].(common.Address)
	name := vals[1].(string)
	tips := vals[5].(*big.Int)
	supporters := vals[6].(*big.Int)

	return creator.Record{
		Address:          wallet,
		Name:             name,
		Bio:              vals[2].(string),
		Avatar:           vals[3].(string),
		Active:           vals[4].(bool),
		TipsReceivedRaw:  tips,
		SupporterCount:   supporters.Uint64(),
		TipsReceived:     creator.HumanAmount(tips),
		Supporters:       int(supporters.Int64()),
		Slug:             creator.Slugify(name),
		Category:         "Other",
		SuggestedAmounts: creator.DefaultSuggestedAmounts,
		PayoutAddress:    addr,
		OwnerAddress:     addr,
		CreatedAt:        f.now().UTC(),
		Source:           creator.SourceLive,
	}, nil
}

func (f *Fetcher) decodeRegistration(lg gethtypes.Log) (creator.Record, error) {
	if len(lg.Topics) < 2 {
		return creator.Record{}, errors.New("missing creator topic")
	}
	addr := common.BytesToAddress(lg.Topics[1].Bytes())
	vals, err := registryABI.Unpack("CreatorRegistered", lg.Data)
	if err != nil {
		return creator.Record{}, fmt.Errorf("decode CreatorRegistered: %w", err)
	}
	name := vals[0].(string)

	return creator.Record{
		Address:          addr,
		Name:             name,
		Bio:              "Creator on Base",
		Avatar:           creator.AvatarURL(name),
		Active:           true,
		TipsReceivedRaw:  new(big.Int),
		SupporterCount:   0,
		TipsReceived:     0,
		Supporters:       0,
		Slug:             creator.Slugify(name),
		Category:         "Other",
		SuggestedAmounts: creator.DefaultSuggestedAmounts,
		PayoutAddress:    addr,
		OwnerAddress:     addr,
		CreatedAt:        f.now().UTC(),
		UpdatedAt:        f.now().UTC(),
		Source:           creator.SourceEvent,
	}, nil
}
