package chain

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"basetip/creator"
)

// seenLimit bounds the dedupe set; once reached it is reset wholesale, which
// is acceptable because duplicate delivery only happens in short bursts.
const seenLimit = 4096

type logKey struct {
	tx    common.Hash
	index uint
}

// RegistrationHandler receives the refetched full profile for each newly
// registered creator.
type RegistrationHandler func(creator.Record)

// Watcher subscribes to CreatorRegistered events and, for each one, refetches
// that creator's full profile and hands it to the registration handler. At
// most one subscription is live at a time; Start while one is running is a
// guarded no-op. Stop unsubscribes and waits for in-flight work to finish.
type Watcher struct {
	client   Client
	contract common.Address
	fetch    func(ctx context.Context, addr common.Address) (creator.Record, error)
	handle   RegistrationHandler
	log      *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	seen    map[logKey]struct{}
}

// NewWatcher constructs a watcher. fetch is normally Fetcher.FetchCreator.
func NewWatcher(client Client, contract common.Address,
	fetch func(ctx context.Context, addr common.Address) (creator.Record, error),
	handle RegistrationHandler, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		client:   client,
		contract: contract,
		fetch:    fetch,
		handle:   handle,
		log:      log,
		seen:     make(map[logKey]struct{}),
	}
}

// Start establishes the registration-event subscription. Subscribing happens
// synchronously so dial problems surface to the caller; delivery then runs in
// the background until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if w.client == nil {
		return ErrNoClient
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.log.Debug("chain: watcher already running")
		return nil
	}
	w.started = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	ch := make(chan gethtypes.Log, 16)
	sub, err := w.client.SubscribeFilterLogs(runCtx, ethereum.FilterQuery{
		Addresses: []common.Address{w.contract},
		Topics:    [][]common.Hash{{creatorRegisteredTopic}},
	}, ch)
	if err != nil {
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		cancel()
		close(w.done)
		return err
	}

	go w.run(runCtx, sub, ch, w.done)
	return nil
}

// run delivers logs until the context is cancelled or the subscription dies.
// Either way it clears started before signalling done, so a watcher whose
// subscription failed underneath it can be started again.
func (w *Watcher) run(ctx context.Context, sub ethereum.Subscription, ch <-chan gethtypes.Log, done chan struct{}) {
	defer func() {
		sub.Unsubscribe()
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		close(done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				w.log.Warn("chain: registration subscription failed", "err", err)
			}
			return
		case lg := <-ch:
			w.process(ctx, lg)
		}
	}
}

func (w *Watcher) process(ctx context.Context, lg gethtypes.Log) {
	if lg.Removed || len(lg.Topics) < 2 {
		return
	}
	key := logKey{tx: lg.TxHash, index: lg.Index}
	w.mu.Lock()
	if _, dup := w.seen[key]; dup {
		w.mu.Unlock()
		return
	}
	if len(w.seen) >= seenLimit {
		w.seen = make(map[logKey]struct{})
	}
	w.seen[key] = struct{}{}
	w.mu.Unlock()

	addr := common.BytesToAddress(lg.Topics[1].Bytes())
	rec, err := w.fetch(ctx, addr)
	if err != nil {
		w.log.Warn("chain: profile refetch after registration failed",
			"address", addr.Hex(), "err", err)
		return
	}
	w.log.Info("chain: creator registered", "name", rec.Name, "address", addr.Hex())
	w.handle(rec)
}

// Stop tears the subscription down. No background work continues after Stop
// returns. A stopped watcher can be started again.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}
