// Package stream runs the Stream Controller: the single long-running task
// that polls the chain for new confirmed logs, decodes and commits them to
// the Evidence Store, and re-runs the incremental detectors over the
// affected window. Its lifecycle is modeled directly as an explicit state
// machine rather than hiding transitions behind goroutine suspension.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/polyforensic/pipeline/pkg/forensics/chain"
	"github.com/polyforensic/pipeline/pkg/forensics/detect"
	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/ferrors"
	"github.com/polyforensic/pipeline/pkg/forensics/ingest"
	"github.com/polyforensic/pipeline/pkg/forensics/market"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
	"github.com/polyforensic/pipeline/pkg/util"
)

// State is one of the controller's three lifecycle states.
type State int32

const (
	Idle State = iota
	Streaming
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const defaultConfirmations = 3

// Controller owns SyncState and drives the poll/decode/commit/detect loop.
// No other component advances lastBlock.
type Controller struct {
	log     *zap.SugaredLogger
	chain   chain.ChainReader
	decoder *ingest.Decoder
	resolver *market.Registry
	st      *store.Store
	clock   util.Clock

	confirmations int64

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}

	mu        sync.Mutex
	lastBlock int64
}

// New builds a Controller starting from the given SyncState. clock is the
// poll loop's time source; a nil clock defaults to util.RealClock, so
// production callers can omit it and tests can pass a util.FakeClock for
// deterministic tick scheduling and snapshot timestamps.
func New(log *zap.SugaredLogger, cr chain.ChainReader, dec *ingest.Decoder, resolver *market.Registry, st *store.Store, startBlock int64, confirmations int64, clock util.Clock) *Controller {
	if confirmations <= 0 {
		confirmations = defaultConfirmations
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	c := &Controller{
		log:           log,
		chain:         cr,
		decoder:       dec,
		resolver:      resolver,
		st:            st,
		clock:         clock,
		confirmations: confirmations,
		lastBlock:     startBlock,
	}
	c.state.Store(int32(Idle))
	return c
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Start transitions Idle -> Streaming and begins the poll loop. Idempotent:
// calling Start while already streaming is a no-op.
func (c *Controller) Start(ctx context.Context, pollInterval time.Duration, blocksPerPoll int64, addresses []common.Address) {
	if !c.state.CompareAndSwap(int32(Idle), int32(Streaming)) {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.run(ctx, pollInterval, blocksPerPoll, addresses)
}

// Stop signals the cooperative cancellation flag and blocks until the
// current tick completes or aborts, within roughly 2s per spec.
func (c *Controller) Stop() {
	if !c.state.CompareAndSwap(int32(Streaming), int32(Stopping)) {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.state.Store(int32(Idle))
}

func (c *Controller) run(ctx context.Context, pollInterval time.Duration, blocksPerPoll int64, addresses []common.Address) {
	defer close(c.doneCh)

	wake := c.clock.After(pollInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-wake:
			tickCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := c.tick(tickCtx, blocksPerPoll, addresses); err != nil {
				c.log.Warnw("stream_tick_failed", "err", err)
			}
			cancel()
			wake = c.clock.After(pollInterval)
		}
	}
}

// tick implements the five-step algorithm: fetch confirmed head, fetch
// logs for the next batch, decode+resolve+commit, re-run incremental
// detectors, then advance lastBlock only if the commit succeeded.
func (c *Controller) tick(ctx context.Context, blocksPerPoll int64, addresses []common.Address) error {
	head, err := c.chain.GetBlockNumber(ctx)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrUpstream, "get block number", err)
	}
	confirmedHead := head - c.confirmations
	if confirmedHead <= 0 {
		return nil
	}

	c.mu.Lock()
	from := c.lastBlock
	c.mu.Unlock()

	to := from + blocksPerPoll
	if to > confirmedHead {
		to = confirmedHead
	}
	if to <= from {
		return nil
	}

	logs, err := c.chain.GetLogs(ctx, from+1, to, addresses)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrUpstream, "get logs", err)
	}

	if err := c.commit(ctx, logs); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastBlock = to
	c.mu.Unlock()

	win := detect.DefaultWindow
	snap := c.st.Snapshot(c.clock.Now().Unix())
	evidence, errs := detect.RunAll(ctx, &snap, win)
	for _, e := range errs {
		c.log.Warnw("detector_scan_failed", "err", e)
	}
	for _, e := range evidence {
		c.st.AddEvidence(e)
		if e.Confidence >= domain.AlertThresholdFor(e.Kind) {
			c.st.AddAlert(domain.Alert{Evidence: e, Severity: domain.SeverityOf(e.Confidence)}, true)
		}
	}

	return nil
}

func (c *Controller) commit(ctx context.Context, logs []types.Log) error {
	for i, lg := range logs {
		if i%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		trade, condEvent, err := c.decoder.Decode(lg)
		if err != nil {
			c.log.Debugw("decode_skip", "tx", lg.TxHash.Hex(), "err", err)
			continue
		}
		if condEvent != nil {
			c.st.AddConditionalEvent(*condEvent)
			continue
		}
		if trade == nil {
			continue
		}

		if _, ok := c.resolver.Resolve(trade.TokenID); ok {
			trade.MarketKnown = true
			trade.MarketTokenID = trade.TokenID
		} else {
			trade.MarketKnown = false
			c.resolver.ResolveAsync(ctx, trade.TokenID)
		}

		c.st.AddTrade(*trade, true)
	}
	return nil
}

// LastBlock returns the most recently committed block, for SyncState
// persistence by the caller.
func (c *Controller) LastBlock() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBlock
}

func (c *Controller) SyncState() domain.SyncState {
	return domain.SyncState{LastBlock: c.LastBlock()}
}
