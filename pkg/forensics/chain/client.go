// Package chain wraps ethclient behind the narrow ChainReader contract the
// Stream Controller depends on, adding retry/backoff and a block-timestamp
// cache.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/polyforensic/pipeline/pkg/forensics/ferrors"
)

// maxLogRange is the block-range ceiling a single GetLogs call will ever
// request; larger ranges are split into consecutive chunks of at most this
// many blocks.
const maxLogRange = 1000

// ChainReader is the narrow contract the Stream Controller uses to read
// on-chain state. Implemented by *Client.
type ChainReader interface {
	GetBlockNumber(ctx context.Context) (int64, error)
	GetLogs(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address) ([]types.Log, error)
	GetBlockTimestamp(ctx context.Context, blockNumber int64) (int64, error)
}

// Client adapts ethclient.Client with exponential backoff retry and an LRU
// block-timestamp cache.
type Client struct {
	eth *ethclient.Client
	log *zap.SugaredLogger

	tsCache *lru.Cache[int64, int64]
}

// Dial connects to rpcURL and returns a ready-to-use Client.
func Dial(ctx context.Context, rpcURL string, log *zap.SugaredLogger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrUpstream, "dial rpc", err)
	}
	cache, err := lru.New[int64, int64](4096)
	if err != nil {
		return nil, err
	}
	return &Client{eth: eth, log: log, tsCache: cache}, nil
}

func (c *Client) Close() { c.eth.Close() }

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	// One initial attempt plus five retries: at most six attempts in all.
	return backoff.WithMaxRetries(b, 5)
}

// GetBlockNumber returns the current chain head.
func (c *Client) GetBlockNumber(ctx context.Context) (int64, error) {
	var head uint64
	op := func() error {
		n, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return 0, ferrors.Wrap(ferrors.ErrUpstream, "get block number", err)
	}
	return int64(head), nil
}

// GetLogs fetches logs in [fromBlock, toBlock] for the given addresses,
// automatically halving the range on "range too large" style upstream
// errors until it succeeds or the range collapses to a single block.
func (c *Client) GetLogs(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address) ([]types.Log, error) {
	var out []types.Log
	from := fromBlock
	for from <= toBlock {
		span := toBlock - from + 1
		if span > maxLogRange {
			span = maxLogRange
		}
		to := from + span - 1

		logs, err := c.getLogsRange(ctx, from, to, addresses)
		if err != nil {
			return nil, err
		}
		out = append(out, logs...)
		from = to + 1
	}
	return out, nil
}

func (c *Client) getLogsRange(ctx context.Context, from, to int64, addresses []common.Address) ([]types.Log, error) {
	for {
		var logs []types.Log
		op := func() error {
			l, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: big.NewInt(from),
				ToBlock:   big.NewInt(to),
				Addresses: addresses,
			})
			if err != nil {
				return err
			}
			logs = l
			return nil
		}
		err := backoff.Retry(op, backoff.WithContext(newBackOff(), ctx))
		if err == nil {
			return logs, nil
		}
		if to > from {
			mid := from + (to-from)/2
			c.log.Warnw("halving log range after upstream error", "from", from, "to", to, "err", err)
			first, ferr := c.getLogsRange(ctx, from, mid, addresses)
			if ferr != nil {
				return nil, ferr
			}
			second, serr := c.getLogsRange(ctx, mid+1, to, addresses)
			if serr != nil {
				return nil, serr
			}
			return append(first, second...), nil
		}
		return nil, ferrors.Wrap(ferrors.ErrUpstream, "get logs", err)
	}
}

// GetBlockTimestamp returns the unix-second timestamp of a block, serving
// from the LRU cache when possible.
func (c *Client) GetBlockTimestamp(ctx context.Context, blockNumber int64) (int64, error) {
	if ts, ok := c.tsCache.Get(blockNumber); ok {
		return ts, nil
	}

	var header *types.Header
	op := func() error {
		h, err := c.eth.HeaderByNumber(ctx, big.NewInt(blockNumber))
		if err != nil {
			return err
		}
		header = h
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return 0, ferrors.Wrap(ferrors.ErrUpstream, "get block timestamp", err)
	}

	ts := int64(header.Time)
	c.tsCache.Add(blockNumber, ts)
	return ts, nil
}

var _ ChainReader = (*Client)(nil)
