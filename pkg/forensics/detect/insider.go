package detect

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	insiderAccountAgeSeconds = 24 * 3600
	insiderSizeMultiple      = 5.0
	insiderRollingWindow     = 1000
)

// InsiderDetector fires when a wallet younger than 24h trades more than 5x
// its market's rolling mean trade size.
type InsiderDetector struct{}

func (d *InsiderDetector) Kind() domain.Kind { return domain.KindNewWalletInsider }

func (d *InsiderDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	earliest := earliestSeenByAddress(full.Trades)

	win2 := windowed(full, win)

	// Per-market trade history in stable order, for the rolling-mean lookup.
	byToken := make(map[common.Hash][]domain.Trade)
	for _, t := range full.Trades {
		byToken[t.TokenID] = append(byToken[t.TokenID], t)
	}

	var out []domain.Evidence
	for i, t := range win2.Trades {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}

		mean := rollingMeanSizeBefore(byToken[t.TokenID], t.Key, insiderRollingWindow)
		if mean <= 0 {
			continue
		}

		for _, trader := range []common.Address{t.Maker, t.Taker} {
			age := t.Timestamp - earliest[trader]
			if age >= insiderAccountAgeSeconds {
				continue
			}
			ratio := float64(t.Size) / mean
			if ratio <= insiderSizeMultiple {
				continue
			}
			confidence := ratio / 10
			if confidence > 1.0 {
				confidence = 1.0
			}
			ev := domain.NewEvidence(domain.KindNewWalletInsider, confidence, t.Timestamp, t.TokenID)
			ev.AddAddress(trader)
			ev.AddTx(t.Key.TxHash)
			ev.Volume = int64(t.Volume)
			ev.Details["account_age_seconds"] = age
			ev.Details["market_mean_size"] = mean
			ev.Details["trade_size"] = int64(t.Size)
			out = append(out, ev)
		}
	}
	return out, nil
}

// earliestSeenByAddress returns, for every address appearing as maker or
// taker, its earliest trade timestamp across trades.
func earliestSeenByAddress(trades []domain.Trade) map[common.Address]int64 {
	earliest := make(map[common.Address]int64)
	note := func(addr common.Address, ts int64) {
		if cur, ok := earliest[addr]; !ok || ts < cur {
			earliest[addr] = ts
		}
	}
	for _, t := range trades {
		note(t.Maker, t.Timestamp)
		note(t.Taker, t.Timestamp)
	}
	return earliest
}

// rollingMeanSizeBefore computes the mean trade size over the trailing
// `window` trades in marketTrades strictly preceding key, using ring order.
func rollingMeanSizeBefore(marketTrades []domain.Trade, key domain.TradeKey, window int) float64 {
	cut := len(marketTrades)
	for i, t := range marketTrades {
		if t.Key == key {
			cut = i
			break
		}
	}
	start := cut - window
	if start < 0 {
		start = 0
	}
	if start >= cut {
		return 0
	}
	var sum int64
	for _, t := range marketTrades[start:cut] {
		sum += int64(t.Size)
	}
	n := cut - start
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
