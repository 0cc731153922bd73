package detect

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/fixedpoint"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	winRateWindowSeconds = 24 * 3600
	winRateMoveThreshold = 0.05 // 5%
	winRateMinTrades     = 10
	winRateThreshold     = 0.90
)

// WinRateDetector fires for a wallet whose win-rate exceeds 90% over at
// least 10 evaluated trades. "Win" uses the entry-vs-exit definition: entry
// is the trade's own price, exit is the market's subsequent
// settlement-direction price observed within the following 24h window.
type WinRateDetector struct{}

func (d *WinRateDetector) Kind() domain.Kind { return domain.KindHighWinRate }

func (d *WinRateDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	w := windowed(full, win)
	if len(w.Trades) == 0 {
		return nil, nil
	}

	byToken := make(map[common.Hash][]domain.Trade)
	for _, t := range full.Trades {
		byToken[t.TokenID] = append(byToken[t.TokenID], t)
	}

	type record struct {
		wins, evaluated int
		lastTs          int64
		tokenID         common.Hash
	}
	perWallet := make(map[common.Address]*record)

	consider := func(wallet common.Address, dirIsBuy bool, t domain.Trade) {
		marketTrades := byToken[t.TokenID]
		exitPrice, ok := exitPriceWithin(marketTrades, t.Timestamp, winRateWindowSeconds)
		if !ok {
			return
		}
		entry := t.Price.Decimal()
		exit := exitPrice.Decimal()
		move := exit.Sub(entry).Div(entry)
		favorable := move.GreaterThanOrEqual(decimalFromFloat(winRateMoveThreshold))
		if !dirIsBuy {
			favorable = move.LessThanOrEqual(decimalFromFloat(-winRateMoveThreshold))
		}

		r, ok := perWallet[wallet]
		if !ok {
			r = &record{tokenID: t.TokenID}
			perWallet[wallet] = r
		}
		r.evaluated++
		r.lastTs = t.Timestamp
		if favorable {
			r.wins++
		}
	}

	for i, t := range w.Trades {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		consider(t.Maker, t.Side == domain.Buy, t)
		consider(t.Taker, t.Side != domain.Buy, t)
	}

	var out []domain.Evidence
	for wallet, r := range perWallet {
		if r.evaluated < winRateMinTrades {
			continue
		}
		rate := float64(r.wins) / float64(r.evaluated)
		if rate <= winRateThreshold {
			continue
		}
		confidence := 0.5 + 0.5*(rate-0.9)/0.1
		if confidence > 1.0 {
			confidence = 1.0
		}
		if confidence < 0.5 {
			confidence = 0.5
		}
		ev := domain.NewEvidence(domain.KindHighWinRate, confidence, r.lastTs, r.tokenID)
		ev.AddAddress(wallet)
		ev.Details["win_rate"] = rate
		ev.Details["evaluated_trades"] = r.evaluated
		out = append(out, ev)
	}
	return sortedEvidence(out), nil
}

// exitPriceWithin returns the price of the last trade in marketTrades whose
// timestamp falls in (entryTs, entryTs+horizon], i.e. the market's
// subsequent settlement-direction price.
func exitPriceWithin(marketTrades []domain.Trade, entryTs, horizon int64) (fixedpoint.Price4, bool) {
	var (
		found bool
		price fixedpoint.Price4
		best  int64
	)
	for _, t := range marketTrades {
		if t.Timestamp <= entryTs || t.Timestamp > entryTs+horizon {
			continue
		}
		if !found || t.Timestamp > best {
			found = true
			best = t.Timestamp
			price = t.Price
		}
	}
	return price, found
}
