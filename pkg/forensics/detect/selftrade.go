package detect

import (
	"context"
	"fmt"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	selfTradeDirectConfidence      = 1.0
	selfTradeCoordinatedConfidence = 0.9
	selfTradeTimestampBucket       = 60 // seconds
)

// SelfTradeDetector flags direct self-trades (maker == taker) and
// coordinated self-trades: groups of same-size/same-price/same-minute
// trades within one market whose participant sets overlap.
type SelfTradeDetector struct{}

func (d *SelfTradeDetector) Kind() domain.Kind { return domain.KindSelfTrade }

func (d *SelfTradeDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	w := windowed(full, win)

	var out []domain.Evidence

	type groupKey struct {
		token  string
		size   int64
		price  int64
		bucket int64
	}
	groups := make(map[groupKey][]domain.Trade)

	for i, t := range w.Trades {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}

		if t.Maker == t.Taker {
			ev := domain.NewEvidence(domain.KindSelfTrade, selfTradeDirectConfidence, t.Timestamp, t.TokenID)
			ev.AddAddress(t.Maker)
			ev.AddTx(t.Key.TxHash)
			ev.Volume = int64(t.Volume)
			ev.Details["variant"] = "direct"
			out = append(out, ev)
			continue
		}

		key := groupKey{
			token:  t.TokenID.Hex(),
			size:   int64(t.Size),
			price:  int64(t.Price),
			bucket: t.Timestamp / selfTradeTimestampBucket,
		}
		groups[key] = append(groups[key], t)
	}

	for key, trades := range groups {
		if len(trades) < 2 {
			continue
		}
		counts := make(map[string]int)
		for _, t := range trades {
			counts[t.Maker.Hex()]++
			counts[t.Taker.Hex()]++
		}
		overlap := false
		for _, c := range counts {
			if c >= 2 {
				overlap = true
				break
			}
		}
		if !overlap {
			continue
		}

		ev := domain.NewEvidence(domain.KindSelfTrade, selfTradeCoordinatedConfidence, trades[0].Timestamp, trades[0].TokenID)
		ev.Details["variant"] = "coordinated"
		ev.Details["group_key"] = fmt.Sprintf("%s:%d:%d:%d", key.token, key.size, key.price, key.bucket)
		for _, t := range trades {
			ev.AddAddress(t.Maker)
			ev.AddAddress(t.Taker)
			ev.AddTx(t.Key.TxHash)
			ev.Volume += int64(t.Volume)
		}
		out = append(out, ev)
	}
	return sortedEvidence(out), nil
}
