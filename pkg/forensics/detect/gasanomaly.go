package detect

import (
	"context"
	"math"
	"sort"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	gasAnomalyLookbackBlocks = 256
	gasAnomalyRatio          = 2.0
	gasAnomalyConfidenceCap  = 0.8
)

// GasAnomalyDetector flags a trade whose gas price exceeds 2x the median
// gas price observed over the preceding 256 blocks — a front-running
// signature.
type GasAnomalyDetector struct{}

func (d *GasAnomalyDetector) Kind() domain.Kind { return domain.KindGasAnomaly }

func (d *GasAnomalyDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	w := windowed(full, win)
	if len(w.Trades) == 0 {
		return nil, nil
	}

	all := full.Trades // medians are computed over everything the store has seen

	var out []domain.Evidence
	for i, t := range w.Trades {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}

		median := medianGasPriceInRange(all, t.BlockNumber-gasAnomalyLookbackBlocks, t.BlockNumber)
		if median == 0 {
			continue
		}
		ratio := float64(t.GasPriceWei) / float64(median)
		if ratio <= gasAnomalyRatio {
			continue
		}
		confidence := 0.4 + 0.1*math.Log2(ratio)
		if confidence > gasAnomalyConfidenceCap {
			confidence = gasAnomalyConfidenceCap
		}

		ev := domain.NewEvidence(domain.KindGasAnomaly, confidence, t.Timestamp, t.TokenID)
		ev.AddAddress(t.Taker)
		ev.AddAddress(t.Maker)
		ev.AddTx(t.Key.TxHash)
		ev.Details["gas_price_wei"] = t.GasPriceWei
		ev.Details["median_gas_price_wei"] = median
		out = append(out, ev)
	}
	return out, nil
}

func medianGasPriceInRange(trades []domain.Trade, fromBlock, toBlock uint64) uint64 {
	var prices []uint64
	// fromBlock may have underflowed (BlockNumber < lookback); guard by
	// comparing against toBlock instead of relying on the subtraction.
	lower := fromBlock
	if fromBlock > toBlock {
		lower = 0
	}
	for _, t := range trades {
		if t.BlockNumber < lower || t.BlockNumber > toBlock {
			continue
		}
		prices = append(prices, t.GasPriceWei)
	}
	if len(prices) == 0 {
		return 0
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return (prices[mid-1] + prices[mid]) / 2
}
