package detect

import (
	"context"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	atomicWashSplitMergeConfidence = 0.98
	atomicWashVolumeBandConfidence = 0.90
	atomicWashVolumeBandTolerance  = 0.20 // 20%
)

// AtomicWashDetector flags two patterns of single-block wash activity:
//
//  1. A Split and a Merge for the same collateral account appear in the
//     same transaction as an OrderFilled trade — collateral that never
//     left the stakeholder's control, laundered through an order fill.
//  2. Same block, same market, buy volume and sell volume from the same
//     address balance within 20% of each other — a round-trip that
//     nets close to zero.
type AtomicWashDetector struct{}

func (d *AtomicWashDetector) Kind() domain.Kind { return domain.KindAtomicWash }

func (d *AtomicWashDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	w := windowed(full, win)

	var out []domain.Evidence

	out = append(out, scanSplitMergeFills(w)...)

	if err := ctx.Err(); err != nil {
		return out, err
	}

	out = append(out, scanVolumeBandRoundTrips(w)...)

	return sortedEvidence(out), nil
}

// scanSplitMergeFills groups conditional events and trades by tx hash and
// flags any transaction that contains both a Split and a Merge for the
// same collateral account as an OrderFilled trade in the same transaction.
func scanSplitMergeFills(w store.Snapshot) []domain.Evidence {
	type txBucket struct {
		hasSplit, hasMerge bool
		txHash             common.Hash
		stakeholder        common.Address
		collateral         common.Address
		ts                 int64
	}
	// One bucket per (transaction, stakeholder), so a Split and a Merge only
	// pair up when the same account made both.
	type bucketKey struct {
		tx          common.Hash
		stakeholder common.Address
	}
	buckets := make(map[bucketKey]*txBucket)

	for _, c := range w.Conditionals {
		k := bucketKey{tx: c.Key.TxHash, stakeholder: c.Stakeholder}
		b, ok := buckets[k]
		if !ok {
			b = &txBucket{txHash: c.Key.TxHash, stakeholder: c.Stakeholder, collateral: c.Collateral, ts: c.Timestamp}
			buckets[k] = b
		}
		switch c.Kind {
		case domain.KindPositionSplit:
			b.hasSplit = true
		case domain.KindPositionsMerge:
			b.hasMerge = true
		}
	}

	tradesByTx := make(map[common.Hash][]domain.Trade)
	for _, t := range w.Trades {
		tradesByTx[t.Key.TxHash] = append(tradesByTx[t.Key.TxHash], t)
	}

	var out []domain.Evidence
	for _, b := range buckets {
		if !b.hasSplit || !b.hasMerge {
			continue
		}
		trades := tradesByTx[b.txHash]
		if len(trades) == 0 {
			continue
		}
		ev := domain.NewEvidence(domain.KindAtomicWash, atomicWashSplitMergeConfidence, b.ts, trades[0].TokenID)
		ev.AddTx(b.txHash)
		ev.AddAddress(b.stakeholder)
		ev.AddAddress(b.collateral)
		for _, t := range trades {
			ev.AddAddress(t.Maker)
			ev.AddAddress(t.Taker)
			ev.Volume += int64(t.Volume)
		}
		ev.Details["variant"] = "split_merge_fill"
		out = append(out, ev)
	}
	return sortedEvidence(out)
}

// scanVolumeBandRoundTrips groups same-block, same-market, same-address
// trades by buy/sell side and flags addresses whose buy and sell volume
// fall within 20% of each other.
func scanVolumeBandRoundTrips(w store.Snapshot) []domain.Evidence {
	type key struct {
		block uint64
		token common.Hash
		addr  common.Address
	}
	type sides struct {
		buyVol, sellVol int64
		ts              int64
		txs             map[common.Hash]struct{}
	}
	groups := make(map[key]*sides)

	record := func(block uint64, token common.Hash, addr common.Address, isBuy bool, vol int64, ts int64, tx common.Hash) {
		k := key{block: block, token: token, addr: addr}
		g, ok := groups[k]
		if !ok {
			g = &sides{txs: make(map[common.Hash]struct{})}
			groups[k] = g
		}
		if isBuy {
			g.buyVol += vol
		} else {
			g.sellVol += vol
		}
		g.ts = ts
		g.txs[tx] = struct{}{}
	}

	for _, t := range w.Trades {
		vol := int64(t.Volume)
		record(t.BlockNumber, t.TokenID, t.Maker, t.Side == domain.Buy, vol, t.Timestamp, t.Key.TxHash)
		record(t.BlockNumber, t.TokenID, t.Taker, t.Side != domain.Buy, vol, t.Timestamp, t.Key.TxHash)
	}

	var out []domain.Evidence
	for k, g := range groups {
		if g.buyVol == 0 || g.sellVol == 0 {
			continue
		}
		ratio := math.Abs(float64(g.buyVol-g.sellVol)) / math.Max(float64(g.buyVol), float64(g.sellVol))
		if ratio > atomicWashVolumeBandTolerance {
			continue
		}
		ev := domain.NewEvidence(domain.KindAtomicWash, atomicWashVolumeBandConfidence, g.ts, k.token)
		ev.AddAddress(k.addr)
		for tx := range g.txs {
			ev.AddTx(tx)
		}
		ev.Volume = g.buyVol + g.sellVol
		ev.Details["variant"] = "volume_band_round_trip"
		ev.Details["buy_volume"] = g.buyVol
		ev.Details["sell_volume"] = g.sellVol
		out = append(out, ev)
	}
	return sortedEvidence(out)
}
