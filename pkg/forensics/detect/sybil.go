package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	sybilWindowSeconds   = 10
	sybilMinAddresses    = 3
	sybilSizeTolerance   = 0.20 // 20%
	sybilMinMemberShare  = 0.60
	sybilConfidenceBase  = 0.6
	sybilConfidenceStep  = 0.1
	sybilConfidenceCap   = 0.9
)

// SybilClusterDetector slides a 10-second window per market/side over
// trades ordered by timestamp, and flags any window with at least 3
// distinct addresses whose trade sizes fall within 20% of the group mean
// for at least 60% of the window's members — many wallets trading near-
// identical size in lockstep, a hallmark of a single actor behind a
// cluster of addresses.
type SybilClusterDetector struct{}

func (d *SybilClusterDetector) Kind() domain.Kind { return domain.KindSybilCluster }

func (d *SybilClusterDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	w := windowed(full, win)
	if len(w.Trades) == 0 {
		return nil, nil
	}

	type groupKey struct {
		token common.Hash
		side  domain.Side
	}
	groups := make(map[groupKey][]domain.Trade)
	for _, t := range w.Trades {
		k := groupKey{token: t.TokenID, side: t.Side}
		groups[k] = append(groups[k], t)
	}

	var out []domain.Evidence
	seen := make(map[string]struct{})

	for k, trades := range groups {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })

		n := len(trades)
		left := 0
		for right := 0; right < n; right++ {
			for trades[right].Timestamp-trades[left].Timestamp > sybilWindowSeconds {
				left++
			}
			windowTrades := trades[left : right+1]

			addrSizes := make(map[common.Address]int64)
			for _, t := range windowTrades {
				addr := t.Taker
				addrSizes[addr] = int64(t.Size)
			}
			if len(addrSizes) < sybilMinAddresses {
				continue
			}

			var sum int64
			for _, sz := range addrSizes {
				sum += sz
			}
			mean := float64(sum) / float64(len(addrSizes))
			if mean <= 0 {
				continue
			}

			withinBand := 0
			for _, sz := range addrSizes {
				if math.Abs(float64(sz)-mean)/mean <= sybilSizeTolerance {
					withinBand++
				}
			}
			share := float64(withinBand) / float64(len(addrSizes))
			if share < sybilMinMemberShare {
				continue
			}

			clusterSize := len(addrSizes)
			dedupKey := dedupKeyForCluster(k.token, string(k.side), windowTrades[0].Timestamp, clusterSize)
			if _, ok := seen[dedupKey]; ok {
				continue
			}
			seen[dedupKey] = struct{}{}

			confidence := sybilConfidenceBase + sybilConfidenceStep*float64(clusterSize-sybilMinAddresses)
			if confidence > sybilConfidenceCap {
				confidence = sybilConfidenceCap
			}

			ev := domain.NewEvidence(domain.KindSybilCluster, confidence, windowTrades[len(windowTrades)-1].Timestamp, k.token)
			for addr := range addrSizes {
				ev.AddAddress(addr)
			}
			for _, t := range windowTrades {
				ev.AddTx(t.Key.TxHash)
				ev.Volume += int64(t.Volume)
			}
			ev.Details["side"] = string(k.side)
			ev.Details["cluster_size"] = clusterSize
			ev.Details["member_share"] = share
			out = append(out, ev)
		}
	}
	return sortedEvidence(out), nil
}

func dedupKeyForCluster(token common.Hash, side string, ts int64, size int) string {
	return fmt.Sprintf("%s|%s|%d|%d", token.Hex(), side, ts, size)
}
