package detect

import (
	"context"
	"math"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

const (
	volumeSpikeBucketSeconds  = 5 * 60
	volumeSpikeRollingSeconds = 3600
	volumeSpikeStrideSeconds  = 60
	volumeSpikeRatioThreshold = 10.0
	volumeSpikeBaselineMin    = 500_000000 // $500 in Amount6 minor units
	volumeSpikeConfidenceBase = 0.3
	volumeSpikeConfidenceStep = 0.05
	volumeSpikeConfidenceCap  = 0.7
)

// VolumeSpikeDetector buckets each market's trade volume into 5-minute
// buckets, compares each bucket against a trailing 1-hour rolling
// mean (recomputed every 1-minute stride), and fires when the bucket
// exceeds 10x that mean and the mean itself clears a $500 floor (below
// which ratios are noise, not signal).
type VolumeSpikeDetector struct{}

func (d *VolumeSpikeDetector) Kind() domain.Kind { return domain.KindVolumeSpike }

func (d *VolumeSpikeDetector) Scan(ctx context.Context, full *store.Snapshot, win Window) ([]domain.Evidence, error) {
	w := windowed(full, win)
	if len(w.Trades) == 0 {
		return nil, nil
	}

	byToken := w.ByTokenID()

	var out []domain.Evidence
	for tokenID, trades := range byToken {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		buckets := make(map[int64]int64)
		var minTs, maxTs int64
		for i, t := range trades {
			bucket := t.Timestamp - t.Timestamp%volumeSpikeBucketSeconds
			buckets[bucket] += int64(t.Volume)
			if i == 0 || t.Timestamp < minTs {
				minTs = t.Timestamp
			}
			if i == 0 || t.Timestamp > maxTs {
				maxTs = t.Timestamp
			}
		}

		for stride := minTs; stride <= maxTs; stride += volumeSpikeStrideSeconds {
			bucket := stride - stride%volumeSpikeBucketSeconds
			cur, ok := buckets[bucket]
			if !ok || cur == 0 {
				continue
			}

			var sum int64
			var n int
			for b := bucket - volumeSpikeRollingSeconds; b < bucket; b += volumeSpikeBucketSeconds {
				if v, ok := buckets[b]; ok {
					sum += v
					n++
				}
			}
			if n == 0 {
				continue
			}
			mean := float64(sum) / float64(n)
			if mean < volumeSpikeBaselineMin {
				continue
			}
			ratio := float64(cur) / mean
			if ratio <= volumeSpikeRatioThreshold {
				continue
			}

			confidence := volumeSpikeConfidenceBase + volumeSpikeConfidenceStep*math.Log10(ratio)
			if confidence > volumeSpikeConfidenceCap {
				confidence = volumeSpikeConfidenceCap
			}

			ev := domain.NewEvidence(domain.KindVolumeSpike, confidence, bucket+volumeSpikeBucketSeconds, tokenID)
			ev.Volume = cur
			ev.Details["bucket_start"] = bucket
			ev.Details["rolling_mean"] = mean
			ev.Details["ratio"] = ratio
			addTradersInBucket(&ev, trades, bucket)
			out = append(out, ev)
		}
	}
	return sortedEvidence(out), nil
}

func addTradersInBucket(ev *domain.Evidence, trades []domain.Trade, bucket int64) {
	for _, t := range trades {
		b := t.Timestamp - t.Timestamp%volumeSpikeBucketSeconds
		if b != bucket {
			continue
		}
		ev.AddAddress(t.Maker)
		ev.AddAddress(t.Taker)
		ev.AddTx(t.Key.TxHash)
	}
}
