// Package health computes the per-market Market-Health score from the
// Evidence Store's accumulated findings: 100 minus a weighted, diminishing
// sum of every evidence item's confidence, clamped to [0, 100].
package health

import (
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

const (
	startingScore    = 100.0
	maxSuspicious    = 50
	minRiskScoreShow = 0.0
)

// Aggregator recomputes MarketHealth on demand from a flat evidence slice;
// it holds no state of its own.
type Aggregator struct{}

func New() *Aggregator { return &Aggregator{} }

// Score rolls up every Evidence item for tokenID into a MarketHealth. Each
// evidence kind's nth occurrence contributes baseWeight × confidence ×
// 1/sqrt(n) — diminishing returns so that one address that trips the same
// detector a hundred times doesn't flatten the score to zero on its own.
func (a *Aggregator) Score(tokenID common.Hash, evidence []domain.Evidence) domain.MarketHealth {
	countByKind := make(map[domain.Kind]int)
	penalty := 0.0

	addrScore := make(map[common.Address]float64)
	addrEvidenceCount := make(map[common.Address]int)

	for _, e := range evidence {
		if e.TokenID != tokenID {
			continue
		}
		countByKind[e.Kind]++
		n := countByKind[e.Kind]

		weight := domain.BaseWeight[e.Kind]
		contribution := weight * e.Confidence / math.Sqrt(float64(n))
		penalty += contribution

		for addr := range e.Addresses {
			addrScore[addr] += contribution
			addrEvidenceCount[addr]++
		}
	}

	score := startingScore - penalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	top := rankSuspicious(addrScore, addrEvidenceCount)

	return domain.MarketHealth{
		TokenID:             tokenID,
		Score:               score,
		RiskLevel:           domain.RiskLevelForScore(score),
		EvidenceCountByType: countByKind,
		TopSuspicious:       top,
	}
}

func rankSuspicious(addrScore map[common.Address]float64, addrEvidenceCount map[common.Address]int) []domain.SuspiciousAddress {
	out := make([]domain.SuspiciousAddress, 0, len(addrScore))
	for addr, score := range addrScore {
		if score <= minRiskScoreShow {
			continue
		}
		out = append(out, domain.SuspiciousAddress{
			Address:       addr,
			RiskScore:     score,
			EvidenceCount: addrEvidenceCount[addr],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	if len(out) > maxSuspicious {
		out = out[:maxSuspicious]
	}
	return out
}
