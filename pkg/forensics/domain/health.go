package domain

import "github.com/ethereum/go-ethereum/common"

// RiskLevel buckets a MarketHealth score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevelForScore maps a clamped [0,100] health score to a RiskLevel.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskLow
	case score >= 60:
		return RiskMedium
	case score >= 40:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// SuspiciousAddress is one entry of a MarketHealth's top-suspicious-addresses
// ranking.
type SuspiciousAddress struct {
	Address        common.Address
	RiskScore      float64
	EvidenceCount  int
}

// MarketHealth is a per-market rollup, recomputed on demand and never
// persisted as source-of-truth.
type MarketHealth struct {
	TokenID             common.Hash
	Score               float64
	RiskLevel           RiskLevel
	EvidenceCountByType map[Kind]int
	TopSuspicious       []SuspiciousAddress
}
