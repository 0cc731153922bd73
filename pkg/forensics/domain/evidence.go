package domain

import "github.com/ethereum/go-ethereum/common"

// Kind identifies which detector produced an Evidence item.
type Kind string

const (
	KindNewWalletInsider Kind = "NEW_WALLET_INSIDER"
	KindHighWinRate      Kind = "HIGH_WIN_RATE"
	KindGasAnomaly       Kind = "GAS_ANOMALY"
	KindSelfTrade        Kind = "SELF_TRADE"
	KindCircularTrade    Kind = "CIRCULAR_TRADE"
	KindAtomicWash       Kind = "ATOMIC_WASH"
	KindVolumeSpike      Kind = "VOLUME_SPIKE"
	KindSybilCluster     Kind = "SYBIL_CLUSTER"
)

// washKinds are the detector kinds that flag wash trading proper — a
// participant trading against itself or a colluding cluster to fabricate
// volume — as distinct from other manipulation patterns (e.g. an insider
// entry or a high win rate) that do not by themselves move collateral in
// a circle.
var washKinds = map[Kind]bool{
	KindSelfTrade:     true,
	KindCircularTrade: true,
	KindAtomicWash:    true,
	KindSybilCluster:  true,
}

// IsWashKind reports whether kind belongs to the wash-trading family
// tallied in Stats.WashTradeCount.
func IsWashKind(kind Kind) bool { return washKinds[kind] }

// BaseWeight is the Market-Health Aggregator's per-evidence-type penalty
// weight, applied as baseWeight × confidence before diminishing
// returns.
var BaseWeight = map[Kind]float64{
	KindSelfTrade:        15,
	KindCircularTrade:    12,
	KindAtomicWash:       12,
	KindSybilCluster:     10,
	KindNewWalletInsider: 8,
	KindVolumeSpike:      5,
	KindHighWinRate:      6,
	KindGasAnomaly:       3,
}

// Evidence is one detection finding. Once created it is never mutated.
type Evidence struct {
	Kind       Kind
	Confidence float64 // [0, 1]
	Timestamp  int64   // unix seconds

	Addresses    map[common.Address]struct{}
	Transactions map[common.Hash]struct{}
	TokenID      common.Hash
	Volume       int64 // Amount6 minor units

	// Details carries type-specific, opaque key/value context (e.g. the
	// rolling mean used by the insider detector, or the cycle length used
	// by the circular-trade detector).
	Details map[string]any
}

// NewEvidence builds an Evidence with initialized address/tx sets.
func NewEvidence(kind Kind, confidence float64, ts int64, tokenID common.Hash) Evidence {
	return Evidence{
		Kind:         kind,
		Confidence:   confidence,
		Timestamp:    ts,
		TokenID:      tokenID,
		Addresses:    make(map[common.Address]struct{}),
		Transactions: make(map[common.Hash]struct{}),
		Details:      make(map[string]any),
	}
}

func (e *Evidence) AddAddress(a common.Address) { e.Addresses[a] = struct{}{} }
func (e *Evidence) AddTx(h common.Hash)          { e.Transactions[h] = struct{}{} }
