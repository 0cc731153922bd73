package store

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

// Snapshot is a read-only, atomically-taken view of the trade ring,
// ordered ascending by (block, log-index) with ties broken lexicographically
// by tx-hash, matching the determinism requirement every detector runs
// under. Detectors never touch the Store directly — only a Snapshot.
type Snapshot struct {
	Trades       []domain.Trade
	Conditionals []domain.ConditionalEvent
	Taken        int64 // unix seconds the snapshot was taken
}

// Snapshot copies the current ring contents into stable sort order. Writes
// to the store during a detector run do not affect an already-taken
// Snapshot.
func (s *Store) Snapshot(now int64) Snapshot {
	trades := s.trades.all()
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.Key.LogIndex != b.Key.LogIndex {
			return a.Key.LogIndex < b.Key.LogIndex
		}
		return a.Key.TxHash.Hex() < b.Key.TxHash.Hex()
	})

	conditionals := s.conditionals.all()
	sort.SliceStable(conditionals, func(i, j int) bool {
		a, b := conditionals[i], conditionals[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.Key.LogIndex != b.Key.LogIndex {
			return a.Key.LogIndex < b.Key.LogIndex
		}
		return a.Key.TxHash.Hex() < b.Key.TxHash.Hex()
	})

	return Snapshot{Trades: trades, Conditionals: conditionals, Taken: now}
}

// Window narrows a Snapshot to trades in the trailing duration (in
// seconds) ending at Taken, or the trailing maxTrades trades, whichever is
// smaller — the Stream Controller's incremental re-scan window.
func (snap Snapshot) Window(trailingSeconds int64, maxTrades int) Snapshot {
	cutoff := snap.Taken - trailingSeconds
	start := 0
	for i, t := range snap.Trades {
		if t.Timestamp >= cutoff {
			start = i
			break
		}
		start = i + 1
	}
	windowed := snap.Trades[start:]
	if maxTrades > 0 && len(windowed) > maxTrades {
		windowed = windowed[len(windowed)-maxTrades:]
	}

	var conditionals []domain.ConditionalEvent
	for _, c := range snap.Conditionals {
		if c.Timestamp >= cutoff {
			conditionals = append(conditionals, c)
		}
	}

	return Snapshot{Trades: windowed, Conditionals: conditionals, Taken: snap.Taken}
}

// ByTokenID groups the snapshot's trades by token-id, preserving order.
func (snap Snapshot) ByTokenID() map[common.Hash][]domain.Trade {
	out := make(map[common.Hash][]domain.Trade)
	for _, t := range snap.Trades {
		out[t.TokenID] = append(out[t.TokenID], t)
	}
	return out
}

// ByAddress groups the snapshot's trades by participant address (maker and
// taker both counted), preserving order.
func (snap Snapshot) ByAddress() map[common.Address][]domain.Trade {
	out := make(map[common.Address][]domain.Trade)
	for _, t := range snap.Trades {
		out[t.Maker] = append(out[t.Maker], t)
		if t.Taker != t.Maker {
			out[t.Taker] = append(out[t.Taker], t)
		}
	}
	return out
}
