package detect

import (
	"sort"
	"strconv"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

// sortedEvidence orders items into a stable, input-order-independent
// sequence before a detector returns them. Several detectors group trades
// by map key before emitting one Evidence item per group, and Go map
// iteration order is randomized — without this, two runs over an
// identical snapshot could emit the same items in a different array
// order, breaking byte-identical JSON output. The key is the item's
// timestamp, then its token id, then the lowest tx hash and the lowest
// address it references, which is fully determined by its contents
// regardless of how it was assembled.
func sortedEvidence(items []domain.Evidence) []domain.Evidence {
	keys := make([]string, len(items))
	for i, ev := range items {
		keys[i] = evidenceSortKey(ev)
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })

	out := make([]domain.Evidence, len(items))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

func evidenceSortKey(ev domain.Evidence) string {
	minTx := ""
	for tx := range ev.Transactions {
		h := tx.Hex()
		if minTx == "" || h < minTx {
			minTx = h
		}
	}
	minAddr := ""
	for addr := range ev.Addresses {
		h := addr.Hex()
		if minAddr == "" || h < minAddr {
			minAddr = h
		}
	}
	const sep = "\x00"
	// zero-pad the timestamp so lexical and numeric ordering agree.
	ts := strconv.FormatInt(ev.Timestamp, 10)
	for len(ts) < 20 {
		ts = "0" + ts
	}
	return ts + sep + ev.TokenID.Hex() + sep + minTx + sep + minAddr
}
