package detect

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

func TestSortedEvidenceOrdersByTimestampThenTokenThenTx(t *testing.T) {
	e1 := domain.NewEvidence(domain.KindSelfTrade, 1.0, 200, txHash(1))
	e1.AddTx(txHash(9))

	e2 := domain.NewEvidence(domain.KindSelfTrade, 1.0, 100, txHash(2))
	e2.AddTx(txHash(5))

	e3 := domain.NewEvidence(domain.KindSelfTrade, 1.0, 100, txHash(2))
	e3.AddTx(txHash(1))

	got := sortedEvidence([]domain.Evidence{e1, e2, e3})
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	// e3 (ts=100, lowest tx) < e2 (ts=100, higher tx) < e1 (ts=200)
	if got[0].Timestamp != 100 || !hasTx(got[0], txHash(1)) {
		t.Fatalf("expected e3 first, got %+v", got[0])
	}
	if got[1].Timestamp != 100 || !hasTx(got[1], txHash(5)) {
		t.Fatalf("expected e2 second, got %+v", got[1])
	}
	if got[2].Timestamp != 200 {
		t.Fatalf("expected e1 last, got %+v", got[2])
	}
}

func TestSortedEvidenceIsStableAcrossPermutations(t *testing.T) {
	base := make([]domain.Evidence, 0, 4)
	for i := int64(0); i < 4; i++ {
		ev := domain.NewEvidence(domain.KindCircularTrade, 0.8, 1000+i, txHash(byte(i)))
		ev.AddTx(txHash(byte(i + 10)))
		base = append(base, ev)
	}

	forward := sortedEvidence(append([]domain.Evidence(nil), base...))
	reversed := make([]domain.Evidence, len(base))
	for i, e := range base {
		reversed[len(base)-1-i] = e
	}
	backward := sortedEvidence(reversed)

	if len(forward) != len(backward) {
		t.Fatalf("length mismatch")
	}
	for i := range forward {
		if forward[i].Timestamp != backward[i].Timestamp {
			t.Fatalf("order differs at %d: %+v vs %+v", i, forward[i], backward[i])
		}
	}
}

func hasTx(ev domain.Evidence, h common.Hash) bool {
	_, ok := ev.Transactions[h]
	return ok
}
