package health

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
)

func evidenceFixture(kind domain.Kind, confidence float64, tokenID common.Hash, addrs ...common.Address) domain.Evidence {
	e := domain.NewEvidence(kind, confidence, 0, tokenID)
	for _, a := range addrs {
		e.AddAddress(a)
	}
	return e
}

func TestScoreStartsAt100WithNoEvidence(t *testing.T) {
	a := New()
	token := common.HexToHash("0x01")

	mh := a.Score(token, nil)
	if mh.Score != 100 {
		t.Fatalf("expected score 100 with no evidence, got %f", mh.Score)
	}
	if mh.RiskLevel != domain.RiskLevelForScore(100) {
		t.Fatalf("unexpected risk level: %s", mh.RiskLevel)
	}
}

func TestScoreDecreasesWithEvidence(t *testing.T) {
	a := New()
	token := common.HexToHash("0x02")
	addr := common.HexToAddress("0xaa")

	ev := []domain.Evidence{
		evidenceFixture(domain.KindSelfTrade, 1.0, token, addr),
	}
	mh := a.Score(token, ev)
	if mh.Score >= 100 {
		t.Fatalf("expected score below 100, got %f", mh.Score)
	}
	if len(mh.TopSuspicious) != 1 || mh.TopSuspicious[0].Address != addr {
		t.Fatalf("expected addr in top suspicious list, got %+v", mh.TopSuspicious)
	}
}

func TestScoreIgnoresEvidenceForOtherTokens(t *testing.T) {
	a := New()
	token := common.HexToHash("0x03")
	other := common.HexToHash("0x04")
	addr := common.HexToAddress("0xbb")

	ev := []domain.Evidence{
		evidenceFixture(domain.KindSelfTrade, 1.0, other, addr),
	}
	mh := a.Score(token, ev)
	if mh.Score != 100 {
		t.Fatalf("expected score unaffected by other-token evidence, got %f", mh.Score)
	}
	if len(mh.TopSuspicious) != 0 {
		t.Fatalf("expected no suspicious addresses, got %+v", mh.TopSuspicious)
	}
}

func TestScoreAppliesDiminishingReturnsPerKind(t *testing.T) {
	a := New()
	token := common.HexToHash("0x05")
	addr := common.HexToAddress("0xcc")

	oneHit := a.Score(token, []domain.Evidence{
		evidenceFixture(domain.KindGasAnomaly, 1.0, token, addr),
	})
	twoHits := a.Score(token, []domain.Evidence{
		evidenceFixture(domain.KindGasAnomaly, 1.0, token, addr),
		evidenceFixture(domain.KindGasAnomaly, 1.0, token, addr),
	})

	onePenalty := 100 - oneHit.Score
	twoPenalty := 100 - twoHits.Score

	// Second occurrence contributes weight/sqrt(2), not another full weight,
	// so total penalty grows by less than 2x the single-hit penalty.
	if twoPenalty >= onePenalty*2 {
		t.Fatalf("expected diminishing returns: one=%f two=%f", onePenalty, twoPenalty)
	}
	if twoPenalty <= onePenalty {
		t.Fatalf("expected the second occurrence to still add some penalty: one=%f two=%f", onePenalty, twoPenalty)
	}
}

func TestScoreNeverGoesBelowZero(t *testing.T) {
	a := New()
	token := common.HexToHash("0x06")
	addr := common.HexToAddress("0xdd")

	var ev []domain.Evidence
	for i := 0; i < 50; i++ {
		ev = append(ev, evidenceFixture(domain.KindSelfTrade, 1.0, token, addr))
	}
	mh := a.Score(token, ev)
	if mh.Score < 0 {
		t.Fatalf("score must clamp at 0, got %f", mh.Score)
	}
}
