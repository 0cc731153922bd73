package detect

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/fixedpoint"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func txHash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func tradeFixture(txIdx byte, logIdx uint, taker, maker common.Address, tokenID common.Hash, volume int64, ts int64) domain.Trade {
	return domain.Trade{
		Key:         domain.TradeKey{TxHash: txHash(txIdx), LogIndex: logIdx},
		BlockNumber: uint64(100 + logIdx),
		Timestamp:   ts,
		Taker:       taker,
		Maker:       maker,
		TokenID:     tokenID,
		Side:        domain.Buy,
		Size:        fixedpoint.Amount6(volume),
		Price:       fixedpoint.Price4(10000),
		Volume:      fixedpoint.Amount6(volume),
	}
}

func TestCircularTradeDetectorFindsThreeCycle(t *testing.T) {
	token := txHash(1)
	a, b, c := addr(1), addr(2), addr(3)

	trades := []domain.Trade{
		tradeFixture(1, 0, a, b, token, 100_000000, 1000), // a -> b
		tradeFixture(2, 1, b, c, token, 100_000000, 1001), // b -> c
		tradeFixture(3, 2, c, a, token, 100_000000, 1002), // c -> a
	}
	snap := store.Snapshot{Trades: trades, Taken: 2000}

	d := &CircularTradeDetector{}
	ev, err := d.Scan(context.Background(), &snap, Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ev) != 1 {
		t.Fatalf("expected exactly one cycle, got %d: %+v", len(ev), ev)
	}
	if ev[0].Kind != domain.KindCircularTrade {
		t.Fatalf("unexpected kind: %s", ev[0].Kind)
	}
	if ev[0].Confidence < 0.6 || ev[0].Confidence > 0.9 {
		t.Fatalf("confidence out of range: %f", ev[0].Confidence)
	}
	if len(ev[0].Addresses) != 3 {
		t.Fatalf("expected 3 addresses in cycle, got %d", len(ev[0].Addresses))
	}
}

func TestCircularTradeDetectorNoCycleWithoutReturnEdge(t *testing.T) {
	token := txHash(1)
	a, b, c := addr(1), addr(2), addr(3)

	trades := []domain.Trade{
		tradeFixture(1, 0, a, b, token, 100_000000, 1000),
		tradeFixture(2, 1, b, c, token, 100_000000, 1001),
	}
	snap := store.Snapshot{Trades: trades, Taken: 2000}

	d := &CircularTradeDetector{}
	ev, err := d.Scan(context.Background(), &snap, Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ev) != 0 {
		t.Fatalf("expected no cycles, got %d", len(ev))
	}
}
