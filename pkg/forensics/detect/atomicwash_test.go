package detect

import (
	"context"
	"testing"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/store"
)

func TestAtomicWashSplitMergeFill(t *testing.T) {
	tx := txHash(1)
	token := txHash(2)
	stakeholder := addr(1)
	collateral := addr(2)
	taker := addr(3)

	conditionals := []domain.ConditionalEvent{
		{Key: domain.TradeKey{TxHash: tx, LogIndex: 0}, Kind: domain.KindPositionSplit, Timestamp: 1000, Stakeholder: stakeholder, Collateral: collateral},
		{Key: domain.TradeKey{TxHash: tx, LogIndex: 2}, Kind: domain.KindPositionsMerge, Timestamp: 1000, Stakeholder: stakeholder, Collateral: collateral},
	}
	trades := []domain.Trade{
		tradeFixture(1, 1, taker, stakeholder, token, 500_000000, 1000),
	}
	snap := store.Snapshot{Trades: trades, Conditionals: conditionals, Taken: 2000}

	ev, err := (&AtomicWashDetector{}).Scan(context.Background(), &snap, Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var found bool
	for _, e := range ev {
		if e.Details["variant"] == "split_merge_fill" {
			found = true
			if e.Confidence != atomicWashSplitMergeConfidence {
				t.Fatalf("expected confidence %f, got %f", atomicWashSplitMergeConfidence, e.Confidence)
			}
		}
	}
	if !found {
		t.Fatalf("expected a split_merge_fill finding, got %+v", ev)
	}
}

func TestAtomicWashVolumeBandRoundTrip(t *testing.T) {
	token := txHash(3)
	trader := addr(5)
	counterparty1 := addr(6)
	counterparty2 := addr(7)

	// trader as maker in a Buy trade accrues buy-side volume; trader as
	// taker in a Buy trade accrues sell-side volume (per the detector's
	// maker/taker volume-attribution convention). Same block, same token,
	// volumes within 20% of each other.
	trades := []domain.Trade{
		tradeFixture(10, 0, counterparty1, trader, token, 1000_000000, 1000),
		tradeFixture(11, 1, trader, counterparty2, token, 950_000000, 1001),
	}
	trades[0].BlockNumber = 500
	trades[1].BlockNumber = 500

	snap := store.Snapshot{Trades: trades, Taken: 2000}

	ev, err := (&AtomicWashDetector{}).Scan(context.Background(), &snap, Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var found bool
	for _, e := range ev {
		if e.Details["variant"] == "volume_band_round_trip" {
			for a := range e.Addresses {
				if a == trader {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected a volume_band_round_trip finding for trader, got %+v", ev)
	}
}

func TestAtomicWashNoFindingsOnCleanTrades(t *testing.T) {
	token := txHash(4)
	trades := []domain.Trade{
		tradeFixture(20, 0, addr(8), addr(9), token, 100_000000, 1000),
	}
	snap := store.Snapshot{Trades: trades, Taken: 2000}

	ev, err := (&AtomicWashDetector{}).Scan(context.Background(), &snap, Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ev) != 0 {
		t.Fatalf("expected no findings, got %+v", ev)
	}
}
