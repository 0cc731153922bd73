package ingest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/fixedpoint"
)

func fixedTimestamp(ts int64) func(int64) (int64, error) {
	return func(int64) (int64, error) { return ts, nil }
}

func packOrderFilled(t *testing.T, makerOrderHash, takerOrderHash [32]byte, maker, taker common.Address, makerAssetID, takerAssetID, makerAmount, takerAmount, fee *big.Int) []byte {
	t.Helper()
	data, err := orderFilledArgs.Pack(makerOrderHash, takerOrderHash, maker, taker, makerAssetID, takerAssetID, makerAmount, takerAmount, fee)
	if err != nil {
		t.Fatalf("pack OrderFilled: %v", err)
	}
	return data
}

func TestDecodeOrderFilledBuySide(t *testing.T) {
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenID := big.NewInt(123)

	data := packOrderFilled(t, [32]byte{1}, [32]byte{2}, maker, taker,
		big.NewInt(0), tokenID, big.NewInt(1_000000), big.NewInt(500000), big.NewInt(0))

	log := types.Log{
		Address:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topics:      []common.Hash{TopicOrderFilled},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xaaaa"),
		Index:       0,
	}

	d := &Decoder{BlockTimestamp: fixedTimestamp(123456)}
	trade, conditional, err := d.Decode(log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conditional != nil {
		t.Fatalf("expected no conditional event, got %+v", conditional)
	}
	if trade == nil {
		t.Fatal("expected a trade")
	}
	if trade.Side != domain.Buy {
		t.Fatalf("expected Buy side, got %s", trade.Side)
	}
	if trade.TokenID != common.BigToHash(tokenID) {
		t.Fatalf("unexpected token id: %s", trade.TokenID)
	}
	if trade.Price != fixedpoint.Price4(20000) {
		t.Fatalf("expected price 20000, got %d", trade.Price)
	}
	if trade.Size != fixedpoint.Amount6(500000) {
		t.Fatalf("expected size 500000, got %d", trade.Size)
	}
	if trade.Volume != fixedpoint.Amount6(1000000) {
		t.Fatalf("expected volume 1000000, got %d", trade.Volume)
	}
	if trade.Timestamp != 123456 {
		t.Fatalf("expected timestamp 123456, got %d", trade.Timestamp)
	}
	if trade.Maker != maker || trade.Taker != taker {
		t.Fatalf("unexpected maker/taker: %s / %s", trade.Maker, trade.Taker)
	}
}

func TestDecodeOrderFilledSellSide(t *testing.T) {
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenID := big.NewInt(456)

	data := packOrderFilled(t, [32]byte{1}, [32]byte{2}, maker, taker,
		tokenID, big.NewInt(0), big.NewInt(500000), big.NewInt(1_000000), big.NewInt(0))

	log := types.Log{
		Topics:      []common.Hash{TopicOrderFilled},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xbbbb"),
		Index:       1,
	}

	d := &Decoder{BlockTimestamp: fixedTimestamp(999)}
	trade, _, err := d.Decode(log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.Side != domain.Sell {
		t.Fatalf("expected Sell side, got %s", trade.Side)
	}
	if trade.TokenID != common.BigToHash(tokenID) {
		t.Fatalf("unexpected token id: %s", trade.TokenID)
	}
}

func TestDecodeRejectsBothAssetsNonZero(t *testing.T) {
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data := packOrderFilled(t, [32]byte{1}, [32]byte{2}, maker, taker,
		big.NewInt(7), big.NewInt(9), big.NewInt(1_000000), big.NewInt(500000), big.NewInt(0))

	log := types.Log{
		Topics:      []common.Hash{TopicOrderFilled},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xcccc"),
		Index:       0,
	}

	d := &Decoder{BlockTimestamp: fixedTimestamp(1)}
	_, _, err := d.Decode(log)
	if err == nil {
		t.Fatal("expected an error when both asset ids are non-zero")
	}
}

func TestDecodeUnrecognizedTopicIsDropped(t *testing.T) {
	log := types.Log{
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		BlockNumber: 1,
		TxHash:      common.HexToHash("0xdddd"),
	}
	d := &Decoder{BlockTimestamp: fixedTimestamp(1)}
	trade, conditional, err := d.Decode(log)
	if err == nil {
		t.Fatal("expected an error for an unrecognized topic")
	}
	if trade != nil || conditional != nil {
		t.Fatalf("expected no decoded records, got trade=%+v conditional=%+v", trade, conditional)
	}
}

func TestDecodePositionSplit(t *testing.T) {
	stakeholder := common.HexToAddress("0x4444444444444444444444444444444444444444")
	collateral := common.HexToAddress("0x5555555555555555555555555555555555555555")

	data, err := positionSplitArgs.Pack(stakeholder, collateral, [32]byte{9}, [32]byte{10},
		[]*big.Int{big.NewInt(1), big.NewInt(2)}, big.NewInt(1_000000))
	if err != nil {
		t.Fatalf("pack PositionSplit: %v", err)
	}

	log := types.Log{
		Topics:      []common.Hash{TopicPositionSplit},
		Data:        data,
		BlockNumber: 50,
		TxHash:      common.HexToHash("0xeeee"),
		Index:       0,
	}

	d := &Decoder{BlockTimestamp: fixedTimestamp(42)}
	trade, conditional, err := d.Decode(log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade != nil {
		t.Fatalf("expected no trade, got %+v", trade)
	}
	if conditional == nil {
		t.Fatal("expected a conditional event")
	}
	if conditional.Kind != domain.KindPositionSplit {
		t.Fatalf("unexpected kind: %s", conditional.Kind)
	}
	if conditional.Stakeholder != stakeholder || conditional.Collateral != collateral {
		t.Fatalf("unexpected stakeholder/collateral: %s / %s", conditional.Stakeholder, conditional.Collateral)
	}
	if len(conditional.Partition) != 2 {
		t.Fatalf("expected partition length 2, got %d", len(conditional.Partition))
	}
}
