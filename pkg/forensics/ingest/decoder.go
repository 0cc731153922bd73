// Package ingest turns raw EVM logs into the domain's Trade and
// ConditionalEvent records. Malformed events come back as a wrapped
// ferrors.ErrDecode for the caller to drop, never fatal — a decoder failure
// must never stop the Stream Controller. No count of dropped events is kept.
package ingest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/ferrors"
	"github.com/polyforensic/pipeline/pkg/forensics/fixedpoint"
)

// Decoder unpacks raw logs into Trade or ConditionalEvent records. It holds
// no state between calls.
type Decoder struct {
	BlockTimestamp func(blockNumber int64) (int64, error)
	GasPrice       func(txHash common.Hash) (uint64, error)
}

// Decode dispatches on the log's topic0 and returns exactly one of a
// *domain.Trade or a *domain.ConditionalEvent. A malformed or unrecognized
// log returns a wrapped ferrors.ErrDecode instead; a failed BlockTimestamp
// lookup returns that lookup's error unwrapped.
func (d *Decoder) Decode(log types.Log) (trade *domain.Trade, conditional *domain.ConditionalEvent, err error) {
	if len(log.Topics) == 0 {
		return nil, nil, ferrors.Wrap(ferrors.ErrDecode, "log has no topics", errNoTopics)
	}

	ts, err := d.BlockTimestamp(int64(log.BlockNumber))
	if err != nil {
		return nil, nil, err
	}

	switch log.Topics[0] {
	case TopicOrderFilled:
		t, derr := decodeOrderFilled(log, ts)
		if derr != nil {
			return nil, nil, derr
		}
		if d.GasPrice != nil {
			if gp, gerr := d.GasPrice(log.TxHash); gerr == nil {
				t.GasPriceWei = gp
			}
		}
		return t, nil, nil
	case TopicPositionSplit:
		c, derr := decodeConditional(log, ts, domain.KindPositionSplit)
		if derr != nil {
			return nil, nil, derr
		}
		return nil, c, nil
	case TopicPositionsMerge:
		c, derr := decodeConditional(log, ts, domain.KindPositionsMerge)
		if derr != nil {
			return nil, nil, derr
		}
		return nil, c, nil
	case TopicPositionsConverted:
		c, derr := decodePositionsConverted(log, ts)
		if derr != nil {
			return nil, nil, derr
		}
		return nil, c, nil
	default:
		return nil, nil, ferrors.Wrap(ferrors.ErrDecode, "unrecognized topic0", errUnknownTopic)
	}
}

var (
	errNoTopics     = fmt.Errorf("missing topics")
	errUnknownTopic = fmt.Errorf("unrecognized event signature")
	errBothNonZero  = fmt.Errorf("both maker and taker asset ids are non-zero")
	errBothZero     = fmt.Errorf("no non-zero collateral leg")
	errZeroDenom    = fmt.Errorf("zero-amount denominator")
)

func decodeOrderFilled(log types.Log, ts int64) (*domain.Trade, error) {
	vals, err := orderFilledArgs.Unpack(log.Data)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrDecode, "unpack OrderFilled", err)
	}

	makerOrderHash := vals[0].([32]byte)
	takerOrderHash := vals[1].([32]byte)
	maker := vals[2].(common.Address)
	taker := vals[3].(common.Address)
	makerAssetID := vals[4].(*big.Int)
	takerAssetID := vals[5].(*big.Int)
	makerAmountFilled := vals[6].(*big.Int)
	takerAmountFilled := vals[7].(*big.Int)
	fee := vals[8].(*big.Int)

	makerZero := makerAssetID.Sign() == 0
	takerZero := takerAssetID.Sign() == 0
	if !makerZero && !takerZero {
		return nil, ferrors.Wrap(ferrors.ErrDecode, "order filled decode", errBothNonZero)
	}
	if makerZero && takerZero {
		return nil, ferrors.Wrap(ferrors.ErrDecode, "order filled decode", errBothZero)
	}

	var side domain.Side
	var tokenID common.Hash
	var usdcAmount, tokenAmount *big.Int
	if makerZero {
		side = domain.Buy
		tokenID = common.BigToHash(takerAssetID)
		usdcAmount = makerAmountFilled
		tokenAmount = takerAmountFilled
	} else {
		side = domain.Sell
		tokenID = common.BigToHash(makerAssetID)
		usdcAmount = takerAmountFilled
		tokenAmount = makerAmountFilled
	}

	price, ok := fixedpoint.DerivePrice(usdcAmount.Int64(), tokenAmount.Int64())
	if !ok {
		return nil, ferrors.Wrap(ferrors.ErrDecode, "order filled decode", errZeroDenom)
	}
	size := fixedpoint.Amount6(tokenAmount.Int64())
	volume := fixedpoint.Volume(size, price)

	t := &domain.Trade{
		Key: domain.TradeKey{
			TxHash:   log.TxHash,
			LogIndex: uint(log.Index),
		},
		BlockNumber:    log.BlockNumber,
		Timestamp:      ts,
		Exchange:       log.Address,
		MakerOrderHash: common.Hash(makerOrderHash),
		TakerOrderHash: common.Hash(takerOrderHash),
		Maker:          maker,
		Taker:          taker,
		MakerAssetID:   common.BigToHash(makerAssetID),
		TakerAssetID:   common.BigToHash(takerAssetID),
		MakerAmount:    fixedpoint.Amount6(makerAmountFilled.Int64()),
		TakerAmount:    fixedpoint.Amount6(takerAmountFilled.Int64()),
		Fee:            fixedpoint.Amount6(fee.Int64()),
		TokenID:        tokenID,
		Side:           side,
		Price:          price,
		Size:           size,
		Volume:         volume,
	}
	return t, nil
}

func decodeConditional(log types.Log, ts int64, kind domain.ConditionalEventKind) (*domain.ConditionalEvent, error) {
	vals, err := positionSplitArgs.Unpack(log.Data)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrDecode, fmt.Sprintf("unpack %s", kind), err)
	}

	stakeholder := vals[0].(common.Address)
	collateral := vals[1].(common.Address)
	parentCollectionID := vals[2].([32]byte)
	conditionID := vals[3].([32]byte)
	partitionBig := vals[4].([]*big.Int)
	amount := vals[5].(*big.Int)

	partition := make([]uint64, len(partitionBig))
	for i, p := range partitionBig {
		partition[i] = p.Uint64()
	}

	return &domain.ConditionalEvent{
		Key: domain.TradeKey{
			TxHash:   log.TxHash,
			LogIndex: uint(log.Index),
		},
		Kind:               kind,
		BlockNumber:        log.BlockNumber,
		Timestamp:          ts,
		Stakeholder:        stakeholder,
		Collateral:         collateral,
		ParentCollectionID: common.Hash(parentCollectionID),
		ConditionID:        common.Hash(conditionID),
		Partition:          partition,
		Amount:             fixedpoint.Amount6(amount.Int64()),
	}, nil
}

func decodePositionsConverted(log types.Log, ts int64) (*domain.ConditionalEvent, error) {
	vals, err := positionsConvertedArgs.Unpack(log.Data)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrDecode, "unpack PositionsConverted", err)
	}

	stakeholder := vals[0].(common.Address)
	conditionID := vals[1].([32]byte)
	amount := vals[2].(*big.Int)

	return &domain.ConditionalEvent{
		Key: domain.TradeKey{
			TxHash:   log.TxHash,
			LogIndex: uint(log.Index),
		},
		Kind:        domain.KindPositionsConverted,
		BlockNumber: log.BlockNumber,
		Timestamp:   ts,
		Stakeholder: stakeholder,
		ConditionID: common.Hash(conditionID),
		Amount:      fixedpoint.Amount6(amount.Int64()),
	}, nil
}
