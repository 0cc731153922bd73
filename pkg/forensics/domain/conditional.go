package domain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/polyforensic/pipeline/pkg/forensics/fixedpoint"
)

// ConditionalEventKind distinguishes the three conditional-token lifecycle
// events from a decoded Trade.
type ConditionalEventKind string

const (
	KindPositionSplit      ConditionalEventKind = "POSITION_SPLIT"
	KindPositionsMerge     ConditionalEventKind = "POSITIONS_MERGE"
	KindPositionsConverted ConditionalEventKind = "POSITIONS_CONVERTED"
)

// ConditionalEvent is a decoded PositionSplit / PositionsMerge /
// PositionsConverted occurrence. PositionsConverted is a distinct kind,
// indexed alongside splits and merges but excluded from detector windows
// unless a detector opts in explicitly.
type ConditionalEvent struct {
	Key         TradeKey
	Kind        ConditionalEventKind
	BlockNumber uint64
	Timestamp   int64

	Stakeholder        common.Address
	Collateral         common.Address
	ParentCollectionID common.Hash
	ConditionID        common.Hash
	Partition          []uint64
	Amount             fixedpoint.Amount6
}
