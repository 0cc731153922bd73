package domain

import "github.com/ethereum/go-ethereum/common"

// Outcome is YES or NO, the two outcome-token sides of a binary condition.
type Outcome int8

const (
	Yes Outcome = iota
	No
)

func (o Outcome) String() string {
	if o == Yes {
		return "YES"
	}
	return "NO"
}

// MarketStatus is the lifecycle state of a resolved Market.
type MarketStatus int8

const (
	StatusActive MarketStatus = iota
	StatusPaused
	StatusSettling
	StatusSettled
	StatusUnknown
)

func (s MarketStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	case StatusSettling:
		return "Settling"
	case StatusSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// Market is resolved from a token-id by the Market Resolver. A token-id
// belongs to at most one (market, outcome) pair.
type Market struct {
	ConditionID common.Hash
	QuestionID  common.Hash
	Oracle      common.Address
	YesTokenID  common.Hash
	NoTokenID   common.Hash
	Slug        string
	Question    string
	Status      MarketStatus
}

// OutcomeOf reports which outcome tokenID belongs to on this market, and
// whether it belongs to this market at all.
func (m Market) OutcomeOf(tokenID common.Hash) (Outcome, bool) {
	switch tokenID {
	case m.YesTokenID:
		return Yes, true
	case m.NoTokenID:
		return No, true
	default:
		return 0, false
	}
}
