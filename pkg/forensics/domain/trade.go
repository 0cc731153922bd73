// Package domain holds the shared data model of the forensic pipeline —
// Trade, Market, Evidence, Alert, MarketHealth, SyncState.
// Ownership is split across packages (the Evidence Store owns Trade and
// Evidence; the Market Resolver owns Market; the Stream Controller owns
// SyncState) but the types themselves live here so every package can speak
// the same vocabulary without import cycles.
package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/polyforensic/pipeline/pkg/forensics/fixedpoint"
)

// Side is the direction of a decoded OrderFilled event relative to the
// collateral leg: BUY means the maker gave collateral and received the
// outcome token, SELL is the reverse.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// TradeKey identifies a Trade uniquely by (transaction hash, log index).
type TradeKey struct {
	TxHash   common.Hash
	LogIndex uint
}

// Trade is one decoded OrderFilled occurrence.
type Trade struct {
	Key TradeKey

	BlockNumber    uint64
	Timestamp      int64 // unix seconds
	Exchange       common.Address
	MakerOrderHash common.Hash
	TakerOrderHash common.Hash
	Maker          common.Address
	Taker          common.Address
	MakerAssetID   common.Hash
	TakerAssetID   common.Hash
	MakerAmount    fixedpoint.Amount6
	TakerAmount    fixedpoint.Amount6
	Fee            fixedpoint.Amount6
	GasPriceWei    uint64

	// Derived fields, computed once at decode time.
	TokenID common.Hash
	Side    Side
	Price   fixedpoint.Price4
	Size    fixedpoint.Amount6
	Volume  fixedpoint.Amount6

	// MarketTokenID is filled in by the Market Resolver; empty (zero hash)
	// until resolved.
	MarketTokenID common.Hash
	MarketKnown   bool
}

// WellFormedPrice reports whether Price lies in [0, 1] (i.e. [0, 10000] in
// Price4 fixed point), the invariant for a well-formed outcome-token fill.
// Violations are flagged by callers but still stored.
func (t Trade) WellFormedPrice() bool {
	return t.Price >= 0 && t.Price <= 10000
}
