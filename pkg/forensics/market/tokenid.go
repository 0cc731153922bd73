package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// USDCCollateral is the bridged USDC.e token backing Polymarket's CTF
// Exchange markets on Polygon. Every outcome token id in the pipeline is
// derived against this collateral.
var USDCCollateral = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

// CollectionID derives a conditional-tokens collection id for a binary
// condition: collectionId = H(parentCollectionId, conditionId, indexSet).
// parentCollectionId is the zero hash for a root (non-nested) position.
func CollectionID(parentCollectionID, conditionID common.Hash, indexSet uint64) common.Hash {
	buf := make([]byte, 0, 32+32+32)
	buf = append(buf, parentCollectionID.Bytes()...)
	buf = append(buf, conditionID.Bytes()...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(indexSet).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// TokenID derives the ERC-1155 position id for a collateral/collection
// pair: tokenId = H(collateral, collectionId).
func TokenID(collateral common.Address, collectionID common.Hash) common.Hash {
	buf := make([]byte, 0, 32+32)
	buf = append(buf, common.LeftPadBytes(collateral.Bytes(), 32)...)
	buf = append(buf, collectionID.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// DeriveOutcomeTokenID is the convenience composition used by the Market
// Resolver: for an outcome indexSet (1 = YES, 2 = NO) under a root
// condition, derive the token id directly.
func DeriveOutcomeTokenID(collateral common.Address, conditionID common.Hash, indexSet uint64) common.Hash {
	collectionID := CollectionID(common.Hash{}, conditionID, indexSet)
	return TokenID(collateral, collectionID)
}
