package ingest

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func arg(name, t string) abi.Argument {
	return abi.Argument{Name: name, Type: mustType(t)}
}

// orderFilledArgs unpacks the non-indexed OrderFilled payload, in 32-byte
// slot order: makerOrderHash, takerOrderHash, maker, taker, makerAssetId,
// takerAssetId, makerAmountFilled, takerAmountFilled, fee.
var orderFilledArgs = abi.Arguments{
	arg("makerOrderHash", "bytes32"),
	arg("takerOrderHash", "bytes32"),
	arg("maker", "address"),
	arg("taker", "address"),
	arg("makerAssetId", "uint256"),
	arg("takerAssetId", "uint256"),
	arg("makerAmountFilled", "uint256"),
	arg("takerAmountFilled", "uint256"),
	arg("fee", "uint256"),
}

// positionSplitArgs / positionsMergeArgs unpack the conditional-tokens
// split/merge payload: stakeholder, collateral, parentCollectionId,
// conditionId, partition[], amount.
var positionSplitArgs = abi.Arguments{
	arg("stakeholder", "address"),
	arg("collateralToken", "address"),
	arg("parentCollectionId", "bytes32"),
	arg("conditionId", "bytes32"),
	arg("partition", "uint256[]"),
	arg("amount", "uint256"),
}

var positionsMergeArgs = positionSplitArgs

// positionsConvertedArgs unpacks the negative-risk adapter's merge-across-
// outcomes payload: stakeholder, conditionId, amount.
var positionsConvertedArgs = abi.Arguments{
	arg("stakeholder", "address"),
	arg("conditionId", "bytes32"),
	arg("amount", "uint256"),
}

var (
	TopicOrderFilled        = crypto.Keccak256Hash([]byte("OrderFilled(bytes32,bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"))
	TopicPositionSplit      = crypto.Keccak256Hash([]byte("PositionSplit(address,address,bytes32,bytes32,uint256[],uint256)"))
	TopicPositionsMerge     = crypto.Keccak256Hash([]byte("PositionsMerge(address,address,bytes32,bytes32,uint256[],uint256)"))
	TopicPositionsConverted = crypto.Keccak256Hash([]byte("PositionsConverted(address,bytes32,uint256)"))
)

// Topics is the topic0 set the RPC client's GetLogs filter should watch.
var Topics = []common.Hash{
	TopicOrderFilled,
	TopicPositionSplit,
	TopicPositionsMerge,
	TopicPositionsConverted,
}
