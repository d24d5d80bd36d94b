package blockchain

import (
	"encoding/hex"
	"strings"

	"mempool-risk-engine/internal/domain/entity"

	"github.com/ethereum/go-ethereum/crypto"
)

// SelectorLength is the minimum input length (0x + 4 bytes) that can carry a function selector
const SelectorLength = 10

// routerMethods maps canonical router signatures to the transaction type they produce
var routerMethods = []struct {
	signature string
	txType    entity.TransactionType
}{
	// Uniswap V2 style routers
	{"swapExactETHForTokens(uint256,address[],address,uint256)", entity.TxTypeSwapExactETHForTokens},
	{"swapExactETHForTokensSupportingFeeOnTransferTokens(uint256,address[],address,uint256)", entity.TxTypeSwapExactETHForTokens},
	{"swapETHForExactTokens(uint256,address[],address,uint256)", entity.TxTypeSwapETHForExactTokens},
	{"swapExactTokensForETH(uint256,uint256,address[],address,uint256)", entity.TxTypeSwapExactTokensForETH},
	{"swapExactTokensForETHSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)", entity.TxTypeSwapExactTokensForETH},
	{"swapTokensForExactETH(uint256,uint256,address[],address,uint256)", entity.TxTypeSwapTokensForExactETH},
	{"swapExactTokensForTokens(uint256,uint256,address[],address,uint256)", entity.TxTypeSwapExactTokensForTokens},
	{"swapExactTokensForTokensSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)", entity.TxTypeSwapExactTokensForTokens},
	{"swapTokensForExactTokens(uint256,uint256,address[],address,uint256)", entity.TxTypeSwapTokensForExactTokens},
	{"addLiquidity(address,address,uint256,uint256,uint256,uint256,address,uint256)", entity.TxTypeAddLiquidity},
	{"addLiquidityETH(address,uint256,uint256,uint256,address,uint256)", entity.TxTypeAddLiquidityETH},
	{"removeLiquidity(address,address,uint256,uint256,uint256,address,uint256)", entity.TxTypeRemoveLiquidity},
	{"removeLiquidityETH(address,uint256,uint256,uint256,address,uint256)", entity.TxTypeRemoveLiquidityETH},

	// Uniswap V3 router
	{"exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))", entity.TxTypeV3ExactInputSingle},
	{"multicall(uint256,bytes[])", entity.TxTypeMulticall},
	{"multicall(bytes[])", entity.TxTypeMulticall},
}

// selectorTable is built once from routerMethods
var selectorTable = buildSelectorTable()

func buildSelectorTable() map[string]entity.TransactionType {
	table := make(map[string]entity.TransactionType, len(routerMethods))
	for _, m := range routerMethods {
		table[Selector(m.signature)] = m.txType
	}
	return table
}

// Selector returns the 4 byte function selector of a canonical signature as lowercase hex without 0x
func Selector(signature string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4])
}

// ExtractSelector returns the selector of call data, or false when the input is too short
func ExtractSelector(input string) (string, bool) {
	if len(input) < SelectorLength {
		return "", false
	}
	data := strings.TrimPrefix(strings.ToLower(input), "0x")
	if len(data) < 8 {
		return "", false
	}
	return data[:8], true
}

// ClassifySelector provides quick classification based on method selector
func ClassifySelector(selector string) (entity.TransactionType, bool) {
	txType, ok := selectorTable[strings.ToLower(strings.TrimPrefix(selector, "0x"))]
	return txType, ok
}

// KnownSelectors returns a copy of the selector table
func KnownSelectors() map[string]entity.TransactionType {
	out := make(map[string]entity.TransactionType, len(selectorTable))
	for k, v := range selectorTable {
		out[k] = v
	}
	return out
}
