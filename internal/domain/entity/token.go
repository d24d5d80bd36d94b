package entity

import (
	"math/big"
)

// TokenMetadata is cached per token by the analyzer
type TokenMetadata struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// TradeSimulation is the outcome of a buy-then-sell round trip
type TradeSimulation struct {
	CanBuy     bool    `json:"can_buy"`
	CanSell    bool    `json:"can_sell"`
	BuyTaxPct  float64 `json:"buy_tax_pct"`
	SellTaxPct float64 `json:"sell_tax_pct"`
	Reason     string  `json:"reason,omitempty"`
}

// PairLiquidity describes the reserves of a liquidity pair
type PairLiquidity struct {
	PairAddress  string   `json:"pair_address"`
	Token0       string   `json:"token0"`
	Token1       string   `json:"token1"`
	Reserve0     *big.Int `json:"reserve0"`
	Reserve1     *big.Int `json:"reserve1"`
	LiquidityUSD float64  `json:"liquidity_usd"`
	LockedPct    float64  `json:"locked_pct"`
}

// TokenOwnership describes the controlling account of a token
type TokenOwnership struct {
	Owner     string `json:"owner"`
	Renounced bool   `json:"renounced"`
}

// HolderShare is one holder's fraction of total supply
type HolderShare struct {
	Address string  `json:"address"`
	Pct     float64 `json:"pct"`
}
