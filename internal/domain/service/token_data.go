package service

import (
	"context"

	"mempool-risk-engine/internal/domain/entity"
)

// TokenDataSource supplies the on-chain facts risk checks are computed from.
// Price and liquidity querying lives behind this boundary.
type TokenDataSource interface {
	// SimulateRoundTrip buys and sells the token through the pair
	SimulateRoundTrip(ctx context.Context, token, pair string) (*entity.TradeSimulation, error)

	// PairLiquidity returns reserves and USD liquidity for the pair
	PairLiquidity(ctx context.Context, token, pair string) (*entity.PairLiquidity, error)

	// TokenOwnership returns the owner of an Ownable token
	TokenOwnership(ctx context.Context, token string) (*entity.TokenOwnership, error)

	// ContractCode returns deployed bytecode; empty for EOAs
	ContractCode(ctx context.Context, token string) ([]byte, error)

	// TopHolders returns the largest holders ordered by share
	TopHolders(ctx context.Context, token string, limit int) ([]entity.HolderShare, error)
}

// TokenDataSourceProvider resolves the data source for a chain; empty chain means the default
type TokenDataSourceProvider interface {
	DataSource(chain string) (TokenDataSource, error)
}
