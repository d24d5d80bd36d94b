package service

import (
	"context"

	"mempool-risk-engine/internal/domain/entity"
)

// TransactionAnalyzer classifies and scores pending transactions
type TransactionAnalyzer interface {
	// Analyze never fails; errors degrade to a maximum-risk UNKNOWN result
	Analyze(ctx context.Context, tx *entity.PendingTransaction) *entity.TransactionAnalysis
}

// SwapDecoder extracts swap arguments from raw call data.
// Implementations may be heuristic; decode failures leave fields empty.
type SwapDecoder interface {
	Decode(txType entity.TransactionType, tx *entity.PendingTransaction) (*entity.SwapParams, error)
}

// TokenMetadataSource resolves token metadata such as decimals
type TokenMetadataSource interface {
	TokenMetadata(ctx context.Context, chain, token string) (*entity.TokenMetadata, error)
}
