package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/repository"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNotConnected is returned by repository calls before Connect succeeded
var ErrNotConnected = errors.New("neo4j not connected")

var errNoSwapTarget = errors.New("swap has no target token")

// Neo4JAssessmentRepository implements AssessmentRepository as a graph:
// (Wallet)-[:SWAPPED]->(Token)-[:ASSESSED]->(Assessment)
type Neo4JAssessmentRepository struct {
	client *Neo4JClient
	logger *logger.Logger
}

// NewNeo4JAssessmentRepository creates a new Neo4J assessment repository
func NewNeo4JAssessmentRepository(client *Neo4JClient, logger *logger.Logger) repository.AssessmentRepository {
	return &Neo4JAssessmentRepository{
		client: client,
		logger: logger.WithComponent("neo4j-assessment-repo"),
	}
}

// SaveAssessment creates the assessment node and links it to its token
func (r *Neo4JAssessmentRepository) SaveAssessment(ctx context.Context, assessment *entity.RiskAssessment) error {
	session, err := r.client.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	query := `
		MERGE (t:Token {address: $token_address})
		ON CREATE SET t.first_seen = $created_at
		SET t.last_assessed = $created_at,
			t.last_decision = $decision
		MERGE (a:Assessment {id: $id})
		SET a.pair_address = $pair_address,
			a.chain = $chain,
			a.profile = $profile,
			a.mode = $mode,
			a.state = $state,
			a.decision = $decision,
			a.overall_risk_score = $overall_risk_score,
			a.risk_level = $risk_level,
			a.confidence_score = $confidence_score,
			a.checks_completed = $checks_completed,
			a.checks_failed = $checks_failed,
			a.block_reasons = $block_reasons,
			a.error = $error,
			a.created_at = $created_at,
			a.duration_ms = $duration_ms
		MERGE (t)-[:ASSESSED]->(a)
	`

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, assessmentParams(assessment))
	})
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

// SaveSwap records that the sender is trading the analysis target token
func (r *Neo4JAssessmentRepository) SaveSwap(ctx context.Context, tx *entity.PendingTransaction, analysis *entity.TransactionAnalysis) error {
	params, err := swapParams(tx, analysis)
	if err != nil {
		return err
	}

	session, err := r.client.session(ctx, neo4j.AccessModeWrite)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	query := `
		MERGE (w:Wallet {address: $from_address})
		ON CREATE SET w.first_seen = $timestamp
		SET w.last_seen = $timestamp
		MERGE (t:Token {address: $token_address})
		ON CREATE SET t.first_seen = $timestamp
		MERGE (w)-[s:SWAPPED {tx_hash: $tx_hash}]->(t)
		SET s.transaction_type = $transaction_type,
			s.amount_in_eth = $amount_in_eth,
			s.risk_score = $risk_score,
			s.risk_flags = $risk_flags,
			s.chain = $chain,
			s.timestamp = $timestamp
	`

	_, err = session.ExecuteWrite(ctx, func(t neo4j.ManagedTransaction) (any, error) {
		return t.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to save swap: %w", err)
	}
	return nil
}

// GetRecentAssessments returns the latest assessments for a token, newest first
func (r *Neo4JAssessmentRepository) GetRecentAssessments(ctx context.Context, tokenAddress string, limit int) ([]*entity.RiskAssessment, error) {
	session, err := r.client.session(ctx, neo4j.AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)

	query := `
		MATCH (t:Token {address: $token_address})-[:ASSESSED]->(a:Assessment)
		RETURN a
		ORDER BY a.created_at DESC
		LIMIT $limit
	`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"token_address": tokenAddress,
			"limit":         limit,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		assessments := make([]*entity.RiskAssessment, 0, len(records))
		for _, record := range records {
			raw, ok := record.Get("a")
			if !ok {
				continue
			}
			node, ok := raw.(neo4j.Node)
			if !ok {
				continue
			}
			assessments = append(assessments, assessmentFromProps(tokenAddress, node.Props))
		}
		return assessments, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get assessments: %w", err)
	}
	return result.([]*entity.RiskAssessment), nil
}

func assessmentParams(a *entity.RiskAssessment) map[string]interface{} {
	reasons := a.BlockReasons
	if reasons == nil {
		reasons = []string{}
	}
	return map[string]interface{}{
		"id":                 a.ID,
		"token_address":      a.TokenAddress,
		"pair_address":       a.PairAddress,
		"chain":              a.Chain,
		"profile":            string(a.Profile),
		"mode":               string(a.Mode),
		"state":              string(a.State),
		"decision":           string(a.Decision),
		"overall_risk_score": a.OverallRiskScore,
		"risk_level":         string(a.RiskLevel),
		"confidence_score":   a.ConfidenceScore,
		"checks_completed":   a.ChecksCompleted,
		"checks_failed":      a.ChecksFailed,
		"block_reasons":      reasons,
		"error":              a.Error,
		"created_at":         a.CreatedAt,
		"duration_ms":        a.Duration.Milliseconds(),
	}
}

func swapParams(tx *entity.PendingTransaction, analysis *entity.TransactionAnalysis) (map[string]interface{}, error) {
	if tx == nil || analysis == nil {
		return nil, errors.New("swap record needs both transaction and analysis")
	}
	token := analysis.Params.TargetToken()
	if token == "" {
		return nil, errNoSwapTarget
	}

	flags := make([]string, len(analysis.RiskFlags))
	for i, f := range analysis.RiskFlags {
		flags[i] = string(f)
	}
	return map[string]interface{}{
		"from_address":     tx.From,
		"token_address":    token,
		"tx_hash":          tx.Hash,
		"transaction_type": string(analysis.TransactionType),
		"amount_in_eth":    analysis.AmountInETH,
		"risk_score":       analysis.RiskScore,
		"risk_flags":       flags,
		"chain":            tx.Chain,
		"timestamp":        tx.Timestamp,
	}, nil
}

func assessmentFromProps(token string, props map[string]any) *entity.RiskAssessment {
	a := &entity.RiskAssessment{
		ID:               propString(props, "id"),
		TokenAddress:     token,
		PairAddress:      propString(props, "pair_address"),
		Chain:            propString(props, "chain"),
		Profile:          entity.RiskProfileName(propString(props, "profile")),
		Mode:             entity.ExecutionMode(propString(props, "mode")),
		State:            entity.AssessmentState(propString(props, "state")),
		Decision:         entity.TradingDecision(propString(props, "decision")),
		OverallRiskScore: propFloat(props, "overall_risk_score"),
		RiskLevel:        entity.RiskLevel(propString(props, "risk_level")),
		ConfidenceScore:  propFloat(props, "confidence_score"),
		ChecksCompleted:  int(propInt(props, "checks_completed")),
		ChecksFailed:     int(propInt(props, "checks_failed")),
		Error:            propString(props, "error"),
		Duration:         time.Duration(propInt(props, "duration_ms")) * time.Millisecond,
	}
	a.IsBlocked = a.Decision == entity.DecisionBlock
	if t, ok := props["created_at"].(time.Time); ok {
		a.CreatedAt = t
	}
	if raw, ok := props["block_reasons"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				a.BlockReasons = append(a.BlockReasons, s)
			}
		}
	}
	return a
}

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func propFloat(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func propInt(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
