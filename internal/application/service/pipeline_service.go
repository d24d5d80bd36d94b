package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/repository"
	"mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/blockchain"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"
	"mempool-risk-engine/internal/infrastructure/messaging"
	"mempool-risk-engine/internal/infrastructure/workerpool"

	"go.uber.org/zap"
)

// dedupPruneSize is the dedup map size at which expired entries are swept
const dedupPruneSize = 4096

var errEmptyRequest = errors.New("request names no token")

// TaskSubmitter schedules work by priority class
type TaskSubmitter interface {
	Submit(priority workerpool.Priority, task workerpool.Task) error
}

// AnalysisTracker stores analyses next to the cached pending transaction
type AnalysisTracker interface {
	AttachAnalysis(hash string, analysis *entity.TransactionAnalysis) bool
}

var _ messaging.AssessmentDispatcher = (*PipelineService)(nil)

// PipelineService wires the monitor, analyzer and coordinator together and
// serves assessment requests from the message bus
type PipelineService struct {
	cfg         config.PipelineConfig
	chains      map[string]config.ChainConfig
	analyzer    service.TransactionAnalyzer
	coordinator service.RiskCoordinator
	tracker     AnalysisTracker
	publisher   service.EventPublisher
	executor    service.ExecutionManager
	repo        repository.AssessmentRepository
	pool        TaskSubmitter
	logger      *logger.Logger
	now         func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time

	processed     atomic.Int64
	dexSwaps      atomic.Int64
	candidates    atomic.Int64
	deduplicated  atomic.Int64
	lowConfidence atomic.Int64
	queued        atomic.Int64
	dropped       atomic.Int64
	submitted     atomic.Int64
	submitFailed  atomic.Int64
	publishErrors atomic.Int64
	persistErrors atomic.Int64
	requests      atomic.Int64
}

// PipelineDeps groups the collaborators of the pipeline. Executor and Repo may be nil.
type PipelineDeps struct {
	Analyzer    service.TransactionAnalyzer
	Coordinator service.RiskCoordinator
	Tracker     AnalysisTracker
	Publisher   service.EventPublisher
	Executor    service.ExecutionManager
	Repo        repository.AssessmentRepository
	Pool        TaskSubmitter
}

// NewPipelineService creates the pipeline
func NewPipelineService(cfg *config.Config, deps PipelineDeps, logger *logger.Logger) *PipelineService {
	return &PipelineService{
		cfg:         cfg.Pipeline,
		chains:      cfg.Chains,
		analyzer:    deps.Analyzer,
		coordinator: deps.Coordinator,
		tracker:     deps.Tracker,
		publisher:   deps.Publisher,
		executor:    deps.Executor,
		repo:        deps.Repo,
		pool:        deps.Pool,
		logger:      logger.WithComponent("pipeline"),
		now:         time.Now,
		recent:      make(map[string]time.Time),
	}
}

// HandleTransaction is the monitor callback. It analyzes inline and queues
// any follow-up assessment, so it returns well inside the callback budget.
func (s *PipelineService) HandleTransaction(ctx context.Context, tx *entity.PendingTransaction) error {
	s.processed.Add(1)

	analysis := s.analyzer.Analyze(ctx, tx)
	if analysis == nil {
		return nil
	}
	if s.tracker != nil {
		s.tracker.AttachAnalysis(tx.Hash, analysis)
	}
	if !analysis.TransactionType.IsDEX() {
		return nil
	}

	if err := s.publisher.PublishAnalysis(ctx, analysis); err != nil {
		s.publishErrors.Add(1)
		s.logger.Warn("Failed to publish analysis", zap.String("tx_hash", tx.Hash), zap.Error(err))
	}

	if analysis.TransactionType.IsSwap() {
		s.dexSwaps.Add(1)
		if s.cfg.RecordSwaps && s.repo != nil {
			if err := s.repo.SaveSwap(ctx, tx, analysis); err != nil {
				s.persistErrors.Add(1)
				s.logger.Debug("Failed to record swap", zap.String("tx_hash", tx.Hash), zap.Error(err))
			}
		}
	}

	if !s.cfg.AssessSwaps {
		return nil
	}
	pair, ok := s.candidate(tx, analysis)
	if !ok {
		return nil
	}
	return s.enqueueAssessment(pair, tx.Hash, analysis)
}

// candidate resolves the token/pair a buy-side swap is about
func (s *PipelineService) candidate(tx *entity.PendingTransaction, analysis *entity.TransactionAnalysis) (entity.TokenPair, bool) {
	if analysis.Degraded || !analysis.TransactionType.IsSwap() {
		return entity.TokenPair{}, false
	}

	chain, ok := s.chains[tx.Chain]
	if !ok || chain.Factory == "" || chain.InitCodeHash == "" || chain.WrappedNative == "" {
		return entity.TokenPair{}, false
	}

	buysWithNative := analysis.TransactionType.PaysNative() ||
		(analysis.Params != nil && sameToken(analysis.Params.TokenIn, chain.WrappedNative))
	if !buysWithNative {
		return entity.TokenPair{}, false
	}

	token := analysis.Params.TargetToken()
	if token == "" || sameToken(token, chain.WrappedNative) {
		return entity.TokenPair{}, false
	}
	s.candidates.Add(1)

	if analysis.ConfidenceScore < s.cfg.MinAnalysisConfidence {
		s.lowConfidence.Add(1)
		return entity.TokenPair{}, false
	}

	pairAddress, err := blockchain.DerivePairAddress(chain.Factory, chain.InitCodeHash, token, chain.WrappedNative)
	if err != nil {
		s.logger.Debug("Failed to derive pair address", zap.String("token", token), zap.Error(err))
		return entity.TokenPair{}, false
	}

	normalized, err := blockchain.NormalizeAddress(token)
	if err != nil {
		return entity.TokenPair{}, false
	}
	return entity.TokenPair{TokenAddress: normalized, PairAddress: pairAddress, Chain: tx.Chain}, true
}

func (s *PipelineService) enqueueAssessment(pair entity.TokenPair, sourceTx string, analysis *entity.TransactionAnalysis) error {
	key := pair.Chain + ":" + pair.TokenAddress
	if !s.claim(key) {
		s.deduplicated.Add(1)
		return nil
	}

	err := s.pool.Submit(workerpool.PriorityUrgent, func(ctx context.Context) {
		s.assessCandidate(ctx, pair, sourceTx, analysis)
	})
	if err != nil {
		s.release(key)
		s.dropped.Add(1)
		return fmt.Errorf("failed to queue assessment for %s: %w", pair.TokenAddress, err)
	}
	s.queued.Add(1)
	return nil
}

// assessCandidate runs on the worker pool
func (s *PipelineService) assessCandidate(ctx context.Context, pair entity.TokenPair, sourceTx string, analysis *entity.TransactionAnalysis) {
	assessment := s.coordinator.AssessTokenRisk(ctx, pair, "", "")
	s.deliver(ctx, assessment)

	log := s.logger.WithToken(pair.Chain, pair.TokenAddress)
	log.Info("Swap target assessed",
		zap.String("source_tx", sourceTx),
		zap.String("decision", string(assessment.Decision)),
		zap.Float64("risk_score", assessment.OverallRiskScore))

	if assessment.Decision != entity.DecisionApprove || !s.cfg.SubmitApproved || s.executor == nil {
		return
	}

	decision := &entity.TradeDecision{
		AssessmentID: assessment.ID,
		Chain:        pair.Chain,
		TokenAddress: assessment.TokenAddress,
		PairAddress:  assessment.PairAddress,
		Decision:     assessment.Decision,
		RiskScore:    assessment.OverallRiskScore,
		Confidence:   assessment.ConfidenceScore,
		SourceTxHash: sourceTx,
		Swap:         analysis.Params,
		CreatedAt:    s.now(),
	}
	if _, err := s.executor.Submit(ctx, decision); err != nil {
		s.submitFailed.Add(1)
		log.Error("Failed to submit trade decision",
			zap.String("assessment_id", assessment.ID),
			zap.Error(err))
		return
	}
	s.submitted.Add(1)
}

// deliver publishes and persists one assessment
func (s *PipelineService) deliver(ctx context.Context, assessment *entity.RiskAssessment) {
	if err := s.publisher.PublishAssessment(ctx, assessment); err != nil {
		s.publishErrors.Add(1)
		s.logger.Warn("Failed to publish assessment", zap.String("assessment_id", assessment.ID), zap.Error(err))
	}
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveAssessment(ctx, assessment); err != nil {
		s.persistErrors.Add(1)
		s.logger.Debug("Failed to persist assessment", zap.String("assessment_id", assessment.ID), zap.Error(err))
	}
}

// claim marks the key as assessed unless it was within the dedup window
func (s *PipelineService) claim(key string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.recent[key]; ok && now.Sub(last) < s.cfg.DedupTTL {
		return false
	}
	if len(s.recent) >= dedupPruneSize {
		for k, seen := range s.recent {
			if now.Sub(seen) >= s.cfg.DedupTTL {
				delete(s.recent, k)
			}
		}
	}
	s.recent[key] = now
	return true
}

func (s *PipelineService) release(key string) {
	s.mu.Lock()
	delete(s.recent, key)
	s.mu.Unlock()
}

// DispatchAssessment schedules a request from the message bus. Quick and
// single assessments run at NORMAL priority, bulk at BACKGROUND.
func (s *PipelineService) DispatchAssessment(req *entity.AssessmentRequest, respond func(*entity.AssessmentResponse)) error {
	s.requests.Add(1)

	if req.Profile != "" {
		profile, err := entity.ParseRiskProfileName(string(req.Profile))
		if err != nil {
			return err
		}
		req.Profile = profile
	}
	if req.Mode != "" {
		mode, err := entity.ParseExecutionMode(string(req.Mode))
		if err != nil {
			return err
		}
		req.Mode = mode
	}

	switch {
	case len(req.Pairs) > 0:
		return s.pool.Submit(workerpool.PriorityBackground, func(ctx context.Context) {
			pairs := make([]entity.TokenPair, len(req.Pairs))
			for i, p := range req.Pairs {
				if p.Chain == "" {
					p.Chain = req.Chain
				}
				pairs[i] = p
			}
			bulk := s.coordinator.BulkAssessment(ctx, pairs, req.Profile)
			for _, a := range bulk.Results {
				s.deliver(ctx, a)
			}
			respond(&entity.AssessmentResponse{Bulk: bulk})
		})

	case req.TokenAddress == "":
		return errEmptyRequest

	case req.QuickOnly:
		return s.pool.Submit(workerpool.PriorityNormal, func(ctx context.Context) {
			respond(&entity.AssessmentResponse{
				Quick: s.coordinator.QuickHoneypotCheck(ctx, req.TokenAddress, req.PairAddress),
			})
		})

	default:
		return s.pool.Submit(workerpool.PriorityNormal, func(ctx context.Context) {
			pair := entity.TokenPair{TokenAddress: req.TokenAddress, PairAddress: req.PairAddress, Chain: req.Chain}
			assessment := s.coordinator.AssessTokenRisk(ctx, pair, req.Profile, req.Mode)
			s.deliver(ctx, assessment)
			respond(&entity.AssessmentResponse{Assessment: assessment})
		})
	}
}

// PipelineStats counts what flowed through the pipeline
type PipelineStats struct {
	Processed     int64 `json:"processed"`
	DEXSwaps      int64 `json:"dex_swaps"`
	Candidates    int64 `json:"candidates"`
	Deduplicated  int64 `json:"deduplicated"`
	LowConfidence int64 `json:"low_confidence"`
	Queued        int64 `json:"queued"`
	Dropped       int64 `json:"dropped"`
	Submitted     int64 `json:"submitted"`
	SubmitFailed  int64 `json:"submit_failed"`
	PublishErrors int64 `json:"publish_errors"`
	PersistErrors int64 `json:"persist_errors"`
	Requests      int64 `json:"requests"`
}

// GetStatistics returns the pipeline counters
func (s *PipelineService) GetStatistics() PipelineStats {
	return PipelineStats{
		Processed:     s.processed.Load(),
		DEXSwaps:      s.dexSwaps.Load(),
		Candidates:    s.candidates.Load(),
		Deduplicated:  s.deduplicated.Load(),
		LowConfidence: s.lowConfidence.Load(),
		Queued:        s.queued.Load(),
		Dropped:       s.dropped.Load(),
		Submitted:     s.submitted.Load(),
		SubmitFailed:  s.submitFailed.Load(),
		PublishErrors: s.publishErrors.Load(),
		PersistErrors: s.persistErrors.Load(),
		Requests:      s.requests.Load(),
	}
}

func sameToken(a, b string) bool {
	na, err := blockchain.NormalizeAddress(a)
	if err != nil {
		return false
	}
	nb, err := blockchain.NormalizeAddress(b)
	if err != nil {
		return false
	}
	return na == nb
}
