package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"
	"mempool-risk-engine/internal/infrastructure/workerpool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	weth         = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdc         = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	usdcWETHPair = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
)

type fixedAnalyzer struct {
	analysis *entity.TransactionAnalysis
}

func (f *fixedAnalyzer) Analyze(_ context.Context, tx *entity.PendingTransaction) *entity.TransactionAnalysis {
	if f.analysis == nil {
		return nil
	}
	a := *f.analysis
	a.TxHash = tx.Hash
	a.Chain = tx.Chain
	return &a
}

type fakeCoordinator struct {
	mu       sync.Mutex
	decision entity.TradingDecision
	assessed []entity.TokenPair
	profiles []entity.RiskProfileName
	quick    int
	bulk     int
}

func (f *fakeCoordinator) AssessTokenRisk(_ context.Context, pair entity.TokenPair, profile entity.RiskProfileName, mode entity.ExecutionMode) *entity.RiskAssessment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessed = append(f.assessed, pair)
	f.profiles = append(f.profiles, profile)
	return &entity.RiskAssessment{
		ID:               "a-" + pair.TokenAddress,
		TokenAddress:     pair.TokenAddress,
		PairAddress:      pair.PairAddress,
		Chain:            pair.Chain,
		Profile:          profile,
		Mode:             mode,
		Decision:         f.decision,
		OverallRiskScore: 20,
		ConfidenceScore:  90,
	}
}

func (f *fakeCoordinator) BulkAssessment(ctx context.Context, pairs []entity.TokenPair, profile entity.RiskProfileName) *entity.BulkAssessmentResult {
	f.mu.Lock()
	f.bulk++
	f.mu.Unlock()
	res := &entity.BulkAssessmentResult{Total: len(pairs)}
	for _, p := range pairs {
		res.Results = append(res.Results, &entity.RiskAssessment{ID: "bulk-" + p.TokenAddress, TokenAddress: p.TokenAddress, Chain: p.Chain})
	}
	return res
}

func (f *fakeCoordinator) QuickHoneypotCheck(_ context.Context, token, pair string) *entity.QuickHoneypotResult {
	f.mu.Lock()
	f.quick++
	f.mu.Unlock()
	return &entity.QuickHoneypotResult{TokenAddress: token, PairAddress: pair, Status: entity.CheckStatusCompleted}
}

type recordingPublisher struct {
	mu          sync.Mutex
	analyses    []*entity.TransactionAnalysis
	assessments []*entity.RiskAssessment
}

func (p *recordingPublisher) PublishAnalysis(_ context.Context, a *entity.TransactionAnalysis) error {
	p.mu.Lock()
	p.analyses = append(p.analyses, a)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) PublishAssessment(_ context.Context, a *entity.RiskAssessment) error {
	p.mu.Lock()
	p.assessments = append(p.assessments, a)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fakeExecutor struct {
	decisions []*entity.TradeDecision
	err       error
}

func (e *fakeExecutor) Submit(_ context.Context, d *entity.TradeDecision) (*entity.ExecutionResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.decisions = append(e.decisions, d)
	return &entity.ExecutionResult{Submitted: true}, nil
}

type fakeRepo struct {
	assessments int
	swaps       int
}

func (r *fakeRepo) SaveAssessment(context.Context, *entity.RiskAssessment) error {
	r.assessments++
	return nil
}

func (r *fakeRepo) SaveSwap(context.Context, *entity.PendingTransaction, *entity.TransactionAnalysis) error {
	r.swaps++
	return nil
}

func (r *fakeRepo) GetRecentAssessments(context.Context, string, int) ([]*entity.RiskAssessment, error) {
	return nil, nil
}

type fakeTracker struct {
	attached map[string]*entity.TransactionAnalysis
}

func (f *fakeTracker) AttachAnalysis(hash string, a *entity.TransactionAnalysis) bool {
	f.attached[hash] = a
	return true
}

// inlinePool runs tasks synchronously and records their priority
type inlinePool struct {
	priorities []workerpool.Priority
	err        error
}

func (p *inlinePool) Submit(priority workerpool.Priority, task workerpool.Task) error {
	if p.err != nil {
		return p.err
	}
	p.priorities = append(p.priorities, priority)
	task(context.Background())
	return nil
}

type pipelineFixture struct {
	svc         *PipelineService
	analyzer    *fixedAnalyzer
	coordinator *fakeCoordinator
	publisher   *recordingPublisher
	executor    *fakeExecutor
	repo        *fakeRepo
	tracker     *fakeTracker
	pool        *inlinePool
	clock       time.Time
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	cfg := &config.Config{
		Chains: map[string]config.ChainConfig{
			"ethereum": {
				ChainID:       1,
				Factory:       "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
				InitCodeHash:  "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f",
				WrappedNative: weth,
			},
			"bare": {ChainID: 99},
		},
		Pipeline: config.PipelineConfig{
			AssessSwaps:           true,
			SubmitApproved:        true,
			DedupTTL:              time.Minute,
			MinAnalysisConfidence: 0.6,
		},
	}

	f := &pipelineFixture{
		analyzer:    &fixedAnalyzer{analysis: buyAnalysis()},
		coordinator: &fakeCoordinator{decision: entity.DecisionApprove},
		publisher:   &recordingPublisher{},
		executor:    &fakeExecutor{},
		repo:        &fakeRepo{},
		tracker:     &fakeTracker{attached: map[string]*entity.TransactionAnalysis{}},
		pool:        &inlinePool{},
		clock:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.svc = NewPipelineService(cfg, PipelineDeps{
		Analyzer:    f.analyzer,
		Coordinator: f.coordinator,
		Tracker:     f.tracker,
		Publisher:   f.publisher,
		Executor:    f.executor,
		Repo:        f.repo,
		Pool:        f.pool,
	}, logger.NewNop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func buyAnalysis() *entity.TransactionAnalysis {
	return &entity.TransactionAnalysis{
		TransactionType: entity.TxTypeSwapExactETHForTokens,
		Params:          &entity.SwapParams{TokenIn: weth, TokenOut: usdc},
		ConfidenceScore: 1.0,
	}
}

func pending(hash string) *entity.PendingTransaction {
	return &entity.PendingTransaction{Hash: hash, From: "0xfrom", Chain: "ethereum", Timestamp: time.Now()}
}

func TestHandleBuySwapAssessesAndSubmits(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.HandleTransaction(context.Background(), pending("0x01")))

	require.Len(t, f.coordinator.assessed, 1)
	pair := f.coordinator.assessed[0]
	assert.Equal(t, strings.ToLower(usdc), pair.TokenAddress)
	assert.Equal(t, usdcWETHPair, pair.PairAddress)
	assert.Equal(t, "ethereum", pair.Chain)
	assert.Equal(t, entity.RiskProfileName(""), f.coordinator.profiles[0], "pipeline uses the configured default profile")

	assert.Equal(t, []workerpool.Priority{workerpool.PriorityUrgent}, f.pool.priorities)
	assert.Len(t, f.publisher.analyses, 1)
	assert.Len(t, f.publisher.assessments, 1)
	assert.Equal(t, 1, f.repo.assessments)
	assert.Contains(t, f.tracker.attached, "0x01")

	require.Len(t, f.executor.decisions, 1)
	d := f.executor.decisions[0]
	assert.Equal(t, "0x01", d.SourceTxHash)
	assert.Equal(t, entity.DecisionApprove, d.Decision)
	assert.Equal(t, usdcWETHPair, d.PairAddress)

	stats := f.svc.GetStatistics()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Candidates)
	assert.Equal(t, int64(1), stats.Queued)
	assert.Equal(t, int64(1), stats.Submitted)
}

func TestHandleSkipsNonCandidates(t *testing.T) {
	tests := []struct {
		name     string
		analysis *entity.TransactionAnalysis
		chain    string
		publish  int
	}{
		{
			name:     "non dex",
			analysis: &entity.TransactionAnalysis{TransactionType: entity.TxTypeNonDEX, ConfidenceScore: 1},
			chain:    "ethereum",
			publish:  0,
		},
		{
			name: "sell side",
			analysis: &entity.TransactionAnalysis{
				TransactionType: entity.TxTypeSwapExactTokensForETH,
				Params:          &entity.SwapParams{TokenIn: usdc, TokenOut: weth},
				ConfidenceScore: 1,
			},
			chain:   "ethereum",
			publish: 1,
		},
		{
			name:     "no target token",
			analysis: &entity.TransactionAnalysis{TransactionType: entity.TxTypeSwapExactETHForTokens, ConfidenceScore: 1},
			chain:    "ethereum",
			publish:  1,
		},
		{
			name: "degraded",
			analysis: &entity.TransactionAnalysis{
				TransactionType: entity.TxTypeSwapExactETHForTokens,
				Params:          &entity.SwapParams{TokenOut: usdc},
				ConfidenceScore: 1,
				Degraded:        true,
			},
			chain:   "ethereum",
			publish: 1,
		},
		{
			name:     "chain without factory",
			analysis: buyAnalysis(),
			chain:    "bare",
			publish:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.analyzer.analysis = tt.analysis

			tx := pending("0x02")
			tx.Chain = tt.chain
			require.NoError(t, f.svc.HandleTransaction(context.Background(), tx))

			assert.Empty(t, f.coordinator.assessed)
			assert.Len(t, f.publisher.analyses, tt.publish)
		})
	}
}

func TestHandleLowConfidence(t *testing.T) {
	f := newFixture(t)
	a := buyAnalysis()
	a.ConfidenceScore = 0.5
	f.analyzer.analysis = a

	require.NoError(t, f.svc.HandleTransaction(context.Background(), pending("0x03")))
	assert.Empty(t, f.coordinator.assessed)
	assert.Equal(t, int64(1), f.svc.GetStatistics().LowConfidence)
}

func TestHandleDeduplicatesByToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleTransaction(ctx, pending("0x04")))
	f.clock = f.clock.Add(30 * time.Second)
	require.NoError(t, f.svc.HandleTransaction(ctx, pending("0x05")))
	assert.Len(t, f.coordinator.assessed, 1)
	assert.Equal(t, int64(1), f.svc.GetStatistics().Deduplicated)

	f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.svc.HandleTransaction(ctx, pending("0x06")))
	assert.Len(t, f.coordinator.assessed, 2, "window expired")
}

func TestHandleQueueFullReleasesToken(t *testing.T) {
	f := newFixture(t)
	f.pool.err = workerpool.ErrQueueFull

	err := f.svc.HandleTransaction(context.Background(), pending("0x07"))
	assert.ErrorIs(t, err, workerpool.ErrQueueFull)
	assert.Equal(t, int64(1), f.svc.GetStatistics().Dropped)

	f.pool.err = nil
	require.NoError(t, f.svc.HandleTransaction(context.Background(), pending("0x08")))
	assert.Len(t, f.coordinator.assessed, 1, "dropped token is not held by the dedup window")
}

func TestHandleOnlyApprovedIsSubmitted(t *testing.T) {
	f := newFixture(t)
	f.coordinator.decision = entity.DecisionSkip

	require.NoError(t, f.svc.HandleTransaction(context.Background(), pending("0x09")))
	assert.Len(t, f.coordinator.assessed, 1)
	assert.Empty(t, f.executor.decisions)
}

func TestHandleExecutorFailureCounted(t *testing.T) {
	f := newFixture(t)
	f.executor.err = errors.New("bus down")

	require.NoError(t, f.svc.HandleTransaction(context.Background(), pending("0x0a")))
	assert.Equal(t, int64(1), f.svc.GetStatistics().SubmitFailed)
}

func TestHandleRecordsSwaps(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.RecordSwaps = true
	f.svc.cfg.AssessSwaps = false

	require.NoError(t, f.svc.HandleTransaction(context.Background(), pending("0x0b")))
	assert.Equal(t, 1, f.repo.swaps)
	assert.Empty(t, f.coordinator.assessed)
}

func TestDispatchAssessment(t *testing.T) {
	tests := []struct {
		name     string
		req      *entity.AssessmentRequest
		wantErr  bool
		priority workerpool.Priority
		check    func(t *testing.T, resp *entity.AssessmentResponse)
	}{
		{
			name:     "single",
			req:      &entity.AssessmentRequest{TokenAddress: usdc, PairAddress: usdcWETHPair, Profile: "Conservative"},
			priority: workerpool.PriorityNormal,
			check: func(t *testing.T, resp *entity.AssessmentResponse) {
				require.NotNil(t, resp.Assessment)
				assert.Equal(t, entity.ProfileConservative, resp.Assessment.Profile)
			},
		},
		{
			name:     "quick",
			req:      &entity.AssessmentRequest{TokenAddress: usdc, PairAddress: usdcWETHPair, QuickOnly: true},
			priority: workerpool.PriorityNormal,
			check: func(t *testing.T, resp *entity.AssessmentResponse) {
				require.NotNil(t, resp.Quick)
				assert.Nil(t, resp.Assessment)
			},
		},
		{
			name: "bulk",
			req: &entity.AssessmentRequest{
				Chain: "ethereum",
				Pairs: []entity.TokenPair{{TokenAddress: usdc}, {TokenAddress: weth, Chain: "bsc"}},
			},
			priority: workerpool.PriorityBackground,
			check: func(t *testing.T, resp *entity.AssessmentResponse) {
				require.NotNil(t, resp.Bulk)
				require.Len(t, resp.Bulk.Results, 2)
				assert.Equal(t, "ethereum", resp.Bulk.Results[0].Chain)
				assert.Equal(t, "bsc", resp.Bulk.Results[1].Chain)
			},
		},
		{name: "unknown profile", req: &entity.AssessmentRequest{TokenAddress: usdc, Profile: "yolo"}, wantErr: true},
		{name: "unknown mode", req: &entity.AssessmentRequest{TokenAddress: usdc, Mode: "batch"}, wantErr: true},
		{name: "empty", req: &entity.AssessmentRequest{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			var responses []*entity.AssessmentResponse
			err := f.svc.DispatchAssessment(tt.req, func(resp *entity.AssessmentResponse) {
				responses = append(responses, resp)
			})
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, responses)
				return
			}
			require.NoError(t, err)
			require.Len(t, responses, 1)
			assert.Equal(t, []workerpool.Priority{tt.priority}, f.pool.priorities)
			tt.check(t, responses[0])
		})
	}
}

func TestDispatchQueueFull(t *testing.T) {
	f := newFixture(t)
	f.pool.err = workerpool.ErrQueueFull

	called := false
	err := f.svc.DispatchAssessment(&entity.AssessmentRequest{TokenAddress: usdc}, func(*entity.AssessmentResponse) { called = true })
	assert.ErrorIs(t, err, workerpool.ErrQueueFull)
	assert.False(t, called)
}

func TestDispatchBulkPublishesEachResult(t *testing.T) {
	f := newFixture(t)
	req := &entity.AssessmentRequest{Pairs: []entity.TokenPair{{TokenAddress: usdc}, {TokenAddress: weth}}}

	require.NoError(t, f.svc.DispatchAssessment(req, func(*entity.AssessmentResponse) {}))
	assert.Len(t, f.publisher.assessments, 2)
	assert.Equal(t, 2, f.repo.assessments)
}
