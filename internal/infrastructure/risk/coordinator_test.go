package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/blockchain"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = "0x1111111111111111111111111111111111111111"
	testPair  = "0x2222222222222222222222222222222222222222"
)

// fakeSource is an in-memory TokenDataSource
type fakeSource struct {
	sim        *entity.TradeSimulation
	liquidity  *entity.PairLiquidity
	ownership  *entity.TokenOwnership
	ownerErr   error
	code       []byte
	holders    []entity.HolderShare
	holdersErr error
	delay      time.Duration

	simCalls atomic.Int32
}

func healthySource() *fakeSource {
	return &fakeSource{
		sim:       &entity.TradeSimulation{CanBuy: true, CanSell: true},
		liquidity: &entity.PairLiquidity{PairAddress: testPair, LiquidityUSD: 100_000},
		ownership: &entity.TokenOwnership{Owner: blockchain.ZeroAddress, Renounced: true},
		code:      []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80, 0x15},
		holders: []entity.HolderShare{
			{Address: blockchain.DeadAddress, Pct: 40},
			{Address: testPair, Pct: 30},
			{Address: "0xa000000000000000000000000000000000000001", Pct: 5},
			{Address: "0xa000000000000000000000000000000000000002", Pct: 3},
			{Address: "0xa000000000000000000000000000000000000003", Pct: 2},
			{Address: "0xa000000000000000000000000000000000000004", Pct: 2},
			{Address: "0xa000000000000000000000000000000000000005", Pct: 2},
			{Address: "0xa000000000000000000000000000000000000006", Pct: 1},
			{Address: "0xa000000000000000000000000000000000000007", Pct: 1},
			{Address: "0xa000000000000000000000000000000000000008", Pct: 1},
			{Address: "0xa000000000000000000000000000000000000009", Pct: 1},
			{Address: "0xa00000000000000000000000000000000000000a", Pct: 1},
		},
	}
}

func honeypotSource() *fakeSource {
	s := healthySource()
	s.sim = &entity.TradeSimulation{CanBuy: true, CanSell: false, Reason: "TRANSFER_FAILED"}
	return s
}

func (s *fakeSource) wait(ctx context.Context) error {
	if s.delay == 0 {
		return nil
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSource) SimulateRoundTrip(ctx context.Context, token, pair string) (*entity.TradeSimulation, error) {
	s.simCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.sim, nil
}

func (s *fakeSource) PairLiquidity(ctx context.Context, token, pair string) (*entity.PairLiquidity, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.liquidity, nil
}

func (s *fakeSource) TokenOwnership(ctx context.Context, token string) (*entity.TokenOwnership, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.ownerErr != nil {
		return nil, s.ownerErr
	}
	return s.ownership, nil
}

func (s *fakeSource) ContractCode(ctx context.Context, token string) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.code, nil
}

func (s *fakeSource) TopHolders(ctx context.Context, token string, limit int) ([]entity.HolderShare, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.holdersErr != nil {
		return nil, s.holdersErr
	}
	return s.holders, nil
}

// fakeProvider panics for the "boom" chain to exercise bulk isolation
type fakeProvider struct {
	source service.TokenDataSource
	err    error
}

func (p *fakeProvider) DataSource(chain string) (service.TokenDataSource, error) {
	if chain == "boom" {
		panic("provider exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.source, nil
}

// stubCheck replaces a built-in check with scripted behaviour
type stubCheck struct {
	checkType entity.CheckType
	score     float64
	delay     time.Duration
	panics    bool
}

func (s stubCheck) Type() entity.CheckType { return s.checkType }

func (s stubCheck) Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error) {
	if s.panics {
		panic("check exploded")
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
	return s.score, nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			DefaultProfile:     string(entity.ProfileModerate),
			Mode:               string(entity.ModeParallel),
			CheckTimeout:       200 * time.Millisecond,
			AssessmentTimeout:  2 * time.Second,
			QuickCheckTimeout:  200 * time.Millisecond,
			MaxConcurrency:     6,
			BulkConcurrency:    3,
			SlowCheckThreshold: 100 * time.Millisecond,
		},
	}
}

func newTestCoordinator(source service.TokenDataSource) *Coordinator {
	return NewCoordinator(testConfig(), &fakeProvider{source: source}, logger.NewNop())
}

func pair() entity.TokenPair {
	return entity.TokenPair{TokenAddress: testToken, PairAddress: testPair}
}

func TestAssessHoneypotAlwaysBlocks(t *testing.T) {
	profiles := []entity.RiskProfileName{entity.ProfileConservative, entity.ProfileModerate, entity.ProfileAggressive}
	modes := []entity.ExecutionMode{entity.ModeParallel, entity.ModeSequential}

	for _, profile := range profiles {
		for _, mode := range modes {
			t.Run(fmt.Sprintf("%s/%s", profile, mode), func(t *testing.T) {
				c := newTestCoordinator(honeypotSource())
				a := c.AssessTokenRisk(context.Background(), pair(), profile, mode)

				assert.Equal(t, entity.DecisionBlock, a.Decision)
				assert.True(t, a.IsBlocked)
				assert.GreaterOrEqual(t, a.OverallRiskScore, 80.0)
				assert.Equal(t, entity.StateDecided, a.State)
				assert.Contains(t, a.ThoughtLog.Signals, "honeypot detected: TRANSFER_FAILED")
			})
		}
	}
}

func TestAssessHoneypotConservativeScenario(t *testing.T) {
	c := newTestCoordinator(honeypotSource())
	a := c.AssessTokenRisk(context.Background(), pair(), entity.ProfileConservative, entity.ModeParallel)

	assert.Equal(t, entity.DecisionBlock, a.Decision)
	assert.Greater(t, a.OverallRiskScore, 80.0)
	assert.True(t, a.IsBlocked)
	assert.Equal(t, entity.RiskLevelCritical, a.RiskLevel)
	assert.False(t, a.Summary.TradeReady)
}

func TestAssessSafeTokenConservativeScenario(t *testing.T) {
	source := healthySource()
	c := newTestCoordinator(source)
	a := c.AssessTokenRisk(context.Background(), pair(), entity.ProfileConservative, entity.ModeParallel)

	assert.Equal(t, entity.DecisionApprove, a.Decision)
	assert.Less(t, a.OverallRiskScore, 30.0)
	assert.Greater(t, a.ConfidenceScore, 70.0)
	assert.False(t, a.IsBlocked)
	assert.Empty(t, a.BlockReasons)
	assert.Equal(t, entity.RiskLevelLow, a.RiskLevel)
	assert.Equal(t, 6, a.ChecksCompleted)
	assert.Zero(t, a.ChecksFailed)
	assert.Equal(t, int32(1), source.simCalls.Load(), "honeypot and tax share one simulation")

	_, err := uuid.Parse(a.ID)
	require.NoError(t, err)

	require.NotNil(t, a.Summary)
	assert.True(t, a.Summary.TradeReady)
	assert.Equal(t, 100.0, a.Summary.SuccessRate)
	assert.Equal(t, "Proceed with trade", a.Summary.Recommendation)

	require.NotNil(t, a.ThoughtLog)
	assert.Equal(t, testToken, a.ThoughtLog.TokenAddress)
	assert.Equal(t, entity.DecisionApprove, a.ThoughtLog.Decision)
	assert.Len(t, a.ThoughtLog.Signals, 6)
	assert.Contains(t, a.ThoughtLog.Signals, "ownership renounced")
	assert.Equal(t, "Ran 6 checks in parallel mode under the conservative profile", a.ThoughtLog.ReasoningChain[0])
}

func TestExecutionModesAgree(t *testing.T) {
	tests := []struct {
		name   string
		source func() *fakeSource
		slow   []entity.CheckType
	}{
		{name: "healthy", source: healthySource},
		{name: "honeypot", source: honeypotSource},
		{name: "thin liquidity", source: func() *fakeSource {
			s := healthySource()
			s.liquidity.LiquidityUSD = 10_000
			return s
		}},
		{name: "three checks past their timeout", source: healthySource, slow: []entity.CheckType{
			entity.CheckOwnership, entity.CheckContractSecurity, entity.CheckHolderConcentration,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func(mode entity.ExecutionMode) *entity.RiskAssessment {
				c := newTestCoordinator(tt.source())
				for _, checkType := range tt.slow {
					c.RegisterCheck(stubCheck{checkType: checkType, delay: 3 * testConfig().Risk.CheckTimeout / 2})
				}
				return c.AssessTokenRisk(context.Background(), pair(), entity.ProfileModerate, mode)
			}
			parallel := run(entity.ModeParallel)
			sequential := run(entity.ModeSequential)

			assert.InDelta(t, parallel.OverallRiskScore, sequential.OverallRiskScore, 20)
			assert.Equal(t, parallel.Decision, sequential.Decision)
			assert.Equal(t, entity.ModeSequential, sequential.Mode)
			assert.NotEqual(t, entity.StateBlockedByTimeout, sequential.State)
			assert.Equal(t, len(tt.slow), sequential.ChecksFailed)
		})
	}
}

func TestAssessBlockingRules(t *testing.T) {
	tests := []struct {
		name       string
		profile    entity.RiskProfileName
		mutate     func(*fakeSource)
		want       entity.TradingDecision
		wantReason string
	}{
		{
			name:       "required check failed",
			profile:    entity.ProfileConservative,
			mutate:     func(s *fakeSource) { s.ownerErr = blockchain.ErrUnsupported },
			want:       entity.DecisionBlock,
			wantReason: "required check ownership did not complete",
		},
		{
			name:    "optional check failed",
			profile: entity.ProfileModerate,
			mutate:  func(s *fakeSource) { s.ownerErr = blockchain.ErrUnsupported },
			want:    entity.DecisionApprove,
		},
		{
			name:    "owner retained under conservative",
			profile: entity.ProfileConservative,
			mutate: func(s *fakeSource) {
				s.ownership = &entity.TokenOwnership{Owner: "0xb000000000000000000000000000000000000001"}
			},
			want:       entity.DecisionBlock,
			wantReason: "ownership is not renounced",
		},
		{
			name:    "owner retained under moderate",
			profile: entity.ProfileModerate,
			mutate: func(s *fakeSource) {
				s.ownership = &entity.TokenOwnership{Owner: "0xb000000000000000000000000000000000000001"}
			},
			want: entity.DecisionApprove,
		},
		{
			name:       "sell tax above conservative limit",
			profile:    entity.ProfileConservative,
			mutate:     func(s *fakeSource) { s.sim = &entity.TradeSimulation{CanBuy: true, CanSell: true, SellTaxPct: 12} },
			want:       entity.DecisionBlock,
			wantReason: "tax score",
		},
		{
			name:       "no liquidity",
			profile:    entity.ProfileModerate,
			mutate:     func(s *fakeSource) { s.liquidity.LiquidityUSD = 0 },
			want:       entity.DecisionBlock,
			wantReason: "liquidity score 100.0 exceeds blocking threshold 90.0",
		},
		{
			name:    "ambiguous band is skipped",
			profile: entity.ProfileAggressive,
			mutate: func(s *fakeSource) {
				s.sim = &entity.TradeSimulation{CanBuy: true, CanSell: true, SellTaxPct: 18, BuyTaxPct: 20}
				s.liquidity.LiquidityUSD = 1_000
				s.ownership = &entity.TokenOwnership{Owner: "0xb000000000000000000000000000000000000001"}
			},
			want: entity.DecisionSkip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := healthySource()
			tt.mutate(source)
			a := newTestCoordinator(source).AssessTokenRisk(context.Background(), pair(), tt.profile, entity.ModeParallel)

			assert.Equal(t, tt.want, a.Decision, "score %.1f reasons %v", a.OverallRiskScore, a.BlockReasons)
			if tt.wantReason != "" {
				assert.True(t, containsPrefix(a.BlockReasons, tt.wantReason), "reasons: %v", a.BlockReasons)
			}
		})
	}
}

func containsPrefix(reasons []string, prefix string) bool {
	for _, r := range reasons {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func TestAssessCheckIsolation(t *testing.T) {
	c := newTestCoordinator(healthySource())
	c.RegisterCheck(stubCheck{checkType: entity.CheckHolderConcentration, delay: time.Second})
	c.RegisterCheck(stubCheck{checkType: entity.CheckContractSecurity, panics: true})

	a := c.AssessTokenRisk(context.Background(), pair(), entity.ProfileModerate, entity.ModeParallel)

	holders := a.Result(entity.CheckHolderConcentration)
	require.NotNil(t, holders)
	assert.Equal(t, entity.CheckStatusTimeout, holders.Status)
	assert.Equal(t, 100.0, holders.RiskScore)

	security := a.Result(entity.CheckContractSecurity)
	require.NotNil(t, security)
	assert.Equal(t, entity.CheckStatusFailed, security.Status)
	assert.Contains(t, security.Error, "check exploded")

	assert.Equal(t, 4, a.ChecksCompleted)
	assert.Equal(t, 2, a.ChecksFailed)
	// Both are optional for the moderate profile
	assert.Equal(t, entity.DecisionApprove, a.Decision)
	assert.Equal(t, entity.StateDecided, a.State)
}

func TestAssessTimeoutBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.AssessmentTimeout = 50 * time.Millisecond
	cfg.Risk.CheckTimeout = time.Second

	source := healthySource()
	source.delay = 500 * time.Millisecond
	c := NewCoordinator(cfg, &fakeProvider{source: source}, logger.NewNop())

	for _, mode := range []entity.ExecutionMode{entity.ModeParallel, entity.ModeSequential} {
		start := time.Now()
		a := c.AssessTokenRisk(context.Background(), pair(), entity.ProfileModerate, mode)

		assert.Less(t, time.Since(start), 400*time.Millisecond, mode)
		assert.Equal(t, entity.StateBlockedByTimeout, a.State)
		assert.Equal(t, entity.DecisionBlock, a.Decision)
		assert.Equal(t, 100.0, a.OverallRiskScore)
		assert.Contains(t, a.Error, "timed out")
		assert.NotNil(t, a.ThoughtLog)
	}
	assert.Equal(t, int64(2), c.GetStatistics().Timeouts)
}

func TestAssessConfidenceOrdering(t *testing.T) {
	fast := newTestCoordinator(healthySource()).
		AssessTokenRisk(context.Background(), pair(), entity.ProfileModerate, entity.ModeParallel)

	failing := healthySource()
	failing.ownerErr = errors.New("rpc down")
	withFailure := newTestCoordinator(failing).
		AssessTokenRisk(context.Background(), pair(), entity.ProfileModerate, entity.ModeParallel)

	slowCoordinator := newTestCoordinator(healthySource())
	for _, checkType := range entity.AllCheckTypes {
		slowCoordinator.RegisterCheck(stubCheck{checkType: checkType, delay: 60 * time.Millisecond})
	}
	slow := slowCoordinator.AssessTokenRisk(context.Background(), pair(), entity.ProfileModerate, entity.ModeParallel)

	assert.Greater(t, fast.ConfidenceScore, withFailure.ConfidenceScore)
	assert.Greater(t, fast.ConfidenceScore, slow.ConfidenceScore)
	assert.LessOrEqual(t, fast.ConfidenceScore, 100.0)
}

func TestAssessDegradedInputs(t *testing.T) {
	tests := []struct {
		name    string
		pair    entity.TokenPair
		profile entity.RiskProfileName
		mode    entity.ExecutionMode
		err     error
		want    string
	}{
		{name: "invalid token", pair: entity.TokenPair{TokenAddress: "0xnope", PairAddress: testPair}, want: "invalid address"},
		{name: "invalid pair", pair: entity.TokenPair{TokenAddress: testToken, PairAddress: "pair"}, want: "pair"},
		{name: "unknown profile", pair: pair(), profile: "reckless", want: "unknown risk profile"},
		{name: "unknown mode", pair: pair(), mode: "batch", want: "unknown execution mode"},
		{name: "unknown chain", pair: pair(), err: blockchain.ErrUnknownChain, want: "unknown chain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(testConfig(), &fakeProvider{source: healthySource(), err: tt.err}, logger.NewNop())
			a := c.AssessTokenRisk(context.Background(), tt.pair, tt.profile, tt.mode)

			assert.Equal(t, entity.DecisionBlock, a.Decision)
			assert.Equal(t, 100.0, a.OverallRiskScore)
			assert.Contains(t, a.Error, tt.want)
			assert.NotEmpty(t, a.ID)
			assert.NotNil(t, a.Summary)
		})
	}
}

func TestAssessDefaultsProfileAndMode(t *testing.T) {
	a := newTestCoordinator(healthySource()).AssessTokenRisk(context.Background(), pair(), "", "")
	assert.Equal(t, entity.ProfileModerate, a.Profile)
	assert.Equal(t, entity.ModeParallel, a.Mode)
}

func TestBulkAssessmentIsolatesItems(t *testing.T) {
	c := newTestCoordinator(healthySource())

	pairs := make([]entity.TokenPair, 5)
	for i := range pairs {
		pairs[i] = entity.TokenPair{TokenAddress: fmt.Sprintf("0x%040x", i+1), PairAddress: testPair}
	}
	pairs[2].Chain = "boom"

	bulk := c.BulkAssessment(context.Background(), pairs, entity.ProfileModerate)

	require.Len(t, bulk.Results, len(pairs))
	assert.Equal(t, 5, bulk.Total)
	assert.Equal(t, 4, bulk.Approved)
	assert.Equal(t, 1, bulk.Blocked)
	assert.Equal(t, 1, bulk.Failed)
	for i, r := range bulk.Results {
		assert.Equal(t, pairs[i].TokenAddress, r.TokenAddress, "results keep input order")
	}
	assert.Equal(t, entity.DecisionBlock, bulk.Results[2].Decision)
	assert.Contains(t, bulk.Results[2].Error, "provider exploded")
	assert.Greater(t, bulk.AverageScore, 0.0)
}

func TestBulkAssessmentEmpty(t *testing.T) {
	bulk := newTestCoordinator(healthySource()).BulkAssessment(context.Background(), nil, entity.ProfileModerate)
	assert.Zero(t, bulk.Total)
	assert.Empty(t, bulk.Results)
}

func TestQuickHoneypotCheck(t *testing.T) {
	slow := healthySource()
	slow.delay = time.Second

	tests := []struct {
		name         string
		source       *fakeSource
		token        string
		wantStatus   entity.CheckStatus
		wantHoneypot bool
		wantScore    float64
	}{
		{name: "invalid address", source: healthySource(), token: "not-an-address", wantStatus: entity.CheckStatusFailed, wantHoneypot: true, wantScore: 100},
		{name: "honeypot", source: honeypotSource(), token: testToken, wantStatus: entity.CheckStatusCompleted, wantHoneypot: true, wantScore: 100},
		{name: "clean", source: healthySource(), token: testToken, wantStatus: entity.CheckStatusCompleted, wantHoneypot: false, wantScore: 0},
		{name: "slow source fails closed", source: slow, token: testToken, wantStatus: entity.CheckStatusFailed, wantHoneypot: true, wantScore: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestCoordinator(tt.source).QuickHoneypotCheck(context.Background(), tt.token, testPair)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantHoneypot, result.IsHoneypot)
			assert.Equal(t, tt.wantScore, result.RiskScore)
			assert.Less(t, result.Duration, 500*time.Millisecond)
		})
	}
}

func TestCoordinatorStatistics(t *testing.T) {
	c := newTestCoordinator(healthySource())
	c.AssessTokenRisk(context.Background(), pair(), entity.ProfileModerate, entity.ModeParallel)
	c.AssessTokenRisk(context.Background(), entity.TokenPair{TokenAddress: "bad"}, entity.ProfileModerate, entity.ModeParallel)

	stats := c.GetStatistics()
	assert.Equal(t, int64(2), stats.Assessments)
	assert.Equal(t, int64(1), stats.Approved)
	assert.Equal(t, int64(1), stats.Blocked)
	assert.Equal(t, int64(1), stats.Degraded)
	assert.Greater(t, stats.AverageDuration, time.Duration(0))
}
