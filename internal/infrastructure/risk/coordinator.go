package risk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/blockchain"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// ErrUnknownProfile is returned for profile names outside the built-in table
var ErrUnknownProfile = errors.New("unknown risk profile")

// checkWeights drive the weighted average of completed check scores
var checkWeights = map[entity.CheckType]float64{
	entity.CheckHoneypot:            0.30,
	entity.CheckLiquidity:           0.20,
	entity.CheckOwnership:           0.15,
	entity.CheckTax:                 0.15,
	entity.CheckContractSecurity:    0.12,
	entity.CheckHolderConcentration: 0.08,
}

// Confidence contributions on the 0-100 scale
const (
	completionConfidence = 70.0
	speedConfidence      = 20.0
	cleanRunConfidence   = 10.0
	failurePenalty       = 15.0
)

var _ service.RiskCoordinator = (*Coordinator)(nil)

// Coordinator runs the configured checks for a profile and turns their
// results into a trading decision
type Coordinator struct {
	cfg         config.RiskConfig
	defaultMode entity.ExecutionMode
	profiles    map[entity.RiskProfileName]*entity.RiskProfile
	checks      map[entity.CheckType]RiskCheck
	sources     service.TokenDataSourceProvider
	logger      *logger.Logger

	assessments atomic.Int64
	approved    atomic.Int64
	skipped     atomic.Int64
	blocked     atomic.Int64
	timeouts    atomic.Int64
	failedItems atomic.Int64
	totalNanos  atomic.Int64
}

// NewCoordinator creates a coordinator with the built-in checks and profiles
func NewCoordinator(cfg *config.Config, sources service.TokenDataSourceProvider, log *logger.Logger) *Coordinator {
	mode, err := entity.ParseExecutionMode(cfg.Risk.Mode)
	if err != nil {
		mode = entity.ModeParallel
	}

	c := &Coordinator{
		cfg:         cfg.Risk,
		defaultMode: mode,
		profiles:    entity.DefaultRiskProfiles(),
		checks:      make(map[entity.CheckType]RiskCheck),
		sources:     sources,
		logger:      log.WithComponent("risk-coordinator"),
	}
	for _, check := range DefaultChecks() {
		c.RegisterCheck(check)
	}
	return c
}

// RegisterCheck adds or replaces the implementation of a check type
func (c *Coordinator) RegisterCheck(check RiskCheck) {
	c.checks[check.Type()] = check
}

// Profile returns a built-in profile by name; empty means the configured default
func (c *Coordinator) Profile(name entity.RiskProfileName) (*entity.RiskProfile, error) {
	if name == "" {
		name = entity.RiskProfileName(c.cfg.DefaultProfile)
	}
	parsed, err := entity.ParseRiskProfileName(string(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return c.profiles[parsed], nil
}

// AssessTokenRisk runs every check the profile names and decides. It never
// fails: timeouts, panics and bad input all come back as a BLOCK.
func (c *Coordinator) AssessTokenRisk(ctx context.Context, pair entity.TokenPair, profile entity.RiskProfileName, mode entity.ExecutionMode) (assessment *entity.RiskAssessment) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			assessment = c.degraded(pair, profile, mode, start, fmt.Errorf("assessment panic: %v", r))
		}
		c.record(assessment)
	}()

	return c.assess(ctx, pair, profile, mode, start)
}

func (c *Coordinator) assess(ctx context.Context, pair entity.TokenPair, profileName entity.RiskProfileName, mode entity.ExecutionMode, start time.Time) *entity.RiskAssessment {
	if mode == "" {
		mode = c.defaultMode
	}
	profile, err := c.Profile(profileName)
	if err != nil {
		return c.degraded(pair, profileName, mode, start, err)
	}
	if mode != entity.ModeParallel && mode != entity.ModeSequential {
		return c.degraded(pair, profile.Name, mode, start, fmt.Errorf("unknown execution mode %q", mode))
	}

	token, err := blockchain.NormalizeAddress(pair.TokenAddress)
	if err != nil {
		return c.degraded(pair, profile.Name, mode, start, fmt.Errorf("token: %w", err))
	}
	pairAddr := ""
	if pair.PairAddress != "" {
		if pairAddr, err = blockchain.NormalizeAddress(pair.PairAddress); err != nil {
			return c.degraded(pair, profile.Name, mode, start, fmt.Errorf("pair: %w", err))
		}
	}

	source, err := c.sources.DataSource(pair.Chain)
	if err != nil {
		return c.degraded(pair, profile.Name, mode, start, err)
	}

	assessment := &entity.RiskAssessment{
		ID:           uuid.NewString(),
		TokenAddress: token,
		PairAddress:  pairAddr,
		Chain:        pair.Chain,
		Profile:      profile.Name,
		Mode:         mode,
		State:        entity.StateCreated,
		CheckResults: []*entity.RiskCheckResult{},
		CreatedAt:    start,
	}
	req := &CheckRequest{
		Token:   token,
		Pair:    pairAddr,
		Chain:   pair.Chain,
		Profile: profile,
		Source:  source,
	}

	runCtx := ctx
	if c.cfg.AssessmentTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.AssessmentTimeout)
		defer cancel()
	}

	assessment.State = entity.StateChecksDispatched
	results, ok := c.runChecks(runCtx, req, profile.Checks(), mode)
	if !ok {
		c.blockOnTimeout(assessment, runCtx.Err())
		assessment.Duration = time.Since(start)
		return assessment
	}
	assessment.CheckResults = results

	assessment.State = entity.StateAggregation
	c.aggregate(assessment, profile)
	assessment.ThoughtLog = buildThoughtLog(assessment, time.Now())
	assessment.Summary = buildSummary(assessment)
	assessment.State = entity.StateDecided
	assessment.Duration = time.Since(start)

	c.logger.Info("Token risk assessed",
		zap.String("assessment_id", assessment.ID),
		zap.String("token", token),
		zap.String("profile", string(profile.Name)),
		zap.String("mode", string(mode)),
		zap.String("decision", string(assessment.Decision)),
		zap.Float64("risk_score", assessment.OverallRiskScore),
		zap.Float64("confidence", assessment.ConfidenceScore),
		zap.Duration("duration", assessment.Duration))
	return assessment
}

// runChecks dispatches checks and waits for all of them. It reports false when
// ctx expires first; in that case the partial results are abandoned.
func (c *Coordinator) runChecks(ctx context.Context, req *CheckRequest, types []entity.CheckType, mode entity.ExecutionMode) ([]*entity.RiskCheckResult, bool) {
	results := make([]*entity.RiskCheckResult, len(types))
	done := make(chan struct{})

	go func() {
		defer close(done)
		if mode == entity.ModeSequential {
			for i, t := range types {
				if ctx.Err() != nil {
					return
				}
				results[i] = c.runCheck(ctx, t, req, c.cfg.CheckTimeout)
			}
			return
		}

		g := new(errgroup.Group)
		if c.cfg.MaxConcurrency > 0 {
			g.SetLimit(c.cfg.MaxConcurrency)
		}
		for i, t := range types {
			g.Go(func() error {
				results[i] = c.runCheck(ctx, t, req, c.cfg.CheckTimeout)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		// Checks cut short by the assessment deadline count as a timeout too
		if ctx.Err() != nil {
			return nil, false
		}
		return results, true
	case <-ctx.Done():
		return nil, false
	}
}

// checkOutcome carries a check's return values across the timeout select
type checkOutcome struct {
	score   float64
	details entity.CheckDetails
	err     error
}

// runCheck executes a single check under its own budget. A panic, error or
// timeout is recorded as FAILED or TIMEOUT with the worst-case score.
func (c *Coordinator) runCheck(ctx context.Context, checkType entity.CheckType, req *CheckRequest, timeout time.Duration) *entity.RiskCheckResult {
	start := time.Now()
	result := &entity.RiskCheckResult{
		CheckType: checkType,
		Required:  req.Profile.IsRequired(checkType),
	}

	check, ok := c.checks[checkType]
	if !ok {
		result.Status = entity.CheckStatusFailed
		result.RiskScore = 100
		result.Error = "check not available"
		return result
	}

	var checkCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		checkCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		checkCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	outcome := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- checkOutcome{err: fmt.Errorf("check panic: %v", r)}
			}
		}()
		score, details, err := check.Run(checkCtx, req)
		outcome <- checkOutcome{score: score, details: details, err: err}
	}()

	select {
	case out := <-outcome:
		result.Duration = time.Since(start)
		if out.err != nil {
			result.Status = entity.CheckStatusFailed
			result.RiskScore = 100
			result.Error = out.err.Error()
			break
		}
		result.Status = entity.CheckStatusCompleted
		result.RiskScore = clampScore(out.score)
		result.Details = out.details
	case <-checkCtx.Done():
		result.Duration = time.Since(start)
		result.Status = entity.CheckStatusTimeout
		result.RiskScore = 100
		result.Error = fmt.Sprintf("check timed out after %s", result.Duration.Round(time.Millisecond))
	}

	if !result.Completed() {
		c.logger.Warn("Risk check failed",
			zap.String("token", req.Token),
			zap.String("check", string(checkType)),
			zap.String("status", string(result.Status)),
			zap.String("error", result.Error))
	}
	return result
}

// aggregate computes score, level, decision and confidence from the check results
func (c *Coordinator) aggregate(a *entity.RiskAssessment, profile *entity.RiskProfile) {
	var scores, weights []float64
	var reasons []string
	var ownership *entity.OwnershipDetails
	var durations time.Duration

	for _, r := range a.CheckResults {
		if !r.Completed() {
			a.ChecksFailed++
			if r.Required {
				reasons = append(reasons, fmt.Sprintf("required check %s did not complete: %s", r.CheckType, r.Error))
			}
			continue
		}
		a.ChecksCompleted++
		durations += r.Duration
		scores = append(scores, r.RiskScore)
		weights = append(weights, checkWeights[r.CheckType])

		if d, ok := r.Details.(entity.OwnershipDetails); ok {
			ownership = &d
		}
	}

	overall := 100.0
	if len(scores) > 0 {
		overall = stat.Mean(scores, weights)
	}

	// A breached threshold lifts the aggregate to at least the offending score
	for _, r := range a.CheckResults {
		if !r.Completed() {
			continue
		}
		if limit, ok := profile.BlockingThreshold(r.CheckType); ok && r.RiskScore > limit {
			reasons = append(reasons, fmt.Sprintf("%s score %.1f exceeds blocking threshold %.1f", r.CheckType, r.RiskScore, limit))
			if r.RiskScore > overall {
				overall = r.RiskScore
			}
		}
	}

	for _, required := range profile.RequiredChecks {
		if a.Result(required) == nil {
			reasons = append(reasons, fmt.Sprintf("required check %s was not run", required))
		}
	}

	if profile.RequireRenounced && ownership != nil && !ownership.Renounced {
		reasons = append(reasons, "ownership is not renounced")
	}
	if profile.RequireRenounced && ownership == nil && !profile.IsRequired(entity.CheckOwnership) {
		reasons = append(reasons, "ownership renouncement could not be confirmed")
	}

	overall = clampScore(overall)
	if overall > profile.MaxRiskScore {
		reasons = append(reasons, fmt.Sprintf("risk score %.1f exceeds profile maximum %.1f", overall, profile.MaxRiskScore))
	}

	a.OverallRiskScore = overall
	a.RiskLevel = entity.RiskLevelForScore(overall)
	a.BlockReasons = reasons
	switch {
	case len(reasons) > 0:
		a.Decision = entity.DecisionBlock
	case overall > profile.SafeRiskScore:
		a.Decision = entity.DecisionSkip
	default:
		a.Decision = entity.DecisionApprove
	}
	a.IsBlocked = a.Decision == entity.DecisionBlock

	var meanDuration time.Duration
	if a.ChecksCompleted > 0 {
		meanDuration = durations / time.Duration(a.ChecksCompleted)
	}
	a.ConfidenceScore = c.confidence(len(a.CheckResults), a.ChecksCompleted, a.ChecksFailed, meanDuration)
}

// confidence grows with completion rate and speed and drops per failed check
func (c *Coordinator) confidence(total, completed, failed int, meanDuration time.Duration) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(completed) / float64(total)

	speed := 0.0
	if completed > 0 {
		speed = 1
		if c.cfg.SlowCheckThreshold > 0 {
			speed = 1 - float64(meanDuration)/float64(c.cfg.SlowCheckThreshold)
			speed = min(max(speed, 0), 1)
		}
	}

	score := completionConfidence*rate + speedConfidence*speed - failurePenalty*float64(failed)
	if failed == 0 {
		score += cleanRunConfidence
	}
	return min(max(score, 0), 100)
}

// blockOnTimeout short-circuits an assessment whose overall budget ran out
func (c *Coordinator) blockOnTimeout(a *entity.RiskAssessment, cause error) {
	a.State = entity.StateBlockedByTimeout
	a.OverallRiskScore = 100
	a.RiskLevel = entity.RiskLevelCritical
	a.Decision = entity.DecisionBlock
	a.IsBlocked = true
	a.ConfidenceScore = 0
	a.Error = fmt.Sprintf("assessment timed out after %s", c.cfg.AssessmentTimeout)
	if cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
		a.Error = fmt.Sprintf("assessment aborted: %v", cause)
	}
	a.BlockReasons = []string{a.Error}
	a.ThoughtLog = buildThoughtLog(a, time.Now())
	a.Summary = buildSummary(a)

	c.logger.Warn("Risk assessment blocked by timeout",
		zap.String("assessment_id", a.ID),
		zap.String("token", a.TokenAddress),
		zap.String("error", a.Error))
}

// degraded builds the BLOCK result returned when an assessment cannot run at all
func (c *Coordinator) degraded(pair entity.TokenPair, profile entity.RiskProfileName, mode entity.ExecutionMode, start time.Time, err error) *entity.RiskAssessment {
	a := &entity.RiskAssessment{
		ID:               uuid.NewString(),
		TokenAddress:     pair.TokenAddress,
		PairAddress:      pair.PairAddress,
		Chain:            pair.Chain,
		Profile:          profile,
		Mode:             mode,
		State:            entity.StateDecided,
		OverallRiskScore: 100,
		RiskLevel:        entity.RiskLevelCritical,
		Decision:         entity.DecisionBlock,
		IsBlocked:        true,
		BlockReasons:     []string{err.Error()},
		CheckResults:     []*entity.RiskCheckResult{},
		Error:            err.Error(),
		CreatedAt:        start,
		Duration:         time.Since(start),
	}
	a.ThoughtLog = buildThoughtLog(a, time.Now())
	a.Summary = buildSummary(a)

	c.logger.Warn("Risk assessment degraded",
		zap.String("assessment_id", a.ID),
		zap.String("token", pair.TokenAddress),
		zap.Error(err))
	return a
}

// BulkAssessment assesses every pair with bounded concurrency. The result list
// always matches the input order and length.
func (c *Coordinator) BulkAssessment(ctx context.Context, pairs []entity.TokenPair, profile entity.RiskProfileName) *entity.BulkAssessmentResult {
	start := time.Now()
	results := make([]*entity.RiskAssessment, len(pairs))

	g := new(errgroup.Group)
	if c.cfg.BulkConcurrency > 0 {
		g.SetLimit(c.cfg.BulkConcurrency)
	}
	for i, p := range pairs {
		g.Go(func() error {
			results[i] = c.AssessTokenRisk(ctx, p, profile, c.defaultMode)
			return nil
		})
	}
	_ = g.Wait()

	bulk := &entity.BulkAssessmentResult{
		Total:   len(pairs),
		Results: results,
	}
	scores := make([]float64, 0, len(results))
	for _, r := range results {
		scores = append(scores, r.OverallRiskScore)
		if r.Error != "" {
			bulk.Failed++
		}
		switch r.Decision {
		case entity.DecisionApprove:
			bulk.Approved++
		case entity.DecisionSkip:
			bulk.Skipped++
		default:
			bulk.Blocked++
		}
	}
	if len(scores) > 0 {
		bulk.AverageScore = stat.Mean(scores, nil)
	}
	bulk.Duration = time.Since(start)

	c.logger.Info("Bulk assessment completed",
		zap.Int("total", bulk.Total),
		zap.Int("approved", bulk.Approved),
		zap.Int("skipped", bulk.Skipped),
		zap.Int("blocked", bulk.Blocked),
		zap.Int("failed", bulk.Failed),
		zap.Duration("duration", bulk.Duration))
	return bulk
}

// QuickHoneypotCheck runs only the honeypot simulation under the quick budget.
// Any failure is reported as a honeypot.
func (c *Coordinator) QuickHoneypotCheck(ctx context.Context, token, pair string) *entity.QuickHoneypotResult {
	start := time.Now()
	result := &entity.QuickHoneypotResult{TokenAddress: token, PairAddress: pair}

	failClosed := func(err error) *entity.QuickHoneypotResult {
		result.Status = entity.CheckStatusFailed
		result.IsHoneypot = true
		result.RiskScore = 100
		result.Error = err.Error()
		result.Duration = time.Since(start)
		c.logger.Debug("Quick honeypot check failed closed",
			zap.String("token", token),
			zap.Error(err))
		return result
	}

	tokenAddr, err := blockchain.NormalizeAddress(token)
	if err != nil {
		return failClosed(fmt.Errorf("token: %w", err))
	}
	pairAddr, err := blockchain.NormalizeAddress(pair)
	if err != nil {
		return failClosed(fmt.Errorf("pair: %w", err))
	}
	source, err := c.sources.DataSource("")
	if err != nil {
		return failClosed(err)
	}
	profile, err := c.Profile("")
	if err != nil {
		return failClosed(err)
	}

	req := &CheckRequest{Token: tokenAddr, Pair: pairAddr, Profile: profile, Source: source}
	check := c.runCheck(ctx, entity.CheckHoneypot, req, c.cfg.QuickCheckTimeout)
	if !check.Completed() {
		return failClosed(errors.New(check.Error))
	}

	details, _ := check.Details.(entity.HoneypotDetails)
	result.Status = entity.CheckStatusCompleted
	result.IsHoneypot = details.IsHoneypot
	result.RiskScore = check.RiskScore
	result.BuyTaxPct = details.BuyTaxPct
	result.SellTaxPct = details.SellTaxPct
	result.Duration = time.Since(start)
	return result
}

func (c *Coordinator) record(a *entity.RiskAssessment) {
	c.assessments.Add(1)
	c.totalNanos.Add(int64(a.Duration))
	switch a.Decision {
	case entity.DecisionApprove:
		c.approved.Add(1)
	case entity.DecisionSkip:
		c.skipped.Add(1)
	default:
		c.blocked.Add(1)
	}
	if a.State == entity.StateBlockedByTimeout {
		c.timeouts.Add(1)
	}
	if a.Error != "" {
		c.failedItems.Add(1)
	}
}

// Statistics are the coordinator's rolling counters
type Statistics struct {
	Assessments     int64         `json:"assessments"`
	Approved        int64         `json:"approved"`
	Skipped         int64         `json:"skipped"`
	Blocked         int64         `json:"blocked"`
	Timeouts        int64         `json:"timeouts"`
	Degraded        int64         `json:"degraded"`
	AverageDuration time.Duration `json:"average_duration"`
}

// GetStatistics returns a snapshot of the counters
func (c *Coordinator) GetStatistics() Statistics {
	stats := Statistics{
		Assessments: c.assessments.Load(),
		Approved:    c.approved.Load(),
		Skipped:     c.skipped.Load(),
		Blocked:     c.blocked.Load(),
		Timeouts:    c.timeouts.Load(),
		Degraded:    c.failedItems.Load(),
	}
	if stats.Assessments > 0 {
		stats.AverageDuration = time.Duration(c.totalNanos.Load() / stats.Assessments)
	}
	return stats
}
