package risk

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/blockchain"
)

var errPairRequired = errors.New("pair address required")

// RiskCheck is one independent unit of the assessment. Run returns a 0-100
// score; any error marks the check FAILED.
type RiskCheck interface {
	Type() entity.CheckType
	Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error)
}

// CheckRequest carries the inputs shared by every check of one assessment
type CheckRequest struct {
	Token   string
	Pair    string
	Chain   string
	Profile *entity.RiskProfile
	Source  service.TokenDataSource

	simOnce sync.Once
	sim     *entity.TradeSimulation
	simErr  error
}

// simulation runs the round trip once per assessment; honeypot and tax share it
func (r *CheckRequest) simulation(ctx context.Context) (*entity.TradeSimulation, error) {
	r.simOnce.Do(func() {
		if r.Pair == "" {
			r.simErr = errPairRequired
			return
		}
		r.sim, r.simErr = r.Source.SimulateRoundTrip(ctx, r.Token, r.Pair)
		if r.simErr == nil && r.sim == nil {
			r.simErr = errors.New("empty simulation result")
		}
	})
	return r.sim, r.simErr
}

// DefaultChecks returns one instance of every built-in check
func DefaultChecks() []RiskCheck {
	return []RiskCheck{
		HoneypotCheck{},
		LiquidityCheck{},
		OwnershipCheck{},
		TaxCheck{},
		ContractSecurityCheck{},
		HolderConcentrationCheck{Limit: 10},
	}
}

// honeypotSellTaxPct is the sell tax at which a sellable token is still treated as a trap
const honeypotSellTaxPct = 50

// HoneypotCheck simulates a buy followed by a sell
type HoneypotCheck struct{}

func (HoneypotCheck) Type() entity.CheckType { return entity.CheckHoneypot }

func (HoneypotCheck) Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error) {
	sim, err := req.simulation(ctx)
	if err != nil {
		return 0, nil, err
	}

	details := entity.HoneypotDetails{
		CanBuy:     sim.CanBuy,
		CanSell:    sim.CanSell,
		BuyTaxPct:  sim.BuyTaxPct,
		SellTaxPct: sim.SellTaxPct,
		Reason:     sim.Reason,
	}
	switch {
	case !sim.CanBuy:
		details.IsHoneypot = true
		if details.Reason == "" {
			details.Reason = "buy reverted"
		}
	case !sim.CanSell:
		details.IsHoneypot = true
		if details.Reason == "" {
			details.Reason = "sell reverted"
		}
	case sim.SellTaxPct >= honeypotSellTaxPct:
		details.IsHoneypot = true
		details.Reason = fmt.Sprintf("sell tax %.1f%% confiscates the position", sim.SellTaxPct)
	}

	if details.IsHoneypot {
		return 100, details, nil
	}
	// Sellable, but heavy taxes still smell
	return clampScore(math.Min(60, 2*sim.SellTaxPct+sim.BuyTaxPct)), details, nil
}

// LiquidityCheck compares pooled liquidity with the profile minimum
type LiquidityCheck struct{}

func (LiquidityCheck) Type() entity.CheckType { return entity.CheckLiquidity }

func (LiquidityCheck) Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error) {
	if req.Pair == "" {
		return 0, nil, errPairRequired
	}
	liq, err := req.Source.PairLiquidity(ctx, req.Token, req.Pair)
	if err != nil {
		return 0, nil, err
	}

	minUSD := req.Profile.MinLiquidityUSD
	details := entity.LiquidityDetails{
		LiquidityUSD:   liq.LiquidityUSD,
		MinRequiredUSD: minUSD,
		LockedPct:      liq.LockedPct,
		MeetsMinimum:   liq.LiquidityUSD >= minUSD,
	}

	switch {
	case liq.LiquidityUSD <= 0:
		return 100, details, nil
	case minUSD <= 0:
		return 0, details, nil
	case !details.MeetsMinimum:
		// 60 just below the minimum, 100 at zero
		return clampScore(60 + 40*(1-liq.LiquidityUSD/minUSD)), details, nil
	default:
		return clampScore(30 * minUSD / liq.LiquidityUSD), details, nil
	}
}

// OwnershipCheck reads the Ownable owner
type OwnershipCheck struct{}

func (OwnershipCheck) Type() entity.CheckType { return entity.CheckOwnership }

func (OwnershipCheck) Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error) {
	own, err := req.Source.TokenOwnership(ctx, req.Token)
	if err != nil {
		return 0, nil, err
	}

	renounced := own.Renounced || blockchain.IsBurnAddress(own.Owner)
	details := entity.OwnershipDetails{
		Owner:            own.Owner,
		Renounced:        renounced,
		RenounceRequired: req.Profile.RequireRenounced,
	}
	if renounced {
		return 0, details, nil
	}
	return 50, details, nil
}

// TaxCheck measures transfer taxes against the profile limit
type TaxCheck struct{}

func (TaxCheck) Type() entity.CheckType { return entity.CheckTax }

func (TaxCheck) Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error) {
	sim, err := req.simulation(ctx)
	if err != nil {
		return 0, nil, err
	}

	maxSell := req.Profile.MaxSellTaxPct
	details := entity.TaxDetails{
		BuyTaxPct:     sim.BuyTaxPct,
		SellTaxPct:    sim.SellTaxPct,
		MaxSellTaxPct: maxSell,
		ExceedsLimit:  !sim.CanSell || sim.SellTaxPct > maxSell,
	}

	switch {
	case !sim.CanSell:
		return 100, details, nil
	case details.ExceedsLimit:
		return clampScore(70 + 2*(sim.SellTaxPct-maxSell)), details, nil
	case maxSell <= 0:
		return 0, details, nil
	default:
		return clampScore(50 * math.Max(sim.SellTaxPct, sim.BuyTaxPct) / maxSell), details, nil
	}
}

// dangerousFunctions are owner controls that let a deployer trap holders
var dangerousFunctions = []struct {
	name      string
	signature string
}{
	{"mint", "mint(address,uint256)"},
	{"blacklist", "blacklist(address)"},
	{"set_bots", "setBots(address[])"},
	{"set_fee", "setFee(uint256)"},
	{"set_tax_fee", "setTaxFeePercent(uint256)"},
	{"set_max_tx", "setMaxTxAmount(uint256)"},
	{"pause", "pause()"},
	{"set_trading", "setTradingEnabled(bool)"},
}

// dangerousSelectorScore is added per finding
const dangerousSelectorScore = 20

// push4 is the opcode that loads a dispatcher selector
const push4 = 0x63

var dangerousPatterns = buildDangerousPatterns()

func buildDangerousPatterns() [][]byte {
	patterns := make([][]byte, len(dangerousFunctions))
	for i, fn := range dangerousFunctions {
		sel, _ := hex.DecodeString(blockchain.Selector(fn.signature))
		patterns[i] = append([]byte{push4}, sel...)
	}
	return patterns
}

// ContractSecurityCheck scans the dispatcher for dangerous owner functions
type ContractSecurityCheck struct{}

func (ContractSecurityCheck) Type() entity.CheckType { return entity.CheckContractSecurity }

func (ContractSecurityCheck) Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error) {
	code, err := req.Source.ContractCode(ctx, req.Token)
	if err != nil {
		return 0, nil, err
	}

	details := entity.ContractSecurityDetails{
		IsContract: len(code) > 0,
		CodeSize:   len(code),
		Findings:   []string{},
	}
	if !details.IsContract {
		details.Findings = append(details.Findings, "no_code")
		return 100, details, nil
	}

	for i, pattern := range dangerousPatterns {
		if bytes.Contains(code, pattern) {
			details.Findings = append(details.Findings, dangerousFunctions[i].name)
		}
	}
	return clampScore(float64(len(details.Findings) * dangerousSelectorScore)), details, nil
}

// HolderConcentrationCheck measures how much supply the largest wallets hold.
// Burn addresses and the pair itself are not counted as holders.
type HolderConcentrationCheck struct {
	Limit int
}

func (HolderConcentrationCheck) Type() entity.CheckType { return entity.CheckHolderConcentration }

func (c HolderConcentrationCheck) Run(ctx context.Context, req *CheckRequest) (float64, entity.CheckDetails, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = 10
	}
	holders, err := req.Source.TopHolders(ctx, req.Token, limit+2)
	if err != nil {
		return 0, nil, err
	}

	details := entity.HolderConcentrationDetails{}
	for _, h := range holders {
		if blockchain.IsBurnAddress(h.Address) || sameAddress(h.Address, req.Pair) {
			continue
		}
		if details.HoldersSampled == limit {
			break
		}
		details.HoldersSampled++
		details.Top10Pct += h.Pct
		details.TopHolderPct = math.Max(details.TopHolderPct, h.Pct)
	}

	if details.HoldersSampled == 0 {
		return 0, nil, errors.New("no holders sampled")
	}
	return clampScore(math.Max(1.5*details.TopHolderPct, 0.8*details.Top10Pct)), details, nil
}

func sameAddress(a, b string) bool {
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

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 100
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
