package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ContractBackend is the subset of ethclient.Client the engine reads through
type ContractBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// roundTripProbe is the native amount quoted through the router (0.1 ETH)
var roundTripProbe = big.NewInt(1e17)

// v2SwapFeePct is the fee charged per V2 hop, excluded from tax estimates
const v2SwapFeePct = 0.3

// revertErrorCode is the JSON-RPC error code geth returns for a reverted eth_call
const revertErrorCode = 3

// EthereumClient reads token, pair and router state over JSON-RPC
type EthereumClient struct {
	chain   string
	cfg     config.ChainConfig
	backend ContractBackend
	closer  func()
	logger  *logger.Logger

	tokenABI  abi.ABI
	pairABI   abi.ABI
	routerABI abi.ABI
}

// NewEthereumClient dials the chain RPC endpoint
func NewEthereumClient(ctx context.Context, chain string, cfg config.ChainConfig, log *logger.Logger) (*EthereumClient, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", chain, err)
	}
	c := NewEthereumClientWithBackend(chain, cfg, client, log)
	c.closer = client.Close
	return c, nil
}

// NewEthereumClientWithBackend wraps an existing backend
func NewEthereumClientWithBackend(chain string, cfg config.ChainConfig, backend ContractBackend, log *logger.Logger) *EthereumClient {
	return &EthereumClient{
		chain:     chain,
		cfg:       cfg,
		backend:   backend,
		logger:    log.WithComponent("ethereum-client").WithChain(chain),
		tokenABI:  mustParseABI(tokenABIJSON),
		pairABI:   mustParseABI(pairABIJSON),
		routerABI: mustParseABI(routerABIJSON),
	}
}

// Close releases the RPC connection
func (c *EthereumClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Chain returns the chain name this client serves
func (c *EthereumClient) Chain() string {
	return c.chain
}

// TokenMetadata calls symbol() and decimals()
func (c *EthereumClient) TokenMetadata(ctx context.Context, token string) (*entity.TokenMetadata, error) {
	address, err := NormalizeAddress(token)
	if err != nil {
		return nil, err
	}

	out, err := c.call(ctx, c.tokenABI, address, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("decimals: unexpected return type %T", out[0])
	}

	meta := &entity.TokenMetadata{Address: address, Decimals: decimals}
	// Some older tokens return bytes32 symbols; those stay empty
	if out, err := c.call(ctx, c.tokenABI, address, "symbol"); err == nil {
		if symbol, ok := out[0].(string); ok {
			meta.Symbol = symbol
		}
	}
	return meta, nil
}

// ContractCode returns deployed bytecode; empty for EOAs
func (c *EthereumClient) ContractCode(ctx context.Context, token string) ([]byte, error) {
	address, err := NormalizeAddress(token)
	if err != nil {
		return nil, err
	}
	return c.backend.CodeAt(ctx, common.HexToAddress(address), nil)
}

// TokenOwnership calls owner() on an Ownable token
func (c *EthereumClient) TokenOwnership(ctx context.Context, token string) (*entity.TokenOwnership, error) {
	address, err := NormalizeAddress(token)
	if err != nil {
		return nil, err
	}

	out, err := c.call(ctx, c.tokenABI, address, "owner")
	if err != nil {
		return nil, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("owner: unexpected return type %T", out[0])
	}

	ownerHex := strings.ToLower(owner.Hex())
	return &entity.TokenOwnership{
		Owner:     ownerHex,
		Renounced: IsBurnAddress(ownerHex),
	}, nil
}

// PairLiquidity reads reserves and prices the native side in USD
func (c *EthereumClient) PairLiquidity(ctx context.Context, token, pair string) (*entity.PairLiquidity, error) {
	tokenAddr, err := NormalizeAddress(token)
	if err != nil {
		return nil, err
	}
	pairAddr, err := NormalizeAddress(pair)
	if err != nil {
		return nil, err
	}

	token0, err := c.callAddress(ctx, c.pairABI, pairAddr, "token0")
	if err != nil {
		return nil, err
	}
	token1, err := c.callAddress(ctx, c.pairABI, pairAddr, "token1")
	if err != nil {
		return nil, err
	}
	if tokenAddr != token0 && tokenAddr != token1 {
		return nil, fmt.Errorf("pair %s does not contain token %s", pairAddr, tokenAddr)
	}

	out, err := c.call(ctx, c.pairABI, pairAddr, "getReserves")
	if err != nil {
		return nil, err
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("getReserves: unexpected return types %T, %T", out[0], out[1])
	}

	liquidity := &entity.PairLiquidity{
		PairAddress: pairAddr,
		Token0:      token0,
		Token1:      token1,
		Reserve0:    reserve0,
		Reserve1:    reserve1,
	}

	native := strings.ToLower(c.cfg.WrappedNative)
	var nativeReserve *big.Int
	switch native {
	case token0:
		nativeReserve = reserve0
	case token1:
		nativeReserve = reserve1
	default:
		return liquidity, fmt.Errorf("%w: pair %s is not quoted against the wrapped native token", ErrUnsupported, pairAddr)
	}

	// Both sides of a V2 pool hold equal value
	usd := WeiToETH(nativeReserve).
		Mul(decimal.NewFromFloat(c.cfg.NativePriceUSD)).
		Mul(decimal.NewFromInt(2))
	liquidity.LiquidityUSD = usd.InexactFloat64()

	c.logger.Debug("Pair liquidity resolved",
		zap.String("pair", pairAddr),
		zap.String("native_reserve", nativeReserve.String()),
		zap.Float64("liquidity_usd", liquidity.LiquidityUSD))

	return liquidity, nil
}

// SimulateRoundTrip quotes a native→token→native round trip through the first
// configured router. Quotes come from reserve math, so transfer taxes applied
// inside the token only show up when the token also distorts its reserves.
func (c *EthereumClient) SimulateRoundTrip(ctx context.Context, token, pair string) (*entity.TradeSimulation, error) {
	tokenAddr, err := NormalizeAddress(token)
	if err != nil {
		return nil, err
	}
	if _, err := NormalizeAddress(pair); err != nil {
		return nil, err
	}
	if len(c.cfg.Routers) == 0 || c.cfg.WrappedNative == "" {
		return nil, fmt.Errorf("%w: chain %s has no router or wrapped native token", ErrUnsupported, c.chain)
	}
	router := strings.ToLower(c.cfg.Routers[0])
	native := common.HexToAddress(c.cfg.WrappedNative)
	tok := common.HexToAddress(tokenAddr)

	bought, err := c.amountOut(ctx, router, roundTripProbe, []common.Address{native, tok})
	if err != nil {
		return nil, fmt.Errorf("buy quote: %w", err)
	}
	sim := &entity.TradeSimulation{CanBuy: bought.Sign() > 0}
	if !sim.CanBuy {
		sim.Reason = "router quotes zero tokens for buy"
		return sim, nil
	}

	returned, err := c.amountOut(ctx, router, bought, []common.Address{tok, native})
	if err != nil {
		if !isRevert(err) {
			return nil, fmt.Errorf("sell quote: %w", err)
		}
		c.logger.Debug("Sell quote reverted", zap.String("token", tokenAddr), zap.Error(err))
		sim.Reason = "sell quote reverted"
		return sim, nil
	}
	sim.CanSell = returned.Sign() > 0
	if !sim.CanSell {
		sim.Reason = "router quotes zero native for sell"
		return sim, nil
	}

	lossPct := decimal.NewFromBigInt(new(big.Int).Sub(roundTripProbe, returned), 0).
		Div(decimal.NewFromBigInt(roundTripProbe, 0)).
		Mul(decimal.NewFromInt(100)).
		InexactFloat64()
	excess := lossPct - 2*v2SwapFeePct
	if excess > 0 {
		sim.BuyTaxPct = excess / 2
		sim.SellTaxPct = excess / 2
	}
	return sim, nil
}

// TopHolders needs an indexer; plain JSON-RPC cannot enumerate balances
func (c *EthereumClient) TopHolders(ctx context.Context, token string, limit int) ([]entity.HolderShare, error) {
	return nil, fmt.Errorf("%w: holder enumeration on %s", ErrUnsupported, c.chain)
}

// isRevert separates a call the EVM rejected from one that never reached it
func isRevert(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func (c *EthereumClient) amountOut(ctx context.Context, router string, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.routerABI, router, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut: unexpected return %T", out[0])
	}
	return amounts[len(amounts)-1], nil
}

func (c *EthereumClient) callAddress(ctx context.Context, contract abi.ABI, to, method string) (string, error) {
	out, err := c.call(ctx, contract, to, method)
	if err != nil {
		return "", err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return strings.ToLower(addr.Hex()), nil
}

func (c *EthereumClient) call(ctx context.Context, contract abi.ABI, to, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	address := common.HexToAddress(to)
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, to, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s on %s returned no data", ErrUnsupported, method, to)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

// WeiToETH converts a wei amount into ETH units
func WeiToETH(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

// WeiToGwei converts a wei amount into gwei units
func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -9)
}

// ETHToWei converts an ETH amount into wei, truncating below one wei
func ETHToWei(eth float64) *big.Int {
	return decimal.NewFromFloat(eth).Shift(18).BigInt()
}

// GweiToWei converts a gwei amount into wei
func GweiToWei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Shift(9).BigInt()
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in abi: %v", err))
	}
	return parsed
}

const tokenABIJSON = `[
	{"constant": true, "inputs": [], "name": "symbol", "outputs": [{"name": "", "type": "string"}], "type": "function"},
	{"constant": true, "inputs": [], "name": "decimals", "outputs": [{"name": "", "type": "uint8"}], "type": "function"},
	{"constant": true, "inputs": [], "name": "owner", "outputs": [{"name": "", "type": "address"}], "type": "function"}
]`

const pairABIJSON = `[
	{"constant": true, "inputs": [], "name": "token0", "outputs": [{"name": "", "type": "address"}], "type": "function"},
	{"constant": true, "inputs": [], "name": "token1", "outputs": [{"name": "", "type": "address"}], "type": "function"},
	{"constant": true, "inputs": [], "name": "getReserves", "outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	], "type": "function"}
]`

const routerABIJSON = `[
	{"constant": true, "inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "path", "type": "address[]"}
	], "name": "getAmountsOut", "outputs": [{"name": "amounts", "type": "uint256[]"}], "type": "function"}
]`
