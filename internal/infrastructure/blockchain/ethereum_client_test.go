package blockchain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken  = "0x2222222222222222222222222222222222222222"
	testPair   = "0x3333333333333333333333333333333333333333"
	testRouter = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
)

type callHandler func(input []byte) ([]byte, error)

// fakeBackend answers eth_call by contract address and selector
type fakeBackend struct {
	handlers map[string]callHandler
	code     map[common.Address][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{handlers: make(map[string]callHandler), code: make(map[common.Address][]byte)}
}

func (f *fakeBackend) handle(to string, contract abi.ABI, method string, h callHandler) {
	key := strings.ToLower(to) + hex.EncodeToString(contract.Methods[method].ID)
	f.handlers[key] = h
}

func (f *fakeBackend) returns(t *testing.T, to string, contract abi.ABI, method string, values ...interface{}) {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	f.handle(to, contract, method, func([]byte) ([]byte, error) { return out, nil })
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	key := strings.ToLower(call.To.Hex()) + hex.EncodeToString(call.Data[:4])
	h, ok := f.handlers[key]
	if !ok {
		return nil, nil
	}
	return h(call.Data[4:])
}

func (f *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code[account], nil
}

func testChainConfig() config.ChainConfig {
	return config.ChainConfig{
		ChainID:        1,
		RPCURL:         "http://localhost:8545",
		Routers:        []string{testRouter},
		WrappedNative:  strings.ToLower(wethAddress),
		NativePriceUSD: 2000,
	}
}

func newTestClient(backend ContractBackend) *EthereumClient {
	return NewEthereumClientWithBackend("ethereum", testChainConfig(), backend, logger.NewNop())
}

func TestEthereumClientTokenMetadata(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(backend)
	backend.returns(t, testToken, client.tokenABI, "decimals", uint8(6))
	backend.returns(t, testToken, client.tokenABI, "symbol", "TST")

	meta, err := client.TokenMetadata(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), meta.Decimals)
	assert.Equal(t, "TST", meta.Symbol)
}

func TestEthereumClientOwnership(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(backend)
	backend.returns(t, testToken, client.tokenABI, "owner", common.HexToAddress(ZeroAddress))

	ownership, err := client.TokenOwnership(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, ownership.Renounced)

	backend.returns(t, testToken, client.tokenABI, "owner", common.HexToAddress(recipient))
	ownership, err = client.TokenOwnership(context.Background(), testToken)
	require.NoError(t, err)
	assert.False(t, ownership.Renounced)
	assert.Equal(t, recipient, ownership.Owner)
}

func TestEthereumClientOwnershipWithoutOwnerFunction(t *testing.T) {
	client := newTestClient(newFakeBackend())
	_, err := client.TokenOwnership(context.Background(), testToken)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEthereumClientPairLiquidity(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(backend)
	backend.returns(t, testPair, client.pairABI, "token0", common.HexToAddress(testToken))
	backend.returns(t, testPair, client.pairABI, "token1", common.HexToAddress(wethAddress))
	// 25 WETH at $2000 → $100k pool
	wethReserve := new(big.Int).Mul(big.NewInt(25), big.NewInt(1e18))
	backend.returns(t, testPair, client.pairABI, "getReserves", big.NewInt(1_000_000), wethReserve, uint32(0))

	liquidity, err := client.PairLiquidity(context.Background(), testToken, testPair)
	require.NoError(t, err)
	assert.InDelta(t, 100_000, liquidity.LiquidityUSD, 0.01)
	assert.Equal(t, testToken, liquidity.Token0)
}

func TestEthereumClientPairLiquidityWrongPair(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(backend)
	backend.returns(t, testPair, client.pairABI, "token0", common.HexToAddress(usdcAddress))
	backend.returns(t, testPair, client.pairABI, "token1", common.HexToAddress(wethAddress))

	_, err := client.PairLiquidity(context.Background(), testToken, testPair)
	assert.Error(t, err)
}

func TestEthereumClientSimulateRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(backend)
	method := client.routerABI.Methods["getAmountsOut"]

	// Buying returns 1000 tokens per probe, selling loses 0.6% fees plus a 10% token tax
	backend.handle(testRouter, client.routerABI, "getAmountsOut", func(input []byte) ([]byte, error) {
		args, err := method.Inputs.Unpack(input)
		if err != nil {
			return nil, err
		}
		amountIn := args[0].(*big.Int)
		path := args[1].([]common.Address)

		var out *big.Int
		if path[0] == common.HexToAddress(wethAddress) {
			out = big.NewInt(1000)
		} else {
			// 0.1 ETH * (1 - 0.006 - 0.10)
			out = new(big.Int).Div(new(big.Int).Mul(roundTripProbe, big.NewInt(894)), big.NewInt(1000))
		}
		return method.Outputs.Pack([]*big.Int{amountIn, out})
	})

	sim, err := client.SimulateRoundTrip(context.Background(), testToken, testPair)
	require.NoError(t, err)
	assert.True(t, sim.CanBuy)
	assert.True(t, sim.CanSell)
	assert.InDelta(t, 5.0, sim.BuyTaxPct, 0.01)
	assert.InDelta(t, 5.0, sim.SellTaxPct, 0.01)
}

func TestEthereumClientSimulateRoundTripCannotSell(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(backend)
	method := client.routerABI.Methods["getAmountsOut"]

	backend.handle(testRouter, client.routerABI, "getAmountsOut", func(input []byte) ([]byte, error) {
		args, err := method.Inputs.Unpack(input)
		if err != nil {
			return nil, err
		}
		path := args[1].([]common.Address)
		if path[0] == common.HexToAddress(wethAddress) {
			return method.Outputs.Pack([]*big.Int{args[0].(*big.Int), big.NewInt(1000)})
		}
		return method.Outputs.Pack([]*big.Int{args[0].(*big.Int), big.NewInt(0)})
	})

	sim, err := client.SimulateRoundTrip(context.Background(), testToken, testPair)
	require.NoError(t, err)
	assert.True(t, sim.CanBuy)
	assert.False(t, sim.CanSell)
	assert.NotEmpty(t, sim.Reason)
}

// codedError mimics the JSON-RPC error geth returns for a failed eth_call
type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

func TestEthereumClientSimulateRoundTripSellFailure(t *testing.T) {
	tests := []struct {
		name      string
		sellErr   error
		wantError bool
	}{
		{name: "reverted by message", sellErr: errors.New("execution reverted: TRANSFER_FAILED")},
		{name: "reverted by error code", sellErr: codedError{code: revertErrorCode, msg: "VM Exception"}},
		{name: "connection refused", sellErr: errors.New("dial tcp 127.0.0.1:8545: connection refused"), wantError: true},
		{name: "cancelled", sellErr: fmt.Errorf("eth_call: %w", context.Canceled), wantError: true},
		{name: "other rpc error", sellErr: codedError{code: -32000, msg: "header not found"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			client := newTestClient(backend)
			method := client.routerABI.Methods["getAmountsOut"]

			backend.handle(testRouter, client.routerABI, "getAmountsOut", func(input []byte) ([]byte, error) {
				args, err := method.Inputs.Unpack(input)
				if err != nil {
					return nil, err
				}
				path := args[1].([]common.Address)
				if path[0] == common.HexToAddress(wethAddress) {
					return method.Outputs.Pack([]*big.Int{args[0].(*big.Int), big.NewInt(1000)})
				}
				return nil, tt.sellErr
			})

			sim, err := client.SimulateRoundTrip(context.Background(), testToken, testPair)
			if tt.wantError {
				assert.ErrorIs(t, err, tt.sellErr)
				assert.Nil(t, sim)
				return
			}
			require.NoError(t, err)
			assert.True(t, sim.CanBuy)
			assert.False(t, sim.CanSell)
			assert.Equal(t, "sell quote reverted", sim.Reason)
		})
	}
}

func TestEthereumClientRPCErrorPropagates(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(backend)
	rpcErr := errors.New("connection refused")
	backend.handle(testToken, client.tokenABI, "owner", func([]byte) ([]byte, error) { return nil, rpcErr })

	_, err := client.TokenOwnership(context.Background(), testToken)
	assert.ErrorIs(t, err, rpcErr)
}

func TestEthereumClientContractCode(t *testing.T) {
	backend := newFakeBackend()
	backend.code[common.HexToAddress(testToken)] = []byte{0x60, 0x80}
	client := newTestClient(backend)

	code, err := client.ContractCode(context.Background(), testToken)
	require.NoError(t, err)
	assert.Len(t, code, 2)

	_, err = client.ContractCode(context.Background(), "0xnope")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEthereumClientTopHoldersUnsupported(t *testing.T) {
	_, err := newTestClient(newFakeBackend()).TopHolders(context.Background(), testToken, 10)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRegistry(t *testing.T) {
	client := newTestClient(newFakeBackend())
	registry := NewRegistryFromClients(client)

	src, err := registry.DataSource("")
	require.NoError(t, err)
	assert.Same(t, client, src)

	_, err = registry.DataSource("bsc")
	assert.ErrorIs(t, err, ErrUnknownChain)
	assert.Equal(t, []string{"ethereum"}, registry.Chains())
}

func TestUnitConversions(t *testing.T) {
	assert.Equal(t, "1.5", WeiToETH(big.NewInt(15e17)).String())
	assert.Equal(t, "30", WeiToGwei(big.NewInt(30e9)).String())
	assert.Equal(t, 0, ETHToWei(2).Cmp(big.NewInt(2e18)))
	assert.Equal(t, 0, GweiToWei(1.5).Cmp(big.NewInt(15e8)))
}
