package blockchain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wethAddress = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcAddress = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	v2Factory   = "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
	v2InitHash  = "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{name: "checksummed", address: wethAddress, want: true},
		{name: "lowercase", address: strings.ToLower(usdcAddress), want: true},
		{name: "missing prefix", address: strings.TrimPrefix(wethAddress, "0x"), want: false},
		{name: "too short", address: "0x1234", want: false},
		{name: "non hex", address: "0xZZ2aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", want: false},
		{name: "empty", address: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidAddress(tt.address))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	addr, err := NormalizeAddress(wethAddress)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(wethAddress), addr)

	_, err = NormalizeAddress("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestIsBurnAddress(t *testing.T) {
	assert.True(t, IsBurnAddress(ZeroAddress))
	assert.True(t, IsBurnAddress("0x000000000000000000000000000000000000dEaD"))
	assert.True(t, IsBurnAddress(""))
	assert.False(t, IsBurnAddress(wethAddress))
}

func TestDerivePairAddress(t *testing.T) {
	// USDC/WETH on Uniswap V2
	pair, err := DerivePairAddress(v2Factory, v2InitHash, wethAddress, usdcAddress)
	require.NoError(t, err)
	assert.Equal(t, "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc", pair)

	reversed, err := DerivePairAddress(v2Factory, v2InitHash, usdcAddress, wethAddress)
	require.NoError(t, err)
	assert.Equal(t, pair, reversed, "token order must not matter")
}

func TestDerivePairAddressErrors(t *testing.T) {
	_, err := DerivePairAddress("bad", v2InitHash, wethAddress, usdcAddress)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = DerivePairAddress(v2Factory, "0x1234", wethAddress, usdcAddress)
	assert.Error(t, err)

	_, err = DerivePairAddress(v2Factory, v2InitHash, wethAddress, wethAddress)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
