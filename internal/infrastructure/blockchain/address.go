package blockchain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidAddress is returned for anything that is not a 0x-prefixed 20 byte hex address
	ErrInvalidAddress = errors.New("invalid address")
	// ErrUnsupported is returned when a data source cannot answer a query
	ErrUnsupported = errors.New("unsupported query")
	// ErrUnknownChain is returned for chains without a configured client
	ErrUnknownChain = errors.New("unknown chain")
)

// ZeroAddress and DeadAddress both count as renounced ownership
const (
	ZeroAddress = "0x0000000000000000000000000000000000000000"
	DeadAddress = "0x000000000000000000000000000000000000dead"
)

// IsValidAddress checks if the address format is valid
func IsValidAddress(address string) bool {
	if len(address) != 42 || !strings.HasPrefix(strings.ToLower(address), "0x") {
		return false
	}
	return common.IsHexAddress(address)
}

// NormalizeAddress validates and lowercases an address
func NormalizeAddress(address string) (string, error) {
	if !IsValidAddress(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(address), nil
}

// IsBurnAddress reports whether ownership held by address is effectively renounced
func IsBurnAddress(address string) bool {
	a := strings.ToLower(address)
	return a == "" || a == ZeroAddress || a == DeadAddress
}

// SortTokens orders two token addresses the way Uniswap V2 factories do
func SortTokens(tokenA, tokenB string) (common.Address, common.Address, error) {
	if !IsValidAddress(tokenA) || !IsValidAddress(tokenB) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s/%s", ErrInvalidAddress, tokenA, tokenB)
	}
	a, b := common.HexToAddress(tokenA), common.HexToAddress(tokenB)
	if a == b {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: identical tokens %s", ErrInvalidAddress, tokenA)
	}
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a, nil
	}
	return a, b, nil
}

// DerivePairAddress computes the CREATE2 address of a V2 style pair without an RPC round trip
func DerivePairAddress(factory, initCodeHash, tokenA, tokenB string) (string, error) {
	if !IsValidAddress(factory) {
		return "", fmt.Errorf("factory: %w", ErrInvalidAddress)
	}
	hash := common.FromHex(initCodeHash)
	if len(hash) != common.HashLength {
		return "", fmt.Errorf("init code hash must be %d bytes, got %d", common.HashLength, len(hash))
	}

	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return "", err
	}

	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	pair := crypto.CreateAddress2(common.HexToAddress(factory), salt, hash)
	return strings.ToLower(pair.Hex()), nil
}
