package blockchain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/service"
)

const wordLen = 64 // hex characters per 32 byte ABI word

// maxPathLen guards against garbage offsets producing huge allocations
const maxPathLen = 8

var errShortData = errors.New("call data too short")

// FixedOffsetDecoder reads router arguments straight out of the hex call data
// at their static ABI offsets. It does not validate the full encoding; any
// word it cannot read is left empty and reported as an error.
type FixedOffsetDecoder struct{}

// NewFixedOffsetDecoder creates the default swap decoder
func NewFixedOffsetDecoder() service.SwapDecoder {
	return &FixedOffsetDecoder{}
}

// Decode extracts swap parameters for the given classified transaction
func (d *FixedOffsetDecoder) Decode(txType entity.TransactionType, tx *entity.PendingTransaction) (*entity.SwapParams, error) {
	data := strings.TrimPrefix(strings.ToLower(tx.Input), "0x")
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d characters", errShortData, len(data))
	}
	args := callArgs(data[8:])
	params := &entity.SwapParams{}

	var err error
	switch txType {
	case entity.TxTypeSwapExactETHForTokens:
		// (amountOutMin, path, to, deadline)
		params.AmountIn = cloneBig(tx.Value)
		params.AmountOutMin, err = args.uint(0)
		err = errors.Join(err, d.fillPath(params, args, 1), d.fillTail(params, args, 2))
	case entity.TxTypeSwapETHForExactTokens:
		// (amountOut, path, to, deadline)
		params.AmountInMax = cloneBig(tx.Value)
		params.AmountOut, err = args.uint(0)
		err = errors.Join(err, d.fillPath(params, args, 1), d.fillTail(params, args, 2))
	case entity.TxTypeSwapExactTokensForETH, entity.TxTypeSwapExactTokensForTokens:
		// (amountIn, amountOutMin, path, to, deadline)
		var e1, e2 error
		params.AmountIn, e1 = args.uint(0)
		params.AmountOutMin, e2 = args.uint(1)
		err = errors.Join(e1, e2, d.fillPath(params, args, 2), d.fillTail(params, args, 3))
	case entity.TxTypeSwapTokensForExactETH, entity.TxTypeSwapTokensForExactTokens:
		// (amountOut, amountInMax, path, to, deadline)
		var e1, e2 error
		params.AmountOut, e1 = args.uint(0)
		params.AmountInMax, e2 = args.uint(1)
		err = errors.Join(e1, e2, d.fillPath(params, args, 2), d.fillTail(params, args, 3))
	case entity.TxTypeV3ExactInputSingle:
		// ((tokenIn, tokenOut, fee, recipient, deadline, amountIn, amountOutMinimum, sqrtPriceLimitX96))
		var errs [6]error
		params.TokenIn, errs[0] = args.address(0)
		params.TokenOut, errs[1] = args.address(1)
		params.Recipient, errs[2] = args.address(3)
		params.Deadline, errs[3] = args.uint(4)
		params.AmountIn, errs[4] = args.uint(5)
		params.AmountOutMin, errs[5] = args.uint(6)
		err = errors.Join(errs[:]...)
	case entity.TxTypeAddLiquidity, entity.TxTypeRemoveLiquidity:
		// (tokenA, tokenB, amountADesired|liquidity, ...)
		var errs [3]error
		params.TokenIn, errs[0] = args.address(0)
		params.TokenOut, errs[1] = args.address(1)
		params.AmountIn, errs[2] = args.uint(2)
		err = errors.Join(errs[:]...)
	case entity.TxTypeAddLiquidityETH:
		// (token, amountTokenDesired, amountTokenMin, amountETHMin, to, deadline)
		params.AmountIn = cloneBig(tx.Value)
		params.TokenOut, err = args.address(0)
	case entity.TxTypeRemoveLiquidityETH:
		// (token, liquidity, amountTokenMin, amountETHMin, to, deadline)
		var e1, e2 error
		params.TokenIn, e1 = args.address(0)
		params.AmountIn, e2 = args.uint(1)
		err = errors.Join(e1, e2)
	default:
		// Multicall and generic router calls carry nested payloads we do not unwrap
		return params, nil
	}

	return params, err
}

// fillPath follows the dynamic offset at word index i to an address[] path
func (d *FixedOffsetDecoder) fillPath(params *entity.SwapParams, args callArgs, i int) error {
	offset, err := args.uint(i)
	if err != nil {
		return err
	}
	if !offset.IsInt64() || offset.Int64()%32 != 0 {
		return fmt.Errorf("path offset %s is not word aligned", offset)
	}
	if offset.Int64()/32 >= int64(args.words()) {
		return fmt.Errorf("%w: path offset %s past end of call data", errShortData, offset)
	}
	start := int(offset.Int64() / 32)

	length, err := args.uint(start)
	if err != nil {
		return fmt.Errorf("path length: %w", err)
	}
	if !length.IsInt64() || length.Int64() < 2 || length.Int64() > maxPathLen {
		return fmt.Errorf("implausible path length %s", length)
	}

	path := make([]string, 0, length.Int64())
	for j := 0; j < int(length.Int64()); j++ {
		addr, err := args.address(start + 1 + j)
		if err != nil {
			return fmt.Errorf("path[%d]: %w", j, err)
		}
		path = append(path, addr)
	}
	params.Path = path
	params.TokenIn = path[0]
	params.TokenOut = path[len(path)-1]
	return nil
}

// fillTail reads the (to, deadline) pair that follows the path offset
func (d *FixedOffsetDecoder) fillTail(params *entity.SwapParams, args callArgs, i int) error {
	var e1, e2 error
	params.Recipient, e1 = args.address(i)
	params.Deadline, e2 = args.uint(i + 1)
	return errors.Join(e1, e2)
}

// callArgs is hex call data with the selector stripped
type callArgs string

func (a callArgs) words() int { return len(a) / wordLen }

func (a callArgs) word(i int) (string, error) {
	if i < 0 || i >= a.words() {
		return "", fmt.Errorf("%w: word %d requested, have %d words", errShortData, i, a.words())
	}
	start := i * wordLen
	return string(a[start : start+wordLen]), nil
}

func (a callArgs) uint(i int) (*big.Int, error) {
	w, err := a.word(i)
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(w, 16)
	if !ok {
		return nil, fmt.Errorf("failed to parse word %d as uint256: %s", i, w)
	}
	return value, nil
}

func (a callArgs) address(i int) (string, error) {
	w, err := a.word(i)
	if err != nil {
		return "", err
	}
	// Skip padding, get last 20 bytes
	addr := "0x" + w[24:]
	if !IsValidAddress(addr) {
		return "", fmt.Errorf("%w: word %d", ErrInvalidAddress, i)
	}
	return addr, nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
