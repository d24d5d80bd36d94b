package mempool

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"mempool-risk-engine/internal/domain/entity"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// subscribeRequest asks for full transaction objects rather than bare hashes
var subscribeRequest = []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":["newPendingTransactions",true]}`)

var errMalformed = errors.New("malformed message")

type messageKind int

const (
	messageOther messageKind = iota
	messageAck
	messageTransaction
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

// rpcTransaction is the JSON-RPC transaction object; numeric fields are hex quantities
type rpcTransaction struct {
	Hash         string          `json:"hash"`
	From         string          `json:"from"`
	To           *string         `json:"to"`
	Value        *hexutil.Big    `json:"value"`
	GasPrice     *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas *hexutil.Big    `json:"maxFeePerGas"`
	Gas          *hexutil.Uint64 `json:"gas"`
	Nonce        *hexutil.Uint64 `json:"nonce"`
	Input        string          `json:"input"`
	Data         string          `json:"data"`
}

// parseMessage classifies a raw feed message and decodes a transaction notification
func parseMessage(raw []byte) (messageKind, *rpcTransaction, error) {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return messageOther, nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	if msg.Error != nil {
		return messageOther, nil, fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	if len(msg.ID) > 0 && len(msg.Result) > 0 {
		return messageAck, nil, nil
	}
	if msg.Method != "eth_subscription" {
		return messageOther, nil, nil
	}
	if msg.Params == nil || len(msg.Params.Result) == 0 {
		return messageOther, nil, fmt.Errorf("%w: notification without result", errMalformed)
	}

	var tx rpcTransaction
	if err := json.Unmarshal(msg.Params.Result, &tx); err != nil {
		// Hash-only feeds deliver a JSON string here
		return messageOther, nil, fmt.Errorf("%w: transaction object: %v", errMalformed, err)
	}
	return messageTransaction, &tx, nil
}

// toPending validates the wire object and converts it into a PendingTransaction
func (t *rpcTransaction) toPending(chain string, chainID uint64, seenAt time.Time) (*entity.PendingTransaction, error) {
	if len(t.Hash) != 66 || !strings.HasPrefix(t.Hash, "0x") {
		return nil, fmt.Errorf("%w: bad hash %q", errMalformed, t.Hash)
	}
	if t.Gas == nil || t.Nonce == nil {
		return nil, fmt.Errorf("%w: missing gas or nonce", errMalformed)
	}

	gasPrice := t.GasPrice
	if gasPrice == nil {
		gasPrice = t.MaxFeePerGas
	}
	if gasPrice == nil {
		return nil, fmt.Errorf("%w: missing gas price", errMalformed)
	}

	input := t.Input
	if input == "" {
		input = t.Data
	}
	if input == "" {
		input = "0x"
	}
	if !strings.HasPrefix(input, "0x") {
		return nil, fmt.Errorf("%w: input is not 0x-prefixed", errMalformed)
	}

	value := new(big.Int)
	if t.Value != nil {
		value = t.Value.ToInt()
	}

	to := ""
	if t.To != nil {
		to = strings.ToLower(*t.To)
	}

	return &entity.PendingTransaction{
		Hash:      strings.ToLower(t.Hash),
		From:      strings.ToLower(t.From),
		To:        to,
		Value:     value,
		GasPrice:  gasPrice.ToInt(),
		GasLimit:  uint64(*t.Gas),
		Nonce:     uint64(*t.Nonce),
		Input:     strings.ToLower(input),
		Timestamp: seenAt,
		ChainID:   chainID,
		Chain:     chain,
	}, nil
}
