// Package rpc exposes the ledger via a JSON-RPC 2.0 HTTP endpoint and
// provides the matching client.
package rpc

import (
	"encoding/json"

	"github.com/tolelom/nftescrow/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Standard JSON-RPC error codes, then server-defined ones.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32001
	CodeRejected       = -32002
	CodeDuplicate      = -32003
	CodeRateLimited    = -32005
)

// Method names.
const (
	MethodSendGroup       = "sendGroup"
	MethodGetTransaction  = "getTransaction"
	MethodGetGroup        = "getGroup"
	MethodGetAccount      = "getAccount"
	MethodGetAsset        = "getAsset"
	MethodGetApplication  = "getApplication"
	MethodGetBlockHeight  = "getBlockHeight"
	MethodGetBlock        = "getBlock"
	MethodGetAccountTxs   = "getAccountTxs"
	MethodGetAssetHolders = "getAssetHolders"
	MethodGetEscrowPhases = "getEscrowPhases"
)

// methods is the set of names Dispatch serves.
var methods = map[string]bool{
	MethodSendGroup:       true,
	MethodGetTransaction:  true,
	MethodGetGroup:        true,
	MethodGetAccount:      true,
	MethodGetAsset:        true,
	MethodGetApplication:  true,
	MethodGetBlockHeight:  true,
	MethodGetBlock:        true,
	MethodGetAccountTxs:   true,
	MethodGetAssetHolders: true,
	MethodGetEscrowPhases: true,
}

// methodLabel returns method when it is served and "unknown" otherwise,
// keeping metric label values to a fixed set.
func methodLabel(method string) string {
	if methods[method] {
		return method
	}
	return "unknown"
}

// SendGroupParams carries a signed group.
type SendGroupParams struct {
	Txs []*core.Transaction `json:"txs"`
}

// SendGroupResult is returned by sendGroup.
type SendGroupResult struct {
	GroupKey string `json:"group_key"`
}

// IDParams selects an object by numeric id.
type IDParams struct {
	ID uint64 `json:"id"`
}

// TxParams selects a transaction.
type TxParams struct {
	ID string `json:"id"`
}

// AddressParams selects an account.
type AddressParams struct {
	Address string `json:"address"`
}

// BlockParams selects a block; nil Height means the tip.
type BlockParams struct {
	Height *int64 `json:"height"`
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func okResponse(id, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errResponse(id, CodeInternalError, "marshal result: "+err.Error())
	}
	return Response{JSONRPC: "2.0", ID: id, Result: data}
}
