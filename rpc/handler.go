package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/gateway"
	"github.com/tolelom/nftescrow/indexer"
)

// Backend is the ledger the handler serves. *node.Node implements it.
type Backend interface {
	gateway.Client
	Group(ctx context.Context, txID string) ([]*core.Transaction, error)
	Asset(ctx context.Context, id uint64) (*core.Asset, error)
	Application(ctx context.Context, id uint64) (*core.Application, error)
	Height() int64
	Block(height int64) (*core.Block, error)
	Indexer() *indexer.Indexer
}

// Handler routes decoded requests to the backend.
type Handler struct {
	backend Backend
}

// NewHandler creates an RPC Handler.
func NewHandler(backend Backend) *Handler {
	return &Handler{backend: backend}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodSendGroup:
		return h.sendGroup(ctx, req)
	case MethodGetTransaction:
		return h.getTransaction(ctx, req)
	case MethodGetGroup:
		return h.getGroup(ctx, req)
	case MethodGetAccount:
		return h.getAccount(ctx, req)
	case MethodGetAsset:
		return h.getAsset(ctx, req)
	case MethodGetApplication:
		return h.getApplication(ctx, req)
	case MethodGetBlockHeight:
		return okResponse(req.ID, h.backend.Height())
	case MethodGetBlock:
		return h.getBlock(req)
	case MethodGetAccountTxs:
		return h.getAccountTxs(req)
	case MethodGetAssetHolders:
		return h.byID(req, h.backend.Indexer().AssetHolders)
	case MethodGetEscrowPhases:
		return h.byID(req, h.backend.Indexer().EscrowPhases)
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) sendGroup(ctx context.Context, req Request) Response {
	var params SendGroupParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if len(params.Txs) == 0 {
		return errResponse(req.ID, CodeInvalidParams, "txs is required")
	}
	for _, tx := range params.Txs {
		if tx == nil {
			return errResponse(req.ID, CodeInvalidParams, "null transaction")
		}
		// Recompute the ID server-side; do not trust the client-provided value.
		tx.ID = tx.Hash()
	}
	key, err := h.backend.SendGroup(ctx, params.Txs)
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, SendGroupResult{GroupKey: key})
}

func (h *Handler) getTransaction(ctx context.Context, req Request) Response {
	var params TxParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	r, err := h.backend.Receipt(ctx, params.ID)
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, r)
}

func (h *Handler) getGroup(ctx context.Context, req Request) Response {
	var params TxParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	txs, err := h.backend.Group(ctx, params.ID)
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, txs)
}

func (h *Handler) getAccount(ctx context.Context, req Request) Response {
	addr, resp, ok := decodeAddress(req)
	if !ok {
		return resp
	}
	acc, err := h.backend.Account(ctx, addr)
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, acc)
}

func (h *Handler) getAsset(ctx context.Context, req Request) Response {
	var params IDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	asset, err := h.backend.Asset(ctx, params.ID)
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, asset)
}

func (h *Handler) getApplication(ctx context.Context, req Request) Response {
	var params IDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	app, err := h.backend.Application(ctx, params.ID)
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, app)
}

func (h *Handler) getBlock(req Request) Response {
	var params BlockParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}
	height := h.backend.Height()
	if params.Height != nil {
		height = *params.Height
	}
	block, err := h.backend.Block(height)
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getAccountTxs(req Request) Response {
	addr, resp, ok := decodeAddress(req)
	if !ok {
		return resp
	}
	ids, err := h.backend.Indexer().TxsByAccount(addr.String())
	if err != nil {
		return backendError(req.ID, err)
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) byID(req Request, lookup func(uint64) ([]string, error)) Response {
	var params IDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	list, err := lookup(params.ID)
	if err != nil {
		return backendError(req.ID, err)
	}
	if list == nil {
		list = []string{}
	}
	return okResponse(req.ID, list)
}

func decodeAddress(req Request) (crypto.Address, Response, bool) {
	var params AddressParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return crypto.Address{}, errResponse(req.ID, CodeInvalidParams, err.Error()), false
	}
	if params.Address == "" {
		return crypto.Address{}, errResponse(req.ID, CodeInvalidParams, "address is required"), false
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		return crypto.Address{}, errResponse(req.ID, CodeInvalidParams, err.Error()), false
	}
	return addr, Response{}, true
}

// backendError maps ledger errors onto codes the client maps back.
func backendError(id any, err error) Response {
	var rej *gateway.RejectedError
	switch {
	case errors.As(err, &rej):
		return errResponse(id, CodeRejected, rej.Reason)
	case errors.Is(err, core.ErrDuplicateGroup):
		return errResponse(id, CodeDuplicate, err.Error())
	case errors.Is(err, core.ErrNotFound):
		return errResponse(id, CodeNotFound, err.Error())
	default:
		return errResponse(id, CodeInternalError, err.Error())
	}
}
