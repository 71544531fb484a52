package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/gateway"
)

// Client talks to a node's JSON-RPC endpoint. It implements gateway.Client
// so a Gateway can submit through it.
type Client struct {
	rc *resty.Client
}

var _ gateway.Client = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*resty.Client)

// WithAuthToken sends "Authorization: Bearer <token>" on every request.
func WithAuthToken(token string) ClientOption {
	return func(rc *resty.Client) {
		if token != "" {
			rc.SetAuthToken(token)
		}
	}
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(rc *resty.Client) { rc.SetTimeout(d) }
}

// NewClient returns a Client for the endpoint at url.
func NewClient(url string, opts ...ClientOption) *Client {
	rc := resty.New().
		SetBaseURL(url).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{rc: rc}
}

// SendGroup submits a signed group. A ledger rejection is returned as a
// *gateway.RejectedError naming the group's first transaction.
func (c *Client) SendGroup(ctx context.Context, txs []*core.Transaction) (string, error) {
	var res SendGroupResult
	err := c.call(ctx, MethodSendGroup, SendGroupParams{Txs: txs}, &res)
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeRejected && len(txs) > 0 {
		return "", &gateway.RejectedError{TxID: txs[0].ID, Reason: rpcErr.Message}
	}
	return res.GroupKey, err
}

// Receipt returns the receipt for txID.
func (c *Client) Receipt(ctx context.Context, txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := c.call(ctx, MethodGetTransaction, TxParams{ID: txID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Group returns the members of the group that confirmed txID.
func (c *Client) Group(ctx context.Context, txID string) ([]*core.Transaction, error) {
	var txs []*core.Transaction
	if err := c.call(ctx, MethodGetGroup, TxParams{ID: txID}, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// Account returns the account at addr.
func (c *Client) Account(ctx context.Context, addr crypto.Address) (*core.Account, error) {
	var acc core.Account
	if err := c.call(ctx, MethodGetAccount, AddressParams{Address: addr.String()}, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Asset returns the asset with the given id.
func (c *Client) Asset(ctx context.Context, id uint64) (*core.Asset, error) {
	var a core.Asset
	if err := c.call(ctx, MethodGetAsset, IDParams{ID: id}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Application returns the application with the given id.
func (c *Client) Application(ctx context.Context, id uint64) (*core.Application, error) {
	var app core.Application
	if err := c.call(ctx, MethodGetApplication, IDParams{ID: id}, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// Height returns the tip height.
func (c *Client) Height(ctx context.Context) (int64, error) {
	var h int64
	err := c.call(ctx, MethodGetBlockHeight, nil, &h)
	return h, err
}

// Block returns the block at height.
func (c *Client) Block(ctx context.Context, height int64) (*core.Block, error) {
	var b core.Block
	if err := c.call(ctx, MethodGetBlock, BlockParams{Height: &height}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// AccountTxs returns the ids of transactions that touched addr.
func (c *Client) AccountTxs(ctx context.Context, addr crypto.Address) ([]string, error) {
	var ids []string
	err := c.call(ctx, MethodGetAccountTxs, AddressParams{Address: addr.String()}, &ids)
	return ids, err
}

// AssetHolders returns every account that has received units of the asset.
func (c *Client) AssetHolders(ctx context.Context, assetID uint64) ([]string, error) {
	var holders []string
	err := c.call(ctx, MethodGetAssetHolders, IDParams{ID: assetID}, &holders)
	return holders, err
}

// EscrowPhases returns the phase history of an escrow instance.
func (c *Client) EscrowPhases(ctx context.Context, appID uint64) ([]string, error) {
	var phases []string
	err := c.call(ctx, MethodGetEscrowPhases, IDParams{ID: appID}, &phases)
	return phases, err
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req := Request{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
		req.Params = raw
	}

	// Error responses (429, 405) still carry a JSON-RPC envelope when the
	// server produced them.
	var resp Response
	httpResp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("")
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return clientError(method, resp.Error)
	}
	if httpResp.IsError() {
		return fmt.Errorf("%s: HTTP %d: %s", method, httpResp.StatusCode(), httpResp.String())
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// clientError maps server codes back onto the sentinels callers test for.
func clientError(method string, e *Error) error {
	switch e.Code {
	case CodeNotFound:
		return fmt.Errorf("%s: %s: %w", method, e.Message, core.ErrNotFound)
	case CodeDuplicate:
		return fmt.Errorf("%s: %w", method, core.ErrDuplicateGroup)
	default:
		return e
	}
}
