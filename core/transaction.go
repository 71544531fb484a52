package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/nftescrow/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxPayment         TxType = "pay"
	TxAssetConfig     TxType = "acfg"
	TxAssetTransfer   TxType = "axfer"
	TxApplicationCall TxType = "appl"
)

// Transaction is the atomic unit of work on the chain.
// From is the sender's address; for key-controlled accounts it is also the
// ed25519 public key the signature is checked against.
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      crypto.Address  `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Group     string          `json:"group,omitempty"` // shared id of an atomic group; empty when solo
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      crypto.Address  `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Group     string          `json:"group,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(tx.body())
	if err != nil {
		return ""
	}
	return crypto.TaggedHash(crypto.TagTransaction, data)
}

// groupHash hashes the transaction with its group field cleared so that a
// group id can be derived from the members before it is assigned to them.
func (tx *Transaction) groupHash() string {
	body := tx.body()
	body.Group = ""
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.TaggedHash(crypto.TagTransaction, data)
}

func (tx *Transaction) body() signingBody {
	return signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Group:     tx.Group,
		Payload:   tx.Payload,
	}
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature against From.
func (tx *Transaction) Verify() error {
	if tx.From.IsZero() {
		return errors.New("missing from field")
	}
	return crypto.Verify(tx.From.PublicKey(), []byte(tx.Hash()), tx.Signature)
}

// DecodePayload unmarshals the payload into v.
func (tx *Transaction) DecodePayload(v any) error {
	if err := json.Unmarshal(tx.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
// Nonce is filled in at signing time.
func NewTransaction(chainID string, typ TxType, from crypto.Address, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// PaymentPayload moves native currency.
type PaymentPayload struct {
	Receiver crypto.Address `json:"receiver"`
	Amount   uint64         `json:"amount"`
}

// AssetParams are the immutable distribution parameters and the mutable
// administrative authorities of an asset. A zero authority address is
// relinquished forever.
type AssetParams struct {
	Total         uint64         `json:"total"`
	Decimals      uint32         `json:"decimals"`
	DefaultFrozen bool           `json:"default_frozen"`
	UnitName      string         `json:"unit_name,omitempty"`
	Name          string         `json:"name,omitempty"`
	URL           string         `json:"url,omitempty"`
	MetadataHash  []byte         `json:"metadata_hash,omitempty"`
	Manager       crypto.Address `json:"manager"`
	Reserve       crypto.Address `json:"reserve"`
	Freeze        crypto.Address `json:"freeze"`
	Clawback      crypto.Address `json:"clawback"`
}

// AssetConfigPayload creates an asset (AssetID == 0) or reassigns the
// authorities of an existing one.
type AssetConfigPayload struct {
	AssetID     uint64           `json:"asset_id,omitempty"`
	Params      *AssetParams     `json:"params,omitempty"`
	Authorities *AuthorityUpdate `json:"authorities,omitempty"`
}

// AuthorityUpdate carries the new authority addresses on reconfiguration.
// Distribution parameters cannot change after creation.
type AuthorityUpdate struct {
	Manager  crypto.Address `json:"manager"`
	Reserve  crypto.Address `json:"reserve"`
	Freeze   crypto.Address `json:"freeze"`
	Clawback crypto.Address `json:"clawback"`
}

// AssetTransferPayload moves asset units. A zero-amount transfer to self is
// an opt-in. When AssetSender is set the sender must be the asset's
// clawback authority and units are revoked from AssetSender.
type AssetTransferPayload struct {
	AssetID     uint64          `json:"asset_id"`
	Amount      uint64          `json:"amount"`
	Receiver    crypto.Address  `json:"receiver"`
	AssetSender *crypto.Address `json:"asset_sender,omitempty"`
}

// OnComplete selects what happens to the caller's relationship with the
// application after the call.
type OnComplete string

const (
	NoOp              OnComplete = "noop"
	OptInOC           OnComplete = "optin"
	CloseOutOC        OnComplete = "closeout"
	ClearStateOC      OnComplete = "clearstate"
	UpdateApplication OnComplete = "update"
	DeleteApplication OnComplete = "delete"
)

// StateSchema declares how many global (or local) slots of each kind an
// application may use. It is fixed at deployment.
type StateSchema struct {
	NumUint      uint64 `json:"num_uint"`
	NumByteSlice uint64 `json:"num_byte_slice"`
}

// ApplicationCallPayload deploys (AppID == 0) or calls an application.
type ApplicationCallPayload struct {
	AppID           uint64      `json:"app_id,omitempty"`
	OnComplete      OnComplete  `json:"on_complete"`
	Args            [][]byte    `json:"args,omitempty"`
	Assets          []uint64    `json:"assets,omitempty"`
	ApprovalProgram []byte      `json:"approval_program,omitempty"`
	ClearProgram    []byte      `json:"clear_program,omitempty"`
	GlobalSchema    StateSchema `json:"global_schema"`
	LocalSchema     StateSchema `json:"local_schema"`
}
