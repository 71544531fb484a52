package core

import "github.com/tolelom/nftescrow/crypto"

// TxState is the lifecycle position of a submitted transaction.
type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxRejected  TxState = "rejected"
)

// InnerTxn records a transfer issued by a program during a call.
type InnerTxn struct {
	Type        TxType          `json:"type"`
	Sender      crypto.Address  `json:"sender"`
	Receiver    crypto.Address  `json:"receiver"`
	Amount      uint64          `json:"amount"`
	AssetID     uint64          `json:"asset_id,omitempty"`
	AssetSender *crypto.Address `json:"asset_sender,omitempty"`
	Fee         uint64          `json:"fee"`
}

// Receipt describes the outcome of one transaction. Every member of a
// rejected group carries the same RejectReason.
type Receipt struct {
	TxID           string     `json:"tx_id"`
	Group          string     `json:"group,omitempty"`
	State          TxState    `json:"state"`
	ConfirmedRound int64      `json:"confirmed_round,omitempty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	CreatedAssetID uint64     `json:"created_asset_id,omitempty"`
	CreatedAppID   uint64     `json:"created_app_id,omitempty"`
	InnerTxns      []InnerTxn `json:"inner_txns,omitempty"`
}
