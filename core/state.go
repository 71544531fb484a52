package core

import "github.com/tolelom/nftescrow/crypto"

// AssetHolding is an account's position in one asset. An account must opt
// in (creating a zero holding) before it can receive units.
type AssetHolding struct {
	Amount uint64 `json:"amount"`
	Frozen bool   `json:"frozen"`
}

// Account holds a participant's native balance, replay-protection nonce and
// asset holdings keyed by asset id.
type Account struct {
	Address  crypto.Address           `json:"address"`
	Balance  uint64                   `json:"balance"`
	Nonce    uint64                   `json:"nonce"`
	Holdings map[uint64]*AssetHolding `json:"holdings,omitempty"`
}

// Holding returns the holding for assetID, or nil when not opted in.
func (a *Account) Holding(assetID uint64) *AssetHolding {
	if a.Holdings == nil {
		return nil
	}
	return a.Holdings[assetID]
}

// Asset is a registered asset and its parameters.
type Asset struct {
	ID      uint64         `json:"id"`
	Creator crypto.Address `json:"creator"`
	Params  AssetParams    `json:"params"`
}

// ValueType tags a global-state slot as an integer or a byte slice.
type ValueType uint8

const (
	ValueUint ValueType = iota + 1
	ValueBytes
)

// Value is one global-state slot.
type Value struct {
	Type  ValueType `json:"type"`
	Uint  uint64    `json:"uint,omitempty"`
	Bytes []byte    `json:"bytes,omitempty"`
}

// Application is a deployed program and its global state.
type Application struct {
	ID              uint64           `json:"id"`
	Creator         crypto.Address   `json:"creator"`
	ApprovalProgram []byte           `json:"approval_program"`
	ClearProgram    []byte           `json:"clear_program"`
	GlobalSchema    StateSchema      `json:"global_schema"`
	LocalSchema     StateSchema      `json:"local_schema"`
	GlobalState     map[string]Value `json:"global_state"`
}

// Address returns the application's custodial account address.
func (a *Application) Address() crypto.Address {
	return crypto.ApplicationAddress(a.ID)
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed groups.
type State interface {
	// Accounts
	GetAccount(addr crypto.Address) (*Account, error)
	SetAccount(account *Account) error

	// Assets
	GetAsset(id uint64) (*Asset, error)
	SetAsset(asset *Asset) error

	// Applications
	GetApplication(id uint64) (*Application, error)
	SetApplication(app *Application) error
	DeleteApplication(id uint64) error

	// NextID allocates the next asset/application id. Ids share one counter
	// so an asset and an application never have the same id.
	NextID() (uint64, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
