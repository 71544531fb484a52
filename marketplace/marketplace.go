// Package marketplace sequences the calls of one listing cycle against a
// deployed escrow instance: deploy, bind the escrow, fund it, list, buy and
// settle or cancel. It performs no business validation of its own; every
// rule is enforced by the escrow program on the ledger and surfaced here
// as the gateway's rejection.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/escrow"
	"github.com/tolelom/nftescrow/gateway"
	"github.com/tolelom/nftescrow/txbuilder"
	"github.com/tolelom/nftescrow/vm"
)

// ErrNotDeployed is returned by calls that need an application id before
// Deploy or Attach has provided one.
var ErrNotDeployed = errors.New("marketplace: escrow instance not deployed")

// AppReader reads a deployed application's record.
type AppReader interface {
	Application(ctx context.Context, id uint64) (*core.Application, error)
}

// Receipt identifies the confirmed operation of a step. For grouped steps
// TxID is the program call's id.
type Receipt struct {
	TxID  string
	Round int64
}

// Marketplace drives one escrow instance governing one asset.
type Marketplace struct {
	gw      *gateway.Gateway
	apps    AppReader
	b       *txbuilder.Builder
	admin   gateway.Signer
	assetID uint64
	policy  Policy
	logger  *slog.Logger

	mu    sync.Mutex
	appID uint64
}

// New creates a Marketplace for assetID administered by admin.
func New(gw *gateway.Gateway, apps AppReader, b *txbuilder.Builder, admin gateway.Signer, assetID uint64, policy Policy, logger *slog.Logger) *Marketplace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Marketplace{
		gw:      gw,
		apps:    apps,
		b:       b,
		admin:   admin,
		assetID: assetID,
		policy:  policy,
		logger:  logger.With("component", "marketplace", "asset_id", assetID),
	}
}

// Attach binds m to an instance deployed earlier.
func (m *Marketplace) Attach(appID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appID = appID
}

// AssetID returns the governed asset.
func (m *Marketplace) AssetID() uint64 { return m.assetID }

// AppID returns the instance's application id.
func (m *Marketplace) AppID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appID == 0 {
		return 0, ErrNotDeployed
	}
	return m.appID, nil
}

// EscrowAddress returns the custodial account controlled by the instance.
func (m *Marketplace) EscrowAddress() (crypto.Address, error) {
	id, err := m.AppID()
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.ApplicationAddress(id), nil
}

// Deploy creates the escrow instance with owner as the initial owner and
// creator, and the marketplace admin as its admin.
func (m *Marketplace) Deploy(ctx context.Context, owner crypto.Address) (Receipt, error) {
	tx, err := m.b.ProgramDeployment(
		m.admin.Address(),
		[]byte(escrow.ProgramName),
		[]byte(vm.ApproveAll),
		escrow.GlobalSchema,
		escrow.LocalSchema,
		txbuilder.Args(txbuilder.AddressArg(owner), txbuilder.AddressArg(m.admin.Address())),
		[]uint64{m.assetID},
	)
	if err != nil {
		return Receipt{}, err
	}
	conf, err := m.gw.Submit(ctx, []gateway.Signer{m.admin}, tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("deploy: %w", err)
	}
	appID := conf.Receipts[0].CreatedAppID
	if appID == 0 {
		return Receipt{}, fmt.Errorf("deploy: confirmation of %s carries no application id", conf.TxID)
	}
	m.Attach(appID)
	m.logger.Info("escrow deployed", "app_id", appID, "escrow", crypto.ApplicationAddress(appID).String(), "round", conf.Round)
	return receiptOf(conf), nil
}

// ReleaseAuthorities hands the asset's clawback authority to the escrow and
// relinquishes manager, reserve and freeze, as initializeEscrow requires.
// manager must be the asset's current manager. The change is irreversible.
func (m *Marketplace) ReleaseAuthorities(ctx context.Context, manager gateway.Signer) (Receipt, error) {
	escrowAddr, err := m.EscrowAddress()
	if err != nil {
		return Receipt{}, err
	}
	tx, err := m.b.AssetConfig(m.assetID, manager.Address(), core.AuthorityUpdate{Clawback: escrowAddr})
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, "releaseAuthorities", []gateway.Signer{manager}, tx)
}

// InitializeEscrow binds the escrow address into the instance.
func (m *Marketplace) InitializeEscrow(ctx context.Context) (Receipt, error) {
	escrowAddr, err := m.EscrowAddress()
	if err != nil {
		return Receipt{}, err
	}
	tx, err := m.call(m.admin.Address(), []uint64{m.assetID},
		txbuilder.StringArg(escrow.ActionInitializeEscrow), txbuilder.AddressArg(escrowAddr))
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, escrow.ActionInitializeEscrow, []gateway.Signer{m.admin}, tx)
}

// FundEscrow pays the policy's funding amount from the admin to the escrow.
func (m *Marketplace) FundEscrow(ctx context.Context) (Receipt, error) {
	escrowAddr, err := m.EscrowAddress()
	if err != nil {
		return Receipt{}, err
	}
	tx, err := m.b.Payment(m.admin.Address(), escrowAddr, m.policy.FundAmount)
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, "fundEscrow", []gateway.Signer{m.admin}, tx)
}

// OpenSell lists the asset at price. Calling it again while listed replaces
// the price.
func (m *Marketplace) OpenSell(ctx context.Context, seller gateway.Signer, price uint64) (Receipt, error) {
	tx, err := m.call(seller.Address(), nil, txbuilder.StringArg(escrow.ActionOpenSell), txbuilder.Uint64Arg(price))
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, escrow.ActionOpenSell, []gateway.Signer{seller}, tx)
}

// OptIn lets account hold the asset. A buyer must opt in before ValidateBuy
// can deliver the asset.
func (m *Marketplace) OptIn(ctx context.Context, account gateway.Signer) (Receipt, error) {
	tx, err := m.b.AssetOptIn(m.assetID, account.Address())
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, "optIn", []gateway.Signer{account}, tx)
}

// Buy registers buyer as the pending buyer and pays price into the escrow,
// as one two-operation group.
func (m *Marketplace) Buy(ctx context.Context, buyer gateway.Signer, price uint64) (Receipt, error) {
	escrowAddr, err := m.EscrowAddress()
	if err != nil {
		return Receipt{}, err
	}
	call, err := m.call(buyer.Address(), nil, txbuilder.StringArg(escrow.ActionBuy), txbuilder.AddressArg(buyer.Address()))
	if err != nil {
		return Receipt{}, err
	}
	pay, err := m.b.Payment(buyer.Address(), escrowAddr, price)
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, escrow.ActionBuy, []gateway.Signer{buyer}, call, pay)
}

// ValidateBuy settles the pending purchase: the owner is paid the price less
// royalty, the creator the royalty, and the asset moves to the buyer.
func (m *Marketplace) ValidateBuy(ctx context.Context, caller gateway.Signer) (Receipt, error) {
	tx, err := m.call(caller.Address(), nil, txbuilder.StringArg(escrow.ActionValidateBuy))
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, escrow.ActionValidateBuy, []gateway.Signer{caller}, tx)
}

// CancelBuy withdraws the pending purchase and reopens the listing. The
// escrow program does not return the buyer's payment, so the group carries
// the refund from the owner to the buyer and a zero-unit self transfer by
// which the owner shows it still holds the asset.
func (m *Marketplace) CancelBuy(ctx context.Context, owner gateway.Signer, buyer crypto.Address, price uint64) (Receipt, error) {
	call, err := m.call(owner.Address(), nil, txbuilder.StringArg(escrow.ActionCancelBuy))
	if err != nil {
		return Receipt{}, err
	}
	refund, err := m.b.Payment(owner.Address(), buyer, price)
	if err != nil {
		return Receipt{}, err
	}
	hold, err := m.b.AssetTransfer(m.assetID, owner.Address(), owner.Address(), 0)
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, escrow.ActionCancelBuy, []gateway.Signer{owner}, call, refund, hold)
}

// CloseSell withdraws the listing.
func (m *Marketplace) CloseSell(ctx context.Context, owner gateway.Signer) (Receipt, error) {
	tx, err := m.call(owner.Address(), nil, txbuilder.StringArg(escrow.ActionCloseSell))
	if err != nil {
		return Receipt{}, err
	}
	return m.submit(ctx, escrow.ActionCloseSell, []gateway.Signer{owner}, tx)
}

// State reads back the instance's decoded state. It returns nil when the
// instance exists but holds no state.
func (m *Marketplace) State(ctx context.Context) (*escrow.State, error) {
	id, err := m.AppID()
	if err != nil {
		return nil, err
	}
	app, err := m.apps.Application(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read application %d: %w", id, err)
	}
	return escrow.Decode(escrow.Slots(app.GlobalState))
}

func (m *Marketplace) call(caller crypto.Address, assets []uint64, args ...[]byte) (*core.Transaction, error) {
	id, err := m.AppID()
	if err != nil {
		return nil, err
	}
	return m.b.ProgramCall(id, caller, args, assets, core.NoOp)
}

func (m *Marketplace) submit(ctx context.Context, step string, signers []gateway.Signer, txs ...*core.Transaction) (Receipt, error) {
	conf, err := m.gw.Submit(ctx, signers, txs...)
	if err != nil {
		m.logger.Warn("step failed", "step", step, "err", err)
		return Receipt{}, fmt.Errorf("%s: %w", step, err)
	}
	m.logger.Info("step confirmed", "step", step, "tx", conf.TxID, "round", conf.Round)
	return receiptOf(conf), nil
}

func receiptOf(conf *gateway.Confirmation) Receipt {
	return Receipt{TxID: conf.TxID, Round: conf.Round}
}
