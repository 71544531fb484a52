// Package escrow implements the state machine of a single-asset custodial
// marketplace: listing, purchase, settlement with creator royalty, and
// cancellation. Apply is pure; Program adapts it to the ledger VM.
package escrow

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
)

// Action selectors carried in argument 0 of every non-creation call.
const (
	ActionInitializeEscrow = "initializeEscrow"
	ActionOpenSell         = "openSell"
	ActionBuy              = "buy"
	ActionValidateBuy      = "validateBuy"
	ActionCancelBuy        = "cancelBuy"
	ActionCloseSell        = "closeSell"

	// ActionInitialize labels the creation call, which carries no selector.
	ActionInitialize = "initialize"
)

// Group sizes the calls are bound to.
const (
	SoloGroupSize      = 1
	BuyGroupSize       = 2
	CancelBuyGroupSize = 3
)

// AssetInfo is the part of the referenced asset's parameters the machine
// inspects.
type AssetInfo struct {
	ID            uint64
	DefaultFrozen bool
	Manager       crypto.Address
	Reserve       crypto.Address
	Freeze        crypto.Address
	Clawback      crypto.Address
}

// AssetInfoFrom extracts AssetInfo from a ledger asset record.
func AssetInfoFrom(a *core.Asset) *AssetInfo {
	return &AssetInfo{
		ID:            a.ID,
		DefaultFrozen: a.Params.DefaultFrozen,
		Manager:       a.Params.Manager,
		Reserve:       a.Params.Reserve,
		Freeze:        a.Params.Freeze,
		Clawback:      a.Params.Clawback,
	}
}

// Call is one invocation as seen by the machine.
type Call struct {
	Sender     crypto.Address
	Creating   bool
	OnComplete core.OnComplete
	Args       [][]byte
	Assets     []uint64
	GroupSize  int
	// Asset holds the parameters of Assets[0] when that asset exists.
	Asset *AssetInfo
	// Payments lists the native payments made by the other members of the
	// calling group.
	Payments []Payment
}

// Payment is a native payment carried alongside a call in its group.
type Payment struct {
	Sender   crypto.Address
	Receiver crypto.Address
	Amount   uint64
}

// EffectKind distinguishes the value movements a transition may request.
type EffectKind int

const (
	// EffectPayment pays Amount of native currency from the escrow account.
	EffectPayment EffectKind = iota + 1
	// EffectAssetClawback moves Amount units of AssetID from AssetSender to
	// Receiver using the escrow's clawback authority.
	EffectAssetClawback
)

func (k EffectKind) String() string {
	switch k {
	case EffectPayment:
		return "payment"
	case EffectAssetClawback:
		return "asset_clawback"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Effect is a pending inner transfer the host applies in the same atomic
// unit as the state change.
type Effect struct {
	Kind        EffectKind
	Receiver    crypto.Address
	Amount      uint64
	AssetID     uint64
	AssetSender crypto.Address
}

// Outcome is the result of an approved call.
type Outcome struct {
	Action  string
	State   State
	Effects []Effect
}

// Apply evaluates call against prev, the stored state (nil when the
// instance has none yet). On error nothing may be persisted or moved.
func Apply(prev *State, call Call) (Outcome, error) {
	if call.OnComplete != "" && call.OnComplete != core.NoOp {
		return Outcome{}, fmt.Errorf("%w: on_complete %q not supported", ErrPrecondition, call.OnComplete)
	}
	if call.Creating {
		return initialize(prev, call)
	}
	if len(call.Args) == 0 {
		return Outcome{}, fmt.Errorf("%w: missing action selector", ErrEncoding)
	}

	action := string(call.Args[0])
	var (
		out Outcome
		err error
	)
	switch action {
	case ActionInitializeEscrow:
		out, err = initializeEscrow(prev, call)
	case ActionOpenSell:
		out, err = openSell(prev, call)
	case ActionBuy:
		out, err = buy(prev, call)
	case ActionValidateBuy:
		out, err = validateBuy(prev, call)
	case ActionCancelBuy:
		out, err = cancelBuy(prev, call)
	case ActionCloseSell:
		out, err = closeSell(prev, call)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown action %q", ErrEncoding, action)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: %w", action, err)
	}
	out.Action = action
	return out, nil
}

// ActionUnknown labels a call whose selector is missing or not an action.
const ActionUnknown = "unknown"

// ActionOf returns the action label of call without evaluating it. The
// result is always one of the Action constants.
func ActionOf(call Call) string {
	if call.Creating {
		return ActionInitialize
	}
	if len(call.Args) == 0 {
		return ActionUnknown
	}
	switch action := string(call.Args[0]); action {
	case ActionInitializeEscrow, ActionOpenSell, ActionBuy, ActionValidateBuy, ActionCancelBuy, ActionCloseSell:
		return action
	default:
		return ActionUnknown
	}
}

func initialize(prev *State, call Call) (Outcome, error) {
	if len(call.Args) != 2 {
		return Outcome{}, fmt.Errorf("initialize: %w: want 2 args, got %d", ErrEncoding, len(call.Args))
	}
	owner, err := addressArg(call.Args, 0)
	if err != nil {
		return Outcome{}, fmt.Errorf("initialize: %w", err)
	}
	admin, err := addressArg(call.Args, 1)
	if err != nil {
		return Outcome{}, fmt.Errorf("initialize: %w", err)
	}
	if prev != nil {
		return Outcome{}, fmt.Errorf("initialize: %w: instance already initialized", ErrPrecondition)
	}
	if len(call.Assets) != 1 {
		return Outcome{}, fmt.Errorf("initialize: %w: want 1 referenced asset, got %d", ErrPrecondition, len(call.Assets))
	}

	return Outcome{
		Action: ActionInitialize,
		State: State{
			AssetID:        call.Assets[0],
			Escrow:         None,
			Owner:          owner,
			Admin:          admin,
			Creator:        owner,
			RoyaltyPercent: DefaultRoyaltyPercent,
			Buyer:          None,
			Phase:          NotInitialized,
		},
	}, nil
}

func initializeEscrow(prev *State, call Call) (Outcome, error) {
	if len(call.Args) != 2 {
		return Outcome{}, fmt.Errorf("%w: want 2 args, got %d", ErrEncoding, len(call.Args))
	}
	escrowAddr, err := addressArg(call.Args, 1)
	if err != nil {
		return Outcome{}, err
	}
	s, err := existing(prev)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case call.Sender != s.Admin:
		return Outcome{}, fmt.Errorf("%w: sender is not the admin", ErrPrecondition)
	case s.Escrow.IsSet():
		return Outcome{}, fmt.Errorf("%w: escrow address already set", ErrPrecondition)
	case call.GroupSize != SoloGroupSize:
		return Outcome{}, fmt.Errorf("%w: must be a solo call, group size %d", ErrPrecondition, call.GroupSize)
	case len(call.Assets) != 1 || call.Assets[0] != s.AssetID:
		return Outcome{}, fmt.Errorf("%w: referenced asset must be %d", ErrPrecondition, s.AssetID)
	case call.Asset == nil || call.Asset.ID != s.AssetID:
		return Outcome{}, fmt.Errorf("%w: asset %d not found", ErrPrecondition, s.AssetID)
	case call.Asset.Clawback != escrowAddr:
		return Outcome{}, fmt.Errorf("%w: asset clawback is not the escrow address", ErrPrecondition)
	case !call.Asset.DefaultFrozen:
		return Outcome{}, fmt.Errorf("%w: asset is not default frozen", ErrPrecondition)
	case !call.Asset.Manager.IsZero(), !call.Asset.Freeze.IsZero(), !call.Asset.Reserve.IsZero():
		return Outcome{}, fmt.Errorf("%w: asset authorities not relinquished", ErrPrecondition)
	}

	s.Escrow = Some(escrowAddr)
	s.Phase = Active
	return Outcome{State: s}, nil
}

func openSell(prev *State, call Call) (Outcome, error) {
	if len(call.Args) != 2 {
		return Outcome{}, fmt.Errorf("%w: want 2 args, got %d", ErrEncoding, len(call.Args))
	}
	price, err := uintArg(call.Args, 1)
	if err != nil {
		return Outcome{}, err
	}
	s, err := existing(prev)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case call.GroupSize != SoloGroupSize:
		return Outcome{}, fmt.Errorf("%w: must be a solo call, group size %d", ErrPrecondition, call.GroupSize)
	case s.Phase != Active && s.Phase != SellingOpen:
		return Outcome{}, fmt.Errorf("%w: phase %s", ErrPrecondition, s.Phase)
	case call.Sender != s.Owner:
		return Outcome{}, fmt.Errorf("%w: sender is not the owner", ErrPrecondition)
	}

	s.Price = price
	s.Phase = SellingOpen
	return Outcome{State: s}, nil
}

func buy(prev *State, call Call) (Outcome, error) {
	if len(call.Args) != 2 {
		return Outcome{}, fmt.Errorf("%w: want 2 args, got %d", ErrEncoding, len(call.Args))
	}
	buyer, err := addressArg(call.Args, 1)
	if err != nil {
		return Outcome{}, err
	}
	s, err := existing(prev)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case call.GroupSize != BuyGroupSize:
		return Outcome{}, fmt.Errorf("%w: group size %d, want %d", ErrPrecondition, call.GroupSize, BuyGroupSize)
	case s.Phase != SellingOpen:
		return Outcome{}, fmt.Errorf("%w: phase %s", ErrPrecondition, s.Phase)
	case s.Buyer.IsSet():
		return Outcome{}, fmt.Errorf("%w: a purchase is already in progress", ErrPrecondition)
	case buyer.IsZero():
		return Outcome{}, fmt.Errorf("%w: buyer is the zero address", ErrPrecondition)
	}
	escrowAddr, ok := s.Escrow.Get()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: escrow address unset", ErrPrecondition)
	}
	if paid := paidTo(call.Payments, escrowAddr); paid < s.Price {
		return Outcome{}, fmt.Errorf("%w: group pays %d to the escrow, price is %d", ErrPrecondition, paid, s.Price)
	}

	s.Buyer = Some(buyer)
	s.Phase = BuyingInProgress
	return Outcome{State: s}, nil
}

// paidTo sums the payments to receiver, saturating instead of wrapping.
func paidTo(payments []Payment, receiver crypto.Address) uint64 {
	var total uint64
	for _, p := range payments {
		if p.Receiver != receiver {
			continue
		}
		if total+p.Amount < total {
			return ^uint64(0)
		}
		total += p.Amount
	}
	return total
}

func validateBuy(prev *State, call Call) (Outcome, error) {
	s, err := existing(prev)
	if err != nil {
		return Outcome{}, err
	}
	if s.Phase != BuyingInProgress {
		return Outcome{}, fmt.Errorf("%w: phase %s", ErrPrecondition, s.Phase)
	}
	buyer, ok := s.Buyer.Get()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no buyer recorded", ErrPrecondition)
	}

	royalty, seller := SplitPrice(s.Price, s.RoyaltyPercent)
	var effects []Effect
	if seller > 0 {
		effects = append(effects, Effect{Kind: EffectPayment, Receiver: s.Owner, Amount: seller})
	}
	effects = append(effects, Effect{
		Kind:        EffectAssetClawback,
		Receiver:    buyer,
		Amount:      1,
		AssetID:     s.AssetID,
		AssetSender: s.Owner,
	})
	if royalty > 0 {
		effects = append(effects, Effect{Kind: EffectPayment, Receiver: s.Creator, Amount: royalty})
	}

	s.Owner = buyer
	s.Buyer = None
	s.Phase = Active
	return Outcome{State: s, Effects: effects}, nil
}

func cancelBuy(prev *State, call Call) (Outcome, error) {
	s, err := existing(prev)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case call.GroupSize != CancelBuyGroupSize:
		return Outcome{}, fmt.Errorf("%w: must be in a group of %d, got %d", ErrPrecondition, CancelBuyGroupSize, call.GroupSize)
	case call.Sender != s.Owner:
		return Outcome{}, fmt.Errorf("%w: sender is not the owner", ErrPrecondition)
	case s.Phase != BuyingInProgress:
		return Outcome{}, fmt.Errorf("%w: phase %s", ErrPrecondition, s.Phase)
	}

	s.Buyer = None
	s.Phase = SellingOpen
	return Outcome{State: s}, nil
}

func closeSell(prev *State, call Call) (Outcome, error) {
	s, err := existing(prev)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case call.GroupSize != SoloGroupSize:
		return Outcome{}, fmt.Errorf("%w: must be a solo call, group size %d", ErrPrecondition, call.GroupSize)
	case call.Sender != s.Owner:
		return Outcome{}, fmt.Errorf("%w: sender is not the owner", ErrPrecondition)
	case s.Phase == NotInitialized:
		return Outcome{}, fmt.Errorf("%w: phase %s", ErrPrecondition, s.Phase)
	}

	// A pending purchase is abandoned along with the listing.
	s.Buyer = None
	s.Phase = Active
	return Outcome{State: s}, nil
}

// SplitPrice divides price into the creator's royalty, floor(price*percent/100),
// and the seller's remainder. The two always sum to price.
func SplitPrice(price, percent uint64) (royalty, seller uint64) {
	r := new(uint256.Int).Mul(uint256.NewInt(price), uint256.NewInt(percent))
	r.Div(r, uint256.NewInt(100))
	royalty = r.Uint64()
	if royalty > price {
		royalty = price
	}
	return royalty, price - royalty
}

func existing(prev *State) (State, error) {
	if prev == nil {
		return State{}, fmt.Errorf("%w: instance not initialized", ErrPrecondition)
	}
	return *prev, nil
}

func addressArg(args [][]byte, i int) (crypto.Address, error) {
	a, err := crypto.AddressFromBytes(args[i])
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: arg %d: %v", ErrEncoding, i, err)
	}
	return a, nil
}

func uintArg(args [][]byte, i int) (uint64, error) {
	b := args[i]
	if len(b) > 8 {
		return 0, fmt.Errorf("%w: arg %d: integer of %d bytes", ErrEncoding, i, len(b))
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:]), nil
}
