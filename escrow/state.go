package escrow

import (
	"fmt"

	"github.com/tolelom/nftescrow/crypto"
)

// Phase is the lifecycle position of one marketplace instance.
type Phase uint64

const (
	NotInitialized Phase = iota
	Active
	SellingOpen
	BuyingInProgress
)

func (p Phase) String() string {
	switch p {
	case NotInitialized:
		return "not_initialized"
	case Active:
		return "active"
	case SellingOpen:
		return "selling_open"
	case BuyingInProgress:
		return "buying_in_progress"
	default:
		return fmt.Sprintf("phase(%d)", uint64(p))
	}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool { return p <= BuyingInProgress }

// OptionalAddress is an address that may be absent.
type OptionalAddress struct {
	addr crypto.Address
	set  bool
}

// Some returns a present OptionalAddress.
func Some(a crypto.Address) OptionalAddress { return OptionalAddress{addr: a, set: true} }

// None is the absent OptionalAddress.
var None = OptionalAddress{}

// Get returns the address and whether it is present.
func (o OptionalAddress) Get() (crypto.Address, bool) { return o.addr, o.set }

// IsSet reports whether an address is present.
func (o OptionalAddress) IsSet() bool { return o.set }

func (o OptionalAddress) String() string {
	if !o.set {
		return "none"
	}
	return o.addr.String()
}

// DefaultRoyaltyPercent is the creator's share of every sale, fixed for an
// instance when it is initialized.
const DefaultRoyaltyPercent = 10

// State is the typed view of an instance's global storage.
type State struct {
	AssetID        uint64
	Escrow         OptionalAddress
	Owner          crypto.Address
	Admin          crypto.Address
	Creator        crypto.Address
	RoyaltyPercent uint64
	Price          uint64
	Buyer          OptionalAddress
	Phase          Phase
}

// Check verifies the cross-field invariants that every committed state
// satisfies.
func (s *State) Check() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %d", ErrEncoding, uint64(s.Phase))
	}
	if s.Buyer.IsSet() != (s.Phase == BuyingInProgress) {
		return fmt.Errorf("%w: buyer %s in phase %s", ErrPrecondition, s.Buyer, s.Phase)
	}
	if s.RoyaltyPercent > 100 {
		return fmt.Errorf("%w: royalty percent %d above 100", ErrEncoding, s.RoyaltyPercent)
	}
	return nil
}
