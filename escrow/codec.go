package escrow

import (
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
)

// Global-state slot keys.
const (
	KeyAssetID        = "ASA_ID"
	KeyPrice          = "ASA_PRICE"
	KeyPhase          = "APP_STATE"
	KeyRoyaltyPercent = "CREATOR_ROYALTIES"
	KeyEscrowAddress  = "ESCROW_ADDRESS"
	KeyOwner          = "ASA_OWNER"
	KeyBuyer          = "ASA_BUYER"
	KeyAdmin          = "APP_ADMIN"
	KeyCreator        = "ASA_CREATOR"
)

// GlobalSchema is the storage an instance declares at deployment.
var GlobalSchema = core.StateSchema{NumUint: 5, NumByteSlice: 5}

// LocalSchema is empty: the program keeps no per-account state.
var LocalSchema = core.StateSchema{}

// SlotReader reads global-state slots.
type SlotReader interface {
	GlobalGet(key string) (core.Value, bool)
}

// SlotWriter writes global-state slots.
type SlotWriter interface {
	GlobalPut(key string, v core.Value) error
}

// Slots adapts a plain global-state map to SlotReader and SlotWriter.
type Slots map[string]core.Value

func (s Slots) GlobalGet(key string) (core.Value, bool) {
	v, ok := s[key]
	return v, ok
}

func (s Slots) GlobalPut(key string, v core.Value) error {
	s[key] = v
	return nil
}

// Decode reads the typed state from r. It returns nil, nil when the
// instance has not been initialized.
func Decode(r SlotReader) (*State, error) {
	phase, ok, err := readUint(r, KeyPhase)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var s State
	s.Phase = Phase(phase)
	if s.AssetID, _, err = readUint(r, KeyAssetID); err != nil {
		return nil, err
	}
	if s.Price, _, err = readUint(r, KeyPrice); err != nil {
		return nil, err
	}
	if s.RoyaltyPercent, _, err = readUint(r, KeyRoyaltyPercent); err != nil {
		return nil, err
	}
	if s.Owner, _, err = readAddress(r, KeyOwner); err != nil {
		return nil, err
	}
	if s.Admin, _, err = readAddress(r, KeyAdmin); err != nil {
		return nil, err
	}
	if s.Creator, _, err = readAddress(r, KeyCreator); err != nil {
		return nil, err
	}

	escrowAddr, ok, err := readAddress(r, KeyEscrowAddress)
	if err != nil {
		return nil, err
	}
	if ok {
		s.Escrow = Some(escrowAddr)
	}

	// The buyer slot holds the zero address when no purchase is pending.
	buyer, _, err := readAddress(r, KeyBuyer)
	if err != nil {
		return nil, err
	}
	if !buyer.IsZero() {
		s.Buyer = Some(buyer)
	}

	if err := s.Check(); err != nil {
		return nil, fmt.Errorf("stored state: %w", err)
	}
	return &s, nil
}

// Encode writes every slot of s to w. An unset escrow address leaves its
// slot untouched so that its absence remains observable.
func Encode(w SlotWriter, s *State) error {
	if err := s.Check(); err != nil {
		return err
	}
	buyer, _ := s.Buyer.Get()

	puts := []slot{
		{KeyAssetID, uintValue(s.AssetID)},
		{KeyPrice, uintValue(s.Price)},
		{KeyPhase, uintValue(uint64(s.Phase))},
		{KeyRoyaltyPercent, uintValue(s.RoyaltyPercent)},
		{KeyOwner, bytesValue(s.Owner)},
		{KeyBuyer, bytesValue(buyer)},
		{KeyAdmin, bytesValue(s.Admin)},
		{KeyCreator, bytesValue(s.Creator)},
	}
	if addr, ok := s.Escrow.Get(); ok {
		puts = append(puts, slot{KeyEscrowAddress, bytesValue(addr)})
	}
	for _, p := range puts {
		if err := w.GlobalPut(p.key, p.val); err != nil {
			return fmt.Errorf("write %s: %w", p.key, err)
		}
	}
	return nil
}

type slot struct {
	key string
	val core.Value
}

func uintValue(v uint64) core.Value { return core.Value{Type: core.ValueUint, Uint: v} }

func bytesValue(a crypto.Address) core.Value {
	return core.Value{Type: core.ValueBytes, Bytes: a.Bytes()}
}

func readUint(r SlotReader, key string) (uint64, bool, error) {
	v, ok := r.GlobalGet(key)
	if !ok {
		return 0, false, nil
	}
	if v.Type != core.ValueUint {
		return 0, false, fmt.Errorf("%w: slot %s is not an integer", ErrEncoding, key)
	}
	return v.Uint, true, nil
}

func readAddress(r SlotReader, key string) (crypto.Address, bool, error) {
	v, ok := r.GlobalGet(key)
	if !ok {
		return crypto.Address{}, false, nil
	}
	if v.Type != core.ValueBytes {
		return crypto.Address{}, false, fmt.Errorf("%w: slot %s is not a byte slice", ErrEncoding, key)
	}
	a, err := crypto.AddressFromBytes(v.Bytes)
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("%w: slot %s: %v", ErrEncoding, key, err)
	}
	return a, true, nil
}
