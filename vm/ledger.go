package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
)

// Ledger primitives shared by the top-level modules and by inner
// transactions issued from programs.

// Pay moves amount of native currency from one account to another.
func Pay(state core.State, from, to crypto.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("insufficient balance in %s: have %d, need %d", from, sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("balance overflow for %s", to)
	}
	recipient.Balance += amount
	return state.SetAccount(recipient)
}

// ChargeFee deducts fee from addr.
func ChargeFee(state core.State, addr crypto.Address, fee uint64) error {
	if fee == 0 {
		return nil
	}
	acc, err := state.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance < fee {
		return fmt.Errorf("insufficient balance for fee in %s: have %d need %d", addr, acc.Balance, fee)
	}
	acc.Balance -= fee
	return state.SetAccount(acc)
}

// AssetMove describes a transfer of asset units. Authority is the account
// that signed (or, for inner transactions, the application issuing it).
type AssetMove struct {
	AssetID   uint64
	Authority crypto.Address
	From      crypto.Address
	To        crypto.Address
	Amount    uint64
	Clawback  bool
}

// ErrNotOptedIn is returned when a holding is required but missing.
var ErrNotOptedIn = errors.New("account not opted in to asset")

// MoveAsset applies an asset transfer, opt-in or clawback.
//
// A zero-amount transfer from an account to itself opts the account in;
// repeating it is a no-op assertion that the holding exists. Frozen
// holdings can neither send nor receive except through the clawback
// authority.
func MoveAsset(state core.State, m AssetMove) error {
	asset, err := state.GetAsset(m.AssetID)
	if err != nil {
		return fmt.Errorf("asset %d: %w", m.AssetID, err)
	}

	if m.Clawback {
		if asset.Params.Clawback.IsZero() || asset.Params.Clawback != m.Authority {
			return fmt.Errorf("asset %d: %s is not the clawback authority", m.AssetID, m.Authority)
		}
	} else if m.Authority != m.From {
		return fmt.Errorf("asset %d: sender %s cannot move units of %s", m.AssetID, m.Authority, m.From)
	}

	// Opt-in.
	if !m.Clawback && m.From == m.To && m.Amount == 0 {
		acc, err := state.GetAccount(m.From)
		if err != nil {
			return err
		}
		if acc.Holding(m.AssetID) != nil {
			return nil
		}
		if acc.Holdings == nil {
			acc.Holdings = make(map[uint64]*core.AssetHolding)
		}
		acc.Holdings[m.AssetID] = &core.AssetHolding{Frozen: asset.Params.DefaultFrozen}
		return state.SetAccount(acc)
	}

	src, err := state.GetAccount(m.From)
	if err != nil {
		return err
	}
	srcHolding := src.Holding(m.AssetID)
	if srcHolding == nil {
		return fmt.Errorf("sender %s: %w %d", m.From, ErrNotOptedIn, m.AssetID)
	}
	if srcHolding.Frozen && !m.Clawback {
		return fmt.Errorf("asset %d frozen in %s", m.AssetID, m.From)
	}
	if srcHolding.Amount < m.Amount {
		return fmt.Errorf("asset %d: insufficient units in %s: have %d, need %d",
			m.AssetID, m.From, srcHolding.Amount, m.Amount)
	}
	if m.From == m.To {
		return nil
	}
	srcHolding.Amount -= m.Amount
	if err := state.SetAccount(src); err != nil {
		return err
	}

	dst, err := state.GetAccount(m.To)
	if err != nil {
		return err
	}
	dstHolding := dst.Holding(m.AssetID)
	if dstHolding == nil {
		return fmt.Errorf("receiver %s: %w %d", m.To, ErrNotOptedIn, m.AssetID)
	}
	if dstHolding.Frozen && !m.Clawback {
		return fmt.Errorf("asset %d frozen in %s", m.AssetID, m.To)
	}
	dstHolding.Amount += m.Amount
	return state.SetAccount(dst)
}
