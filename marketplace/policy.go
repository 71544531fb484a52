package marketplace

import "github.com/tolelom/nftescrow/gateway"

// DefaultFundAmount is the payment that covers the escrow account's minimum
// balance and the fees of its inner transactions.
const DefaultFundAmount = 1_000_000

// Policy holds the client-side constants of a listing cycle.
type Policy struct {
	FundAmount uint64         `toml:"fund_amount"`
	Fee        uint64         `toml:"fee"`
	Gateway    gateway.Config `toml:"gateway"`
}

// DefaultPolicy returns the development defaults.
func DefaultPolicy() Policy {
	return Policy{
		FundAmount: DefaultFundAmount,
		Fee:        1000,
		Gateway:    gateway.DefaultConfig(),
	}
}
