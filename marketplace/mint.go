package marketplace

import (
	"context"
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/gateway"
	"github.com/tolelom/nftescrow/txbuilder"
)

// UniqueAsset describes a single-unit asset to mint.
type UniqueAsset struct {
	Name     string
	UnitName string
	URL      string
}

// Mint creates a single-unit, default-frozen asset held by creator, who
// keeps every authority until ReleaseAuthorities hands custody to an escrow.
func Mint(ctx context.Context, gw *gateway.Gateway, b *txbuilder.Builder, creator gateway.Signer, a UniqueAsset) (uint64, Receipt, error) {
	addr := creator.Address()
	tx, err := b.AssetCreate(addr, core.AssetParams{
		Total:         1,
		DefaultFrozen: true,
		Name:          a.Name,
		UnitName:      a.UnitName,
		URL:           a.URL,
		Manager:       addr,
		Reserve:       addr,
		Freeze:        addr,
		Clawback:      addr,
	})
	if err != nil {
		return 0, Receipt{}, err
	}
	conf, err := gw.Submit(ctx, []gateway.Signer{creator}, tx)
	if err != nil {
		return 0, Receipt{}, fmt.Errorf("mint: %w", err)
	}
	id := conf.Receipts[0].CreatedAssetID
	if id == 0 {
		return 0, Receipt{}, fmt.Errorf("mint: confirmation of %s carries no asset id", conf.TxID)
	}
	return id, receiptOf(conf), nil
}
