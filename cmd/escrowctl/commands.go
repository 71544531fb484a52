package main

import (
	"context"
	"errors"
	"flag"

	"github.com/tolelom/nftescrow/escrow"
	"github.com/tolelom/nftescrow/marketplace"
	"github.com/tolelom/nftescrow/wallet"
)

var commands = map[string]command{
	"keygen": {
		usage: "generate a keystore at -key",
		run: func(_ context.Context, e *env) (any, error) {
			if *e.keyPath == "" {
				return nil, errors.New("-key is required")
			}
			w, err := wallet.Generate()
			if err != nil {
				return nil, err
			}
			if err := wallet.SaveKey(*e.keyPath, keystorePassword(), w.PrivKey()); err != nil {
				return nil, err
			}
			return map[string]string{"address": w.Address().String(), "keystore": *e.keyPath}, nil
		},
	},
	"mint": {
		usage: "mint a unique default-frozen asset owned by -key",
		flags: func(e *env) {
			stringFlag(e.fs, "name", "asset name")
			stringFlag(e.fs, "unit", "unit name")
			stringFlag(e.fs, "url", "metadata url")
		},
		run: func(ctx context.Context, e *env) (any, error) {
			w, err := e.signer()
			if err != nil {
				return nil, err
			}
			assetID, r, err := marketplace.Mint(ctx, e.gw, e.b, w, marketplace.UniqueAsset{
				Name:     flagValue(e.fs, "name"),
				UnitName: flagValue(e.fs, "unit"),
				URL:      flagValue(e.fs, "url"),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"asset_id": assetID, "tx_id": r.TxID, "round": r.Round}, nil
		},
	},
	"deploy": {
		usage: "deploy an escrow instance for -asset administered by -key",
		flags: func(e *env) { stringFlag(e.fs, "owner", "initial owner and creator address") },
		run: func(ctx context.Context, e *env) (any, error) {
			w, err := e.signer()
			if err != nil {
				return nil, err
			}
			owner, err := parseAddress("owner", flagValue(e.fs, "owner"))
			if err != nil {
				return nil, err
			}
			m, err := e.market(w)
			if err != nil {
				return nil, err
			}
			r, err := m.Deploy(ctx, owner)
			if err != nil {
				return nil, err
			}
			appID, _ := m.AppID()
			escrowAddr, _ := m.EscrowAddress()
			return map[string]any{"app_id": appID, "escrow": escrowAddr.String(), "tx_id": r.TxID, "round": r.Round}, nil
		},
	},
	"release": {
		usage: "hand clawback to the escrow and drop the other authorities (signed by the asset manager)",
		run: withSigner(func(ctx context.Context, m *marketplace.Marketplace, w *wallet.Wallet) (marketplace.Receipt, error) {
			return m.ReleaseAuthorities(ctx, w)
		}),
	},
	"init-escrow": {
		usage: "bind the escrow address into the instance (signed by the admin)",
		run: withSigner(func(ctx context.Context, m *marketplace.Marketplace, _ *wallet.Wallet) (marketplace.Receipt, error) {
			return m.InitializeEscrow(ctx)
		}),
	},
	"fund": {
		usage: "fund the escrow account from the admin",
		run: withSigner(func(ctx context.Context, m *marketplace.Marketplace, _ *wallet.Wallet) (marketplace.Receipt, error) {
			return m.FundEscrow(ctx)
		}),
	},
	"sell": {
		usage: "list the asset at -price (signed by the owner)",
		flags: func(e *env) { uintFlag(e.fs, "price", "listing price") },
		run: func(ctx context.Context, e *env) (any, error) {
			price := uintValue(e.fs, "price")
			return withSigner(func(ctx context.Context, m *marketplace.Marketplace, w *wallet.Wallet) (marketplace.Receipt, error) {
				return m.OpenSell(ctx, w, price)
			})(ctx, e)
		},
	},
	"optin": {
		usage: "opt the -key account in to the asset",
		run: withSigner(func(ctx context.Context, m *marketplace.Marketplace, w *wallet.Wallet) (marketplace.Receipt, error) {
			return m.OptIn(ctx, w)
		}),
	},
	"buy": {
		usage: "reserve the listing and pay -price into the escrow",
		flags: func(e *env) { uintFlag(e.fs, "price", "payment amount") },
		run: func(ctx context.Context, e *env) (any, error) {
			price := uintValue(e.fs, "price")
			return withSigner(func(ctx context.Context, m *marketplace.Marketplace, w *wallet.Wallet) (marketplace.Receipt, error) {
				return m.Buy(ctx, w, price)
			})(ctx, e)
		},
	},
	"validate": {
		usage: "settle a pending purchase",
		run: withSigner(func(ctx context.Context, m *marketplace.Marketplace, w *wallet.Wallet) (marketplace.Receipt, error) {
			return m.ValidateBuy(ctx, w)
		}),
	},
	"cancel": {
		usage: "cancel a pending purchase and refund -buyer -price (signed by the owner)",
		flags: func(e *env) {
			stringFlag(e.fs, "buyer", "buyer address to refund")
			uintFlag(e.fs, "price", "refund amount")
		},
		run: func(ctx context.Context, e *env) (any, error) {
			buyer, err := parseAddress("buyer", flagValue(e.fs, "buyer"))
			if err != nil {
				return nil, err
			}
			price := uintValue(e.fs, "price")
			return withSigner(func(ctx context.Context, m *marketplace.Marketplace, w *wallet.Wallet) (marketplace.Receipt, error) {
				return m.CancelBuy(ctx, w, buyer, price)
			})(ctx, e)
		},
	},
	"close": {
		usage: "withdraw the listing (signed by the owner)",
		run: withSigner(func(ctx context.Context, m *marketplace.Marketplace, w *wallet.Wallet) (marketplace.Receipt, error) {
			return m.CloseSell(ctx, w)
		}),
	},
	"state": {
		usage: "print the decoded state of -app",
		run: func(ctx context.Context, e *env) (any, error) {
			m, err := e.market(nil)
			if err != nil {
				return nil, err
			}
			s, err := m.State(ctx)
			if err != nil {
				return nil, err
			}
			return stateView(s), nil
		},
	},
	"group": {
		usage: "print the confirmed group that carried -tx",
		flags: func(e *env) { stringFlag(e.fs, "tx", "transaction id") },
		run: func(ctx context.Context, e *env) (any, error) {
			id := flagValue(e.fs, "tx")
			if id == "" {
				return nil, errors.New("-tx is required")
			}
			return e.client.Group(ctx, id)
		},
	},
	"phases": {
		usage: "print the phase history of -app",
		run: func(ctx context.Context, e *env) (any, error) {
			if *e.appID == 0 {
				return nil, errors.New("-app is required")
			}
			return e.client.EscrowPhases(ctx, *e.appID)
		},
	},
}

func stringFlag(fs *flag.FlagSet, name, usage string) { fs.String(name, "", usage) }

func uintFlag(fs *flag.FlagSet, name, usage string) { fs.Uint64(name, 0, usage) }

func flagValue(fs *flag.FlagSet, name string) string {
	if f := fs.Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func uintValue(fs *flag.FlagSet, name string) uint64 {
	if f := fs.Lookup(name); f != nil {
		if g, ok := f.Value.(flag.Getter); ok {
			if v, ok := g.Get().(uint64); ok {
				return v
			}
		}
	}
	return 0
}

func stateView(s *escrow.State) map[string]any {
	if s == nil {
		return map[string]any{"phase": escrow.NotInitialized.String()}
	}
	view := map[string]any{
		"phase":           s.Phase.String(),
		"asset_id":        s.AssetID,
		"price":           s.Price,
		"royalty_percent": s.RoyaltyPercent,
		"owner":           s.Owner.String(),
		"creator":         s.Creator.String(),
		"admin":           s.Admin.String(),
	}
	if a, ok := s.Escrow.Get(); ok {
		view["escrow"] = a.String()
	}
	if a, ok := s.Buyer.Get(); ok {
		view["buyer"] = a.String()
	}
	return view
}
