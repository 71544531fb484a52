package wallet

import (
	"errors"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
)

// Wallet holds a key pair and signs transactions sent from its address.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// Load reads an encrypted keystore and returns its Wallet.
func Load(path, password string) (*Wallet, error) {
	priv, err := LoadKey(path, password)
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the ed25519 public key.
func (w *Wallet) PubKey() crypto.PublicKey {
	return w.pub
}

// Address returns the account address this wallet controls.
func (w *Wallet) Address() crypto.Address {
	return w.pub.Address()
}

// SignTransaction signs tx in place. tx must be sent from this wallet's
// address and already carry its final nonce and group id.
func (w *Wallet) SignTransaction(tx *core.Transaction) error {
	if tx.From != w.Address() {
		return errors.New("wallet: transaction sender does not match wallet address")
	}
	tx.Sign(w.priv)
	return nil
}
