package core

import (
	"encoding/json"
	"time"

	"github.com/tolelom/nftescrow/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"` // hash of state after executing this block
	TxRoot    string `json:"tx_root"`    // hash of all transaction IDs
	Timestamp int64  `json:"timestamp"`
	Proposer  string `json:"proposer"` // proposer's pubkey hex
}

// Block is an ordered list of committed groups with a signed header.
// Groups that were rejected during execution are not included.
type Block struct {
	Header    BlockHeader      `json:"header"`
	Groups    [][]*Transaction `json:"groups"`
	Hash      string           `json:"hash"`
	Signature string           `json:"signature"`
}

// ComputeHash returns the tagged SHA-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.TaggedHash(crypto.TagBlock, data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// TxCount returns the number of transactions across all groups.
func (b *Block) TxCount() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g)
	}
	return n
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(groups [][]*Transaction) string {
	var ids []byte
	for _, g := range groups {
		for _, tx := range g {
			ids = append(ids, []byte(tx.ID)...)
		}
	}
	if len(ids) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	return crypto.Hash(ids)
}

// NewBlock creates an unsigned block. TxRoot is filled in by the producer
// once it knows which groups committed.
func NewBlock(height int64, prevHash, proposer string) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
		},
	}
}
