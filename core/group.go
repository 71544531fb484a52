package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tolelom/nftescrow/crypto"
)

// MaxGroupSize is the largest number of transactions that may commit or
// abort together.
const MaxGroupSize = 16

// ComputeGroupID derives the id shared by all members of an atomic group
// from the members' group-less hashes, in order.
func ComputeGroupID(txs []*Transaction) string {
	var b strings.Builder
	for _, tx := range txs {
		b.WriteString(tx.groupHash())
	}
	return crypto.TaggedHash(crypto.TagGroup, []byte(b.String()))
}

// AssignGroupID stamps txs as one atomic group. A single transaction stays
// ungrouped. Must be called before signing.
func AssignGroupID(txs []*Transaction) error {
	if len(txs) == 0 {
		return errors.New("empty group")
	}
	if len(txs) > MaxGroupSize {
		return fmt.Errorf("group of %d exceeds max size %d", len(txs), MaxGroupSize)
	}
	if len(txs) == 1 {
		txs[0].Group = ""
		return nil
	}
	gid := ComputeGroupID(txs)
	for _, tx := range txs {
		tx.Group = gid
	}
	return nil
}

// VerifyGroup checks every signature and that the members agree on a group
// id that matches their contents.
func VerifyGroup(txs []*Transaction) error {
	if len(txs) == 0 {
		return errors.New("empty group")
	}
	if len(txs) > MaxGroupSize {
		return fmt.Errorf("group of %d exceeds max size %d", len(txs), MaxGroupSize)
	}
	for i, tx := range txs {
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("tx %d: invalid signature: %w", i, err)
		}
	}
	if len(txs) == 1 {
		if txs[0].Group != "" {
			return errors.New("solo transaction carries a group id")
		}
		return nil
	}
	want := ComputeGroupID(txs)
	for i, tx := range txs {
		if tx.Group != want {
			return fmt.Errorf("tx %d: group id mismatch", i)
		}
	}
	return nil
}

// GroupKey identifies a pending group: the group id, or the tx id for a
// solo transaction.
func GroupKey(txs []*Transaction) string {
	if len(txs) == 1 || txs[0].Group == "" {
		return txs[0].ID
	}
	return txs[0].Group
}
