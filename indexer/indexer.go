// Package indexer maintains secondary indexes over executed groups so that
// clients can poll transaction status and query history without scanning
// blocks.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/storage"
)

const (
	prefixReceipt      = "idx:receipt:"
	prefixAccountTxs   = "idx:account:tx:"
	prefixAssetHolders = "idx:asset:holder:"
	prefixEscrowPhases = "idx:escrow:phase:"
)

// Indexer subscribes to ledger events and updates lookup tables. It writes
// directly to its DB, outside the state write buffer, so index entries are
// never part of the state root.
type Indexer struct {
	mu sync.Mutex
	db storage.DB
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	emitter.Subscribe(events.EventGroupCommitted, idx.onGroup)
	emitter.Subscribe(events.EventGroupRejected, idx.onGroup)
	emitter.Subscribe(events.EventAssetTransfer, idx.onAssetTransfer)
	emitter.Subscribe(events.EventEscrowPhase, idx.onEscrowPhase)
	return idx
}

// RecordPending marks every member of a freshly admitted group as pending
// so that a status poll can tell "not yet executed" from "unknown". A
// receipt written by execution in the meantime is kept.
func (idx *Indexer) RecordPending(txs []*core.Transaction) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, tx := range txs {
		if _, err := idx.db.Get([]byte(prefixReceipt + tx.ID)); err == nil {
			continue
		}
		r := core.Receipt{TxID: tx.ID, Group: tx.Group, State: core.TxPending}
		if err := idx.putReceipt(&r); err != nil {
			return err
		}
	}
	return nil
}

// Receipt returns the latest known receipt for txID, or core.ErrNotFound.
func (idx *Indexer) Receipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal receipt: %w", err)
	}
	return &r, nil
}

// TxsByAccount returns the ids of executed transactions sent by addr, in
// execution order.
func (idx *Indexer) TxsByAccount(addr string) ([]string, error) {
	return idx.getList(prefixAccountTxs + addr)
}

// AssetHolders returns the successive receivers of units of an asset. For a
// single-unit asset this is its provenance.
func (idx *Indexer) AssetHolders(assetID uint64) ([]string, error) {
	return idx.getList(prefixAssetHolders + strconv.FormatUint(assetID, 10))
}

// EscrowPhases returns the phases an escrow instance has entered.
func (idx *Indexer) EscrowPhases(appID uint64) ([]string, error) {
	return idx.getList(prefixEscrowPhases + strconv.FormatUint(appID, 10))
}

// ---- event handlers ----

func (idx *Indexer) onGroup(ev events.Event) {
	txs, _ := ev.Data["txs"].([]*core.Transaction)
	receipts, _ := ev.Data["receipts"].([]*core.Receipt)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, r := range receipts {
		_ = idx.putReceipt(r)
	}
	for _, tx := range txs {
		_ = idx.addToList(prefixAccountTxs+tx.From.String(), tx.ID)
	}
}

func (idx *Indexer) onAssetTransfer(ev events.Event) {
	assetID, _ := ev.Data["asset_id"].(uint64)
	to, _ := ev.Data["to"].(string)
	amount, _ := ev.Data["amount"].(uint64)
	if assetID == 0 || to == "" || amount == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_ = idx.addToList(prefixAssetHolders+strconv.FormatUint(assetID, 10), to)
}

func (idx *Indexer) onEscrowPhase(ev events.Event) {
	appID, _ := ev.Data["app_id"].(uint64)
	to, _ := ev.Data["to"].(string)
	if appID == 0 || to == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_ = idx.addToList(prefixEscrowPhases+strconv.FormatUint(appID, 10), to)
}

// ---- storage helpers ----

func (idx *Indexer) putReceipt(r *core.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(prefixReceipt+r.TxID), data)
}

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
