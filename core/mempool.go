package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxMempoolGroups = 10_000
	maxTxAge         = int64(time.Hour)       // reject txs older than 1 hour
	maxTxFuture      = int64(5 * time.Minute) // reject txs more than 5 min in the future
)

// ErrDuplicateGroup is returned when the same group is submitted twice
// while still pending.
var ErrDuplicateGroup = errors.New("group already in pool")

// Mempool is a thread-safe pool of pending atomic groups.
type Mempool struct {
	mu     sync.RWMutex
	groups map[string][]*Transaction
	ord    []string // insertion-ordered group keys for deterministic iteration
	notify chan struct{}
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{
		groups: make(map[string][]*Transaction),
		notify: make(chan struct{}, 1),
	}
}

// Add validates and inserts a group. Returns an error if the pool is full,
// the group is already present, a signature or group id is invalid, or a
// timestamp is out of the acceptable window (-1 h / +5 min).
func (m *Mempool) Add(txs []*Transaction) (string, error) {
	if err := VerifyGroup(txs); err != nil {
		return "", err
	}
	now := time.Now().UnixNano()
	for i, tx := range txs {
		if now-tx.Timestamp > maxTxAge {
			return "", fmt.Errorf("tx %d: transaction expired", i)
		}
		if tx.Timestamp-now > maxTxFuture {
			return "", fmt.Errorf("tx %d: transaction timestamp too far in the future", i)
		}
	}
	key := GroupKey(txs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.groups) >= maxMempoolGroups {
		return "", errors.New("mempool full")
	}
	if _, exists := m.groups[key]; exists {
		return "", ErrDuplicateGroup
	}
	m.groups[key] = txs
	m.ord = append(m.ord, key)

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return key, nil
}

// Notify returns a channel that receives a value whenever a group is added.
// Producers use it to seal blocks without waiting for the next tick.
func (m *Mempool) Notify() <-chan struct{} {
	return m.notify
}

// Pending returns up to n pending groups in insertion order.
func (m *Mempool) Pending(n int) [][]*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([][]*Transaction, 0, n)
	for _, key := range m.ord {
		if g, ok := m.groups[key]; ok {
			result = append(result, g)
			if len(result) >= n {
				break
			}
		}
	}
	return result
}

// Remove deletes groups by key (called after a block is sealed, for both
// committed and rejected groups).
func (m *Mempool) Remove(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(keys))
	for _, k := range keys {
		delete(m.groups, k)
		removed[k] = true
	}
	filtered := m.ord[:0]
	for _, k := range m.ord {
		if !removed[k] {
			filtered = append(filtered, k)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending groups.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups)
}
