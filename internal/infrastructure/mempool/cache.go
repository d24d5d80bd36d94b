package mempool

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"mempool-risk-engine/internal/domain/entity"
)

// PendingFilter narrows GetPendingTransactions; zero values match everything
type PendingFilter struct {
	ChainID uint64
	MaxAge  time.Duration
}

type cacheEntry struct {
	tx    *entity.PendingTransaction
	index int
}

// timestampHeap is a min-heap of entries ordered by first-seen time
type timestampHeap []*cacheEntry

func (h timestampHeap) Len() int { return len(h) }
func (h timestampHeap) Less(i, j int) bool {
	return h[i].tx.Timestamp.Before(h[j].tx.Timestamp)
}
func (h timestampHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timestampHeap) Push(x any) {
	e := x.(*cacheEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timestampHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// txCache is the bounded pending-transaction store shared by ingestion and eviction
type txCache struct {
	mu      sync.RWMutex
	maxSize int
	byHash  map[string]*cacheEntry
	order   timestampHeap
}

func newTxCache(maxSize int) *txCache {
	return &txCache{
		maxSize: maxSize,
		byHash:  make(map[string]*cacheEntry, maxSize),
		order:   make(timestampHeap, 0, maxSize),
	}
}

// put inserts or replaces tx and returns the transactions evicted to stay within maxSize
func (c *txCache) put(tx *entity.PendingTransaction) []*entity.PendingTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byHash[tx.Hash]; ok {
		// Replacement keeps the analysis attached to the earlier sighting
		if tx.Analysis == nil {
			tx.Analysis = e.tx.Analysis
		}
		e.tx = tx
		heap.Fix(&c.order, e.index)
		return nil
	}

	e := &cacheEntry{tx: tx}
	heap.Push(&c.order, e)
	c.byHash[tx.Hash] = e

	var evicted []*entity.PendingTransaction
	for len(c.order) > c.maxSize {
		oldest := heap.Pop(&c.order).(*cacheEntry)
		delete(c.byHash, oldest.tx.Hash)
		evicted = append(evicted, oldest.tx)
	}
	return evicted
}

// evictOlderThan removes every entry first seen before cutoff
func (c *txCache) evictOlderThan(cutoff time.Time) []*entity.PendingTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []*entity.PendingTransaction
	for len(c.order) > 0 && c.order[0].tx.Timestamp.Before(cutoff) {
		oldest := heap.Pop(&c.order).(*cacheEntry)
		delete(c.byHash, oldest.tx.Hash)
		evicted = append(evicted, oldest.tx)
	}
	return evicted
}

// attach sets the analysis of a cached transaction
func (c *txCache) attach(hash string, analysis *entity.TransactionAnalysis) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byHash[hash]
	if !ok {
		return false
	}
	e.tx.Analysis = analysis
	return true
}

// get returns a copy of a cached transaction
func (c *txCache) get(hash string) (*entity.PendingTransaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.tx.Clone(), true
}

// snapshot returns copies of matching entries, oldest first
func (c *txCache) snapshot(filter PendingFilter, now time.Time) []*entity.PendingTransaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*entity.PendingTransaction, 0, len(c.order))
	for _, e := range c.order {
		if filter.ChainID != 0 && e.tx.ChainID != filter.ChainID {
			continue
		}
		if filter.MaxAge > 0 && e.tx.Age(now) > filter.MaxAge {
			continue
		}
		out = append(out, e.tx.Clone())
	}
	sortByTimestamp(out)
	return out
}

func (c *txCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// countByChain reports cache occupancy per chain
func (c *txCache) countByChain() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range c.order {
		counts[e.tx.Chain]++
	}
	return counts
}

func sortByTimestamp(txs []*entity.PendingTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})
}
