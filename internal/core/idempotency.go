package core

import (
	"container/list"

	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/observability"
)

// IdempotencyChecker implements two-tier request id deduplication.
// Tier 1 is an in-memory LRU holding the result of each recent command so that
// a retried request gets the original answer. Tier 2 asks Postgres whether the
// key was ever committed; a hit there has no result to return. When tier 2
// cannot answer, the request is refused rather than risk applying it twice.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(caller, requestID string) (bool, error)
}

// Lookup outcome
type dedupHit int

const (
	dedupMiss dedupHit = iota
	dedupLRU
	dedupDB
	dedupUnavailable
)

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// CompositeKey scopes a request id to the caller that issued it.
func CompositeKey(caller ledger.AccountID, requestID string) string {
	return string(caller) + "|" + requestID
}

// Check looks a request up in both tiers. On an LRU hit the cached result
// (possibly nil for keys warmed from Postgres) is returned.
func (ic *IdempotencyChecker) Check(commandType string, caller ledger.AccountID, requestID string) (*Result, dedupHit) {
	key := CompositeKey(caller, requestID)

	if res, ok := ic.lru.Get(key); ok {
		ic.recordDuplicate(commandType, "lru")
		if res == nil {
			return nil, dedupDB
		}
		return res, dedupLRU
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(string(caller), requestID)
		if err != nil {
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return nil, dedupUnavailable
		}
		if isDup {
			ic.recordDuplicate(commandType, "postgres")
			ic.lru.Add(key, nil)
			return nil, dedupDB
		}
	}

	return nil, dedupMiss
}

// MarkProcessed caches the result of a committed command.
func (ic *IdempotencyChecker) MarkProcessed(caller ledger.AccountID, requestID string, res *Result) {
	ic.lru.Add(CompositeKey(caller, requestID), res)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU maps composite keys to cached results.
// Not thread-safe; only accessed under the engine lock.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key    string
	result *Result
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Get returns the cached result for key and promotes it.
func (lru *IdempotencyLRU) Get(key string) (*Result, bool) {
	elem, exists := lru.cache[key]
	if !exists {
		return nil, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry).result, true
}

// Add inserts or replaces a key.
func (lru *IdempotencyLRU) Add(key string, res *Result) {
	if elem, exists := lru.cache[key]; exists {
		elem.Value.(*lruEntry).result = res
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, result: res})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

// WarmFromKeys loads keys recovered from a snapshot. Their results are unknown.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		lru.Add(key, nil)
	}
}

// Keys returns all keys, oldest first.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
