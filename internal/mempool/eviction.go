package mempool

import (
	"sort"
	"time"
)

// Evict removes the lowest fee-rate transactions until the pool is at or below maxSize.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.txs) <= p.maxSize {
		return 0
	}

	// Collect entries and sort by fee rate ascending (lowest first),
	// newest admission first among ties.
	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].feeRate != entries[j].feeRate {
			return entries[i].feeRate < entries[j].feeRate
		}
		return entries[i].admitted.After(entries[j].admitted)
	})

	evicted := 0
	for len(p.txs) > p.maxSize && evicted < len(entries) {
		p.removeLocked(entries[evicted].txHash)
		evicted++
	}
	return evicted
}

// EvictExpired removes transactions that have sat in the pool longer than
// maxAge. A maxAge of zero disables expiry.
func (p *Pool) EvictExpired(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.clock().Add(-maxAge)
	var stale []*entry
	for _, e := range p.txs {
		if e.admitted.Before(cutoff) {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		p.removeLocked(e.txHash)
	}
	return len(stale)
}
