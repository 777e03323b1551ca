// Package retention decides which proxies enter the pool, which aged ones leave it, and
// tops the pool back up from emergency sources when too few active proxies remain.
//
// Every function here is a pure transformation: the input slice is never modified and the
// returned pool is a fresh slice. Callers serialize runs against the same pool.
package retention

import (
	"sort"
	"time"

	"irproxy_pool/proxypool/model"
)

const (
	// DefaultMinPoolSize is the floor the engine maintains.
	DefaultMinPoolSize = 50
	// DefaultRetentionDays is how long a record is kept before it becomes eligible for eviction.
	DefaultRetentionDays = 3
)

// Policy holds the two parameters of the retention contract.
type Policy struct {
	MinPoolSize     int
	RetentionWindow time.Duration
}

// DefaultPolicy returns {50, 3 days}.
func DefaultPolicy() Policy {
	return Policy{
		MinPoolSize:     DefaultMinPoolSize,
		RetentionWindow: DefaultRetentionDays * 24 * time.Hour,
	}
}

// BatchFunc yields the next batch of emergency candidates. ok is false once the
// emergency source list is exhausted; the batch returned alongside ok=false is ignored.
type BatchFunc func() (batch []*model.ProxyRecord, ok bool)

// Result summarizes one Run.
type Result struct {
	Pool         []*model.ProxyRecord
	Added        int
	Duplicates   int
	Removed      int
	Emergency    int
	ActiveCount  int
	FloorReached bool
}

// Admit appends every candidate whose identity key is neither in pool nor admitted earlier
// in the same batch. Rejected candidates are counted as duplicates.
func Admit(pool, candidates []*model.ProxyRecord) (next []*model.ProxyRecord, added, duplicates int) {
	seen := make(map[model.Key]struct{}, len(pool)+len(candidates))
	for _, p := range pool {
		seen[p.Key()] = struct{}{}
	}

	next = make([]*model.ProxyRecord, len(pool), len(pool)+len(candidates))
	copy(next, pool)

	for _, c := range candidates {
		if c == nil {
			continue
		}
		k := c.Key()
		if _, exists := seen[k]; exists {
			duplicates++
			continue
		}
		seen[k] = struct{}{}
		next = append(next, c)
		added++
	}
	return next, added, duplicates
}

// agedRecord remembers where an aged record sat so ties keep list order.
type agedRecord struct {
	index int
	added time.Time
}

// EvictAged removes at most len(pool)-MinPoolSize records whose added date is older than the
// retention window, oldest first. Nothing is removed unless the pool is above the floor AND
// at least one record has aged out.
func (pol Policy) EvictAged(pool []*model.ProxyRecord, now time.Time) (next []*model.ProxyRecord, removed int) {
	excess := len(pool) - pol.MinPoolSize
	if excess <= 0 {
		return cloneRecords(pool), 0
	}

	aged := make([]agedRecord, 0)
	for i, p := range pool {
		added, ok := p.Added()
		if !ok {
			continue
		}
		if now.Sub(added) > pol.RetentionWindow {
			aged = append(aged, agedRecord{index: i, added: added})
		}
	}
	if len(aged) == 0 {
		return cloneRecords(pool), 0
	}

	sort.SliceStable(aged, func(i, j int) bool {
		return aged[i].added.Before(aged[j].added)
	})
	if len(aged) > excess {
		aged = aged[:excess]
	}

	drop := make(map[int]struct{}, len(aged))
	for _, a := range aged {
		drop[a.index] = struct{}{}
	}

	next = make([]*model.ProxyRecord, 0, len(pool)-len(drop))
	for i, p := range pool {
		if _, ok := drop[i]; ok {
			continue
		}
		next = append(next, p)
	}
	return next, len(drop)
}

// EnsureFloor pulls emergency batches while fewer than MinPoolSize records are active.
// reached reports whether the active floor holds on return; falling short is not an error.
func (pol Policy) EnsureFloor(pool []*model.ProxyRecord, next BatchFunc) (out []*model.ProxyRecord, added int, reached bool) {
	out = cloneRecords(pool)
	if CountActive(out) >= pol.MinPoolSize {
		return out, 0, true
	}
	if next == nil {
		return out, 0, false
	}

	for CountActive(out) < pol.MinPoolSize {
		batch, ok := next()
		if !ok {
			break
		}
		var n int
		out, n, _ = Admit(out, batch)
		added += n
	}
	return out, added, CountActive(out) >= pol.MinPoolSize
}

// Run applies admit -> evict -> floor in that order. The order matters: eviction has to see
// today's admissions and the floor is filled only after eviction has run.
func (pol Policy) Run(pool, candidates []*model.ProxyRecord, now time.Time, emergency BatchFunc) Result {
	var res Result

	admitted, added, dups := Admit(pool, candidates)
	res.Added, res.Duplicates = added, dups

	kept, removed := pol.EvictAged(admitted, now)
	res.Removed = removed

	final, emergencyAdded, reached := pol.EnsureFloor(kept, emergency)
	res.Emergency = emergencyAdded
	res.FloorReached = reached
	res.Pool = final
	res.ActiveCount = CountActive(final)
	return res
}

// CountActive counts records whose last probe succeeded.
func CountActive(pool []*model.ProxyRecord) int {
	n := 0
	for _, p := range pool {
		if p.IsActive {
			n++
		}
	}
	return n
}

// Duplicates lists every identity key that occurs more than once, in first-repeat order.
func Duplicates(pool []*model.ProxyRecord) []model.Key {
	seen := make(map[model.Key]int, len(pool))
	var dups []model.Key
	for _, p := range pool {
		k := p.Key()
		seen[k]++
		if seen[k] == 2 {
			dups = append(dups, k)
		}
	}
	return dups
}

func cloneRecords(pool []*model.ProxyRecord) []*model.ProxyRecord {
	out := make([]*model.ProxyRecord, len(pool))
	copy(out, pool)
	return out
}
