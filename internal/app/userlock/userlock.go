// Package userlock provides striped mutual exclusion keyed by user ID.
// Multi-record operations (registration with a referral bonus, funnel
// advancement, commission payout) take the stripes of every touched user in
// ascending stripe order, which keeps concurrent cross-user operations
// deadlock-free without a global lock.
package userlock

import (
	"hash/fnv"
	"sort"
	"sync"
)

// DefaultStripes is the stripe count used by New.
const DefaultStripes = 64

// Keyed is a fixed-size array of mutexes addressed by hashed user ID.
type Keyed struct {
	stripes []sync.Mutex
}

// New creates a Keyed lock with DefaultStripes stripes.
func New() *Keyed {
	return NewWithStripes(DefaultStripes)
}

// NewWithStripes creates a Keyed lock with the given stripe count.
func NewWithStripes(n int) *Keyed {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Keyed{stripes: make([]sync.Mutex, n)}
}

func (k *Keyed) index(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(k.stripes)))
}

// Lock acquires the stripes covering every supplied ID and returns the
// release function. Duplicate and colliding IDs share a stripe and are
// acquired once.
func (k *Keyed) Lock(ids ...string) func() {
	seen := make(map[int]struct{}, len(ids))
	indexes := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		idx := k.index(id)
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		k.stripes[idx].Lock()
	}
	return func() {
		for i := len(indexes) - 1; i >= 0; i-- {
			k.stripes[indexes[i]].Unlock()
		}
	}
}
