package main

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// shareDedupe remembers recently submitted shares. A resize restarts every
// worker's walk of the current job, so the same nonce can be found twice;
// the pool would reject the second copy as a duplicate.
type shareDedupe struct {
	seen *lru.Cache[string, struct{}]
}

func newShareDedupe(size int) *shareDedupe {
	if size <= 0 {
		size = duplicateShareCacheSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &shareDedupe{seen: cache}
}

// seenOrAdd reports whether share was already submitted and records it if
// not.
func (d *shareDedupe) seenOrAdd(share Share) bool {
	found, _ := d.seen.ContainsOrAdd(share.dedupeKey(), struct{}{})
	return found
}

func (d *shareDedupe) Len() int {
	return d.seen.Len()
}
