package kafkasource

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// seqDedupe remembers the last applied sequence number per source.
type seqDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newSeqDedupe(size int) *seqDedupe {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, uint64](size)
	return &seqDedupe{lru: c}
}

// returns true if seq is newer than the last one applied for source
func (d *seqDedupe) shouldApply(source string, seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(source); ok {
		if seq <= last {
			return false
		}
	}
	d.lru.Add(source, seq)
	return true
}
