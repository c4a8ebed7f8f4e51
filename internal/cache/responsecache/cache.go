// Package responsecache memoises raw upstream replies by exact query text for
// the lifetime of the process.
package responsecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/osm-viewport/internal/core/observability"
)

const shardCount = 16

// RawResponse is the unparsed reply for one query text. Callers must not
// modify it.
type RawResponse []byte

// Upstream issues the actual request for a query text.
type Upstream interface {
	Fetch(ctx context.Context, query string) ([]byte, error)
}

// FetchError reports that a query's response could not be obtained.
type FetchError struct {
	Query string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", abbrev(e.Query), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var ErrMalformed = errors.New("response is not a JSON object")

// RemarkError is an upstream reply that reports a runtime error in its
// "remark" field, e.g. a query timeout. Such replies are not cached.
type RemarkError struct {
	Remark string
}

func (e *RemarkError) Error() string { return "upstream remark: " + e.Remark }

// check rejects replies that are not JSON objects or that carry a runtime
// error remark.
func check(b []byte) error {
	if !gjson.ValidBytes(b) {
		return ErrMalformed
	}
	root := gjson.ParseBytes(b)
	if !root.IsObject() {
		return ErrMalformed
	}
	if remark := root.Get("remark").String(); strings.HasPrefix(strings.TrimSpace(remark), "runtime error") {
		return &RemarkError{Remark: remark}
	}
	return nil
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]RawResponse
}

type Cache struct {
	upstream Upstream
	logger   *slog.Logger
	shards   [shardCount]shard
	group    singleflight.Group
}

func New(upstream Upstream, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{upstream: upstream, logger: logger}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]RawResponse)
	}
	return c
}

func (c *Cache) shardFor(query string) *shard {
	return &c.shards[xxhash.Sum64String(query)%shardCount]
}

func (c *Cache) lookup(query string) (RawResponse, bool) {
	s := c.shardFor(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.entries[query]
	return raw, ok
}

// Fetch returns the cached response for query, calling upstream only on the
// first successful request for that exact text. Concurrent misses for the same
// text share one upstream call, which is not cancelled when a single waiter
// gives up; each caller stops waiting when its own ctx is done. Failures are
// not cached.
func (c *Cache) Fetch(ctx context.Context, query string) (RawResponse, error) {
	if raw, ok := c.lookup(query); ok {
		observability.IncCacheHit()
		return raw, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(query, func() (any, error) {
		if raw, ok := c.lookup(query); ok {
			return raw, nil
		}
		observability.IncCacheMiss()

		b, err := c.upstream.Fetch(shared, query)
		if err != nil {
			return nil, err
		}
		if err := check(b); err != nil {
			return nil, err
		}

		raw := RawResponse(b)
		s := c.shardFor(query)
		s.mu.Lock()
		s.entries[query] = raw
		s.mu.Unlock()
		observability.SetCacheEntries(c.Len())
		return raw, nil
	})

	select {
	case <-ctx.Done():
		observability.IncCacheFailure()
		return nil, &FetchError{Query: query, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			observability.IncCacheFailure()
			c.logger.DebugContext(ctx, "response fetch failed", "query", abbrev(query), "shared", res.Shared, "err", res.Err)
			return nil, &FetchError{Query: query, Err: res.Err}
		}
		return res.Val.(RawResponse), nil
	}
}

// Len returns the number of cached query texts.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func abbrev(s string) string {
	const limit = 64
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
