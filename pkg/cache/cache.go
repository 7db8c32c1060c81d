// Package cache holds validated item payloads keyed by item, context and
// input, with a TTL, an LRU cap and in-flight deduplication.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize = 256
	DefaultTTL  = time.Hour
	// inputPrefix is how much of the user input takes part in the key.
	inputPrefix = 200
)

// Key identifies one cached payload.
type Key struct {
	Item        string
	Fingerprint string
	InputHash   string
}

func (k Key) String() string {
	return k.Item + "|" + k.Fingerprint + "|" + k.InputHash
}

// NewKey builds a key from an item id, a context fingerprint and the raw
// user input. Only the first 200 bytes of the normalised input are hashed.
func NewKey(item, fingerprint, input string) Key {
	in := strings.ToLower(strings.Join(strings.Fields(input), " "))
	if len(in) > inputPrefix {
		in = in[:inputPrefix]
	}
	sum := sha256.Sum256([]byte(in))
	return Key{Item: item, Fingerprint: fingerprint, InputHash: hex.EncodeToString(sum[:8])}
}

// Fingerprint reduces context fields to a short stable digest. Empty values
// are skipped and case is ignored, so near-identical contexts share entries.
func Fingerprint(fields ...string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			parts = append(parts, f)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:6])
}

// Stats counts lookups since the cache was created.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Shared  int64 `json:"shared"`
	Entries int   `json:"entries"`
}

// Cache stores payloads for a bounded time and count. It is safe for
// concurrent use.
type Cache struct {
	lru    *expirable.LRU[string, json.RawMessage]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
	shared atomic.Int64
}

// New creates a cache holding at most size entries for ttl each. Zero
// values fall back to DefaultSize and DefaultTTL.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, json.RawMessage](size, nil, ttl)}
}

// Get returns a copy of the cached payload for key.
func (c *Cache) Get(key Key) (json.RawMessage, bool) {
	v, ok := c.lru.Get(key.String())
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return clone(v), true
}

// Put stores a copy of payload under key.
func (c *Cache) Put(key Key, payload json.RawMessage) {
	c.lru.Add(key.String(), clone(payload))
}

// Do returns the cached payload for key, or runs fn once for all concurrent
// callers asking for the same key. Only successful results are stored;
// callers whose fn did not run receive the leader's result. If the leader's
// own context ends the shared call, waiters that are still live run it again
// under their own context. The reported flag is true when the payload came
// from the cache or another caller.
func (c *Cache) Do(ctx context.Context, key Key, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	k := key.String()
	for {
		if v, ok := c.Get(key); ok {
			return v, true, nil
		}

		ran := false
		ch := c.group.DoChan(k, func() (any, error) {
			ran = true
			v, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			c.lru.Add(k, clone(v))
			return v, nil
		})

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if !ran && ctx.Err() == nil && isContextErr(res.Err) {
					continue
				}
				return nil, false, res.Err
			}
			reused := !ran
			if reused {
				c.shared.Add(1)
			}
			v, _ := res.Val.(json.RawMessage)
			return clone(v), reused, nil
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Forget drops key from the cache.
func (c *Cache) Forget(key Key) {
	c.lru.Remove(key.String())
	c.group.Forget(key.String())
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Shared:  c.shared.Load(),
		Entries: c.lru.Len(),
	}
}

func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
