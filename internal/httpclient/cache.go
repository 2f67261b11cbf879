package httpclient

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize is the maximum number of cached GET responses.
const defaultCacheSize = 500

// defaultCacheTTL applies to path classes without an explicit TTL.
const defaultCacheTTL = 60 * time.Second

// cacheEntry is one cached GET response. An entry is valid while
// now - insertedAt < ttl; expired entries are evicted lazily on access and
// eagerly by the size-bounded LRU.
type cacheEntry struct {
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

// responseCache is a size-bounded LRU of successful GET responses with
// per-entry TTLs.
type responseCache struct {
	entries *lru.Cache[string, cacheEntry]
	now     func() time.Time
}

func newResponseCache(size int) (*responseCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &responseCache{entries: entries, now: time.Now}, nil
}

// get returns a copy of a valid entry, or false. Expired entries
// are removed on access.
func (rc *responseCache) get(key string) ([]byte, bool) {
	entry, ok := rc.entries.Get(key)
	if !ok {
		return nil, false
	}
	if rc.now().Sub(entry.insertedAt) >= entry.ttl {
		rc.entries.Remove(key)
		return nil, false
	}
	return bytes.Clone(entry.value), true
}

func (rc *responseCache) put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	rc.entries.Add(key, cacheEntry{
		value:      bytes.Clone(value),
		insertedAt: rc.now(),
		ttl:        ttl,
	})
}

// invalidate removes every entry whose request path starts with the prefix.
func (rc *responseCache) invalidate(prefix string) {
	for _, key := range rc.entries.Keys() {
		if strings.HasPrefix(cacheKeyPath(key), prefix) {
			rc.entries.Remove(key)
		}
	}
}

func (rc *responseCache) len() int {
	return rc.entries.Len()
}

// cacheKey builds the canonical key for a request: method, path, sorted
// params and the identity of the bearer token. The token is hashed so the
// key never holds the credential itself.
func cacheKey(method, path string, params url.Values, token string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte('?')

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(params[k], ","))
	}

	b.WriteByte('#')
	b.WriteString(tokenIdentity(token))
	return b.String()
}

// cacheKeyPath recovers the path component of a cache key for prefix
// invalidation.
func cacheKeyPath(key string) string {
	// Key format: "METHOD path?params#token".
	if i := strings.IndexByte(key, ' '); i >= 0 {
		key = key[i+1:]
	}
	if i := strings.IndexByte(key, '?'); i >= 0 {
		key = key[:i]
	}
	return key
}

func tokenIdentity(token string) string {
	if token == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
