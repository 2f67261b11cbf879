package httpclient

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyStableUnderParamOrder(t *testing.T) {
	t.Parallel()

	a := url.Values{}
	a.Set("b", "2")
	a.Set("a", "1")
	b := url.Values{}
	b.Set("a", "1")
	b.Set("b", "2")

	assert.Equal(t,
		cacheKey("GET", "/products", a, "tok"),
		cacheKey("GET", "/products", b, "tok"))
}

func TestCacheKeySeparatesIdentities(t *testing.T) {
	t.Parallel()

	anon := cacheKey("GET", "/products", nil, "")
	alice := cacheKey("GET", "/products", nil, "alice-token")
	bob := cacheKey("GET", "/products", nil, "bob-token")

	assert.NotEqual(t, anon, alice)
	assert.NotEqual(t, alice, bob)
	assert.Contains(t, anon, "anonymous")
	assert.NotContains(t, alice, "alice-token", "the raw credential must not appear in the key")
}

func TestCacheKeyPathRecovery(t *testing.T) {
	t.Parallel()

	params := url.Values{}
	params.Set("searchCriteria[currentPage]", "1")
	key := cacheKey("GET", "/rest/V1/products", params, "tok")
	assert.Equal(t, "/rest/V1/products", cacheKeyPath(key))
}

func TestResponseCacheEviction(t *testing.T) {
	t.Parallel()

	rc, err := newResponseCache(2)
	require.NoError(t, err)

	rc.put("a", []byte("1"), time.Minute)
	rc.put("b", []byte("2"), time.Minute)
	rc.put("c", []byte("3"), time.Minute)

	_, ok := rc.get("a")
	assert.False(t, ok, "oldest entry evicted at capacity")
	_, ok = rc.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, rc.len())
}

func TestResponseCacheTTL(t *testing.T) {
	t.Parallel()

	rc, err := newResponseCache(10)
	require.NoError(t, err)
	now := time.Now()
	rc.now = func() time.Time { return now }

	rc.put("k", []byte("v"), 30*time.Second)

	got, ok := rc.get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	now = now.Add(31 * time.Second)
	_, ok = rc.get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, rc.len(), "expired entry removed on access")
}
