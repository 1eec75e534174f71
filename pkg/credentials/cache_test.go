package credentials_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/stretchr/testify/assert"
)

type memoryCache struct {
	mu      sync.Mutex
	results map[string]credentials.ValidationResult
}

func newMemoryCache() *memoryCache {
	return &memoryCache{results: make(map[string]credentials.ValidationResult)}
}

func (c *memoryCache) Get(_ context.Context, key string) (credentials.ValidationResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.results[key]

	return result, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, result credentials.ValidationResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = result

	return nil
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := credentials.Fingerprint("vipps", map[string]string{"client_id": "1", "client_secret": "2"})
	b := credentials.Fingerprint("vipps", map[string]string{"client_secret": "2", "client_id": "1"})
	c := credentials.Fingerprint("vipps", map[string]string{"client_id": "1", "client_secret": "3"})
	d := credentials.Fingerprint("stripe", map[string]string{"client_id": "1", "client_secret": "2"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.NotContains(t, a, "client_secret")
}

func TestCheckReadiness_UsesCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := statusServer(t, http.StatusOK, `{}`, &hits)
	svc := credentials.NewService(log.Discard(),
		credentials.WithBaseURL("fiken", server.URL),
		credentials.WithCache(newMemoryCache(), time.Minute),
	)

	creds := map[string]map[string]string{"fiken": {"api_token": "t"}}

	first := svc.CheckReadiness(context.Background(), []string{"fiken"}, creds)
	second := svc.CheckReadiness(context.Background(), []string{"fiken"}, creds)

	assert.True(t, first.Ready)
	assert.True(t, second.Ready)
	assert.Equal(t, int32(1), hits.Load())

	svc.Validate(context.Background(), "fiken", creds["fiken"])
	assert.Equal(t, int32(2), hits.Load(), "explicit validation bypasses the cache")
}

func TestCheckReadiness_DoesNotCacheUnreachable(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := statusServer(t, http.StatusServiceUnavailable, `{}`, &hits)
	svc := credentials.NewService(log.Discard(),
		credentials.WithBaseURL("fiken", server.URL),
		credentials.WithCache(newMemoryCache(), time.Minute),
	)

	creds := map[string]map[string]string{"fiken": {"api_token": "t"}}

	svc.CheckReadiness(context.Background(), []string{"fiken"}, creds)
	result := svc.CheckReadiness(context.Background(), []string{"fiken"}, creds)

	assert.False(t, result.Ready)
	assert.Equal(t, int32(2), hits.Load())
}
