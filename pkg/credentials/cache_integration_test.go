package credentials_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukex/provisioner/pkg/credentials"
)

var redisContainer testcontainers.Container

func TestMain(m *testing.M) {
	code := m.Run()

	if redisContainer != nil {
		_ = redisContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

// redisEndpoint starts one Redis container for the package and reuses it.
// Tests skip in short mode or when no container runtime is reachable.
func redisEndpoint(ctx context.Context, t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	if redisContainer == nil {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
		require.NoError(t, err)

		redisContainer = container
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err)

	return endpoint
}

func TestRedisCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := credentials.NewRedisClient(ctx, "redis://"+redisEndpoint(ctx, t))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	cache := credentials.NewRedisCache(client)
	key := credentials.Fingerprint("fiken", map[string]string{"api_token": "t"})

	_, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	stored := credentials.ValidationResult{Service: "fiken", Valid: true, Reason: credentials.ReasonOK, Message: "ok"}
	require.NoError(t, cache.Set(ctx, key, stored, time.Minute))

	loaded, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, stored.Service, loaded.Service)
	assert.True(t, loaded.Valid)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
