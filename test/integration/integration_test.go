package integration

import (
	"context"
	"testing"
	"time"

	"smarthome/internal/client"
	"smarthome/internal/device"
	"smarthome/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const eventTimeout = 2 * time.Second

func setupTest(t *testing.T) (*testutil.TestEnv, *client.Client) {
	t.Helper()
	env, err := testutil.NewTestEnv(nil)
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)
	return env, client.New(env.URL, zap.NewNop())
}

// TestBasicConnection tests health, listing and event bus registration
func TestBasicConnection(t *testing.T) {
	env, c := setupTest(t)
	ctx := context.Background()

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, c.Health(ctx))
	})

	t.Run("list", func(t *testing.T) {
		devices, err := c.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, device.DefaultSeed(), devices)
	})

	t.Run("event bus", func(t *testing.T) {
		ws, err := env.Dial()
		require.NoError(t, err)
		assert.Equal(t, 1, env.Hub.ClientCount())

		ws.Close()
		require.Eventually(t, func() bool { return env.Hub.ClientCount() == 0 }, eventTimeout, 5*time.Millisecond)
	})
}
