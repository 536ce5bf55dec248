package security_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelgrid/modelgrid-server/security"
)

func TestFixedWindowLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := security.NewFixedWindowLimiter(
		security.Budget{Limit: 3, Window: time.Minute},
		security.WithLimiterNowFunc(func() time.Time { return now }))
	ctx := context.Background()

	t.Run("allows up to the limit then refuses", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, err := limiter.Allow(ctx, "ip-1:token")
			require.NoError(t, err)
			require.True(t, allowed, "request %d should pass", i)
		}
		allowed, err := limiter.Allow(ctx, "ip-1:token")
		require.NoError(t, err)
		require.False(t, allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		allowed, err := limiter.Allow(ctx, "ip-2:token")
		require.NoError(t, err)
		require.True(t, allowed)
	})

	t.Run("the window rolling over resets the counts", func(t *testing.T) {
		now = now.Add(time.Minute)
		allowed, err := limiter.Allow(ctx, "ip-1:token")
		require.NoError(t, err)
		require.True(t, allowed)
	})
}
