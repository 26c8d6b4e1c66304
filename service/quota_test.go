package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"aichatpal/platform"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestQuotaIncrementAndCount(t *testing.T) {
	store := platform.NewMemoryStore()
	quota := NewQuotaService(store, testLogger(), 3)
	ctx := context.Background()

	require.EqualValues(t, 0, quota.Count(ctx, 42))
	require.EqualValues(t, 1, quota.IncrementAndGet(ctx, 42))
	require.EqualValues(t, 2, quota.IncrementAndGet(ctx, 42))
	require.EqualValues(t, 2, quota.Count(ctx, 42))

	// counters are per user
	require.EqualValues(t, 1, quota.IncrementAndGet(ctx, 7))
	require.EqualValues(t, 2, quota.Count(ctx, 42))
}

func TestFreeRemaining(t *testing.T) {
	store := platform.NewMemoryStore()
	quota := NewQuotaService(store, testLogger(), 3)
	ctx := context.Background()

	require.EqualValues(t, 3, quota.FreeRemaining(ctx, 42, false))
	quota.IncrementAndGet(ctx, 42)
	quota.IncrementAndGet(ctx, 42)
	require.EqualValues(t, 1, quota.FreeRemaining(ctx, 42, false))
	quota.IncrementAndGet(ctx, 42)
	quota.IncrementAndGet(ctx, 42)
	require.EqualValues(t, 0, quota.FreeRemaining(ctx, 42, false))

	require.EqualValues(t, Unlimited, quota.FreeRemaining(ctx, 42, true))
}

func TestResetAll(t *testing.T) {
	store := platform.NewMemoryStore()
	quota := NewQuotaService(store, testLogger(), 3)
	ctx := context.Background()

	quota.IncrementAndGet(ctx, 1)
	quota.IncrementAndGet(ctx, 2)
	quota.ResetAll(ctx)

	require.EqualValues(t, 0, quota.Count(ctx, 1))
	require.EqualValues(t, 0, quota.Count(ctx, 2))
}

func TestGrantLifecycle(t *testing.T) {
	store := platform.NewMemoryStore()
	quota := NewQuotaService(store, testLogger(), 3)
	ctx := context.Background()

	require.False(t, quota.HasActiveGrant(ctx, 42))

	until := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, quota.SetGrant(ctx, 42, "DEMO-KEY-1D", until))
	require.True(t, quota.HasActiveGrant(ctx, 42))
	require.EqualValues(t, Unlimited, quota.FreeRemaining(ctx, 42, false))

	require.True(t, quota.ClearGrant(ctx, 42))
	require.False(t, quota.HasActiveGrant(ctx, 42))
	require.False(t, quota.ClearGrant(ctx, 42))
}

func TestExpiredGrantIsInactive(t *testing.T) {
	store := platform.NewMemoryStore()
	quota := NewQuotaService(store, testLogger(), 3)
	ctx := context.Background()

	until := time.Now().UTC().Add(time.Hour)
	require.NoError(t, quota.SetGrant(ctx, 42, "DEMO-KEY-1D", until))
	require.True(t, quota.HasActiveGrant(ctx, 42))

	quota.now = func() time.Time { return until.Add(time.Minute) }
	require.False(t, quota.HasActiveGrant(ctx, 42))
}

// failingCollection errors on every operation.
type failingCollection struct{}

var errBroken = errors.New("connection reset")

func (failingCollection) FindOne(context.Context, bson.M, interface{}) error { return errBroken }
func (failingCollection) FindAll(context.Context, bson.M, bson.D) ([]bson.Raw, error) {
	return nil, errBroken
}
func (failingCollection) UpdateOne(context.Context, bson.M, bson.M, bool) error { return errBroken }
func (failingCollection) UpdateMany(context.Context, bson.M, bson.M) (int64, error) {
	return 0, errBroken
}
func (failingCollection) DeleteOne(context.Context, bson.M) (int64, error)  { return 0, errBroken }
func (failingCollection) DeleteMany(context.Context, bson.M) (int64, error) { return 0, errBroken }
func (failingCollection) Count(context.Context, bson.M) (int64, error)      { return 0, errBroken }

func TestIncrementFailsClosed(t *testing.T) {
	store := platform.NewMemoryStore()
	store.Users = failingCollection{}
	quota := NewQuotaService(store, testLogger(), 3)
	ctx := context.Background()

	got := quota.IncrementAndGet(ctx, 42)
	require.Greater(t, got, int64(quota.Limit()))
}

func TestGrantCheckFailsClosed(t *testing.T) {
	store := platform.NewMemoryStore()
	store.Keys = failingCollection{}
	quota := NewQuotaService(store, testLogger(), 3)

	require.False(t, quota.HasActiveGrant(context.Background(), 42))
}
