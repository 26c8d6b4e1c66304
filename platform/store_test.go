package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestMemCollectionUpsertAndFindOne(t *testing.T) {
	col := &memCollection{}
	ctx := context.Background()

	var out struct {
		UserID int64 `bson:"user_id"`
		Count  int64 `bson:"message_count"`
	}
	err := col.FindOne(ctx, bson.M{"user_id": int64(42)}, &out)
	require.ErrorIs(t, err, mongo.ErrNoDocuments)

	require.NoError(t, col.UpdateOne(ctx,
		bson.M{"user_id": int64(42)},
		bson.M{"user_id": int64(42), "message_count": int64(1)},
		true))
	require.NoError(t, col.FindOne(ctx, bson.M{"user_id": int64(42)}, &out))
	require.EqualValues(t, 1, out.Count)

	// update in place, no duplicate document
	require.NoError(t, col.UpdateOne(ctx,
		bson.M{"user_id": int64(42)},
		bson.M{"message_count": int64(2)},
		true))
	n, err := col.Count(ctx, bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, col.FindOne(ctx, bson.M{"user_id": int64(42)}, &out))
	require.EqualValues(t, 2, out.Count)
}

func TestMemCollectionUpdateWithoutUpsert(t *testing.T) {
	col := &memCollection{}
	ctx := context.Background()

	require.NoError(t, col.UpdateOne(ctx,
		bson.M{"user_id": int64(42)},
		bson.M{"title": "x"},
		false))
	n, err := col.Count(ctx, bson.M{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemCollectionExistsFilter(t *testing.T) {
	col := &memCollection{}
	ctx := context.Background()

	require.NoError(t, col.UpdateOne(ctx,
		bson.M{"user_id": int64(1)},
		bson.M{"user_id": int64(1)},
		true))
	require.NoError(t, col.UpdateOne(ctx,
		bson.M{"user_id": int64(1), "conversation_id": "abc"},
		bson.M{"user_id": int64(1), "conversation_id": "abc"},
		true))

	n, err := col.Count(ctx, bson.M{"user_id": int64(1), "conversation_id": bson.M{"$exists": false}})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = col.Count(ctx, bson.M{"user_id": int64(1), "conversation_id": bson.M{"$exists": true}})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMemCollectionSortByTimeDescending(t *testing.T) {
	col := &memCollection{}
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, col.UpdateOne(ctx,
			bson.M{"id": id},
			bson.M{"id": id, "updated_at": base.Add(time.Duration(i) * time.Minute)},
			true))
	}

	raws, err := col.FindAll(ctx, bson.M{}, bson.D{{Key: "updated_at", Value: -1}})
	require.NoError(t, err)
	require.Len(t, raws, 3)

	var ids []string
	for _, raw := range raws {
		var doc struct {
			ID string `bson:"id"`
		}
		require.NoError(t, bson.Unmarshal(raw, &doc))
		ids = append(ids, doc.ID)
	}
	require.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestMemCollectionTimeRoundTrip(t *testing.T) {
	col := &memCollection{}
	ctx := context.Background()

	stamp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, col.UpdateOne(ctx,
		bson.M{"id": "a"},
		bson.M{"id": "a", "valid_until": stamp},
		true))

	var out struct {
		ValidUntil time.Time `bson:"valid_until"`
	}
	require.NoError(t, col.FindOne(ctx, bson.M{"id": "a"}, &out))
	require.True(t, out.ValidUntil.Equal(stamp))
}

func TestMemCollectionDelete(t *testing.T) {
	col := &memCollection{}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, col.UpdateOne(ctx,
			bson.M{"id": id},
			bson.M{"id": id, "user_id": int64(1)},
			true))
	}

	n, err := col.DeleteOne(ctx, bson.M{"id": "b"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = col.DeleteMany(ctx, bson.M{"user_id": int64(1)})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = col.Count(ctx, bson.M{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemCollectionUpdateMany(t *testing.T) {
	col := &memCollection{}
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, col.UpdateOne(ctx,
			bson.M{"user_id": i},
			bson.M{"user_id": i, "message_count": i},
			true))
	}

	n, err := col.UpdateMany(ctx, bson.M{}, bson.M{"message_count": int64(0)})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	for i := int64(1); i <= 3; i++ {
		var out struct {
			Count int64 `bson:"message_count"`
		}
		require.NoError(t, col.FindOne(ctx, bson.M{"user_id": i}, &out))
		require.Zero(t, out.Count)
	}
}

func TestNewStoreFallsBackWithoutURI(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	logger := newTestLogger()

	store := NewStore(logger)
	require.True(t, store.InMemory)
	require.NotNil(t, store.Users)
	require.NotNil(t, store.History)
	require.NotNil(t, store.Keys)
	require.NotNil(t, store.Conversations)
}
