package platform

import (
	"context"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const dbName = "chat_history_db"

// Collection is the narrow document-store contract every service depends on.
// FindOne returns mongo.ErrNoDocuments when nothing matches, regardless of the
// backing implementation.
type Collection interface {
	FindOne(ctx context.Context, filter bson.M, out interface{}) error
	FindAll(ctx context.Context, filter bson.M, sortSpec bson.D) ([]bson.Raw, error)
	UpdateOne(ctx context.Context, filter bson.M, set bson.M, upsert bool) error
	UpdateMany(ctx context.Context, filter bson.M, set bson.M) (int64, error)
	DeleteOne(ctx context.Context, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
}

// Store bundles the logical collections of the app.
type Store struct {
	Users         Collection
	History       Collection
	Keys          Collection
	Conversations Collection

	InMemory bool
}

// NewStore connects to MongoDB using MONGODB_URI. When the URI is missing or
// the server is unreachable it falls back to a process-local in-memory store
// implementing the same contract; consumers never see the difference.
func NewStore(logger *logrus.Logger) *Store {
	uri := os.Getenv("MONGODB_URI")
	if uri != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, options.Client().
			ApplyURI(uri).
			SetServerSelectionTimeout(3*time.Second))
		if err == nil {
			err = client.Ping(ctx, nil)
		}
		if err == nil {
			db := client.Database(dbName)
			s := &Store{
				Users:         &mongoCollection{db.Collection("users")},
				History:       &mongoCollection{db.Collection("history")},
				Keys:          &mongoCollection{db.Collection("keys_in_use")},
				Conversations: &mongoCollection{db.Collection("conversations")},
			}
			ensureIndexes(db, logger)
			logger.Info("Connected to MongoDB")
			return s
		}
		logger.Warnf("MongoDB connection failed, using in-memory fallback: %v", err)
	} else {
		logger.Info("MONGODB_URI not set, using in-memory store")
	}
	return NewMemoryStore()
}

// NewMemoryStore returns a Store backed entirely by process memory.
func NewMemoryStore() *Store {
	return &Store{
		Users:         &memCollection{},
		History:       &memCollection{},
		Keys:          &memCollection{},
		Conversations: &memCollection{},
		InMemory:      true,
	}
}

// Index creation is best-effort; a store without indexes is slower, not broken.
func ensureIndexes(db *mongo.Database, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	indexes := []struct {
		coll string
		keys bson.D
	}{
		{"history", bson.D{{Key: "user_id", Value: 1}}},
		{"history", bson.D{{Key: "conversation_id", Value: 1}}},
		{"conversations", bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
	}
	for _, idx := range indexes {
		_, err := db.Collection(idx.coll).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: idx.keys})
		if err != nil {
			logger.Warnf("Index creation failed on %s: %v", idx.coll, err)
		}
	}
}

type mongoCollection struct {
	c *mongo.Collection
}

func (m *mongoCollection) FindOne(ctx context.Context, filter bson.M, out interface{}) error {
	return m.c.FindOne(ctx, filter).Decode(out)
}

func (m *mongoCollection) FindAll(ctx context.Context, filter bson.M, sortSpec bson.D) ([]bson.Raw, error) {
	opts := options.Find()
	if sortSpec != nil {
		opts.SetSort(sortSpec)
	}
	cur, err := m.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []bson.Raw
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		docs = append(docs, raw)
	}
	return docs, cur.Err()
}

func (m *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, set bson.M, upsert bool) error {
	_, err := m.c.UpdateOne(ctx, filter, bson.M{"$set": set}, options.Update().SetUpsert(upsert))
	return err
}

func (m *mongoCollection) UpdateMany(ctx context.Context, filter bson.M, set bson.M) (int64, error) {
	res, err := m.c.UpdateMany(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (m *mongoCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	res, err := m.c.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := m.c.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	return m.c.CountDocuments(ctx, filter)
}

// memCollection is the in-memory stand-in. Documents are stored as bson.M after
// a marshal round-trip so reads see the same value types a real MongoDB would
// produce (datetimes as primitive.DateTime, numbers widened to int64).
type memCollection struct {
	mu   sync.RWMutex
	docs []bson.M
}

func (m *memCollection) FindOne(ctx context.Context, filter bson.M, out interface{}) error {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.docs {
		if matchFilter(doc, filter) {
			data, err := bson.Marshal(doc)
			if err != nil {
				return err
			}
			return bson.Unmarshal(data, out)
		}
	}
	return mongo.ErrNoDocuments
}

func (m *memCollection) FindAll(ctx context.Context, filter bson.M, sortSpec bson.D) ([]bson.Raw, error) {
	_ = ctx
	m.mu.RLock()
	var matched []bson.M
	for _, doc := range m.docs {
		if matchFilter(doc, filter) {
			matched = append(matched, doc)
		}
	}
	m.mu.RUnlock()

	if len(sortSpec) > 0 {
		key := sortSpec[0].Key
		desc := false
		if ord, ok := sortSpec[0].Value.(int); ok && ord < 0 {
			desc = true
		}
		sort.SliceStable(matched, func(i, j int) bool {
			if desc {
				return lessValue(matched[j][key], matched[i][key])
			}
			return lessValue(matched[i][key], matched[j][key])
		})
	}

	docs := make([]bson.Raw, 0, len(matched))
	for _, doc := range matched {
		data, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, data)
	}
	return docs, nil
}

func (m *memCollection) UpdateOne(ctx context.Context, filter bson.M, set bson.M, upsert bool) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, doc := range m.docs {
		if matchFilter(doc, filter) {
			merged := cloneDoc(doc)
			for k, v := range set {
				merged[k] = v
			}
			normalized, err := roundTrip(merged)
			if err != nil {
				return err
			}
			m.docs[i] = normalized
			return nil
		}
	}
	if !upsert {
		return nil
	}
	doc := bson.M{}
	for k, v := range filter {
		if _, isOp := v.(bson.M); isOp {
			continue
		}
		doc[k] = v
	}
	for k, v := range set {
		doc[k] = v
	}
	normalized, err := roundTrip(doc)
	if err != nil {
		return err
	}
	m.docs = append(m.docs, normalized)
	return nil
}

func (m *memCollection) UpdateMany(ctx context.Context, filter bson.M, set bson.M) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i, doc := range m.docs {
		if !matchFilter(doc, filter) {
			continue
		}
		merged := cloneDoc(doc)
		for k, v := range set {
			merged[k] = v
		}
		normalized, err := roundTrip(merged)
		if err != nil {
			return n, err
		}
		m.docs[i] = normalized
		n++
	}
	return n, nil
}

func (m *memCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, doc := range m.docs {
		if matchFilter(doc, filter) {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []bson.M
	var n int64
	for _, doc := range m.docs {
		if matchFilter(doc, filter) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	m.docs = kept
	return n, nil
}

func (m *memCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, doc := range m.docs {
		if matchFilter(doc, filter) {
			n++
		}
	}
	return n, nil
}

// matchFilter supports the two filter shapes the services use: exact field
// equality and {"$exists": false} for the legacy-history lookup.
func matchFilter(doc bson.M, filter bson.M) bool {
	for k, want := range filter {
		if cond, ok := want.(bson.M); ok {
			if ex, present := cond["$exists"]; present {
				_, has := doc[k]
				shouldExist, _ := ex.(bool)
				if shouldExist != has {
					return false
				}
				continue
			}
		}
		got, has := doc[k]
		if !has || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if an, aok := asInt64(a); aok {
		if bn, bok := asInt64(b); bok {
			return an == bn
		}
		return false
	}
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Equal(bt)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func lessValue(a, b interface{}) bool {
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Before(bt)
		}
	}
	if an, aok := asInt64(a); aok {
		if bn, bok := asInt64(b); bok {
			return an < bn
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	default:
		return time.Time{}, false
	}
}

func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// roundTrip copies a document through bson so stored values are detached from
// caller-owned memory and typed the way a real server would return them.
func roundTrip(doc bson.M) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
