package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"aichatpal/model"
	"aichatpal/platform"
)

// HistoryMaxMessages caps the rolling log: the most recent N messages are
// retained on every save, older ones are dropped for good.
const HistoryMaxMessages = 20

// historyCacheCap bounds the read cache entry count. Past capacity the whole
// cache is flushed, consistent with the global clear-on-write policy.
const historyCacheCap = 4096

// HistoryService loads, windows and persists conversation history, with an
// in-process read cache in front of the store. Any save flushes the entire
// cache; read-your-own-writes holds for the writer, not across requests.
type HistoryService struct {
	store  *platform.Store
	logger *logrus.Logger
	cache  *gocache.Cache
}

func NewHistoryService(store *platform.Store, logger *logrus.Logger) *HistoryService {
	return &HistoryService{
		store:  store,
		logger: logger,
		cache:  gocache.New(30*time.Minute, 10*time.Minute),
	}
}

func historyCacheKey(userID int64, conversationID string) string {
	return fmt.Sprintf("%d|%s", userID, conversationID)
}

// Load returns the message log for (user, conversation), oldest first. A
// record stored before conversations existed is found under the user id
// alone. Nothing found or a storage error yields an empty slice. The returned
// slice is a fresh copy on every call; callers may mutate it freely.
func (s *HistoryService) Load(ctx context.Context, userID int64, conversationID string) []model.Message {
	key := historyCacheKey(userID, conversationID)
	if cached, ok := s.cache.Get(key); ok {
		return copyMessages(cached.([]model.Message))
	}

	var record model.HistoryRecord
	filter := bson.M{"user_id": userID}
	if conversationID != "" {
		filter["conversation_id"] = conversationID
	}
	err := s.store.History.FindOne(ctx, filter, &record)
	if isNotFound(err) && conversationID != "" {
		// Legacy single-history document from before conversations existed.
		err = s.store.History.FindOne(ctx,
			bson.M{"user_id": userID, "conversation_id": bson.M{"$exists": false}},
			&record)
	}
	if err != nil {
		if !isNotFound(err) {
			s.logger.Warnf("DB error loading history for %d: %v", userID, err)
		}
		return []model.Message{}
	}

	now := time.Now().UTC()
	history := make([]model.Message, 0, len(record.Messages))
	for _, raw := range record.Messages {
		history = append(history, raw.Normalize(now))
	}

	if s.cache.ItemCount() >= historyCacheCap {
		s.cache.Flush()
	}
	s.cache.SetDefault(key, copyMessages(history))
	return history
}

// Save truncates the history to the newest HistoryMaxMessages entries, upserts
// the record and flushes the whole read cache. Persistence failures are logged
// and absorbed; history writes are best-effort.
func (s *HistoryService) Save(ctx context.Context, userID int64, history []model.Message, conversationID string) {
	if len(history) > HistoryMaxMessages {
		history = history[len(history)-HistoryMaxMessages:]
	}
	raw := make([]model.RawMessage, 0, len(history))
	for _, m := range history {
		raw = append(raw, m.Raw())
	}

	filter := bson.M{"user_id": userID}
	if conversationID != "" {
		filter["conversation_id"] = conversationID
	}
	err := s.store.History.UpdateOne(ctx, filter, bson.M{
		"user_id":              userID,
		"conversation_id":      conversationID,
		"conversation_history": raw,
	}, true)
	if err != nil {
		s.logger.Warnf("DB error saving history for %d: %v", userID, err)
	}
	s.cache.Flush()
}

// Forget drops every cached history entry. Callers that delete history
// documents directly must invalidate through here.
func (s *HistoryService) Forget() {
	s.cache.Flush()
}

func copyMessages(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	copy(out, in)
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
