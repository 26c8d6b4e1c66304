package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"aichatpal/lib"
	"aichatpal/model"
	"aichatpal/platform"
)

// titleMaxLen caps auto-generated conversation titles.
const titleMaxLen = 50

// ConversationService owns conversation metadata, independent of message
// content.
type ConversationService struct {
	store   *platform.Store
	history *HistoryService
	logger  *logrus.Logger
}

func NewConversationService(store *platform.Store, history *HistoryService, logger *logrus.Logger) *ConversationService {
	return &ConversationService{store: store, history: history, logger: logger}
}

// Create makes a new conversation with the given title (placeholder when
// empty) and an eagerly created empty history record. Persistence failures
// are logged; the returned meta is usable either way.
func (s *ConversationService) Create(ctx context.Context, userID int64, id, title string) model.ConversationMeta {
	if title == "" {
		title = model.PlaceholderTitle
	}
	now := time.Now().UTC()
	meta := model.ConversationMeta{
		UserID:    userID,
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.Conversations.UpdateOne(ctx,
		bson.M{"user_id": userID, "id": id},
		bson.M{"user_id": userID, "id": id, "title": title, "created_at": now, "updated_at": now},
		true)
	if err != nil {
		s.logger.Warnf("DB error creating conversation: %v", err)
	}
	s.history.Save(ctx, userID, nil, id)
	return meta
}

// List returns the user's conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context, userID int64) []model.ConversationMeta {
	raws, err := s.store.Conversations.FindAll(ctx,
		bson.M{"user_id": userID},
		bson.D{{Key: "updated_at", Value: -1}})
	if err != nil {
		s.logger.Warnf("DB error listing conversations: %v", err)
		return nil
	}
	convos := make([]model.ConversationMeta, 0, len(raws))
	for _, raw := range raws {
		var meta model.ConversationMeta
		if err := bson.Unmarshal(raw, &meta); err != nil {
			continue
		}
		convos = append(convos, meta)
	}
	return convos
}

// Exists reports whether the conversation belongs to the user.
func (s *ConversationService) Exists(ctx context.Context, userID int64, id string) bool {
	var meta model.ConversationMeta
	return s.store.Conversations.FindOne(ctx, bson.M{"user_id": userID, "id": id}, &meta) == nil
}

func (s *ConversationService) Rename(ctx context.Context, userID int64, id, title string) error {
	err := s.store.Conversations.UpdateOne(ctx,
		bson.M{"user_id": userID, "id": id},
		bson.M{"title": title, "updated_at": time.Now().UTC()},
		false)
	if err != nil {
		s.logger.Warnf("DB error renaming conversation: %v", err)
	}
	return err
}

// Delete removes a conversation and its history together, then returns the id
// of the next current conversation: the most recently updated survivor, or a
// freshly created one so the user is never left without a current
// conversation.
func (s *ConversationService) Delete(ctx context.Context, userID int64, id string) string {
	if _, err := s.store.Conversations.DeleteOne(ctx, bson.M{"user_id": userID, "id": id}); err != nil {
		s.logger.Warnf("DB error deleting conversation: %v", err)
	}
	if _, err := s.store.History.DeleteOne(ctx, bson.M{"user_id": userID, "conversation_id": id}); err != nil {
		s.logger.Warnf("DB error deleting conversation history: %v", err)
	}
	s.history.Forget()

	remaining := s.List(ctx, userID)
	if len(remaining) > 0 {
		return remaining[0].ID
	}
	next := s.Create(ctx, userID, NewConversationID(), "")
	return next.ID
}

// Touch bumps updated_at, called after every successful exchange.
func (s *ConversationService) Touch(ctx context.Context, userID int64, id string) {
	err := s.store.Conversations.UpdateOne(ctx,
		bson.M{"user_id": userID, "id": id},
		bson.M{"updated_at": time.Now().UTC()},
		false)
	if err != nil {
		s.logger.Warnf("DB error updating conversation timestamp: %v", err)
	}
}

// AutoTitle replaces a still-placeholder title with the first line of the
// triggering user message, truncated. A conversation that was already renamed
// keeps its title.
func (s *ConversationService) AutoTitle(ctx context.Context, userID int64, id, userText string) {
	var meta model.ConversationMeta
	if err := s.store.Conversations.FindOne(ctx, bson.M{"user_id": userID, "id": id}, &meta); err != nil {
		return
	}
	if meta.Title != "" && meta.Title != model.PlaceholderTitle {
		return
	}
	title := lib.FirstLine(userText, titleMaxLen)
	if title == "" {
		title = model.PlaceholderTitle
	}
	err := s.store.Conversations.UpdateOne(ctx,
		bson.M{"user_id": userID, "id": id},
		bson.M{"title": title},
		false)
	if err != nil {
		s.logger.Warnf("DB error auto-titling conversation: %v", err)
	}
}
