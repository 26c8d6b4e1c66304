package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"aichatpal/model"
	"aichatpal/platform"
)

// DefaultFreeDailyLimit is how many free messages a user gets per day unless
// FREE_DAILY_LIMIT overrides it.
const DefaultFreeDailyLimit = 3

// quotaBlocked is returned from IncrementAndGet when the counter could not be
// persisted. A storage error blocks free usage rather than allowing unbounded
// free access.
const quotaBlocked = 1_000_000_000

// Unlimited is the sentinel FreeRemaining returns for admins and key holders.
const Unlimited = -1

// QuotaService tracks per-user daily message counters and active key grants.
type QuotaService struct {
	store  *platform.Store
	logger *logrus.Logger
	limit  int
	now    func() time.Time
}

func NewQuotaService(store *platform.Store, logger *logrus.Logger, limit int) *QuotaService {
	if limit <= 0 {
		limit = DefaultFreeDailyLimit
	}
	return &QuotaService{store: store, logger: logger, limit: limit, now: time.Now}
}

func (s *QuotaService) Limit() int {
	return s.limit
}

// IncrementAndGet bumps the user's counter and returns the new value. On any
// storage error it returns quotaBlocked so the caller treats the user as far
// over quota.
func (s *QuotaService) IncrementAndGet(ctx context.Context, userID int64) int64 {
	var counter model.UsageCounter
	err := s.store.Users.FindOne(ctx, bson.M{"user_id": userID}, &counter)
	if err != nil && !isNotFound(err) {
		s.logger.Warnf("DB error incrementing message_count for %d: %v", userID, err)
		return quotaBlocked
	}
	newCount := counter.MessageCount + 1
	err = s.store.Users.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"user_id": userID, "message_count": newCount},
		true)
	if err != nil {
		s.logger.Warnf("DB error incrementing message_count for %d: %v", userID, err)
		return quotaBlocked
	}
	return newCount
}

// Count returns the user's current counter, zero if absent or on read failure.
// Reads fail open: showing a count is not security-critical.
func (s *QuotaService) Count(ctx context.Context, userID int64) int64 {
	var counter model.UsageCounter
	if err := s.store.Users.FindOne(ctx, bson.M{"user_id": userID}, &counter); err != nil {
		return 0
	}
	return counter.MessageCount
}

// ResetAll sets every user's counter back to zero. The caller owns the
// schedule; this is just the idempotent operation.
func (s *QuotaService) ResetAll(ctx context.Context) {
	if _, err := s.store.Users.UpdateMany(ctx, bson.M{}, bson.M{"message_count": int64(0)}); err != nil {
		s.logger.Warnf("DB error during daily reset: %v", err)
		return
	}
	s.logger.Info("Daily message counts reset to 0 for all users")
}

// HasActiveGrant reports whether the user's stored grant is still valid. Any
// lookup or parse failure yields false: ambiguous grant state never grants
// access.
func (s *QuotaService) HasActiveGrant(ctx context.Context, userID int64) bool {
	var grant model.AccessGrant
	if err := s.store.Keys.FindOne(ctx, bson.M{"user_id": userID}, &grant); err != nil {
		if !isNotFound(err) {
			s.logger.Warnf("DB error checking active key for %d: %v", userID, err)
		}
		return false
	}
	if grant.ValidUntil.IsZero() {
		return false
	}
	return !grant.ValidUntil.Before(s.now().UTC())
}

func (s *QuotaService) SetGrant(ctx context.Context, userID int64, key string, validUntil time.Time) error {
	err := s.store.Keys.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"user_id": userID, "key": key, "valid_until": validUntil},
		true)
	if err != nil {
		s.logger.Warnf("DB error setting active key for %d: %v", userID, err)
	}
	return err
}

// ClearGrant removes the user's grant, reporting whether one was removed.
func (s *QuotaService) ClearGrant(ctx context.Context, userID int64) bool {
	n, err := s.store.Keys.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		s.logger.Warnf("DB error logging out key for %d: %v", userID, err)
		return false
	}
	return n > 0
}

// FreeRemaining returns Unlimited for admins and grant holders, otherwise the
// number of free messages left today, floored at zero.
func (s *QuotaService) FreeRemaining(ctx context.Context, userID int64, isAdmin bool) int64 {
	if isAdmin || s.HasActiveGrant(ctx, userID) {
		return Unlimited
	}
	left := int64(s.limit) - s.Count(ctx, userID)
	if left < 0 {
		return 0
	}
	return left
}
