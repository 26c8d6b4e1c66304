package service

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	uidCookie = "uid"
	cidCookie = "cid"

	cookieMaxAge = 60 * 60 * 24 * 365
)

// SessionService resolves the stable user identity and the current
// conversation from request cookies, minting both on first contact. It never
// fails: a corrupted cookie is treated as absent.
type SessionService struct {
	convos *ConversationService
	logger *logrus.Logger
}

func NewSessionService(convos *ConversationService, logger *logrus.Logger) *SessionService {
	return &SessionService{convos: convos, logger: logger}
}

// ResolveUser returns the caller's user id, minting and setting a fresh one
// when the cookie is missing or unreadable.
func (s *SessionService) ResolveUser(c *gin.Context) int64 {
	if raw, err := c.Cookie(uidCookie); err == nil {
		if uid, err := strconv.ParseInt(raw, 10, 64); err == nil && uid > 0 {
			return uid
		}
	}
	uid := NewUserID()
	setSessionCookie(c, uidCookie, strconv.FormatInt(uid, 10))
	return uid
}

// ResolveConversation returns the caller's current conversation, verifying it
// belongs to the user. Missing, foreign or unverifiable conversations get a
// fresh one with eagerly created metadata and empty history; creation errors
// are logged inside the registry and the conversation stays usable in-memory.
func (s *SessionService) ResolveConversation(c *gin.Context, userID int64) string {
	if cid, err := c.Cookie(cidCookie); err == nil && cid != "" {
		if s.convos.Exists(c.Request.Context(), userID, cid) {
			return cid
		}
	}
	cid := NewConversationID()
	s.convos.Create(c.Request.Context(), userID, cid, "")
	setSessionCookie(c, cidCookie, cid)
	return cid
}

// SelectConversation points the cid cookie at an existing conversation.
func (s *SessionService) SelectConversation(c *gin.Context, cid string) {
	setSessionCookie(c, cidCookie, cid)
}

var randRead = rand.Read

// identityBytes fills 8 bytes of entropy, degrading to the wall clock when
// the system entropy source fails. Identity minting must always succeed.
func identityBytes() [8]byte {
	var buf [8]byte
	if _, err := randRead(buf[:]); err != nil {
		binary.BigEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	}
	return buf
}

// NewUserID mints a 63-bit random identity, wide enough to make collision
// negligible. Never recycled.
func NewUserID() int64 {
	buf := identityBytes()
	id := int64(binary.BigEndian.Uint64(buf[:]) >> 1)
	if id == 0 {
		id = 1
	}
	return id
}

// NewConversationID mints an opaque 16-hex-char conversation token.
func NewConversationID() string {
	buf := identityBytes()
	return hex.EncodeToString(buf[:])
}

func setSessionCookie(c *gin.Context, name, value string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, cookieMaxAge, "/", "", false, true)
}
