package service

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const adminCookie = "admin"

// AuthService issues and checks the signed admin-session cookie. A single
// shared credential gates the admin capability; there are no per-admin
// accounts.
type AuthService struct {
	secret       []byte
	username     string
	passwordHash []byte
}

func NewAuthService() *AuthService {
	secret := os.Getenv("ACCESS_SECRET")
	if secret == "" {
		secret = "dev_secret_change_me"
	}
	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = "admin123"
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		hash = nil
	}
	return &AuthService{secret: []byte(secret), username: username, passwordHash: hash}
}

// CheckCredentials verifies the shared admin credential.
func (s *AuthService) CheckCredentials(username, password string) bool {
	if s.passwordHash == nil || username != s.username {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
}

// CreateAdminToken signs a 7-day admin session token.
func (s *AuthService) CreateAdminToken() (string, error) {
	claims := jwt.MapClaims{
		"admin": true,
		"exp":   time.Now().Add(time.Hour * 24 * 7).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// IsAdmin reports whether the request carries a valid admin-session cookie.
// Any parse or signature problem means not-admin, never an error.
func (s *AuthService) IsAdmin(c *gin.Context) bool {
	raw, err := c.Cookie(adminCookie)
	if err != nil || raw == "" {
		return false
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	isAdmin, _ := claims["admin"].(bool)
	return isAdmin
}
