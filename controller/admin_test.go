package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"aichatpal/platform"
	"aichatpal/service"
)

type adminFixture struct {
	router *gin.Engine
	auth   *service.AuthService
	ring   *platform.RingBuffer
	logger *logrus.Logger
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("ADMIN_USERNAME", "operator")
	t.Setenv("ADMIN_PASSWORD", "s3cret")
	t.Setenv("ACCESS_SECRET", "test_secret")

	ring := platform.NewRingBuffer(500)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(ring)

	store := platform.NewMemoryStore()
	auth := service.NewAuthService()

	ctrl := &AdminController{Auth: auth, Store: store, Ring: ring, Logger: logger}

	r := gin.New()
	r.POST("/api/login", ctrl.Login)
	r.POST("/api/logout", ctrl.Logout)
	r.GET("/adminJackLogs", ctrl.Logs)

	return &adminFixture{router: r, auth: auth, ring: ring, logger: logger}
}

func (f *adminFixture) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func adminCookieFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	res := w.Result()
	defer res.Body.Close()
	for _, c := range res.Cookies() {
		if c.Name == "admin" {
			return c
		}
	}
	t.Fatal("no admin cookie set")
	return nil
}

func TestAdminLogin(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(t, http.MethodPost, "/api/login", gin.H{"username": "operator", "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	cookie := adminCookieFrom(t, w)
	require.NotEmpty(t, cookie.Value)
	require.True(t, f.auth.IsAdmin(ginContextWithCookie(cookie)))

	w = f.do(t, http.MethodPost, "/api/login", gin.H{"username": "operator", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func ginContextWithCookie(cookie *http.Cookie) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.AddCookie(cookie)
	return c
}

func TestAdminLogsRequireAuth(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(t, http.MethodGet, "/adminJackLogs", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminLogsPage(t *testing.T) {
	f := newAdminFixture(t)
	f.logger.Info("first diagnostic line")
	f.logger.Info("second diagnostic line")

	login := f.do(t, http.MethodPost, "/api/login", gin.H{"username": "operator", "password": "s3cret"})
	cookie := adminCookieFrom(t, login)

	w := f.do(t, http.MethodGet, "/adminJackLogs", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.Contains(t, body, "DB: users=0, history=0, keys_in_use=0, conversations=0")
	require.Contains(t, body, "Recent logs:")
	require.Contains(t, body, "first diagnostic line")
	require.Contains(t, body, "second diagnostic line")
	require.Less(t, strings.Index(body, "first diagnostic"), strings.Index(body, "second diagnostic"))
}

func TestAdminLogout(t *testing.T) {
	f := newAdminFixture(t)

	login := f.do(t, http.MethodPost, "/api/login", gin.H{"username": "operator", "password": "s3cret"})
	cookie := adminCookieFrom(t, login)

	w := f.do(t, http.MethodPost, "/api/logout", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := adminCookieFrom(t, w)
	require.Empty(t, cleared.Value)
	require.Negative(t, cleared.MaxAge)
}
