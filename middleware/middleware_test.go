package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/alsoviewed/config"
	"github.com/cppla/alsoviewed/models"
	"github.com/cppla/alsoviewed/testutil"
	"github.com/cppla/alsoviewed/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestVisitorSession(t *testing.T) {
	store := utils.NewSessionStore(nil, time.Minute)
	r := gin.New()
	r.Use(VisitorSession(store, SessionOptions{CookieName: "sid", MaxAge: 60}))
	r.GET("/", func(ctx *gin.Context) {
		sess := SessionFrom(ctx)
		require.NotNil(t, sess)
		ctx.String(http.StatusOK, sess.ID())
	})

	t.Run("issues a new id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		c := sessionCookie(t, rec, "sid")
		_, err := uuid.Parse(c.Value)
		require.NoError(t, err)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, c.Value, rec.Body.String())
	})

	t.Run("keeps a valid id", func(t *testing.T) {
		id := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: id})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, id, rec.Body.String())
		assert.Equal(t, id, sessionCookie(t, rec, "sid").Value)
	})

	t.Run("replaces a forged id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "../../etc"})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.NotEqual(t, "../../etc", rec.Body.String())
		_, err := uuid.Parse(rec.Body.String())
		assert.NoError(t, err)
	})
}

func TestSessionFrom_Missing(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, SessionFrom(ctx))
}

func authRouter() *gin.Engine {
	r := gin.New()
	r.GET("/optional", OptionalAuth(), func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"authenticated": IsAuthenticated(ctx)})
	})
	r.GET("/required", AuthRequired(), func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"user_id": ctx.GetUint(ContextUserIDKey)})
	})
	return r
}

func TestOptionalAuth(t *testing.T) {
	config.Set(config.AppConfig{JWTSecret: "test-secret"})
	utils.SetRedis(nil)
	r := authRouter()
	token, err := utils.GenerateToken(3, "bob", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"anonymous", "", `{"authenticated":false}`},
		{"valid token", "Bearer " + token, `{"authenticated":true}`},
		{"garbage token", "Bearer nope", `{"authenticated":false}`},
		{"wrong scheme", "Basic abc", `{"authenticated":false}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/optional", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tc.want, rec.Body.String())
		})
	}
}

func TestAuthRequired(t *testing.T) {
	config.Set(config.AppConfig{JWTSecret: "test-secret"})
	utils.SetRedis(nil)
	r := authRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/required", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := utils.GenerateToken(3, "bob", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/required", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":3}`, rec.Body.String())

	utils.BlacklistToken(req.Context(), token, time.Now().Add(time.Hour))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(2), func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	// perMinute 2 gives a burst of one request.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPageViewRecorder(t *testing.T) {
	db := testutil.NewDB(t)
	r := gin.New()
	r.Use(PageViewRecorder(db))
	ok := func(ctx *gin.Context) { ctx.Status(http.StatusOK) }
	r.GET("/items/:id", ok)
	r.GET("/health", ok)
	r.POST("/items", ok)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/items/1", nil),
		httptest.NewRequest(http.MethodGet, "/items/1", nil),
		httptest.NewRequest(http.MethodGet, "/items/404/missing", nil),
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/items", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	var rows []models.PageView
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "/items/1", rows[0].Path)
	assert.Equal(t, int64(2), rows[0].Count)
}
