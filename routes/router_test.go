package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/cppla/alsoviewed/config"
	"github.com/cppla/alsoviewed/models"
	"github.com/cppla/alsoviewed/repository"
	"github.com/cppla/alsoviewed/testutil"
	"github.com/cppla/alsoviewed/utils"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type relatedBody struct {
	ItemID uint   `json:"item_id"`
	Sort   string `json:"sort"`
	Dir    string `json:"dir"`
	Links  []struct {
		ItemID uint   `json:"item_id"`
		Title  string `json:"title"`
		URL    string `json:"url"`
		Count  *int64 `json:"count"`
	} `json:"links"`
	Counters []models.CoViewCounter `json:"counters"`
}

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
}

func newTestServer(t *testing.T, cfg config.AppConfig, rc *redis.Client) *testServer {
	t.Helper()
	cfg.JWTSecret = "test-secret"
	cfg.GinMode = "test"
	config.Set(cfg)
	utils.SetRedis(rc)
	t.Cleanup(func() { utils.SetRedis(nil) })
	utils.PasswordCost = bcrypt.MinCost

	db := testutil.NewDB(t)
	return &testServer{t: t, db: db, router: SetupRouter(db)}
}

// visitor replays the session cookie and optional bearer token across requests.
type visitor struct {
	s      *testServer
	cookie *http.Cookie
	token  string
}

func (s *testServer) visitor() *visitor { return &visitor{s: s} }

func (v *visitor) do(method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	v.s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(v.s.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if v.cookie != nil {
		req.AddCookie(v.cookie)
	}
	if v.token != "" {
		req.Header.Set("Authorization", "Bearer "+v.token)
	}
	rec := httptest.NewRecorder()
	v.s.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == config.Get().SessionCookieName {
			v.cookie = c
		}
	}
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(v.s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (v *visitor) view(id uint) {
	v.s.t.Helper()
	rec, _ := v.do(http.MethodGet, fmt.Sprintf("/api/v1/items/%d", id), nil)
	require.Equal(v.s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (v *visitor) login(username string) {
	v.s.t.Helper()
	rec, env := v.do(http.MethodPost, "/api/v1/auth/register", map[string]string{"username": username, "password": "secret-pw"})
	require.Equal(v.s.t, http.StatusOK, rec.Code, rec.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(v.s.t, json.Unmarshal(env.Data, &data))
	v.token = data.Token
}

func (s *testServer) counter(itemID, relatedID uint) *models.CoViewCounter {
	s.t.Helper()
	row, err := repository.NewCounterRepository(s.db).Find(context.Background(), itemID, relatedID)
	require.NoError(s.t, err)
	return row
}

func (s *testServer) counterRows() int64 {
	s.t.Helper()
	var n int64
	require.NoError(s.t, s.db.Model(&models.CoViewCounter{}).Count(&n).Error)
	return n
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, config.AppConfig{}, nil)
	v := s.visitor()

	rec, env := v.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Code)

	items := testutil.CreateItems(t, s.db, "a")
	v.view(items[0].ID)

	rec, _ = v.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alsoviewed_tracked_views_total")

	rec, env = v.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 40400, env.Code)
}

func TestAnonymousBrowsingRecordsTransitions(t *testing.T) {
	s := newTestServer(t, config.AppConfig{}, nil)
	items := testutil.CreateItems(t, s.db, "one", "two", "three")
	one, two, three := items[0].ID, items[1].ID, items[2].ID

	v := s.visitor()
	v.view(one)
	require.NotNil(t, v.cookie, "session cookie issued")
	v.view(two)
	v.view(three)

	row := s.counter(one, two)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row.AfterViewCount)
	row = s.counter(two, one)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row.BeforeViewCount)
	assert.Nil(t, s.counter(one, three))

	// A fresh visitor starts a new session and does not continue the first trail.
	other := s.visitor()
	other.view(one)
	row = s.counter(three, one)
	assert.Nil(t, row)
}

func TestSignedInBrowsingIsNotTracked(t *testing.T) {
	s := newTestServer(t, config.AppConfig{}, nil)
	items := testutil.CreateItems(t, s.db, "one", "two")

	v := s.visitor()
	v.login("carol")
	v.view(items[0].ID)
	v.view(items[1].ID)

	assert.Zero(t, s.counterRows())
}

func TestGetItemNotFound(t *testing.T) {
	s := newTestServer(t, config.AppConfig{}, nil)
	rec, env := s.visitor().do(http.MethodGet, "/api/v1/items/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 40401, env.Code)

	rec, env = s.visitor().do(http.MethodGet, "/api/v1/items/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 40020, env.Code)
}

func TestRelatedEndpoint(t *testing.T) {
	s := newTestServer(t, config.AppConfig{}, nil)
	items := testutil.CreateItems(t, s.db, "base", "popular", "rare")
	base, popular, rare := items[0].ID, items[1].ID, items[2].ID

	for i := 0; i < 2; i++ {
		v := s.visitor()
		v.view(base)
		v.view(popular)
	}
	v := s.visitor()
	v.view(base)
	v.view(rare)

	rec, env := v.do(http.MethodGet, fmt.Sprintf("/api/v1/items/%d/related?sort=after&show_counts=1", base), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body relatedBody
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, repository.ColumnAfter, body.Sort)
	assert.Equal(t, "desc", body.Dir)
	require.Len(t, body.Links, 2)
	assert.Equal(t, popular, body.Links[0].ItemID)
	assert.Equal(t, fmt.Sprintf("/items/%d", popular), body.Links[0].URL)
	require.NotNil(t, body.Links[0].Count)
	assert.Equal(t, int64(2), *body.Links[0].Count)
	assert.Equal(t, rare, body.Links[1].ItemID)
	require.Len(t, body.Counters, 2)

	rec, env = v.do(http.MethodGet, fmt.Sprintf("/api/v1/items/%d/related?dir=a&limit=1&page=1", base), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = relatedBody{}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Links, 1)
	assert.Equal(t, rare, body.Links[0].ItemID)
	assert.Nil(t, body.Links[0].Count)

	rec, env = v.do(http.MethodGet, "/api/v1/items/9999/related", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = relatedBody{}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Empty(t, body.Links)
	assert.Empty(t, body.Counters)
}

func TestRelatedEndpointRejectsBadParameters(t *testing.T) {
	s := newTestServer(t, config.AppConfig{}, nil)
	items := testutil.CreateItems(t, s.db, "base")
	v := s.visitor()

	cases := []struct {
		query string
		code  int
	}{
		{"sort=id", 40040},
		{"dir=sideways", 40041},
		{"limit=ten", 40042},
		{"limit=2&page=x", 40043},
		{"limit=-1", 40044},
		{"limit=2&page=-1", 40044},
		{"page=2", 40044},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			rec, env := v.do(http.MethodGet, fmt.Sprintf("/api/v1/items/%d/related?%s", items[0].ID, tc.query), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestRelatedPanelsAreCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	s := newTestServer(t, config.AppConfig{RelatedDisplayCount: 1, RelatedCacheTTLSec: 30}, rc)
	items := testutil.CreateItems(t, s.db, "base", "next", "prev")
	base, next, prev := items[0].ID, items[1].ID, items[2].ID

	v := s.visitor()
	v.view(prev)
	v.view(base)
	v.view(next)
	assert.True(t, mr.Exists("session:"+v.cookie.Value), "session state lives in redis")

	path := fmt.Sprintf("/api/v1/items/%d/related/panels?show_counts=true", base)
	rec, env := v.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := rec.Body.String()

	var data struct {
		DisplayCount int `json:"display_count"`
		Panels       struct {
			Total  []struct{ ItemID uint `json:"item_id"` } `json:"total"`
			Before []struct{ ItemID uint `json:"item_id"` } `json:"before"`
			After  []struct{ ItemID uint `json:"item_id"` } `json:"after"`
		} `json:"panels"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.DisplayCount)
	require.Len(t, data.Panels.Total, 1)
	require.Len(t, data.Panels.Before, 1)
	assert.Equal(t, prev, data.Panels.Before[0].ItemID)
	require.Len(t, data.Panels.After, 1)
	assert.Equal(t, next, data.Panels.After[0].ItemID)

	cacheKey := fmt.Sprintf("cache:related:panels:%d:counts=true", base)
	assert.True(t, mr.Exists(cacheKey))

	// New views are not visible until the cache entry expires.
	w := s.visitor()
	w.view(base)
	w.view(prev)
	rec, _ = v.do(http.MethodGet, path, nil)
	assert.JSONEq(t, first, rec.Body.String())

	mr.FastForward(31 * time.Second)
	rec, _ = v.do(http.MethodGet, path, nil)
	assert.NotEqual(t, first, rec.Body.String())
}

func TestItemLifecycle(t *testing.T) {
	s := newTestServer(t, config.AppConfig{AdminUsernames: []string{"admin"}}, nil)

	owner := s.visitor()
	owner.login("owner")
	rec, env := owner.do(http.MethodPost, "/api/v1/items", map[string]string{"title": "<b>Lamp</b>", "summary": "desk lamp"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created struct {
		Item models.Item `json:"item"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "Lamp", created.Item.Title)
	lamp := created.Item.ID

	rec, env = s.visitor().do(http.MethodPost, "/api/v1/items", map[string]string{"title": "anon"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := testutil.CreateItems(t, s.db, "chair")[0].ID
	anon := s.visitor()
	anon.view(other)
	anon.view(lamp)
	require.NotNil(t, s.counter(other, lamp))

	stranger := s.visitor()
	stranger.login("stranger")
	rec, env = stranger.do(http.MethodDelete, fmt.Sprintf("/api/v1/items/%d", lamp), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 40302, env.Code)

	rec, _ = owner.do(http.MethodDelete, fmt.Sprintf("/api/v1/items/%d", lamp), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Counters survive deletion but the item no longer resolves.
	assert.NotNil(t, s.counter(other, lamp))
	rec, env = anon.do(http.MethodGet, fmt.Sprintf("/api/v1/items/%d/related", other), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body relatedBody
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Empty(t, body.Links)
	require.Len(t, body.Counters, 1)

	rec, env = anon.do(http.MethodGet, "/api/v1/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []models.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "chair", list.Items[0].Title)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, config.AppConfig{}, nil)
	v := s.visitor()
	v.login("dave")

	rec, env := v.do(http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), `"dave"`)

	rec, env = v.do(http.MethodPost, "/api/v1/auth/register", map[string]string{"username": "dave", "password": "secret-pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 40901, env.Code)

	rec, _ = v.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "dave", "password": "wrong-pw"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = v.do(http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = v.do(http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatsAndConfig(t *testing.T) {
	s := newTestServer(t, config.AppConfig{RelatedDisplayCount: 4}, nil)
	items := testutil.CreateItems(t, s.db, "a", "b")
	v := s.visitor()
	v.view(items[0].ID)
	v.view(items[1].ID)

	rec, env := v.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int64
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(2), stats["item_count"])
	assert.Equal(t, int64(2), stats["co_view_pairs"])
	assert.Equal(t, int64(1), stats["co_view_transitions"])
	assert.Equal(t, int64(2), stats["daily_page_views"])

	rec, env = v.do(http.MethodGet, "/api/v1/config/related", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg struct {
		DisplayCount int      `json:"display_count"`
		SortFields   []string `json:"sort_fields"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, 4, cfg.DisplayCount)
	assert.Contains(t, cfg.SortFields, repository.ColumnBefore)
}
