package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/havenclimb/coursecup/internal/auth"
	"github.com/havenclimb/coursecup/internal/collector"
	"github.com/havenclimb/coursecup/internal/config"
	"github.com/havenclimb/coursecup/internal/domain"
	"github.com/havenclimb/coursecup/internal/storage"
)

type testEnv struct {
	router *Router
	store  *storage.Store
	admin  string // bearer token
	viewer string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	cfg.Publish.CoursesPerRow = 2
	cfg.Auth.JWTSecret = "test-secret"

	authSvc := auth.NewService(cfg.Auth.JWTSecret, time.Hour)
	manager := collector.NewManager(cfg, store)
	router := NewRouter(cfg, store, manager, authSvc)

	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)
	adminUser, err := store.CreateUser(context.Background(), "admin", hash, true)
	require.NoError(t, err)
	viewerUser, err := store.CreateUser(context.Background(), "viewer", hash, false)
	require.NoError(t, err)

	adminToken, err := authSvc.GenerateToken(adminUser.ID, adminUser.Username, true)
	require.NoError(t, err)
	viewerToken, err := authSvc.GenerateToken(viewerUser.ID, viewerUser.Username, false)
	require.NoError(t, err)

	return &testEnv{router: router, store: store, admin: adminToken, viewer: viewerToken}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/auth/login", "", LoginRequest{Username: "admin", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.Token)
	require.True(t, resp.IsAdmin)

	rec = env.do(t, "POST", "/api/auth/login", "", LoginRequest{Username: "admin", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]interface{}{"number": 1, "title": "Test"}

	rec := env.do(t, "POST", "/api/admin/season", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "POST", "/api/admin/season", env.viewer, body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "POST", "/api/admin/season", env.admin, body)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestSeasonLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// No active season yet
	rec := env.do(t, "GET", "/api/season", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/api/admin/season", env.admin, map[string]interface{}{"number": 1, "title": "Opening"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Starting a second active season conflicts
	rec = env.do(t, "POST", "/api/admin/season", env.admin, map[string]interface{}{"number": 2})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, "GET", "/api/season", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Ending requires the two-step confirmation
	rec = env.do(t, "POST", "/api/admin/season/end", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var endResp struct {
		ConfirmToken string `json:"confirm_token"`
	}
	decode(t, rec, &endResp)
	require.NotEmpty(t, endResp.ConfirmToken)

	rec = env.do(t, "POST", "/api/admin/season/end/confirm", env.admin, map[string]string{"confirm_token": "bogus"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/api/admin/season/end/confirm", env.admin, map[string]string{"confirm_token": endResp.ConfirmToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/season", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCourseAndStandings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, "POST", "/api/admin/season", env.admin, map[string]interface{}{"number": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	expiry := time.Now().Add(24 * time.Hour).Unix()
	rec = env.do(t, "POST", "/api/admin/courses", env.admin, map[string]interface{}{
		"full_name":  "Canyon Dash (canyon)",
		"expires_at": expiry,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var course domain.Course
	decode(t, rec, &course)
	require.Equal(t, "canyon", course.Slug)

	_, err := env.store.UpsertFinish(ctx, course.ID, "alice", 61500, time.Now().UTC())
	require.NoError(t, err)
	_, err = env.store.UpsertFinish(ctx, course.ID, "bob", 59000, time.Now().UTC())
	require.NoError(t, err)

	rec = env.do(t, "GET", "/api/standings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var standingsResp struct {
		Standings []domain.Standing `json:"standings"`
	}
	decode(t, rec, &standingsResp)
	require.Len(t, standingsResp.Standings, 2)
	require.Equal(t, "bob", standingsResp.Standings[0].Player)

	rec = env.do(t, "GET", "/api/courses", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Expire and verify status flips
	rec = env.do(t, "POST", "/api/admin/courses/expire", env.admin, map[string]string{"full_name": "Canyon Dash (canyon)"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &course)
	require.Equal(t, domain.CourseExpired, course.Status)
}

func TestViewPreview(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/views/summary", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code) // no active season

	env.do(t, "POST", "/api/admin/season", env.admin, map[string]interface{}{"number": 1})

	rec = env.do(t, "GET", "/api/views/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Season 1")

	rec = env.do(t, "GET", "/api/views/bogus", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoringAndToggles(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "PUT", "/api/admin/scoring", env.admin, map[string]interface{}{
		"key": storage.SettingMinCourses, "value": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "PUT", "/api/admin/scoring", env.admin, map[string]interface{}{
		"key": "bogus", "value": 3,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "PUT", "/api/admin/scoring", env.admin, map[string]interface{}{
		"key": storage.SettingBestN, "value": -1,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, "PUT", "/api/admin/views/grid", env.admin, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "PUT", "/api/admin/views/bogus", env.admin, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserManagement(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/users", env.admin, CreateUserRequest{Username: "carol", Password: "long-enough-pw"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, "POST", "/api/users", env.admin, CreateUserRequest{Username: "dave", Password: "short"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/api/users", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "password_hash")

	rec = env.do(t, "DELETE", "/api/users/admin", env.admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code) // own account

	rec = env.do(t, "DELETE", "/api/users/carol", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "DELETE", "/api/users/carol", env.admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/diagnostics", env.viewer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "GET", "/api/diagnostics", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "counters")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
