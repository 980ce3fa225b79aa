package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusuite/website/internal/middleware"
	"github.com/rusuite/website/internal/model"
	"github.com/rusuite/website/internal/repository"
	"github.com/rusuite/website/internal/service"
)

const testJWTSecret = "handler-test-secret"

type stubTargets map[string]string // id -> status

func (s stubTargets) FindByID(_ context.Context, id string) (*model.Server, error) {
	status, ok := s[id]
	if !ok {
		return nil, model.ErrTargetNotFound
	}
	return &model.Server{ID: id, Status: status}, nil
}

type testEnv struct {
	app   *fiber.App
	clock *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	votes := service.NewVoteService(repository.NewMemoryVoteStore(), clock, service.DefaultCooldown)
	targets := service.NewTargetService(stubTargets{
		"srv":     model.ServerStatusApproved,
		"pending": model.ServerStatusPending,
	}, nil)

	h := NewVoteHandler(votes, targets)

	app := fiber.New()
	api := app.Group("/api", middleware.NewIdentityResolver(middleware.IdentityConfig{
		IPHashSalt: "salt",
		JWTSecret:  testJWTSecret,
	}))
	api.Post("/votes/:serverId", h.Submit)
	api.Get("/votes/:serverId/count", h.Count)
	api.Get("/votes/:serverId/can-vote", h.CanVote)
	api.Get("/votes/:serverId/stats", h.Stats, middleware.RequireAccount())

	return &testEnv{app: app, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path, account string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if account != "" {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   account,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte(testJWTSecret))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestSubmit_Success(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/votes/srv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["voteCount"])
	assert.Equal(t, "Vote recorded successfully!", body["message"])
}

func TestSubmit_Cooldown(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/votes/srv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.clock.Advance(11*time.Hour + 30*time.Minute)
	resp, body := env.do(t, http.MethodPost, "/api/votes/srv", "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "VOTE_COOLDOWN", errorCode(body))
	assert.Equal(t, "1800", resp.Header.Get(fiber.HeaderRetryAfter))

	e := body["error"].(map[string]any)
	assert.EqualValues(t, 1, e["hoursRemaining"])
	assert.Equal(t, "You can vote again in 1 hour", e["message"])
	assert.Equal(t, "2025-01-02T00:00:00Z", e["retryAfter"])
}

func TestSubmit_AccountFollowsAcrossAnonymousVote(t *testing.T) {
	env := newTestEnv(t)

	// Logged-in vote, then the same client votes logged out: same IP blocks it.
	resp, _ := env.do(t, http.MethodPost, "/api/votes/srv", "acct-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/votes/srv", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSubmit_UnknownOrUnapprovedTarget(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/votes/nope", "/api/votes/pending"} {
		resp, body := env.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "NOT_FOUND", errorCode(body), path)
	}
}

func TestSubmit_InvalidServerID(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/votes/bad%20id", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_FIELD", errorCode(body))
}

func TestSubmit_InvalidToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/votes/srv", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCount(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodGet, "/api/votes/srv/count", "")
	assert.Equal(t, "srv", body["serverId"])
	assert.EqualValues(t, 0, body["voteCount"])

	env.do(t, http.MethodPost, "/api/votes/srv", "")
	resp, body := env.do(t, http.MethodGet, "/api/votes/srv/count", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["voteCount"])
}

func TestCanVote(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/votes/srv/can-vote", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["canVote"])
	assert.NotContains(t, body, "nextVoteAt")

	env.do(t, http.MethodPost, "/api/votes/srv", "")
	env.clock.Advance(2 * time.Hour)

	_, body = env.do(t, http.MethodGet, "/api/votes/srv/can-vote", "")
	assert.Equal(t, false, body["canVote"])
	assert.EqualValues(t, 10*3600, body["secondsRemaining"])
	assert.EqualValues(t, 10, body["hoursRemaining"])
	assert.Equal(t, "2025-01-02T00:00:00Z", body["nextVoteAt"])

	env.clock.Advance(10 * time.Hour)
	_, body = env.do(t, http.MethodGet, "/api/votes/srv/can-vote", "")
	assert.Equal(t, true, body["canVote"])
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/votes/srv/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	env.do(t, http.MethodPost, "/api/votes/srv", "acct-1")

	resp, body = env.do(t, http.MethodGet, "/api/votes/srv/stats?days=7", "acct-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, map[string]any{"2025-01-01": float64(1)}, body["votesByDay"])

	resp, body = env.do(t, http.MethodGet, "/api/votes/srv/stats?days=365", "acct-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_FIELD", errorCode(body))
}

func TestMetricsRecorded(t *testing.T) {
	saved := Metrics
	t.Cleanup(func() { Metrics = saved })

	reg := prometheus.NewRegistry()
	InitMetrics(reg, nil, nil)

	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/votes/srv", "")
	env.do(t, http.MethodPost, "/api/votes/srv", "")

	families, err := reg.Gather()
	require.NoError(t, err)

	results := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "rusuite_votes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			results[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, results["accepted"])
	assert.Equal(t, 1.0, results["cooldown"])
}

func TestVoteRoutes_WithoutIdentityResolver(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemoryVoteStore()
	votes := service.NewVoteService(store, clock, service.DefaultCooldown)
	h := NewVoteHandler(votes, service.NewTargetService(stubTargets{"srv": model.ServerStatusApproved}, nil))

	app := fiber.New()
	app.Post("/votes/:serverId", h.Submit)
	app.Get("/votes/:serverId/can-vote", h.CanVote)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/votes/srv"},
		{http.MethodPost, "/votes/srv"},
		{http.MethodGet, "/votes/srv/can-vote"},
	} {
		resp, err := app.Test(httptest.NewRequest(tc.method, tc.path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, tc.path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "INTERNAL_ERROR", errorCode(body), tc.path)
	}

	n, err := store.Count(context.Background(), "srv")
	require.NoError(t, err)
	assert.Zero(t, n, "no vote may be recorded under an empty identity")
}
