package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticketbot/internal/api/http/handlers"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/service"
)

const (
	testGuild   snowflake.ID = 1000
	testCreator snowflake.ID = 2000
)

type stubChannels struct {
	deleted []snowflake.ID
}

func (s *stubChannels) RoleExists(context.Context, snowflake.ID, snowflake.ID) (bool, error) {
	return true, nil
}

func (s *stubChannels) CreateChannel(context.Context, snowflake.ID, string, []domain.PermissionOverride) (snowflake.ID, error) {
	return 9000, nil
}

func (s *stubChannels) SetPermissions(context.Context, snowflake.ID, []domain.PermissionOverride) error {
	return nil
}

func (s *stubChannels) UpsertOverride(context.Context, snowflake.ID, domain.PermissionOverride) error {
	return nil
}

func (s *stubChannels) RemoveOverride(context.Context, snowflake.ID, snowflake.ID) error {
	return nil
}

func (s *stubChannels) DeleteChannel(_ context.Context, channelID snowflake.ID) error {
	s.deleted = append(s.deleted, channelID)
	return nil
}

func (s *stubChannels) PostNotice(context.Context, snowflake.ID, domain.Notice) error {
	return nil
}

type testEnv struct {
	app      *fiber.App
	repo     repository.TicketRepository
	channels *stubChannels
	tokens   *auth.TokenManager

	mu   sync.Mutex
	skew time.Duration
}

func (e *testEnv) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Now().Add(e.skew)
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skew += d
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hash, err := auth.HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)

	env := &testEnv{}
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	repo := repository.NewMemoryTicketRepository()
	channels := &stubChannels{}
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo: repo,
		Channels:   channels,
		Dispatcher: events.NewInMemoryDispatcher(),
		Metrics:    metrics,
		Logger:     logger,
		Clock:      env.now,
	})
	authSvc := service.NewAuthService(config.OpsConfig{
		JWTSecret:         "test-secret",
		TokenTTLMinutes:   5,
		AdminUser:         "admin",
		AdminPasswordHash: hash,
	}, logger)

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ticketbot", "test", "memory", repo),
		Auth:           handlers.NewAuthHandler(authSvc),
		Tickets:        handlers.NewTicketsHandler(tickets, time.Hour),
		AuthMiddleware: auth.NewAuthMiddleware(authSvc.TokenManager()),
		Metrics:        metrics,
	})
	env.app, env.repo, env.channels, env.tokens = app, repo, channels, authSvc.TokenManager()
	return env
}

func (e *testEnv) token(t *testing.T, role auth.OperatorRole) string {
	t.Helper()
	tok, _, err := e.tokens.GenerateToken("tester", role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, target, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func (e *testEnv) seed(t *testing.T, channelID snowflake.ID) string {
	t.Helper()
	ctx := context.Background()
	id, err := e.repo.Create(ctx, testGuild, testCreator)
	require.NoError(t, err)
	if channelID != 0 {
		require.NoError(t, e.repo.SetChannel(ctx, id, channelID))
	}
	return id
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := errObj["code"].(string)
	return code
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])

	resp, body = env.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health/live", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "ticketbot_ops_http_requests_total")
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/ops/auth/login", "", `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)

	claims, err := env.tokens.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	resp, body = env.do(t, http.MethodPost, "/ops/auth/login", "", `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	resp, body = env.do(t, http.MethodPost, "/ops/auth/login", "", `{"username":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, body))
}

func TestTicketRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/ops/tickets", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	viewer := env.token(t, auth.RoleViewer)
	resp, _ = env.do(t, http.MethodGet, "/ops/tickets", viewer, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	id := env.seed(t, 0)
	resp, body = env.do(t, http.MethodDelete, "/ops/tickets/"+id, viewer, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))

	resp, _ = env.do(t, http.MethodPost, "/ops/reconcile", viewer, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestListAndGetTickets(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.token(t, auth.RoleViewer)
	bound := env.seed(t, 4242)
	orphan := env.seed(t, 0)

	resp, body := env.do(t, http.MethodGet, "/ops/tickets", viewer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"].([]any), 2)

	resp, body = env.do(t, http.MethodGet, "/ops/tickets?unbound=true", viewer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["data"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, orphan, list[0].(map[string]any)["id"])

	resp, body = env.do(t, http.MethodGet, "/ops/tickets?status=bogus", viewer, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, body))

	resp, body = env.do(t, http.MethodGet, "/ops/tickets/"+bound, viewer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "4242", data["channel_id"])
	assert.Equal(t, "1000", data["guild_id"])
	assert.Equal(t, "open", data["status"])
	assert.Nil(t, data["claimed_by"])

	resp, body = env.do(t, http.MethodGet, "/ops/tickets/does-not-exist", viewer, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TICKET_NOT_FOUND", errorCode(t, body))
}

func TestDeleteTicketRemovesChannelAndRow(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, auth.RoleAdmin)
	id := env.seed(t, 4242)

	resp, _ := env.do(t, http.MethodDelete, "/ops/tickets/"+id, admin, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []snowflake.ID{4242}, env.channels.deleted)

	_, err := env.repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	resp, _ = env.do(t, http.MethodDelete, "/ops/tickets/"+id, admin, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReconcileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, auth.RoleAdmin)
	orphan := env.seed(t, 0)
	env.seed(t, 4242)

	resp, body := env.do(t, http.MethodPost, "/ops/reconcile", admin, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["data"].(map[string]any)["orphans"])

	env.advance(2 * time.Hour)

	resp, body = env.do(t, http.MethodPost, "/ops/reconcile", admin, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, []any{orphan}, data["orphans"])
	assert.EqualValues(t, 0, data["purged"])

	resp, body = env.do(t, http.MethodPost, "/ops/reconcile", admin, `{"older_than":"90m","purge":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["purged"])

	resp, body = env.do(t, http.MethodPost, "/ops/reconcile", admin, `{"older_than":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, body))
}

func TestReconcileRejectsAgesThatCatchTicketsBeingOpened(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, auth.RoleAdmin)
	orphan := env.seed(t, 0)

	for _, age := range []string{"0s", "15s", "59s"} {
		t.Run(age, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/ops/reconcile", admin, `{"older_than":"`+age+`","purge":true}`)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "VALIDATION_FAILED", errorCode(t, body))
		})
	}

	_, err := env.repo.GetByID(context.Background(), orphan)
	assert.NoError(t, err)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
}
