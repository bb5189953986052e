package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"modkeeper/internal/config"
	"modkeeper/internal/models"
	"modkeeper/internal/ratelimit"
	"modkeeper/internal/repository"
	"modkeeper/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeBackend is an in-memory implementation of every repository interface
// the server wires, good enough for exercising handlers end to end without a
// database.
type fakeBackend struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	chats    map[int64]*models.ChatContext
	messages []*models.Message
	events   []*models.ModerationEvent
	txns     []*models.LedgerTransaction
	sessions map[string]*models.AdminSession
}

func newFakeBackend(users ...*models.User) *fakeBackend {
	b := &fakeBackend{
		users:    make(map[int64]*models.User),
		chats:    make(map[int64]*models.ChatContext),
		sessions: make(map[string]*models.AdminSession),
	}
	for _, u := range users {
		b.users[u.ExternalID] = u
	}
	return b
}

// UserRepository

func (b *fakeBackend) GetByExternalID(_ context.Context, id int64) (*models.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[id]
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	copied := *u
	return &copied, nil
}

func (b *fakeBackend) FindOrCreate(_ context.Context, id int64, username, firstName string) (*models.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	u := &models.User{ExternalID: id, Username: username, FirstName: firstName,
		Role: models.RoleMember, Status: models.StatusActive}
	b.users[id] = u
	copied := *u
	return &copied, nil
}

func (b *fakeBackend) Mutate(_ context.Context, id int64, fn func(*models.User) (*models.ModerationEvent, error)) (*models.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[id]
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	working := *u
	event, err := fn(&working)
	if err != nil {
		return nil, err
	}
	*u = working
	if event != nil {
		b.events = append(b.events, event)
	}
	copied := *u
	return &copied, nil
}

func (b *fakeBackend) RecordActivity(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[id]; ok {
		u.MessageCount++
	}
	return nil
}

func (b *fakeBackend) ExpireLapsed(context.Context, time.Time) (int64, error) { return 0, nil }

func (b *fakeBackend) Leaderboard(context.Context, int) ([]models.User, error) {
	return nil, nil
}

func (b *fakeBackend) CountWithMorePoints(context.Context, int64) (int64, error) { return 0, nil }

// ChatRepository

func (b *fakeBackend) GetByChatID(_ context.Context, chatID int64) (*models.ChatContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		return c, nil
	}
	return nil, models.NewNotFoundError("Chat", chatID)
}

func (b *fakeBackend) FindOrCreateChat(_ context.Context, chatID int64, title string) (*models.ChatContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		return c, nil
	}
	c := &models.ChatContext{ChatID: chatID, Title: title, ModerationEnabled: true}
	b.chats[chatID] = c
	return c, nil
}

func (b *fakeBackend) Update(context.Context, *models.ChatContext) error { return nil }

// MessageRepository

func (b *fakeBackend) Create(_ context.Context, msg *models.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg.CreatedAt = time.Now()
	b.messages = append(b.messages, msg)
	return nil
}

func (b *fakeBackend) CountFlaggedSince(_ context.Context, id int64, since time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, m := range b.messages {
		if m.UserExternalID == id && m.Flagged && m.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (b *fakeBackend) PostedOn(context.Context, int64, time.Time) (bool, error) { return false, nil }

func (b *fakeBackend) ActiveUserIDs(context.Context, time.Time, int) ([]int64, error) {
	return nil, nil
}

// EventRepository

func (b *fakeBackend) CreateEvent(_ context.Context, event *models.ModerationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBackend) ListEventsForUser(context.Context, int64, int) ([]models.ModerationEvent, error) {
	return nil, nil
}

// LedgerRepository

func (b *fakeBackend) Apply(_ context.Context, id int64, fn func(repository.LedgerReader, *models.User) (*models.LedgerTransaction, error)) (*models.User, *models.LedgerTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[id]
	if !ok {
		return nil, nil, models.NewNotFoundError("User", id)
	}
	working := *u
	txn, err := fn(fakeLedgerReader{b: b}, &working)
	if err != nil {
		return nil, nil, err
	}
	*u = working
	txn.CreatedAt = time.Now()
	b.txns = append(b.txns, txn)
	copied := *u
	return &copied, txn, nil
}

func (b *fakeBackend) ApplyPair(_ context.Context, aID, bID int64, fn func(*models.User, *models.User) ([]*models.LedgerTransaction, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.users[aID]
	if !ok {
		return models.NewNotFoundError("User", aID)
	}
	other, ok := b.users[bID]
	if !ok {
		return models.NewNotFoundError("User", bID)
	}
	workingA, workingB := *a, *other
	txns, err := fn(&workingA, &workingB)
	if err != nil {
		return err
	}
	*a, *other = workingA, workingB
	b.txns = append(b.txns, txns...)
	return nil
}

func (b *fakeBackend) HasSince(context.Context, int64, models.TransactionKind, string, time.Time) (bool, error) {
	return false, nil
}

// fakeLedgerReader is handed to Apply callbacks; the surrounding Apply holds
// the backend mutex.
type fakeLedgerReader struct {
	b *fakeBackend
}

func (r fakeLedgerReader) HasSince(_ context.Context, id int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
	for _, txn := range r.b.txns {
		if txn.UserExternalID != id || txn.Kind != kind || txn.CreatedAt.Before(since) {
			continue
		}
		if reason != "" && txn.Reason != reason {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (b *fakeBackend) ListForUser(context.Context, int64, int) ([]models.LedgerTransaction, error) {
	return nil, nil
}

// AdminSessionRepository

func (b *fakeBackend) CreateSession(_ context.Context, session *models.AdminSession) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[session.Token] = session
	return nil
}

func (b *fakeBackend) GetByToken(_ context.Context, token string) (*models.AdminSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[token]; ok {
		return s, nil
	}
	return nil, models.NewUnauthorizedError("Unknown session")
}

func (b *fakeBackend) DeleteByToken(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, token)
	return nil
}

func (b *fakeBackend) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

// StatsRepository

func (b *fakeBackend) Snapshot(context.Context, time.Time) (*repository.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &repository.Stats{TotalUsers: int64(len(b.users))}, nil
}

// Interface adapters for the methods whose names collide on fakeBackend.

type chatRepoAdapter struct{ *fakeBackend }

func (a chatRepoAdapter) FindOrCreate(ctx context.Context, chatID int64, title string) (*models.ChatContext, error) {
	return a.FindOrCreateChat(ctx, chatID, title)
}

type eventRepoAdapter struct{ *fakeBackend }

func (a eventRepoAdapter) Create(ctx context.Context, event *models.ModerationEvent) error {
	return a.CreateEvent(ctx, event)
}
func (a eventRepoAdapter) ListForUser(ctx context.Context, id int64, limit int) ([]models.ModerationEvent, error) {
	return a.ListEventsForUser(ctx, id, limit)
}

type sessionRepoAdapter struct{ *fakeBackend }

func (a sessionRepoAdapter) Create(ctx context.Context, session *models.AdminSession) error {
	return a.CreateSession(ctx, session)
}

const testPassword = "correct horse battery staple"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	return &config.Config{
		Port:                  "0",
		JWTSecret:             "test-secret-at-least-32-characters-long",
		AutoModeration:        true,
		ViolenceThreshold:     0.7,
		ToxicityThreshold:     0.7,
		SevereThreshold:       0.9,
		MaxMessagesPerMinute:  10,
		MaxMessagesPerHour:    100,
		DashboardUser:         "admin",
		DashboardPasswordHash: string(hash),
		DashboardAdminID:      99,
	}
}

func newTestServer(t *testing.T, backend *fakeBackend) (*Server, *fiber.App) {
	t.Helper()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	events := eventRepoAdapter{backend}
	chats := chatRepoAdapter{backend}

	points := service.NewPointsService(backend, backend, backend, events, logger)
	moderation := service.NewModerationService(
		backend, chats, backend, events,
		service.ModerationConfig{
			AutoModeration:    cfg.AutoModeration,
			ViolenceThreshold: cfg.ViolenceThreshold,
			ToxicityThreshold: cfg.ToxicityThreshold,
			SevereThreshold:   cfg.SevereThreshold,
		},
		logger,
	)

	srv := &Server{
		config:      cfg,
		users:       backend,
		sessions:    sessionRepoAdapter{backend},
		stats:       backend,
		moderation:  moderation,
		points:      points,
		userService: service.NewUserService(backend, events, backend, logger),
		limiter:     ratelimit.New(nil, cfg.MaxMessagesPerMinute, cfg.MaxMessagesPerHour, logger),
	}

	app := fiber.New()
	srv.SetupRoutes(app)
	return srv, app
}

func jsonRequest(t *testing.T, method, target string, body any, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func login(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/login",
		fiber.Map{"username": "admin", "password": testPassword}, ""))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, app := newTestServer(t, newFakeBackend())

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/login",
		fiber.Map{"username": "admin", "password": "wrong"}, ""))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	_, app := newTestServer(t, newFakeBackend())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginGrantsAccess(t *testing.T) {
	_, app := newTestServer(t, newFakeBackend())
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/api/stats", nil, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutRevokesSession(t *testing.T) {
	_, app := newTestServer(t, newFakeBackend())
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/logout", nil, token))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/api/stats", nil, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWarnEndpointEscalates(t *testing.T) {
	backend := newFakeBackend(
		&models.User{ExternalID: 99, Role: models.RoleAdmin, Status: models.StatusActive},
		&models.User{ExternalID: 20, Role: models.RoleMember, Status: models.StatusActive},
	)
	_, app := newTestServer(t, backend)
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/users/20/warn",
		fiber.Map{"reason": "spam"}, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Action string `json:"action"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(models.ActionWarned), body.Action)
	assert.Equal(t, 1, backend.users[20].WarningCount)
}

func TestWarnEndpointForbiddenForNonModerator(t *testing.T) {
	// The session's admin ID resolves to a plain member.
	backend := newFakeBackend(
		&models.User{ExternalID: 99, Role: models.RoleMember, Status: models.StatusActive},
		&models.User{ExternalID: 20, Role: models.RoleMember, Status: models.StatusActive},
	)
	_, app := newTestServer(t, backend)
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/users/20/warn", nil, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdjustPointsRejectsUnknownAction(t *testing.T) {
	backend := newFakeBackend(
		&models.User{ExternalID: 99, Role: models.RoleAdmin, Status: models.StatusActive},
		&models.User{ExternalID: 20, Role: models.RoleMember, Status: models.StatusActive},
	)
	_, app := newTestServer(t, backend)
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/users/20/points",
		fiber.Map{"action": "steal", "amount": 5}, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdjustPointsAwards(t *testing.T) {
	backend := newFakeBackend(
		&models.User{ExternalID: 99, Role: models.RoleAdmin, Status: models.StatusActive},
		&models.User{ExternalID: 20, Role: models.RoleMember, Status: models.StatusActive},
	)
	_, app := newTestServer(t, backend)
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/users/20/points",
		fiber.Map{"action": "award", "amount": 25, "reason": "contest"}, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, int64(25), backend.users[20].Points)
	require.Len(t, backend.txns, 1)
	assert.Equal(t, models.KindAdminGiven, backend.txns[0].Kind)
}

func TestEvaluateMessageEndpointSevere(t *testing.T) {
	backend := newFakeBackend(
		&models.User{ExternalID: 99, Role: models.RoleAdmin, Status: models.StatusActive},
		&models.User{ExternalID: 5, Role: models.RoleMember, Status: models.StatusActive},
	)
	_, app := newTestServer(t, backend)
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/messages", fiber.Map{
		"user_id":    5,
		"chat_id":    100,
		"message_id": 1,
		"text":       "first message",
		"scores":     fiber.Map{"violence": 0.95, "toxicity": 0.2},
	}, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Allowed bool   `json:"allowed"`
		Flagged bool   `json:"flagged"`
		Action  string `json:"action"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Allowed)
	assert.True(t, body.Flagged)
	assert.Equal(t, string(models.ActionBanned), body.Action)
	assert.Equal(t, models.StatusBanned, backend.users[5].Status)
}

func TestEvaluateMessageEndpointBlocksRestrictedSender(t *testing.T) {
	until := time.Now().Add(time.Hour)
	backend := newFakeBackend(
		&models.User{ExternalID: 99, Role: models.RoleAdmin, Status: models.StatusActive},
		&models.User{ExternalID: 5, Role: models.RoleMember, Status: models.StatusMuted, BannedUntil: &until},
	)
	_, app := newTestServer(t, backend)
	token := login(t, app)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/messages", fiber.Map{
		"user_id": 5, "chat_id": 100, "text": "hello",
	}, token))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Allowed)
	assert.Empty(t, backend.messages)
}
