package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"modkeeper/internal/models"
	"modkeeper/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type userRepoStub struct {
	getByExternalIDFn     func(context.Context, int64) (*models.User, error)
	findOrCreateFn        func(context.Context, int64, string, string) (*models.User, error)
	mutateFn              func(context.Context, int64, func(*models.User) (*models.ModerationEvent, error)) (*models.User, error)
	recordActivityFn      func(context.Context, int64) error
	expireLapsedFn        func(context.Context, time.Time) (int64, error)
	leaderboardFn         func(context.Context, int) ([]models.User, error)
	countWithMorePointsFn func(context.Context, int64) (int64, error)
}

func (s *userRepoStub) GetByExternalID(ctx context.Context, id int64) (*models.User, error) {
	return s.getByExternalIDFn(ctx, id)
}
func (s *userRepoStub) FindOrCreate(ctx context.Context, id int64, username, firstName string) (*models.User, error) {
	return s.findOrCreateFn(ctx, id, username, firstName)
}
func (s *userRepoStub) Mutate(ctx context.Context, id int64, fn func(*models.User) (*models.ModerationEvent, error)) (*models.User, error) {
	return s.mutateFn(ctx, id, fn)
}
func (s *userRepoStub) RecordActivity(ctx context.Context, id int64) error {
	return s.recordActivityFn(ctx, id)
}
func (s *userRepoStub) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	return s.expireLapsedFn(ctx, now)
}
func (s *userRepoStub) Leaderboard(ctx context.Context, limit int) ([]models.User, error) {
	return s.leaderboardFn(ctx, limit)
}
func (s *userRepoStub) CountWithMorePoints(ctx context.Context, points int64) (int64, error) {
	return s.countWithMorePointsFn(ctx, points)
}

type ledgerRepoStub struct {
	applyFn       func(context.Context, int64, func(repository.LedgerReader, *models.User) (*models.LedgerTransaction, error)) (*models.User, *models.LedgerTransaction, error)
	applyPairFn   func(context.Context, int64, int64, func(*models.User, *models.User) ([]*models.LedgerTransaction, error)) error
	hasSinceFn    func(context.Context, int64, models.TransactionKind, string, time.Time) (bool, error)
	listForUserFn func(context.Context, int64, int) ([]models.LedgerTransaction, error)
}

func (s *ledgerRepoStub) Apply(ctx context.Context, id int64, fn func(repository.LedgerReader, *models.User) (*models.LedgerTransaction, error)) (*models.User, *models.LedgerTransaction, error) {
	return s.applyFn(ctx, id, fn)
}
func (s *ledgerRepoStub) ApplyPair(ctx context.Context, aID, bID int64, fn func(*models.User, *models.User) ([]*models.LedgerTransaction, error)) error {
	return s.applyPairFn(ctx, aID, bID, fn)
}
func (s *ledgerRepoStub) HasSince(ctx context.Context, id int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
	return s.hasSinceFn(ctx, id, kind, reason, since)
}
func (s *ledgerRepoStub) ListForUser(ctx context.Context, id int64, limit int) ([]models.LedgerTransaction, error) {
	return s.listForUserFn(ctx, id, limit)
}

type messageRepoStub struct {
	createFn            func(context.Context, *models.Message) error
	countFlaggedSinceFn func(context.Context, int64, time.Time) (int64, error)
	postedOnFn          func(context.Context, int64, time.Time) (bool, error)
	activeUserIDsFn     func(context.Context, time.Time, int) ([]int64, error)
}

func (s *messageRepoStub) Create(ctx context.Context, msg *models.Message) error {
	return s.createFn(ctx, msg)
}
func (s *messageRepoStub) CountFlaggedSince(ctx context.Context, id int64, since time.Time) (int64, error) {
	return s.countFlaggedSinceFn(ctx, id, since)
}
func (s *messageRepoStub) PostedOn(ctx context.Context, id int64, dayStart time.Time) (bool, error) {
	return s.postedOnFn(ctx, id, dayStart)
}
func (s *messageRepoStub) ActiveUserIDs(ctx context.Context, since time.Time, minCount int) ([]int64, error) {
	return s.activeUserIDsFn(ctx, since, minCount)
}

type chatRepoStub struct {
	getByChatIDFn  func(context.Context, int64) (*models.ChatContext, error)
	findOrCreateFn func(context.Context, int64, string) (*models.ChatContext, error)
	updateFn       func(context.Context, *models.ChatContext) error
}

func (s *chatRepoStub) GetByChatID(ctx context.Context, chatID int64) (*models.ChatContext, error) {
	return s.getByChatIDFn(ctx, chatID)
}
func (s *chatRepoStub) FindOrCreate(ctx context.Context, chatID int64, title string) (*models.ChatContext, error) {
	return s.findOrCreateFn(ctx, chatID, title)
}
func (s *chatRepoStub) Update(ctx context.Context, chat *models.ChatContext) error {
	return s.updateFn(ctx, chat)
}

type eventRepoStub struct {
	createFn      func(context.Context, *models.ModerationEvent) error
	listForUserFn func(context.Context, int64, int) ([]models.ModerationEvent, error)
}

func (s *eventRepoStub) Create(ctx context.Context, event *models.ModerationEvent) error {
	return s.createFn(ctx, event)
}
func (s *eventRepoStub) ListForUser(ctx context.Context, id int64, limit int) ([]models.ModerationEvent, error) {
	return s.listForUserFn(ctx, id, limit)
}

type sessionRepoStub struct {
	createFn        func(context.Context, *models.AdminSession) error
	getByTokenFn    func(context.Context, string) (*models.AdminSession, error)
	deleteByTokenFn func(context.Context, string) error
	deleteExpiredFn func(context.Context, time.Time) (int64, error)
}

func (s *sessionRepoStub) Create(ctx context.Context, session *models.AdminSession) error {
	return s.createFn(ctx, session)
}
func (s *sessionRepoStub) GetByToken(ctx context.Context, token string) (*models.AdminSession, error) {
	return s.getByTokenFn(ctx, token)
}
func (s *sessionRepoStub) DeleteByToken(ctx context.Context, token string) error {
	return s.deleteByTokenFn(ctx, token)
}
func (s *sessionRepoStub) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpiredFn(ctx, now)
}

func noopChatRepo() *chatRepoStub {
	return &chatRepoStub{
		getByChatIDFn: func(_ context.Context, chatID int64) (*models.ChatContext, error) {
			return &models.ChatContext{ChatID: chatID, ModerationEnabled: true}, nil
		},
		findOrCreateFn: func(_ context.Context, chatID int64, _ string) (*models.ChatContext, error) {
			return &models.ChatContext{ChatID: chatID, ModerationEnabled: true}, nil
		},
		updateFn: func(context.Context, *models.ChatContext) error { return nil },
	}
}

func noopMessageRepo() *messageRepoStub {
	return &messageRepoStub{
		createFn:            func(context.Context, *models.Message) error { return nil },
		countFlaggedSinceFn: func(context.Context, int64, time.Time) (int64, error) { return 0, nil },
		postedOnFn:          func(context.Context, int64, time.Time) (bool, error) { return false, nil },
		activeUserIDsFn:     func(context.Context, time.Time, int) ([]int64, error) { return nil, nil },
	}
}

func noopEventRepo() *eventRepoStub {
	return &eventRepoStub{
		createFn:      func(context.Context, *models.ModerationEvent) error { return nil },
		listForUserFn: func(context.Context, int64, int) ([]models.ModerationEvent, error) { return nil, nil },
	}
}

// memStore is an in-memory user/event/ledger backend whose stubs honor the
// transactional contracts of the real repositories: Mutate and Apply run the
// callback against the stored row and persist the row plus the audit record
// together, or not at all on error.
type memStore struct {
	mu     sync.Mutex
	users  map[int64]*models.User
	events []*models.ModerationEvent
	txns   []*models.LedgerTransaction
}

func newMemStore(users ...*models.User) *memStore {
	m := &memStore{users: make(map[int64]*models.User)}
	for _, u := range users {
		m.users[u.ExternalID] = u
	}
	return m
}

func (m *memStore) user(id int64) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *memStore) txnCount(kind models.TransactionKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, txn := range m.txns {
		if txn.Kind == kind {
			n++
		}
	}
	return n
}

// hasSinceLocked scans transactions with m.mu already held.
func (m *memStore) hasSinceLocked(id int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
	for _, txn := range m.txns {
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

// memLedgerReader is the view handed to Apply callbacks; the surrounding
// Apply holds the store mutex, mirroring the real reader running inside the
// row-locked transaction.
type memLedgerReader struct {
	m *memStore
}

func (r memLedgerReader) HasSince(_ context.Context, id int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
	return r.m.hasSinceLocked(id, kind, reason, since)
}

func (m *memStore) eventActions() []models.EventAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]models.EventAction, len(m.events))
	for i, e := range m.events {
		actions[i] = e.Action
	}
	return actions
}

func (m *memStore) userRepo() *userRepoStub {
	return &userRepoStub{
		getByExternalIDFn: func(_ context.Context, id int64) (*models.User, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			u, ok := m.users[id]
			if !ok {
				return nil, models.NewNotFoundError("User", id)
			}
			copied := *u
			return &copied, nil
		},
		findOrCreateFn: func(_ context.Context, id int64, username, firstName string) (*models.User, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if u, ok := m.users[id]; ok {
				copied := *u
				return &copied, nil
			}
			u := &models.User{
				ExternalID: id,
				Username:   username,
				FirstName:  firstName,
				Role:       models.RoleMember,
				Status:     models.StatusActive,
			}
			m.users[id] = u
			copied := *u
			return &copied, nil
		},
		mutateFn: func(_ context.Context, id int64, fn func(*models.User) (*models.ModerationEvent, error)) (*models.User, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			u, ok := m.users[id]
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
				m.events = append(m.events, event)
			}
			copied := *u
			return &copied, nil
		},
		recordActivityFn: func(_ context.Context, id int64) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			u, ok := m.users[id]
			if !ok {
				return models.NewNotFoundError("User", id)
			}
			u.MessageCount++
			u.LastInteraction = time.Now()
			return nil
		},
		expireLapsedFn: func(_ context.Context, now time.Time) (int64, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			var n int64
			for _, u := range m.users {
				if (u.Status == models.StatusMuted || u.Status == models.StatusBanned) && u.RestrictionLapsed(now) {
					u.Status = models.StatusActive
					u.BannedUntil = nil
					n++
				}
			}
			return n, nil
		},
		leaderboardFn: func(context.Context, int) ([]models.User, error) { return nil, nil },
		countWithMorePointsFn: func(_ context.Context, points int64) (int64, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			var n int64
			for _, u := range m.users {
				if u.Points > points {
					n++
				}
			}
			return n, nil
		},
	}
}

func (m *memStore) ledgerRepo() *ledgerRepoStub {
	return &ledgerRepoStub{
		applyFn: func(_ context.Context, id int64, fn func(repository.LedgerReader, *models.User) (*models.LedgerTransaction, error)) (*models.User, *models.LedgerTransaction, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			u, ok := m.users[id]
			if !ok {
				return nil, nil, models.NewNotFoundError("User", id)
			}
			working := *u
			txn, err := fn(memLedgerReader{m: m}, &working)
			if err != nil {
				return nil, nil, err
			}
			*u = working
			txn.CreatedAt = time.Now()
			m.txns = append(m.txns, txn)
			copied := *u
			return &copied, txn, nil
		},
		applyPairFn: func(_ context.Context, aID, bID int64, fn func(*models.User, *models.User) ([]*models.LedgerTransaction, error)) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			a, ok := m.users[aID]
			if !ok {
				return models.NewNotFoundError("User", aID)
			}
			b, ok := m.users[bID]
			if !ok {
				return models.NewNotFoundError("User", bID)
			}
			workingA, workingB := *a, *b
			txns, err := fn(&workingA, &workingB)
			if err != nil {
				return err
			}
			*a, *b = workingA, workingB
			for _, txn := range txns {
				txn.CreatedAt = time.Now()
				m.txns = append(m.txns, txn)
			}
			return nil
		},
		hasSinceFn: func(_ context.Context, id int64, kind models.TransactionKind, reason string, since time.Time) (bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.hasSinceLocked(id, kind, reason, since)
		},
		listForUserFn: func(_ context.Context, id int64, _ int) ([]models.LedgerTransaction, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			var out []models.LedgerTransaction
			for _, txn := range m.txns {
				if txn.UserExternalID == id {
					out = append(out, *txn)
				}
			}
			return out, nil
		},
	}
}

func (m *memStore) eventRepo() *eventRepoStub {
	return &eventRepoStub{
		createFn: func(_ context.Context, event *models.ModerationEvent) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.events = append(m.events, event)
			return nil
		},
		listForUserFn: func(_ context.Context, id int64, _ int) ([]models.ModerationEvent, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			var out []models.ModerationEvent
			for _, e := range m.events {
				if e.UserExternalID == id {
					out = append(out, *e)
				}
			}
			return out, nil
		},
	}
}
