package service

import (
	"context"
	"testing"
	"time"

	"modkeeper/internal/models"
)

func newReconcilerFixture(store *memStore, sessions *sessionRepoStub, messages *messageRepoStub, now func() time.Time) *Reconciler {
	points := newPointsService(store)
	return NewReconciler(
		store.userRepo(), sessions, messages, points,
		time.Hour, testLogger(), WithReconcilerClock(now),
	)
}

func noopSessionRepo() *sessionRepoStub {
	return &sessionRepoStub{
		createFn:        func(context.Context, *models.AdminSession) error { return nil },
		getByTokenFn:    func(context.Context, string) (*models.AdminSession, error) { return nil, nil },
		deleteByTokenFn: func(context.Context, string) error { return nil },
		deleteExpiredFn: func(context.Context, time.Time) (int64, error) { return 0, nil },
	}
}

func TestRunCycleExpiresLapsedRestrictions(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	lapsed := base.Add(-time.Minute)
	active := base.Add(time.Hour)
	store := newMemStore(
		&models.User{ExternalID: 1, Status: models.StatusMuted, BannedUntil: &lapsed, WarningCount: 2},
		&models.User{ExternalID: 2, Status: models.StatusBanned, BannedUntil: &active},
		&models.User{ExternalID: 3, Status: models.StatusBanned}, // permanent
	)
	r := newReconcilerFixture(store, noopSessionRepo(), noopMessageRepo(), func() time.Time { return base })

	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if u := store.user(1); u.Status != models.StatusActive || u.BannedUntil != nil {
		t.Fatalf("lapsed mute not expired: %+v", u)
	}
	if u := store.user(1); u.WarningCount != 2 {
		t.Fatalf("expiry touched warning count: %d", u.WarningCount)
	}
	if u := store.user(2); u.Status != models.StatusBanned {
		t.Fatalf("unexpired ban was reset: %+v", u)
	}
	if u := store.user(3); u.Status != models.StatusBanned {
		t.Fatalf("permanent ban was reset: %+v", u)
	}

	// A second cycle finds nothing to do.
	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle errored: %v", err)
	}
	if u := store.user(1); u.Status != models.StatusActive {
		t.Fatalf("repeat cycle changed user: %+v", u)
	}
}

func TestRunCyclePurgesExpiredSessions(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	sessions := noopSessionRepo()
	var purgedAt time.Time
	sessions.deleteExpiredFn = func(_ context.Context, now time.Time) (int64, error) {
		purgedAt = now
		return 3, nil
	}
	r := newReconcilerFixture(store, sessions, noopMessageRepo(), func() time.Time { return base })

	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !purgedAt.Equal(base) {
		t.Fatalf("expected purge at %v, got %v", base, purgedAt)
	}
}

func TestRunCycleRewardsActiveUsers(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newMemStore(
		&models.User{ExternalID: 1},
		&models.User{ExternalID: 3},
	)
	messages := noopMessageRepo()
	var gotSince time.Time
	var gotMin int
	messages.activeUserIDsFn = func(_ context.Context, since time.Time, minCount int) ([]int64, error) {
		gotSince, gotMin = since, minCount
		// User 2 no longer exists; their failure must not sink the batch.
		return []int64{1, 2, 3}, nil
	}
	r := newReconcilerFixture(store, noopSessionRepo(), messages, func() time.Time { return base })

	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !gotSince.Equal(base.Add(-time.Hour)) || gotMin != activityRewardThreshold {
		t.Fatalf("unexpected activity query: since=%v min=%d", gotSince, gotMin)
	}
	if p := store.user(1).Points; p != 10 {
		t.Fatalf("user 1: expected 10 points, got %d", p)
	}
	if p := store.user(3).Points; p != 10 {
		t.Fatalf("user 3: expected 10 points, got %d", p)
	}
	if len(store.txns) != 2 {
		t.Fatalf("expected 2 reward transactions, got %d", len(store.txns))
	}
	for _, txn := range store.txns {
		if txn.Kind != models.KindActivityBonus || txn.Amount != 10 {
			t.Fatalf("unexpected reward txn: %+v", txn)
		}
	}
}

func TestStartStop(t *testing.T) {
	store := newMemStore()
	r := newReconcilerFixture(store, noopSessionRepo(), noopMessageRepo(), time.Now)

	r.Start(context.Background())
	r.Stop()

	// Stop on a never-started reconciler is safe.
	var idle Reconciler
	idle.Stop()
}
