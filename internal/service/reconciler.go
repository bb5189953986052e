package service

import (
	"context"
	"log/slog"
	"time"

	"modkeeper/internal/repository"

	"github.com/sourcegraph/conc/pool"
)

// activityRewardThreshold is the trailing-hour message count that earns a
// daily_activity reward in the sweep.
const activityRewardThreshold = 10

// rewardWorkers bounds the concurrency of the reward pass.
const rewardWorkers = 8

// Reconciler is the background sweep: it expires lapsed mutes/bans, purges
// expired admin sessions, and grants activity rewards. It shares the
// repository serialization discipline with the live path.
type Reconciler struct {
	users    repository.UserRepository
	sessions repository.AdminSessionRepository
	messages repository.MessageRepository
	points   *PointsService
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerClock overrides the sweep clock for tests.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler returns a stopped Reconciler.
func NewReconciler(
	users repository.UserRepository,
	sessions repository.AdminSessionRepository,
	messages repository.MessageRepository,
	points *PointsService,
	interval time.Duration,
	logger *slog.Logger,
	opts ...ReconcilerOption,
) *Reconciler {
	r := &Reconciler{
		users:    users,
		sessions: sessions,
		messages: messages,
		points:   points,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the periodic sweep. Call Stop for a graceful shutdown.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.RunCycle(ctx); err != nil {
					// A failed cycle must not kill the loop.
					r.logger.ErrorContext(ctx, "reconcile cycle failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// RunCycle performs one sweep. The two passes are independent and
// order-insensitive; each is idempotent.
func (r *Reconciler) RunCycle(ctx context.Context) error {
	if err := r.expirePass(ctx); err != nil {
		return err
	}
	r.rewardPass(ctx)
	return nil
}

// expirePass resets users whose timed restriction lapsed (warning counts
// untouched) and purges expired dashboard sessions.
func (r *Reconciler) expirePass(ctx context.Context) error {
	now := r.now()

	expired, err := r.users.ExpireLapsed(ctx, now)
	if err != nil {
		return err
	}
	purged, err := r.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}

	if expired > 0 || purged > 0 {
		r.logger.InfoContext(ctx, "expiry sweep completed",
			slog.Int64("restrictions_expired", expired),
			slog.Int64("sessions_purged", purged),
		)
	}
	return nil
}

// rewardPass grants a daily_activity reward to every user who posted at
// least activityRewardThreshold messages in the trailing hour. Per-user
// failures are logged and skipped so one bad record cannot abort the batch.
func (r *Reconciler) rewardPass(ctx context.Context) {
	ids, err := r.messages.ActiveUserIDs(ctx, r.now().Add(-time.Hour), activityRewardThreshold)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list active users for rewards",
			slog.String("error", err.Error()))
		return
	}
	if len(ids) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(rewardWorkers)
	for _, id := range ids {
		id := id
		p.Go(func() {
			if _, err := r.points.RewardActivity(ctx, id, ActivityDailyActivity, 0); err != nil {
				r.logger.WarnContext(ctx, "failed to reward active user",
					slog.Int64("user_id", id), slog.String("error", err.Error()))
			}
		})
	}
	p.Wait()

	r.logger.InfoContext(ctx, "activity rewards processed", slog.Int("users", len(ids)))
}
