package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atbridge-dev/atbridge/internal/domain"
	"github.com/atbridge-dev/atbridge/internal/inbound"
	"github.com/atbridge-dev/atbridge/internal/outbound"
)

// maxAttempts bounds how often a deferred outbound post is re-tried before
// it is abandoned.
const maxAttempts = 3

// SessionService refreshes an account's token pair in place.
type SessionService interface {
	RefreshSession(ctx context.Context, acct *domain.Account) error
}

// Options carries the runner's cadence settings.
type Options struct {
	Interval        time.Duration
	PollInterval    time.Duration
	CleanupInterval time.Duration
	MirrorMaxAge    time.Duration
	Feeds           []string
}

// Runner drives the bridge: one task per account per tick, outbound publish
// first, then the inbound passes gated by the account's sync cursor. Tokens
// are refreshed serially before the per-account tasks dispatch.
type Runner struct {
	accounts   domain.AccountStore
	cursors    domain.CursorStore
	outbox     domain.OutboxStore
	posts      domain.PostStore
	publisher  *outbound.Publisher
	reconciler *inbound.Reconciler
	sessions   SessionService
	opts       Options
	logger     *slog.Logger

	// cursorMu serializes read-then-write access to the shared sync
	// cursor state across account tasks.
	cursorMu sync.Mutex

	// retries counts deferred attempts per outbox item, keyed by kind
	// ("post" or "activity") plus id so the two id spaces never collide.
	retryMu sync.Mutex
	retries map[string]int
}

// NewRunner creates the worker runner.
func NewRunner(
	accounts domain.AccountStore,
	cursors domain.CursorStore,
	outbox domain.OutboxStore,
	posts domain.PostStore,
	publisher *outbound.Publisher,
	reconciler *inbound.Reconciler,
	sessions SessionService,
	opts Options,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		accounts:   accounts,
		cursors:    cursors,
		outbox:     outbox,
		posts:      posts,
		publisher:  publisher,
		reconciler: reconciler,
		sessions:   sessions,
		opts:       opts,
		logger:     logger,
		retries:    map[string]int{},
	}
}

// Start runs the worker loop until the context is cancelled. It runs once
// immediately and then repeats at the configured interval.
func (r *Runner) Start(ctx context.Context) {
	r.runOnce(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	accounts, err := r.accounts.GetAccounts(ctx)
	if err != nil {
		r.logger.Error("failed to load accounts", "error", err)
		return
	}

	// Refresh tokens serially before dispatching tasks so concurrent
	// workers never race on the same account's session.
	ready := make([]*domain.Account, 0, len(accounts))
	for i := range accounts {
		acct := &accounts[i]
		if err := r.sessions.RefreshSession(ctx, acct); err != nil {
			acct.Status = domain.StatusTokenFail
			r.logger.Error("token refresh failed, skipping account",
				"account", acct.ID, "error", err)
		} else {
			acct.Status = domain.StatusTokenOK
			ready = append(ready, acct)
		}
		if err := r.accounts.SaveAccount(ctx, acct); err != nil {
			r.logger.Error("failed to save account", "account", acct.ID, "error", err)
		}
	}

	var wg sync.WaitGroup
	for _, acct := range ready {
		wg.Add(1)
		go func(acct *domain.Account) {
			defer wg.Done()
			r.runAccount(ctx, acct)
		}(acct)
	}
	wg.Wait()
}

func (r *Runner) runAccount(ctx context.Context, acct *domain.Account) {
	r.outboundPass(ctx, acct)

	polled := true
	doPoll, doCleanup := r.cursorGate(ctx, acct.ID)
	if doPoll {
		polled = r.inboundPass(ctx, acct)
	}
	if doCleanup {
		if deleted, err := r.posts.PruneMirrors(ctx, r.opts.MirrorMaxAge); err != nil {
			r.logger.Error("mirror cleanup failed", "account", acct.ID, "error", err)
		} else if deleted > 0 {
			r.logger.Info("mirror cleanup complete", "deleted", deleted)
		}
	}
	if doPoll || doCleanup {
		// The cursor advances even when a pass errored: the poll interval
		// throttles a broken upstream instead of hammering it every tick.
		r.advanceCursor(ctx, acct.ID, doPoll, doCleanup)
	}

	if polled {
		acct.Status = domain.StatusSuccess
	} else {
		acct.Status = domain.StatusAPIFail
	}
	if err := r.accounts.SaveAccount(ctx, acct); err != nil {
		r.logger.Error("failed to save account", "account", acct.ID, "error", err)
	}
}

func (r *Runner) outboundPass(ctx context.Context, acct *domain.Account) {
	deletes, err := r.outbox.PendingDeletes(ctx, acct.ID)
	if err != nil {
		r.logger.Error("failed to load pending deletes", "account", acct.ID, "error", err)
	}
	for i := range deletes {
		r.publisher.PublishDelete(ctx, acct, &deletes[i])
	}

	pending, err := r.outbox.PendingPosts(ctx, acct.ID)
	if err != nil {
		r.logger.Error("failed to load pending posts", "account", acct.ID, "error", err)
		return
	}

	for i := range pending {
		post := &pending[i]
		key := postKey(post.ID)
		attempt := r.attempt(key)

		res := r.publisher.PublishPost(ctx, acct, post, attempt)
		switch {
		case res.OK():
			r.clearAttempts(key)
		case res.Retryable:
			// Deferred: the next tick re-runs the whole post flow
			// with the incremented counter.
			if r.bumpAttempt(key) >= maxAttempts {
				r.logger.Error("retry budget exhausted, abandoning post",
					"post_id", post.ID, "error", res.Err)
				r.abandonPost(ctx, post.ID)
			} else {
				r.logger.Warn("publish deferred for retry",
					"post_id", post.ID, "attempt", attempt, "error", res.Err)
			}
		case errors.Is(res.Err, domain.ErrAuth):
			// Abort silently; the account gate handles bad tokens.
			r.logger.Warn("publish aborted, no valid session",
				"post_id", post.ID, "error", res.Err)
		default:
			if post.ExtURI != "" {
				// Partial thread: the head exists remotely, the
				// post is linked, nothing left to retry.
				continue
			}
			r.logger.Error("publish failed permanently, abandoning post",
				"post_id", post.ID, "error", res.Err)
			r.abandonPost(ctx, post.ID)
		}
	}

	undos, err := r.outbox.PendingUndos(ctx, acct.ID)
	if err != nil {
		r.logger.Error("failed to load pending undos", "account", acct.ID, "error", err)
	}
	for i := range undos {
		r.publisher.PublishUndo(ctx, acct, &undos[i])
	}

	activities, err := r.outbox.PendingActivities(ctx, acct.ID)
	if err != nil {
		r.logger.Error("failed to load pending activities", "account", acct.ID, "error", err)
		return
	}

	for i := range activities {
		act := &activities[i]
		key := activityKey(act.ID)

		res := r.publisher.PublishActivity(ctx, acct, act)
		switch {
		case res.OK():
			r.clearAttempts(key)
		case res.Retryable:
			if r.bumpAttempt(key) >= maxAttempts {
				r.logger.Error("retry budget exhausted, abandoning activity",
					"activity_id", act.ID, "verb", act.Verb, "error", res.Err)
				r.abandonActivity(ctx, act.ID)
			} else {
				r.logger.Warn("activity deferred for retry",
					"activity_id", act.ID, "verb", act.Verb, "error", res.Err)
			}
		case errors.Is(res.Err, domain.ErrAuth):
			r.logger.Warn("activity aborted, no valid session",
				"activity_id", act.ID, "error", res.Err)
		default:
			r.logger.Error("activity failed permanently, abandoning",
				"activity_id", act.ID, "verb", act.Verb, "error", res.Err)
			r.abandonActivity(ctx, act.ID)
		}
	}
}

// inboundPass runs the reconciliation passes and reports whether all of
// them completed without error.
func (r *Runner) inboundPass(ctx context.Context, acct *domain.Account) bool {
	ok := true
	if err := r.reconciler.TimelinePass(ctx, acct); err != nil {
		r.logger.Error("timeline pass failed", "account", acct.ID, "error", err)
		ok = false
	}
	if err := r.reconciler.NotificationPass(ctx, acct); err != nil {
		r.logger.Error("notification pass failed", "account", acct.ID, "error", err)
		ok = false
	}
	for _, feed := range r.opts.Feeds {
		if err := r.reconciler.FeedPass(ctx, acct, feed); err != nil {
			r.logger.Error("feed pass failed", "account", acct.ID, "feed", feed, "error", err)
			ok = false
		}
	}
	return ok
}

// cursorGate decides, under the shared cursor lock, whether this account is
// due for a poll and a cleanup.
func (r *Runner) cursorGate(ctx context.Context, accountID int64) (doPoll, doCleanup bool) {
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()

	state, err := r.cursors.GetSyncState(ctx, accountID)
	if err != nil {
		r.logger.Error("failed to load sync state", "account", accountID, "error", err)
		return false, false
	}

	now := time.Now().UTC()
	return now.Sub(state.LastPoll) >= r.opts.PollInterval,
		now.Sub(state.LastCleanup) >= r.opts.CleanupInterval
}

// advanceCursor records the completed passes. The poll and cleanup marks
// move independently, so a cleanup that lands between polls does not re-run
// every tick. A crash mid-pass re-runs it (the passes are idempotent).
func (r *Runner) advanceCursor(ctx context.Context, accountID int64, polled, cleaned bool) {
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()

	state, err := r.cursors.GetSyncState(ctx, accountID)
	if err != nil {
		r.logger.Error("failed to load sync state", "account", accountID, "error", err)
		return
	}

	now := time.Now().UTC()
	if polled {
		state.LastPoll = now
	}
	if cleaned {
		state.LastCleanup = now
	}
	if err := r.cursors.SaveSyncState(ctx, state); err != nil {
		r.logger.Error("failed to save sync state", "account", accountID, "error", err)
	}
}

func (r *Runner) abandonPost(ctx context.Context, postID int64) {
	r.clearAttempts(postKey(postID))
	if err := r.outbox.AbandonPost(ctx, postID); err != nil {
		r.logger.Error("failed to abandon post", "post_id", postID, "error", err)
	}
}

func (r *Runner) abandonActivity(ctx context.Context, activityID int64) {
	r.clearAttempts(activityKey(activityID))
	if err := r.outbox.AbandonActivity(ctx, activityID); err != nil {
		r.logger.Error("failed to abandon activity", "activity_id", activityID, "error", err)
	}
}

func postKey(id int64) string     { return fmt.Sprintf("post:%d", id) }
func activityKey(id int64) string { return fmt.Sprintf("activity:%d", id) }

func (r *Runner) attempt(key string) int {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	return r.retries[key]
}

func (r *Runner) bumpAttempt(key string) int {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	r.retries[key]++
	return r.retries[key]
}

func (r *Runner) clearAttempts(key string) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	delete(r.retries, key)
}
