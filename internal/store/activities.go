package store

import (
	"context"
	"fmt"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

// CreateLocalActivity stores a host-authored activity and fills in its id.
func (s *Store) CreateLocalActivity(ctx context.Context, a *domain.LocalActivity) error {
	federate, undone := 0, 0
	if a.Federate {
		federate = 1
	}
	if a.Undone {
		undone = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO local_activities (account_id, verb, target, federate,
		                              ext_uri, ext_cid, undone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.Verb, a.Target, federate, a.ExtURI, a.ExtCID,
		undone, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert local activity: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// MarkActivityUndone flags an activity for remote retraction.
func (s *Store) MarkActivityUndone(ctx context.Context, activityID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_activities SET undone = 1 WHERE id = ?`, activityID)
	return err
}

// PendingActivities returns activities marked for federation without a
// remote locator, oldest first.
func (s *Store) PendingActivities(ctx context.Context, accountID int64) ([]domain.LocalActivity, error) {
	return s.queryLocalActivities(ctx, `
		SELECT id, account_id, verb, target, federate, ext_uri, ext_cid,
		       undone, created_at
		FROM local_activities
		WHERE account_id = ? AND federate = 1 AND undone = 0 AND ext_uri = ''
		ORDER BY created_at`, accountID)
}

// PendingUndos returns undone activities whose remote record still exists.
func (s *Store) PendingUndos(ctx context.Context, accountID int64) ([]domain.LocalActivity, error) {
	return s.queryLocalActivities(ctx, `
		SELECT id, account_id, verb, target, federate, ext_uri, ext_cid,
		       undone, created_at
		FROM local_activities
		WHERE account_id = ? AND undone = 1 AND ext_uri != ''
		ORDER BY created_at`, accountID)
}

func (s *Store) queryLocalActivities(ctx context.Context, query string, args ...any) ([]domain.LocalActivity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query local activities: %w", err)
	}
	defer rows.Close()

	var acts []domain.LocalActivity
	for rows.Next() {
		var a domain.LocalActivity
		var federate, undone int
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Verb, &a.Target,
			&federate, &a.ExtURI, &a.ExtCID, &undone, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan local activity: %w", err)
		}
		a.Federate = federate != 0
		a.Undone = undone != 0
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// SetActivityRef records the remote locator of the published activity record.
func (s *Store) SetActivityRef(ctx context.Context, activityID int64, uri, cid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_activities SET ext_uri = ?, ext_cid = ? WHERE id = ?`,
		uri, cid, activityID)
	if err != nil {
		return fmt.Errorf("set activity ref %d: %w", activityID, err)
	}
	return nil
}

// ClearActivityRef drops the remote linkage after a remote retraction.
func (s *Store) ClearActivityRef(ctx context.Context, activityID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_activities SET ext_uri = '', ext_cid = '' WHERE id = ?`,
		activityID)
	return err
}

// AbandonActivity unmarks an activity for federation after the retry budget
// is exhausted.
func (s *Store) AbandonActivity(ctx context.Context, activityID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_activities SET federate = 0 WHERE id = ?`, activityID)
	return err
}
