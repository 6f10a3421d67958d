package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

// ContactByDID returns the contact for a DID, or nil if unseen.
func (s *Store) ContactByDID(ctx context.Context, did string) (*domain.Contact, error) {
	var c domain.Contact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, did, handle, name, avatar FROM contacts WHERE did = ?`, did).
		Scan(&c.ID, &c.DID, &c.Handle, &c.Name, &c.Avatar)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query contact %s: %w", did, err)
	}
	return &c, nil
}

// UpsertContact creates or refreshes a contact and returns the stored row.
func (s *Store) UpsertContact(ctx context.Context, c *domain.Contact) (*domain.Contact, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (did, handle, name, avatar)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (did) DO UPDATE SET
			handle = excluded.handle,
			name = excluded.name,
			avatar = excluded.avatar`,
		c.DID, c.Handle, c.Name, c.Avatar)
	if err != nil {
		return nil, fmt.Errorf("upsert contact %s: %w", c.DID, err)
	}
	return s.ContactByDID(ctx, c.DID)
}

// KnownDIDs lists the DIDs of all mirrored contacts.
func (s *Store) KnownDIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT did FROM contacts`)
	if err != nil {
		return nil, fmt.Errorf("query contact DIDs: %w", err)
	}
	defer rows.Close()

	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan DID: %w", err)
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}

// PostByURI returns the mirror for a canonical at:// URI, or nil.
func (s *Store) PostByURI(ctx context.Context, uri string) (*domain.RemotePost, error) {
	var p domain.RemotePost
	var langs string
	var reason int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, guid, uri, cid, account_id, contact_id, parent_uri,
		       root_uri, body, langs, reason, verb, created_at
		FROM remote_posts WHERE uri = ?`, uri).
		Scan(&p.ID, &p.GUID, &p.URI, &p.CID, &p.AccountID, &p.ContactID,
			&p.ParentURI, &p.RootURI, &p.Body, &langs, &reason, &p.Verb,
			&p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query post %s: %w", uri, err)
	}
	p.Reason = domain.PostReason(reason)
	if langs != "" {
		p.Langs = strings.Split(langs, ",")
	}
	return &p, nil
}

// InsertPost stores a new mirror item.
func (s *Store) InsertPost(ctx context.Context, p *domain.RemotePost) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO remote_posts (guid, uri, cid, account_id, contact_id,
		                          parent_uri, root_uri, body, langs, reason,
		                          verb, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.GUID, p.URI, p.CID, p.AccountID, p.ContactID, p.ParentURI,
		p.RootURI, p.Body, strings.Join(p.Langs, ","), int(p.Reason),
		p.Verb, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.URI, err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// DeletePostByURI removes a mirror; unknown URIs are not an error.
func (s *Store) DeletePostByURI(ctx context.Context, uri string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM remote_posts WHERE uri = ?`, uri)
	return err
}

// CountComments returns how many mirrored replies reference the parent URI.
func (s *Store) CountComments(ctx context.Context, parentURI string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM remote_posts WHERE parent_uri = ? AND verb = 'post'`,
		parentURI).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count comments %s: %w", parentURI, err)
	}
	return count, nil
}

// TagPost labels a mirror with a feed category; re-tagging is a no-op.
func (s *Store) TagPost(ctx context.Context, tag domain.FeedTag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_tags (post_id, label, url)
		VALUES (?, ?, ?)
		ON CONFLICT (post_id, label) DO NOTHING`,
		tag.PostID, tag.Label, tag.URL)
	if err != nil {
		return fmt.Errorf("tag post %d: %w", tag.PostID, err)
	}
	return nil
}

// PruneMirrors removes mirrored posts older than maxAge that no other
// mirror references as a parent. Returns the number of rows deleted.
func (s *Store) PruneMirrors(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM remote_posts
		WHERE created_at < ?
		  AND uri NOT IN (SELECT parent_uri FROM remote_posts)
		  AND uri NOT IN (SELECT root_uri FROM remote_posts)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune mirrors: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM post_tags WHERE post_id NOT IN (SELECT id FROM remote_posts)`); err != nil {
		return 0, fmt.Errorf("prune tags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return deleted, nil
}

// CreateLocalPost stores a host-authored post and fills in its id.
func (s *Store) CreateLocalPost(ctx context.Context, p *domain.LocalPost) error {
	federate, deleted := 0, 0
	if p.Federate {
		federate = 1
	}
	if p.Deleted {
		deleted = 1
	}
	if p.EditedAt.IsZero() {
		p.EditedAt = p.CreatedAt
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO local_posts (account_id, body, langs, reply_to_uri, federate,
		                         ext_uri, ext_cid, deleted, created_at, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AccountID, p.Body, strings.Join(p.Langs, ","), p.ReplyToURI, federate,
		p.ExtURI, p.ExtCID, deleted, p.CreatedAt, p.EditedAt)
	if err != nil {
		return fmt.Errorf("insert local post: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// MarkLocalPostDeleted flags a local post for remote deletion.
func (s *Store) MarkLocalPostDeleted(ctx context.Context, postID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_posts SET deleted = 1 WHERE id = ?`, postID)
	return err
}

// PendingPosts returns posts marked for federation without a remote
// locator, oldest first.
func (s *Store) PendingPosts(ctx context.Context, accountID int64) ([]domain.LocalPost, error) {
	return s.queryLocalPosts(ctx, `
		SELECT id, account_id, body, langs, reply_to_uri, federate, ext_uri,
		       ext_cid, deleted, created_at, edited_at
		FROM local_posts
		WHERE account_id = ? AND federate = 1 AND deleted = 0 AND ext_uri = ''
		ORDER BY created_at`, accountID)
}

// PendingDeletes returns deleted posts whose remote record still exists.
func (s *Store) PendingDeletes(ctx context.Context, accountID int64) ([]domain.LocalPost, error) {
	return s.queryLocalPosts(ctx, `
		SELECT id, account_id, body, langs, reply_to_uri, federate, ext_uri,
		       ext_cid, deleted, created_at, edited_at
		FROM local_posts
		WHERE account_id = ? AND deleted = 1 AND ext_uri != ''
		ORDER BY created_at`, accountID)
}

func (s *Store) queryLocalPosts(ctx context.Context, query string, args ...any) ([]domain.LocalPost, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query local posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.LocalPost
	for rows.Next() {
		var p domain.LocalPost
		var langs string
		var federate, deleted int
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Body, &langs, &p.ReplyToURI,
			&federate, &p.ExtURI, &p.ExtCID, &deleted, &p.CreatedAt,
			&p.EditedAt); err != nil {
			return nil, fmt.Errorf("scan local post: %w", err)
		}
		if langs != "" {
			p.Langs = strings.Split(langs, ",")
		}
		p.Federate = federate != 0
		p.Deleted = deleted != 0
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// SetExternalRef records the remote locator of the published root segment.
func (s *Store) SetExternalRef(ctx context.Context, postID int64, uri, cid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_posts SET ext_uri = ?, ext_cid = ? WHERE id = ?`,
		uri, cid, postID)
	if err != nil {
		return fmt.Errorf("set external ref %d: %w", postID, err)
	}
	return nil
}

// ClearExternalRef drops the remote linkage after a remote delete.
func (s *Store) ClearExternalRef(ctx context.Context, postID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_posts SET ext_uri = '', ext_cid = '' WHERE id = ?`, postID)
	return err
}

// AbandonPost unmarks a post for federation after the retry budget is
// exhausted.
func (s *Store) AbandonPost(ctx context.Context, postID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE local_posts SET federate = 0 WHERE id = ?`, postID)
	return err
}
