package domain

import (
	"context"
	"time"
)

// AccountStore defines persistence for account bindings.
type AccountStore interface {
	// GetAccounts returns every account with bridging enabled.
	GetAccounts(ctx context.Context) ([]Account, error)

	// GetAccount retrieves one binding by local user id.
	GetAccount(ctx context.Context, id int64) (*Account, error)

	// SaveAccount inserts or updates a binding, including the token pair
	// and connection status.
	SaveAccount(ctx context.Context, acct *Account) error

	// DeleteAccount removes a binding when the user disables bridging.
	DeleteAccount(ctx context.Context, id int64) error
}

// ContactStore defines persistence for mirrored remote actors.
type ContactStore interface {
	// ContactByDID returns the contact for a DID, or nil if unseen.
	ContactByDID(ctx context.Context, did string) (*Contact, error)

	// UpsertContact creates or refreshes a contact and returns the stored
	// row with its id populated.
	UpsertContact(ctx context.Context, c *Contact) (*Contact, error)

	// KnownDIDs lists the DIDs of all mirrored contacts.
	KnownDIDs(ctx context.Context) ([]string, error)
}

// PostStore defines persistence for mirrored remote posts and activities.
type PostStore interface {
	// PostByURI returns the mirror for a canonical at:// URI, or nil if
	// the post has not been imported.
	PostByURI(ctx context.Context, uri string) (*RemotePost, error)

	// InsertPost stores a new mirror item. The URI must be unique; the
	// caller checks existence first.
	InsertPost(ctx context.Context, p *RemotePost) error

	// DeletePostByURI removes a mirror (e.g. when the remote record was
	// deleted). Removing an unknown URI is not an error.
	DeletePostByURI(ctx context.Context, uri string) error

	// CountComments returns how many mirrored replies reference the given
	// parent URI.
	CountComments(ctx context.Context, parentURI string) (int, error)

	// TagPost labels a mirror with the curated feed it arrived through.
	// Re-tagging with the same label is a no-op.
	TagPost(ctx context.Context, tag FeedTag) error

	// PruneMirrors removes mirrored posts older than maxAge that nothing
	// references. Returns the number of rows deleted.
	PruneMirrors(ctx context.Context, maxAge time.Duration) (int64, error)
}

// OutboxStore exposes the host-side posts awaiting outbound federation.
type OutboxStore interface {
	// PendingPosts returns posts marked for federation that have no
	// remote locator yet, oldest first.
	PendingPosts(ctx context.Context, accountID int64) ([]LocalPost, error)

	// PendingDeletes returns deleted posts whose remote record still
	// exists (remote locator set).
	PendingDeletes(ctx context.Context, accountID int64) ([]LocalPost, error)

	// SetExternalRef records the remote locator of the published root
	// segment against the local post.
	SetExternalRef(ctx context.Context, postID int64, uri, cid string) error

	// ClearExternalRef drops the remote linkage after a remote delete.
	ClearExternalRef(ctx context.Context, postID int64) error

	// AbandonPost unmarks a post for federation after the retry budget is
	// exhausted. The post stays local-only.
	AbandonPost(ctx context.Context, postID int64) error

	// PendingActivities returns activities marked for federation that have
	// no remote locator yet, oldest first.
	PendingActivities(ctx context.Context, accountID int64) ([]LocalActivity, error)

	// PendingUndos returns undone activities whose remote record still
	// exists (remote locator set).
	PendingUndos(ctx context.Context, accountID int64) ([]LocalActivity, error)

	// SetActivityRef records the remote locator of a published activity.
	SetActivityRef(ctx context.Context, activityID int64, uri, cid string) error

	// ClearActivityRef drops the remote linkage after an undo.
	ClearActivityRef(ctx context.Context, activityID int64) error

	// AbandonActivity unmarks an activity for federation.
	AbandonActivity(ctx context.Context, activityID int64) error
}

// CursorStore persists per-account sync cursors with optimistic versioning.
type CursorStore interface {
	// GetSyncState returns the cursor for an account, zero-valued (with
	// the account id set) when none has been saved.
	GetSyncState(ctx context.Context, accountID int64) (*SyncState, error)

	// SaveSyncState persists the cursor. The write fails if the stored
	// version no longer matches state.Version; on success the version is
	// incremented in place.
	SaveSyncState(ctx context.Context, state *SyncState) error
}

// Renderer converts a host rich-text post into its plain-text rendition.
type Renderer interface {
	// Render strips host markup from the post body and collects images
	// and link-preview metadata. Link and hashtag tokens stay in the
	// returned text for the placeholder pass.
	Render(ctx context.Context, post *LocalPost) (*RenderedMessage, error)
}

// LanguageFilter is the host's language-acceptability predicate.
type LanguageFilter interface {
	// IsAcceptable reports whether a post with the given text and declared
	// language hints passes the host's language policy.
	IsAcceptable(text string, langs []string) bool
}
