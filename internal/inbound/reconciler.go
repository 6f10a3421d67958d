package inbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
)

const reasonRepost = "app.bsky.feed.defs#reasonRepost"

// Client is the remote read capability the reconciler consumes.
type Client interface {
	GetTimeline(ctx context.Context, acct *domain.Account, limit int) ([]atproto.FeedViewPost, error)
	GetFeed(ctx context.Context, acct *domain.Account, feedURI string, limit int) ([]atproto.FeedViewPost, error)
	GetFeedGenerator(ctx context.Context, acct *domain.Account, feedURI string) (*atproto.FeedGeneratorView, error)
	ListNotifications(ctx context.Context, acct *domain.Account, limit int) ([]atproto.Notification, error)
	GetPost(ctx context.Context, acct *domain.Account, uri string) (*atproto.PostView, error)
	GetPostThread(ctx context.Context, acct *domain.Account, uri string, depth int) (*atproto.ThreadViewPost, error)
}

// Reconciler maps remote timeline, feed and notification payloads onto the
// local post and contact model. Every pass is idempotent: existence checks
// by canonical URI prevent duplicate mirrors, and a failure inside one
// entry never aborts the rest of the batch.
type Reconciler struct {
	client   Client
	posts    domain.PostStore
	contacts domain.ContactStore
	langs    domain.LanguageFilter
	pageSize int
	logger   *slog.Logger
}

// NewReconciler creates an inbound reconciler. pageSize bounds how many
// entries each pass requests.
func NewReconciler(client Client, posts domain.PostStore, contacts domain.ContactStore, langs domain.LanguageFilter, pageSize int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		client:   client,
		posts:    posts,
		contacts: contacts,
		langs:    langs,
		pageSize: pageSize,
		logger:   logger,
	}
}

// TimelinePass imports the account's home timeline. Entries arrive newest
// first and are reversed so causal order is preserved locally.
func (r *Reconciler) TimelinePass(ctx context.Context, acct *domain.Account) error {
	entries, err := r.client.GetTimeline(ctx, acct, r.pageSize)
	if err != nil {
		return fmt.Errorf("timeline pass: %w", err)
	}

	reverseEntries(entries)
	for i := range entries {
		if err := r.ingestEntry(ctx, acct, &entries[i], domain.ReasonFetched, nil); err != nil {
			r.logger.Warn("timeline entry failed", "uri", entries[i].Post.URI, "error", err)
		}
	}
	return nil
}

// FeedPass imports a curated feed, filtering by the language policy and
// tagging every accepted post with the feed's display name and public URL.
func (r *Reconciler) FeedPass(ctx context.Context, acct *domain.Account, feedURI string) error {
	gen, err := r.client.GetFeedGenerator(ctx, acct, feedURI)
	if err != nil {
		return fmt.Errorf("feed pass %s: %w", feedURI, err)
	}
	tag := &domain.FeedTag{
		Label: gen.DisplayName,
		URL:   feedWebURL(gen.URI),
	}

	entries, err := r.client.GetFeed(ctx, acct, feedURI, r.pageSize)
	if err != nil {
		return fmt.Errorf("feed pass %s: %w", feedURI, err)
	}

	reverseEntries(entries)
	for i := range entries {
		e := &entries[i]
		if !r.langs.IsAcceptable(e.Post.Record.Text, e.Post.Record.Langs) {
			r.logger.Debug("feed entry rejected by language policy",
				"uri", e.Post.URI, "langs", e.Post.Record.Langs)
			continue
		}
		if err := r.ingestEntry(ctx, acct, e, domain.ReasonTag, tag); err != nil {
			r.logger.Warn("feed entry failed", "uri", e.Post.URI, "error", err)
		}
	}
	return nil
}

// NotificationPass imports the account's notifications, dispatching on the
// parsed reason. Already-mirrored notifications are skipped by URI.
func (r *Reconciler) NotificationPass(ctx context.Context, acct *domain.Account) error {
	notifs, err := r.client.ListNotifications(ctx, acct, r.pageSize)
	if err != nil {
		return fmt.Errorf("notification pass: %w", err)
	}

	for i := range notifs {
		n := &notifs[i]
		reason, ok := parseNotifReason(n.Reason)
		if !ok {
			r.logger.Debug("skipping unhandled notification reason", "reason", n.Reason, "uri", n.URI)
			continue
		}

		existing, err := r.posts.PostByURI(ctx, n.URI)
		if err != nil {
			r.logger.Warn("notification lookup failed", "uri", n.URI, "error", err)
			continue
		}
		if existing != nil {
			continue
		}

		if err := r.handleNotification(ctx, acct, n, reason); err != nil {
			r.logger.Warn("notification failed", "uri", n.URI, "reason", n.Reason, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) handleNotification(ctx context.Context, acct *domain.Account, n *atproto.Notification, reason notifReason) error {
	switch reason {
	case notifLike, notifRepost:
		if n.ReasonSubject == "" {
			return fmt.Errorf("notification %s has no subject", n.URI)
		}
		parent, err := r.ensureByURI(ctx, acct, n.ReasonSubject, domain.ReasonFetched)
		if err != nil {
			return fmt.Errorf("resolve activity parent: %w", err)
		}

		causer, err := r.ensureContact(ctx, n.Author)
		if err != nil {
			return err
		}

		verb := domain.VerbLike
		postReason := domain.ReasonNone
		if reason == notifRepost {
			verb = domain.VerbAnnounce
			postReason = domain.ReasonAnnounce
		}
		return r.posts.InsertPost(ctx, &domain.RemotePost{
			GUID:      uuid.NewString(),
			URI:       n.URI,
			CID:       n.CID,
			AccountID: acct.ID,
			ContactID: causer.ID,
			ParentURI: parent.URI,
			RootURI:   parent.RootURI,
			Reason:    postReason,
			CreatedAt: n.IndexedAt,
			Verb:      verb,
		})

	case notifFollow:
		_, err := r.ensureContact(ctx, n.Author)
		return err

	default: // mention, reply, quote
		_, err := r.ensureByURI(ctx, acct, n.URI, reason.postReason())
		return err
	}
}

// ingestEntry imports one timeline or feed entry: author contact, thread
// context, the post itself, optional feed tag, and a synthesized announce
// for reposted entries.
func (r *Reconciler) ingestEntry(ctx context.Context, acct *domain.Account, e *atproto.FeedViewPost, reason domain.PostReason, tag *domain.FeedTag) error {
	if e.Reply != nil {
		if _, err := r.ensureView(ctx, acct, &e.Reply.Root, domain.ReasonComment); err != nil {
			r.logger.Warn("reply root unavailable", "uri", e.Reply.Root.URI, "error", err)
		}
		if _, err := r.ensureView(ctx, acct, &e.Reply.Parent, domain.ReasonComment); err != nil {
			r.logger.Warn("reply parent unavailable", "uri", e.Reply.Parent.URI, "error", err)
		}
	}

	mirror, err := r.ensureView(ctx, acct, &e.Post, reason)
	if err != nil {
		return err
	}

	if tag != nil {
		t := *tag
		t.PostID = mirror.ID
		if err := r.posts.TagPost(ctx, t); err != nil {
			r.logger.Warn("tagging post failed", "uri", e.Post.URI, "label", t.Label, "error", err)
		}
	}

	if e.Reason != nil && e.Reason.Type == reasonRepost {
		if err := r.ingestRepost(ctx, acct, e); err != nil {
			return fmt.Errorf("repost of %s: %w", e.Post.URI, err)
		}
	}
	return nil
}

// ingestRepost synthesizes a local announce activity for a reposted feed
// entry. The announce URI is derived from the post URI and the reposter's
// DID, so re-running the pass finds the existing row.
func (r *Reconciler) ingestRepost(ctx context.Context, acct *domain.Account, e *atproto.FeedViewPost) error {
	announceURI := e.Post.URI + "#announce:" + e.Reason.By.DID

	existing, err := r.posts.PostByURI(ctx, announceURI)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	by, err := r.ensureContact(ctx, e.Reason.By)
	if err != nil {
		return err
	}

	return r.posts.InsertPost(ctx, &domain.RemotePost{
		GUID:      uuid.NewString(),
		URI:       announceURI,
		CID:       e.Post.CID,
		AccountID: acct.ID,
		ContactID: by.ID,
		ParentURI: e.Post.URI,
		Reason:    domain.ReasonAnnounce,
		CreatedAt: e.Reason.IndexedAt,
		Verb:      domain.VerbAnnounce,
	})
}

// ensureContact resolves a remote actor to a local contact, creating one on
// first sight.
func (r *Reconciler) ensureContact(ctx context.Context, actor atproto.ProfileView) (*domain.Contact, error) {
	existing, err := r.contacts.ContactByDID(ctx, actor.DID)
	if err != nil {
		return nil, fmt.Errorf("contact lookup %s: %w", actor.DID, err)
	}
	if existing != nil {
		return existing, nil
	}

	c, err := r.contacts.UpsertContact(ctx, &domain.Contact{
		DID:    actor.DID,
		Handle: actor.Handle,
		Name:   actor.DisplayName,
		Avatar: actor.Avatar,
	})
	if err != nil {
		return nil, fmt.Errorf("contact upsert %s: %w", actor.DID, err)
	}
	return c, nil
}

func reverseEntries(entries []atproto.FeedViewPost) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// feedWebURL derives the public web address of a feed from its at:// URI.
func feedWebURL(feedURI string) string {
	uri, err := atproto.ParseURI(feedURI)
	if err != nil {
		return feedURI
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/feed/%s", uri.Repo, uri.RKey)
}
