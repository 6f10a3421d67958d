package inbound

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
)

// threadDepth bounds how deep a transitive thread fetch descends.
const threadDepth = 10

// ensureView makes sure a hydrated post view is mirrored locally and
// applies the thread-completion policy: when the account opts in and the
// remote reply count exceeds the locally known comment count, the whole
// thread is fetched transitively; otherwise only this post is ingested.
func (r *Reconciler) ensureView(ctx context.Context, acct *domain.Account, view *atproto.PostView, reason domain.PostReason) (*domain.RemotePost, error) {
	mirror, err := r.posts.PostByURI(ctx, view.URI)
	if err != nil {
		return nil, fmt.Errorf("post lookup %s: %w", view.URI, err)
	}

	if mirror == nil {
		mirror, err = r.insertView(ctx, acct, view, reason)
		if err != nil {
			return nil, err
		}
	}

	if acct.CompleteThreads && view.ReplyCount > 0 {
		local, err := r.posts.CountComments(ctx, view.URI)
		if err != nil {
			return nil, fmt.Errorf("count comments %s: %w", view.URI, err)
		}
		if view.ReplyCount > local {
			if err := r.fetchThread(ctx, acct, view.URI); err != nil {
				r.logger.Warn("thread completion failed", "uri", view.URI, "error", err)
			}
		}
	}

	return mirror, nil
}

// ensureByURI is ensureView for posts we only know by locator: the mirror
// is reused when present, otherwise the post is fetched first.
func (r *Reconciler) ensureByURI(ctx context.Context, acct *domain.Account, uri string, reason domain.PostReason) (*domain.RemotePost, error) {
	mirror, err := r.posts.PostByURI(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("post lookup %s: %w", uri, err)
	}
	if mirror != nil {
		return mirror, nil
	}

	view, err := r.client.GetPost(ctx, acct, uri)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	return r.ensureView(ctx, acct, view, reason)
}

// insertView creates the local mirror row for a hydrated post view.
func (r *Reconciler) insertView(ctx context.Context, acct *domain.Account, view *atproto.PostView, reason domain.PostReason) (*domain.RemotePost, error) {
	author, err := r.ensureContact(ctx, view.Author)
	if err != nil {
		return nil, err
	}

	createdAt := view.IndexedAt
	if t, err := time.Parse(time.RFC3339, view.Record.CreatedAt); err == nil {
		createdAt = t
	}

	mirror := &domain.RemotePost{
		GUID:      uuid.NewString(),
		URI:       view.URI,
		CID:       view.CID,
		AccountID: acct.ID,
		ContactID: author.ID,
		Body:      view.Record.Text,
		Langs:     view.Record.Langs,
		Reason:    reason,
		CreatedAt: createdAt,
		Verb:      domain.VerbPost,
	}
	if view.Record.Reply != nil {
		mirror.ParentURI = view.Record.Reply.Parent.URI
		mirror.RootURI = view.Record.Reply.Root.URI
	}

	if err := r.posts.InsertPost(ctx, mirror); err != nil {
		return nil, fmt.Errorf("insert %s: %w", view.URI, err)
	}
	return mirror, nil
}

// fetchThread transitively mirrors a post's ancestors and descendants.
func (r *Reconciler) fetchThread(ctx context.Context, acct *domain.Account, uri string) error {
	thread, err := r.client.GetPostThread(ctx, acct, uri, threadDepth)
	if err != nil {
		return err
	}

	// Walk up to the thread root first so parents exist before children.
	var ancestors []*atproto.ThreadViewPost
	for p := thread.Parent; p != nil; p = p.Parent {
		ancestors = append(ancestors, p)
	}
	for i := len(ancestors) - 1; i >= 0; i-- {
		if ancestors[i].Post == nil {
			continue
		}
		if err := r.ingestThreadPost(ctx, acct, ancestors[i].Post); err != nil {
			r.logger.Warn("thread ancestor failed", "uri", ancestors[i].Post.URI, "error", err)
		}
	}

	return r.ingestThreadNode(ctx, acct, thread)
}

// ingestThreadNode mirrors a thread node and recurses into its replies.
func (r *Reconciler) ingestThreadNode(ctx context.Context, acct *domain.Account, node *atproto.ThreadViewPost) error {
	if node.Post == nil {
		return nil
	}
	if err := r.ingestThreadPost(ctx, acct, node.Post); err != nil {
		return err
	}

	for _, reply := range node.Replies {
		if err := r.ingestThreadNode(ctx, acct, reply); err != nil {
			r.logger.Warn("thread reply failed", "error", err)
		}
	}
	return nil
}

// ingestThreadPost mirrors a single thread post without re-applying the
// completion policy, which would recurse.
func (r *Reconciler) ingestThreadPost(ctx context.Context, acct *domain.Account, view *atproto.PostView) error {
	mirror, err := r.posts.PostByURI(ctx, view.URI)
	if err != nil {
		return fmt.Errorf("post lookup %s: %w", view.URI, err)
	}
	if mirror != nil {
		return nil
	}
	_, err = r.insertView(ctx, acct, view, domain.ReasonComment)
	return err
}
