package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
)

// RecordService is the repository-record capability the publisher writes
// through.
type RecordService interface {
	CreateRecord(ctx context.Context, acct *domain.Account, collection string, record any) (*atproto.StrongRef, error)
	DeleteRecord(ctx context.Context, acct *domain.Account, collection, rkey string) error
}

// Publisher turns local posts and activities into AT Protocol repository
// records: fragment, facet, embed, create.
type Publisher struct {
	records  RecordService
	blobs    *Uploader
	renderer domain.Renderer
	posts    domain.PostStore
	outbox   domain.OutboxStore
	maxLen   int
	logger   *slog.Logger
}

// NewPublisher creates an outbound publisher. maxLen is the protocol text
// segment limit.
func NewPublisher(
	records RecordService,
	blobs *Uploader,
	renderer domain.Renderer,
	posts domain.PostStore,
	outbox domain.OutboxStore,
	maxLen int,
	logger *slog.Logger,
) *Publisher {
	return &Publisher{
		records:  records,
		blobs:    blobs,
		renderer: renderer,
		posts:    posts,
		outbox:   outbox,
		maxLen:   maxLen,
		logger:   logger,
	}
}

// PublishPost federates one local post or comment. retryCount is the
// scheduler's 0-based attempt counter; it drives the blob size ladder. The
// result tells the scheduler whether re-running the whole pass makes sense.
func (p *Publisher) PublishPost(ctx context.Context, acct *domain.Account, post *domain.LocalPost, retryCount int) domain.PublishResult {
	// Edits cannot be represented remotely; reject before doing anything.
	if !post.EditedAt.IsZero() && !post.EditedAt.Equal(post.CreatedAt) {
		return domain.PublishResult{
			Err: fmt.Errorf("post %d: %w: edited posts are not supported", post.ID, domain.ErrValidation),
		}
	}
	if post.Deleted {
		return domain.PublishResult{
			Err: fmt.Errorf("post %d: %w: deletion routed to PublishDelete", post.ID, domain.ErrValidation),
		}
	}

	msg, err := p.renderer.Render(ctx, post)
	if err != nil {
		return domain.PublishResult{Err: fmt.Errorf("render post %d: %w", post.ID, err)}
	}

	// The placeholder map is built once, before fragmenting, so tokens in
	// different segments resolve against the same entries.
	var phMap *PlaceholderMap
	msg.Text, phMap = BuildPlaceholders(msg.Text)

	rootRef, parentRef, err := p.replyRefs(ctx, post)
	if err != nil {
		p.logger.Warn("reply target not mirrored locally, skipping post",
			"post_id", post.ID, "reply_to", post.ReplyToURI, "error", err)
		return domain.PublishResult{Err: err}
	}

	segments := Fragment(msg.Text, p.maxLen)
	createdAt := post.CreatedAt.UTC().Format(time.RFC3339)

	// Build every record before submitting anything, so an embed failure
	// aborts the sequence without leaving partial state behind.
	records := make([]*atproto.FeedPost, len(segments))
	for i, seg := range segments {
		finalText, facets := ExtractFacets(seg, phMap)
		records[i] = &atproto.FeedPost{
			Type:      atproto.TypePost,
			Text:      finalText,
			CreatedAt: createdAt,
			Langs:     msg.Langs,
			Facets:    facets,
		}
	}

	embed, err := p.buildEmbed(ctx, acct, msg, retryCount)
	if err != nil {
		return domain.PublishResult{
			Err:       fmt.Errorf("post %d: %w", post.ID, err),
			Retryable: errors.Is(err, domain.ErrTransport),
		}
	}
	records[len(records)-1].Embed = embed

	for i, rec := range records {
		if rootRef != nil && parentRef != nil {
			rec.Reply = &atproto.ReplyRef{Root: *rootRef, Parent: *parentRef}
		}

		ref, err := p.records.CreateRecord(ctx, acct, atproto.CollectionPost, rec)
		if err != nil {
			if i == 0 {
				// Nothing published yet; the scheduler may retry
				// the whole pass.
				return domain.PublishResult{
					Err:       fmt.Errorf("post %d first segment: %w", post.ID, err),
					Retryable: errors.Is(err, domain.ErrTransport),
				}
			}
			// A later segment failed: the thread head already exists
			// remotely. Accepted degraded state, no rollback.
			p.logger.Error("segment publish failed after thread head, aborting remainder",
				"post_id", post.ID, "segment", i, "error", err)
			return domain.PublishResult{Err: err}
		}

		if i == 0 {
			if err := p.outbox.SetExternalRef(ctx, post.ID, ref.URI, ref.CID); err != nil {
				p.logger.Error("failed to record external ref", "post_id", post.ID, "error", err)
			}
			post.ExtURI, post.ExtCID = ref.URI, ref.CID
			if rootRef == nil {
				rootRef = ref
			}
		}
		parentRef = ref
	}

	p.logger.Info("published post", "post_id", post.ID, "segments", len(segments))
	return domain.PublishResult{}
}

// replyRefs resolves the thread linkage for a comment from the local
// mirrors. A top-level post returns nil refs.
func (p *Publisher) replyRefs(ctx context.Context, post *domain.LocalPost) (root, parent *atproto.StrongRef, err error) {
	if post.ReplyToURI == "" {
		return nil, nil, nil
	}

	parentMirror, err := p.posts.PostByURI(ctx, post.ReplyToURI)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve reply parent: %w", err)
	}
	if parentMirror == nil {
		return nil, nil, fmt.Errorf("resolve reply parent %s: %w", post.ReplyToURI, domain.ErrNotFound)
	}
	parent = &atproto.StrongRef{URI: parentMirror.URI, CID: parentMirror.CID}

	root = parent
	if parentMirror.RootURI != "" && parentMirror.RootURI != parentMirror.URI {
		rootMirror, err := p.posts.PostByURI(ctx, parentMirror.RootURI)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve reply root: %w", err)
		}
		if rootMirror == nil {
			return nil, nil, fmt.Errorf("resolve reply root %s: %w", parentMirror.RootURI, domain.ErrNotFound)
		}
		root = &atproto.StrongRef{URI: rootMirror.URI, CID: rootMirror.CID}
	}
	return root, parent, nil
}

// PublishDelete removes the remote record of a deleted local post. Failures
// are logged only; there is no retry. The local linkage is cleared either
// way so the deletion is not re-attempted.
func (p *Publisher) PublishDelete(ctx context.Context, acct *domain.Account, post *domain.LocalPost) {
	uri, err := atproto.ParseURI(post.ExtURI)
	if err != nil {
		p.logger.Error("cannot delete remote post, bad locator",
			"post_id", post.ID, "ext_uri", post.ExtURI, "error", err)
	} else if err := p.records.DeleteRecord(ctx, acct, uri.Collection, uri.RKey); err != nil {
		p.logger.Error("remote delete failed", "post_id", post.ID, "uri", post.ExtURI, "error", err)
	}

	if err := p.outbox.ClearExternalRef(ctx, post.ID); err != nil {
		p.logger.Error("failed to clear external ref", "post_id", post.ID, "error", err)
	}
}

// PublishActivity federates one queued host interaction. Likes and
// announces resolve their subject from the local mirrors; follows and
// blocks target an actor DID directly. The created record's locator is
// stored against the activity so the undo path can find it.
func (p *Publisher) PublishActivity(ctx context.Context, acct *domain.Account, act *domain.LocalActivity) domain.PublishResult {
	ref, err := p.createActivityRecord(ctx, acct, act)
	if err != nil {
		return domain.PublishResult{
			Err:       fmt.Errorf("activity %d (%s): %w", act.ID, act.Verb, err),
			Retryable: errors.Is(err, domain.ErrTransport),
		}
	}

	if err := p.outbox.SetActivityRef(ctx, act.ID, ref.URI, ref.CID); err != nil {
		p.logger.Error("failed to record activity ref", "activity_id", act.ID, "error", err)
	}
	act.ExtURI, act.ExtCID = ref.URI, ref.CID

	p.logger.Info("published activity", "activity_id", act.ID, "verb", act.Verb, "uri", ref.URI)
	return domain.PublishResult{}
}

func (p *Publisher) createActivityRecord(ctx context.Context, acct *domain.Account, act *domain.LocalActivity) (*atproto.StrongRef, error) {
	switch act.Verb {
	case domain.VerbLike, domain.VerbAnnounce:
		subject, err := p.subjectRef(ctx, act.Target)
		if err != nil {
			return nil, err
		}
		if act.Verb == domain.VerbLike {
			return p.PublishLike(ctx, acct, *subject)
		}
		return p.PublishRepost(ctx, acct, *subject)
	case domain.VerbFollow:
		return p.PublishFollow(ctx, acct, act.Target)
	case domain.VerbBlock:
		return p.PublishBlock(ctx, acct, act.Target)
	default:
		return nil, fmt.Errorf("%w: unknown activity verb %q", domain.ErrValidation, act.Verb)
	}
}

// subjectRef resolves the strong reference of a mirrored post.
func (p *Publisher) subjectRef(ctx context.Context, uri string) (*atproto.StrongRef, error) {
	mirror, err := p.posts.PostByURI(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("resolve subject: %w", err)
	}
	if mirror == nil {
		return nil, fmt.Errorf("resolve subject %s: %w", uri, domain.ErrNotFound)
	}
	return &atproto.StrongRef{URI: mirror.URI, CID: mirror.CID}, nil
}

// PublishUndo removes the remote record of an undone activity. Failures are
// logged only; the linkage is cleared either way so the undo is not
// re-attempted.
func (p *Publisher) PublishUndo(ctx context.Context, acct *domain.Account, act *domain.LocalActivity) {
	if err := p.Undo(ctx, acct, act.ExtURI); err != nil {
		p.logger.Error("remote undo failed",
			"activity_id", act.ID, "verb", act.Verb, "uri", act.ExtURI, "error", err)
	}
	if err := p.outbox.ClearActivityRef(ctx, act.ID); err != nil {
		p.logger.Error("failed to clear activity ref", "activity_id", act.ID, "error", err)
	}
}

// PublishLike creates a like record for the given subject.
func (p *Publisher) PublishLike(ctx context.Context, acct *domain.Account, subject atproto.StrongRef) (*atproto.StrongRef, error) {
	return p.records.CreateRecord(ctx, acct, atproto.CollectionLike, &atproto.SubjectRecord{
		Type:      atproto.TypeLike,
		Subject:   subject,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishRepost creates a repost record for the given subject.
func (p *Publisher) PublishRepost(ctx context.Context, acct *domain.Account, subject atproto.StrongRef) (*atproto.StrongRef, error) {
	return p.records.CreateRecord(ctx, acct, atproto.CollectionRepost, &atproto.SubjectRecord{
		Type:      atproto.TypeRepost,
		Subject:   subject,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishFollow creates a follow record for the given actor DID.
func (p *Publisher) PublishFollow(ctx context.Context, acct *domain.Account, did string) (*atproto.StrongRef, error) {
	return p.records.CreateRecord(ctx, acct, atproto.CollectionFollow, &atproto.ActorRecord{
		Type:      atproto.TypeFollow,
		Subject:   did,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishBlock creates a block record for the given actor DID.
func (p *Publisher) PublishBlock(ctx context.Context, acct *domain.Account, did string) (*atproto.StrongRef, error) {
	return p.records.CreateRecord(ctx, acct, atproto.CollectionBlock, &atproto.ActorRecord{
		Type:      atproto.TypeBlock,
		Subject:   did,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// Undo deletes a previously created activity record by its locator.
func (p *Publisher) Undo(ctx context.Context, acct *domain.Account, recordURI string) error {
	uri, err := atproto.ParseURI(recordURI)
	if err != nil {
		return fmt.Errorf("undo %s: %w", recordURI, err)
	}
	return p.records.DeleteRecord(ctx, acct, uri.Collection, uri.RKey)
}
