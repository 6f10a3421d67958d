package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
)

type createdRecord struct {
	collection string
	record     any
	post       *atproto.FeedPost
}

type fakeRecordService struct {
	created []createdRecord
	deleted []string
	failAt  int // index of the create call to fail, -1 for none
	failErr error
}

func newFakeRecords() *fakeRecordService {
	return &fakeRecordService{failAt: -1}
}

func (f *fakeRecordService) CreateRecord(ctx context.Context, acct *domain.Account, collection string, record any) (*atproto.StrongRef, error) {
	if f.failAt == len(f.created) {
		err := f.failErr
		if err == nil {
			err = fmt.Errorf("create: %w: boom", domain.ErrTransport)
		}
		return nil, err
	}

	post, _ := record.(*atproto.FeedPost)
	f.created = append(f.created, createdRecord{collection: collection, record: record, post: post})
	return &atproto.StrongRef{
		URI: fmt.Sprintf("at://did:plc:me/%s/rk%d", collection, len(f.created)),
		CID: fmt.Sprintf("cid%d", len(f.created)),
	}, nil
}

func (f *fakeRecordService) DeleteRecord(ctx context.Context, acct *domain.Account, collection, rkey string) error {
	f.deleted = append(f.deleted, collection+"/"+rkey)
	return nil
}

type fakeRenderer struct {
	images []domain.Image
	link   *domain.LinkPreview
}

func (f *fakeRenderer) Render(ctx context.Context, post *domain.LocalPost) (*domain.RenderedMessage, error) {
	msg := &domain.RenderedMessage{
		Type:   domain.MessagePlain,
		Text:   post.Body,
		Langs:  post.Langs,
		Images: f.images,
		Link:   f.link,
	}
	if f.link != nil {
		msg.Type = domain.MessageLink
	}
	return msg, nil
}

type memPostStore struct {
	byURI map[string]*domain.RemotePost
}

func newMemPostStore() *memPostStore {
	return &memPostStore{byURI: map[string]*domain.RemotePost{}}
}

func (m *memPostStore) PostByURI(ctx context.Context, uri string) (*domain.RemotePost, error) {
	return m.byURI[uri], nil
}

func (m *memPostStore) InsertPost(ctx context.Context, p *domain.RemotePost) error {
	p.ID = int64(len(m.byURI) + 1)
	m.byURI[p.URI] = p
	return nil
}

func (m *memPostStore) DeletePostByURI(ctx context.Context, uri string) error {
	delete(m.byURI, uri)
	return nil
}

func (m *memPostStore) CountComments(ctx context.Context, parentURI string) (int, error) {
	count := 0
	for _, p := range m.byURI {
		if p.ParentURI == parentURI && p.Verb == "post" {
			count++
		}
	}
	return count, nil
}

func (m *memPostStore) TagPost(ctx context.Context, tag domain.FeedTag) error { return nil }

func (m *memPostStore) PruneMirrors(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

type memOutbox struct {
	extURI        map[int64]string
	activityURI   map[int64]string
	abandoned     []int64
	abandonedActs []int64
}

func newMemOutbox() *memOutbox {
	return &memOutbox{
		extURI:      map[int64]string{},
		activityURI: map[int64]string{},
	}
}

func (m *memOutbox) PendingPosts(ctx context.Context, accountID int64) ([]domain.LocalPost, error) {
	return nil, nil
}

func (m *memOutbox) PendingDeletes(ctx context.Context, accountID int64) ([]domain.LocalPost, error) {
	return nil, nil
}

func (m *memOutbox) SetExternalRef(ctx context.Context, postID int64, uri, cid string) error {
	m.extURI[postID] = uri
	return nil
}

func (m *memOutbox) ClearExternalRef(ctx context.Context, postID int64) error {
	delete(m.extURI, postID)
	return nil
}

func (m *memOutbox) AbandonPost(ctx context.Context, postID int64) error {
	m.abandoned = append(m.abandoned, postID)
	return nil
}

func (m *memOutbox) PendingActivities(ctx context.Context, accountID int64) ([]domain.LocalActivity, error) {
	return nil, nil
}

func (m *memOutbox) PendingUndos(ctx context.Context, accountID int64) ([]domain.LocalActivity, error) {
	return nil, nil
}

func (m *memOutbox) SetActivityRef(ctx context.Context, activityID int64, uri, cid string) error {
	m.activityURI[activityID] = uri
	return nil
}

func (m *memOutbox) ClearActivityRef(ctx context.Context, activityID int64) error {
	delete(m.activityURI, activityID)
	return nil
}

func (m *memOutbox) AbandonActivity(ctx context.Context, activityID int64) error {
	m.abandonedActs = append(m.abandonedActs, activityID)
	return nil
}

func newTestPublisher(records *fakeRecordService, renderer domain.Renderer, posts domain.PostStore, outbox domain.OutboxStore, blobs BlobService, maxLen int) *Publisher {
	if blobs == nil {
		blobs = &fakeBlobService{}
	}
	return NewPublisher(records, NewUploader(blobs, testLogger()), renderer, posts, outbox, maxLen, testLogger())
}

func testAccount() *domain.Account {
	return &domain.Account{
		ID:        7,
		DID:       "did:plc:me",
		PDS:       "https://pds.test",
		AccessJwt: "jwt",
	}
}

func TestPublishTwoSegmentsWithImageAndHashtag(t *testing.T) {
	body := strings.Repeat("first paragraph text ", 4) + "#release\n\n" +
		strings.Repeat("second paragraph text ", 4)

	records := newFakeRecords()
	outbox := newMemOutbox()
	renderer := &fakeRenderer{
		images: []domain.Image{{Data: pngImage(t, 8, 8), MimeType: "image/png", Alt: "pic"}},
	}
	pub := newTestPublisher(records, renderer, newMemPostStore(), outbox, nil, 100)

	post := &domain.LocalPost{ID: 1, AccountID: 7, Body: body, CreatedAt: time.Now().UTC()}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if !res.OK() {
		t.Fatalf("publish failed: %v", res.Err)
	}

	if len(records.created) < 2 {
		t.Fatalf("expected at least 2 create calls, got %d", len(records.created))
	}

	first := records.created[0].post
	last := records.created[len(records.created)-1].post
	if first.Reply != nil {
		t.Error("top-level post's first segment must not carry a reply ref")
	}
	if first.Embed != nil {
		t.Error("embed must be on the last segment only")
	}
	if last.Embed == nil {
		t.Error("last segment is missing the image embed")
	}

	second := records.created[1].post
	if second.Reply == nil {
		t.Fatal("second segment must thread under the first")
	}
	if second.Reply.Root.URI != "at://did:plc:me/app.bsky.feed.post/rk1" {
		t.Errorf("second segment root is %q", second.Reply.Root.URI)
	}
	if second.Reply.Parent.URI != second.Reply.Root.URI {
		t.Errorf("second segment parent is %q", second.Reply.Parent.URI)
	}

	if outbox.extURI[1] != "at://did:plc:me/app.bsky.feed.post/rk1" {
		t.Errorf("external ref not linked to the root segment: %q", outbox.extURI[1])
	}

	foundTag := false
	for _, cr := range records.created {
		for _, f := range cr.post.Facets {
			if f.Features[0].Tag == "release" {
				foundTag = true
				if got := cr.post.Text[f.Index.ByteStart:f.Index.ByteEnd]; got != "#release" {
					t.Errorf("hashtag facet points at %q", got)
				}
			}
		}
	}
	if !foundTag {
		t.Error("no hashtag facet produced")
	}
}

func TestPublishEditedPostRejected(t *testing.T) {
	records := newFakeRecords()
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), newMemOutbox(), nil, 300)

	created := time.Now().UTC()
	post := &domain.LocalPost{
		ID:        1,
		Body:      "edited content",
		CreatedAt: created,
		EditedAt:  created.Add(time.Minute),
	}

	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if res.OK() {
		t.Fatal("edited post must be rejected")
	}
	if !errors.Is(res.Err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", res.Err)
	}
	if res.Retryable {
		t.Error("validation failures must not be retryable")
	}
	if len(records.created) != 0 {
		t.Errorf("no records should be created, got %d", len(records.created))
	}
}

func TestPublishFirstSegmentFailureDefers(t *testing.T) {
	records := newFakeRecords()
	records.failAt = 0
	outbox := newMemOutbox()
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), outbox, nil, 300)

	post := &domain.LocalPost{ID: 1, Body: "hello", CreatedAt: time.Now().UTC()}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !res.Retryable {
		t.Error("first-segment transport failure must defer for retry")
	}
	if outbox.extURI[1] != "" {
		t.Error("no external ref should be recorded")
	}
}

func TestPublishLaterSegmentFailureAbortsSilently(t *testing.T) {
	records := newFakeRecords()
	records.failAt = 1
	outbox := newMemOutbox()
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), outbox, nil, 100)

	body := strings.Repeat("alpha beta gamma delta ", 10)
	post := &domain.LocalPost{ID: 1, Body: body, CreatedAt: time.Now().UTC()}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Retryable {
		t.Error("later-segment failure must not be retried")
	}
	// The thread head exists remotely and stays linked.
	if outbox.extURI[1] != "at://did:plc:me/app.bsky.feed.post/rk1" {
		t.Errorf("thread head linkage missing: %q", outbox.extURI[1])
	}
	if post.ExtURI == "" {
		t.Error("post should carry the thread head locator")
	}
}

func TestPublishEmbedFailureAbortsBeforeAnyCreate(t *testing.T) {
	records := newFakeRecords()
	blobs := &fakeBlobService{err: fmt.Errorf("%w: upstream down", domain.ErrTransport)}
	renderer := &fakeRenderer{
		images: []domain.Image{{Data: pngImage(t, 8, 8), MimeType: "image/png"}},
	}
	pub := newTestPublisher(records, renderer, newMemPostStore(), newMemOutbox(), blobs, 300)

	post := &domain.LocalPost{ID: 1, Body: "with image", CreatedAt: time.Now().UTC()}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !res.Retryable {
		t.Error("transport-level embed failure should retry the whole post")
	}
	if len(records.created) != 0 {
		t.Errorf("embed failure must abort before any create, got %d calls", len(records.created))
	}
}

func TestPublishEmbedEncodingFailureIsFinal(t *testing.T) {
	records := newFakeRecords()
	renderer := &fakeRenderer{
		images: []domain.Image{{Data: []byte("not an image"), MimeType: "image/png"}},
	}
	pub := newTestPublisher(records, renderer, newMemPostStore(), newMemOutbox(), nil, 300)

	post := &domain.LocalPost{ID: 1, Body: "bad image", CreatedAt: time.Now().UTC()}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Retryable {
		t.Error("encoding failures must not be retryable")
	}
	if !errors.Is(res.Err, domain.ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", res.Err)
	}
}

func TestPublishCommentCarriesReplyRefs(t *testing.T) {
	posts := newMemPostStore()
	posts.byURI["at://did:plc:them/app.bsky.feed.post/root1"] = &domain.RemotePost{
		URI: "at://did:plc:them/app.bsky.feed.post/root1",
		CID: "cidroot",
	}
	posts.byURI["at://did:plc:them/app.bsky.feed.post/parent1"] = &domain.RemotePost{
		URI:     "at://did:plc:them/app.bsky.feed.post/parent1",
		CID:     "cidparent",
		RootURI: "at://did:plc:them/app.bsky.feed.post/root1",
	}

	records := newFakeRecords()
	pub := newTestPublisher(records, &fakeRenderer{}, posts, newMemOutbox(), nil, 300)

	post := &domain.LocalPost{
		ID:         1,
		Body:       "replying",
		CreatedAt:  time.Now().UTC(),
		ReplyToURI: "at://did:plc:them/app.bsky.feed.post/parent1",
	}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if !res.OK() {
		t.Fatalf("publish failed: %v", res.Err)
	}

	rec := records.created[0].post
	if rec.Reply == nil {
		t.Fatal("comment record missing reply ref")
	}
	if rec.Reply.Parent.URI != "at://did:plc:them/app.bsky.feed.post/parent1" ||
		rec.Reply.Parent.CID != "cidparent" {
		t.Errorf("unexpected parent ref: %+v", rec.Reply.Parent)
	}
	if rec.Reply.Root.URI != "at://did:plc:them/app.bsky.feed.post/root1" ||
		rec.Reply.Root.CID != "cidroot" {
		t.Errorf("unexpected root ref: %+v", rec.Reply.Root)
	}
}

func TestPublishDeleteClearsLinkage(t *testing.T) {
	records := newFakeRecords()
	outbox := newMemOutbox()
	outbox.extURI[1] = "at://did:plc:me/app.bsky.feed.post/rk1"
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), outbox, nil, 300)

	post := &domain.LocalPost{
		ID:      1,
		Deleted: true,
		ExtURI:  "at://did:plc:me/app.bsky.feed.post/rk1",
	}
	pub.PublishDelete(context.Background(), testAccount(), post)

	if len(records.deleted) != 1 || records.deleted[0] != "app.bsky.feed.post/rk1" {
		t.Errorf("unexpected delete calls: %v", records.deleted)
	}
	if _, ok := outbox.extURI[1]; ok {
		t.Error("external ref should be cleared after delete")
	}
}

func TestPublishLinkEmbedWithoutThumbnailOnFailure(t *testing.T) {
	records := newFakeRecords()
	blobs := &fakeBlobService{err: fmt.Errorf("%w: thumb upload", domain.ErrTransport)}
	renderer := &fakeRenderer{
		link: &domain.LinkPreview{
			URI:         "https://example.test/article",
			Title:       "An article",
			Description: "Worth reading",
			Preview:     &domain.Image{Data: []byte("ignored"), MimeType: "image/png"},
		},
	}
	pub := newTestPublisher(records, renderer, newMemPostStore(), newMemOutbox(), blobs, 300)

	post := &domain.LocalPost{ID: 1, Body: "look at this", CreatedAt: time.Now().UTC()}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if !res.OK() {
		t.Fatalf("thumbnail failure must not fail the post: %v", res.Err)
	}

	embed, ok := records.created[0].post.Embed.(*atproto.EmbedExternal)
	if !ok {
		t.Fatalf("expected an external embed, got %T", records.created[0].post.Embed)
	}
	if embed.External.URI != "https://example.test/article" {
		t.Errorf("unexpected embed URI: %q", embed.External.URI)
	}
	if embed.External.Thumb != nil {
		t.Error("thumbnail should be absent after upload failure")
	}
}

func TestPublishLanguagesCarriedOnEverySegment(t *testing.T) {
	records := newFakeRecords()
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), newMemOutbox(), nil, 100)

	body := strings.Repeat("guten tag liebe leute ", 10)
	post := &domain.LocalPost{
		ID:        1,
		Body:      body,
		Langs:     []string{"de", "en"},
		CreatedAt: time.Now().UTC(),
	}
	res := pub.PublishPost(context.Background(), testAccount(), post, 0)
	if !res.OK() {
		t.Fatalf("publish failed: %v", res.Err)
	}
	if len(records.created) < 2 {
		t.Fatalf("expected a fragmented thread, got %d records", len(records.created))
	}

	for i, cr := range records.created {
		if len(cr.post.Langs) != 2 || cr.post.Langs[0] != "de" || cr.post.Langs[1] != "en" {
			t.Errorf("segment %d langs = %v, want [de en]", i, cr.post.Langs)
		}
	}
}

func TestPublishActivityLikeResolvesSubject(t *testing.T) {
	posts := newMemPostStore()
	posts.byURI["at://did:plc:them/app.bsky.feed.post/rk9"] = &domain.RemotePost{
		URI: "at://did:plc:them/app.bsky.feed.post/rk9",
		CID: "cid9",
	}
	records := newFakeRecords()
	outbox := newMemOutbox()
	pub := newTestPublisher(records, &fakeRenderer{}, posts, outbox, nil, 300)

	act := &domain.LocalActivity{
		ID:     3,
		Verb:   domain.VerbLike,
		Target: "at://did:plc:them/app.bsky.feed.post/rk9",
	}
	res := pub.PublishActivity(context.Background(), testAccount(), act)
	if !res.OK() {
		t.Fatalf("publish failed: %v", res.Err)
	}

	if len(records.created) != 1 || records.created[0].collection != atproto.CollectionLike {
		t.Fatalf("unexpected create calls: %+v", records.created)
	}
	like, ok := records.created[0].record.(*atproto.SubjectRecord)
	if !ok {
		t.Fatalf("expected a subject record, got %T", records.created[0].record)
	}
	if like.Type != atproto.TypeLike {
		t.Errorf("record type = %q", like.Type)
	}
	if like.Subject.URI != "at://did:plc:them/app.bsky.feed.post/rk9" || like.Subject.CID != "cid9" {
		t.Errorf("unexpected subject: %+v", like.Subject)
	}
	if outbox.activityURI[3] == "" {
		t.Error("activity ref not recorded")
	}
	if act.ExtURI == "" || act.ExtCID == "" {
		t.Error("activity should carry its remote locator after publish")
	}
}

func TestPublishActivityAnnounceCreatesRepost(t *testing.T) {
	posts := newMemPostStore()
	posts.byURI["at://did:plc:them/app.bsky.feed.post/rk9"] = &domain.RemotePost{
		URI: "at://did:plc:them/app.bsky.feed.post/rk9",
		CID: "cid9",
	}
	records := newFakeRecords()
	pub := newTestPublisher(records, &fakeRenderer{}, posts, newMemOutbox(), nil, 300)

	act := &domain.LocalActivity{
		ID:     4,
		Verb:   domain.VerbAnnounce,
		Target: "at://did:plc:them/app.bsky.feed.post/rk9",
	}
	res := pub.PublishActivity(context.Background(), testAccount(), act)
	if !res.OK() {
		t.Fatalf("publish failed: %v", res.Err)
	}

	if records.created[0].collection != atproto.CollectionRepost {
		t.Errorf("collection = %q", records.created[0].collection)
	}
	repost := records.created[0].record.(*atproto.SubjectRecord)
	if repost.Type != atproto.TypeRepost {
		t.Errorf("record type = %q", repost.Type)
	}
}

func TestPublishActivityFollowAndBlockTargetActor(t *testing.T) {
	for verb, want := range map[string]struct{ collection, typ string }{
		domain.VerbFollow: {atproto.CollectionFollow, atproto.TypeFollow},
		domain.VerbBlock:  {atproto.CollectionBlock, atproto.TypeBlock},
	} {
		records := newFakeRecords()
		pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), newMemOutbox(), nil, 300)

		act := &domain.LocalActivity{ID: 5, Verb: verb, Target: "did:plc:them"}
		res := pub.PublishActivity(context.Background(), testAccount(), act)
		if !res.OK() {
			t.Fatalf("%s failed: %v", verb, res.Err)
		}

		if records.created[0].collection != want.collection {
			t.Errorf("%s collection = %q", verb, records.created[0].collection)
		}
		rec, ok := records.created[0].record.(*atproto.ActorRecord)
		if !ok {
			t.Fatalf("%s: expected an actor record, got %T", verb, records.created[0].record)
		}
		if rec.Type != want.typ || rec.Subject != "did:plc:them" {
			t.Errorf("%s record = %+v", verb, rec)
		}
	}
}

func TestPublishActivityUnknownVerbRejected(t *testing.T) {
	records := newFakeRecords()
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), newMemOutbox(), nil, 300)

	act := &domain.LocalActivity{ID: 6, Verb: "poke", Target: "did:plc:them"}
	res := pub.PublishActivity(context.Background(), testAccount(), act)
	if res.OK() {
		t.Fatal("unknown verb must be rejected")
	}
	if !errors.Is(res.Err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", res.Err)
	}
	if res.Retryable {
		t.Error("validation failures must not be retryable")
	}
	if len(records.created) != 0 {
		t.Errorf("no records should be created, got %d", len(records.created))
	}
}

func TestPublishActivityMissingSubjectIsFinal(t *testing.T) {
	records := newFakeRecords()
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), newMemOutbox(), nil, 300)

	act := &domain.LocalActivity{
		ID:     7,
		Verb:   domain.VerbLike,
		Target: "at://did:plc:them/app.bsky.feed.post/gone",
	}
	res := pub.PublishActivity(context.Background(), testAccount(), act)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", res.Err)
	}
	if res.Retryable {
		t.Error("a missing mirror will not appear on retry")
	}
}

func TestPublishActivityTransportFailureDefers(t *testing.T) {
	records := newFakeRecords()
	records.failAt = 0
	outbox := newMemOutbox()
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), outbox, nil, 300)

	act := &domain.LocalActivity{ID: 8, Verb: domain.VerbFollow, Target: "did:plc:them"}
	res := pub.PublishActivity(context.Background(), testAccount(), act)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !res.Retryable {
		t.Error("transport failures must defer for retry")
	}
	if outbox.activityURI[8] != "" {
		t.Error("no activity ref should be recorded")
	}
}

func TestPublishUndoDeletesRecordAndClearsRef(t *testing.T) {
	records := newFakeRecords()
	outbox := newMemOutbox()
	outbox.activityURI[9] = "at://did:plc:me/app.bsky.feed.like/rk1"
	pub := newTestPublisher(records, &fakeRenderer{}, newMemPostStore(), outbox, nil, 300)

	act := &domain.LocalActivity{
		ID:     9,
		Verb:   domain.VerbLike,
		Undone: true,
		ExtURI: "at://did:plc:me/app.bsky.feed.like/rk1",
	}
	pub.PublishUndo(context.Background(), testAccount(), act)

	if len(records.deleted) != 1 || records.deleted[0] != "app.bsky.feed.like/rk1" {
		t.Errorf("unexpected delete calls: %v", records.deleted)
	}
	if _, ok := outbox.activityURI[9]; ok {
		t.Error("activity ref should be cleared after undo")
	}
}
