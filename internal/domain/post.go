package domain

import "time"

// PostReason classifies why an imported item exists locally. It is a closed
// set; remote reason strings are parsed into it at the payload boundary.
type PostReason int

const (
	ReasonNone PostReason = iota
	ReasonComment
	ReasonMention
	ReasonReply
	ReasonQuote
	ReasonTag
	ReasonFetched
	ReasonPushed
	ReasonAnnounce
)

func (r PostReason) String() string {
	switch r {
	case ReasonComment:
		return "comment"
	case ReasonMention:
		return "mention"
	case ReasonReply:
		return "reply"
	case ReasonQuote:
		return "quote"
	case ReasonTag:
		return "tag"
	case ReasonFetched:
		return "fetched"
	case ReasonPushed:
		return "pushed"
	case ReasonAnnounce:
		return "announce"
	default:
		return "none"
	}
}

// Contact is a local mirror of a remote actor, keyed by DID.
type Contact struct {
	ID     int64
	DID    string
	Handle string
	Name   string
	Avatar string
}

// RemotePost is a locally mirrored remote post or activity. Keyed by the
// canonical at:// URI; created only by the inbound reconciler.
type RemotePost struct {
	ID int64

	// GUID is the local item identifier assigned at insert.
	GUID string

	// URI is the canonical at:// URI (repo DID + collection + rkey).
	URI string
	CID string

	// AccountID is the bridged account whose pass imported this item.
	AccountID int64

	// ContactID references the author (or causer, for activities).
	ContactID int64

	// ParentURI and RootURI carry thread linkage; empty for top-level posts.
	ParentURI string
	RootURI   string

	Body      string
	Langs     []string
	Reason    PostReason
	CreatedAt time.Time

	// Verb is "post" for posts, "like"/"announce" for activity mirrors.
	Verb string
}

// LocalPost is a host-authored post as the bridge sees it: enough metadata
// to decide whether and how to federate it outward.
type LocalPost struct {
	ID        int64
	AccountID int64
	Body      string
	CreatedAt time.Time
	EditedAt  time.Time

	// Langs carries the host's declared language codes, when it supplies
	// any; published records carry them through.
	Langs []string

	// ReplyToURI is set when the post answers a mirrored remote post.
	ReplyToURI string

	// Federate marks the post for outbound publishing.
	Federate bool

	// ExtURI is the remote locator of the published root record; empty
	// until the first segment has been created remotely.
	ExtURI string
	ExtCID string

	Deleted bool
}

// Activity verbs shared between mirrors and the local outbox.
const (
	VerbPost     = "post"
	VerbLike     = "like"
	VerbAnnounce = "announce"
	VerbFollow   = "follow"
	VerbBlock    = "block"
)

// LocalActivity is a host-side interaction queued for outbound federation:
// a like or announce of a mirrored post, or a follow or block of an actor.
type LocalActivity struct {
	ID        int64
	AccountID int64

	// Verb is one of the activity verbs above ("post" excluded).
	Verb string

	// Target is the mirrored post's at:// URI for likes and announces,
	// or the actor DID for follows and blocks.
	Target string

	// Federate marks the activity for outbound publishing.
	Federate bool

	// ExtURI is the remote locator of the created activity record; empty
	// until published.
	ExtURI string
	ExtCID string

	// Undone marks the activity for remote removal.
	Undone bool

	CreatedAt time.Time
}

// FeedTag labels a mirrored post with the curated feed it arrived through.
type FeedTag struct {
	PostID int64
	Label  string
	URL    string
}
