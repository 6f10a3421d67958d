package atproto

// Collection NSIDs for the records this bridge reads and writes.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionFollow = "app.bsky.graph.follow"
	CollectionBlock  = "app.bsky.graph.block"
)

// Record $type values.
const (
	TypePost          = "app.bsky.feed.post"
	TypeLike          = "app.bsky.feed.like"
	TypeRepost        = "app.bsky.feed.repost"
	TypeFollow        = "app.bsky.graph.follow"
	TypeBlock         = "app.bsky.graph.block"
	TypeEmbedImages   = "app.bsky.embed.images"
	TypeEmbedExternal = "app.bsky.embed.external"
	TypeFacetLink     = "app.bsky.richtext.facet#link"
	TypeFacetTag      = "app.bsky.richtext.facet#tag"
)

// Blob is an AT Protocol blob reference for uploaded content.
type Blob struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// StrongRef addresses a specific record version by URI and CID.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef carries the thread linkage of a reply post.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// ByteSlice is a byte-offset range over the post text, end exclusive.
// Offsets count UTF-8 bytes of the final text, not characters.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature annotates a byte range as a link or a hashtag.
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Facet is a rich-text annotation over a range of the post text.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// EmbedImage is one entry of an images embed.
type EmbedImage struct {
	Image *Blob  `json:"image"`
	Alt   string `json:"alt"`
}

// EmbedImages attaches up to four uploaded images to a post.
type EmbedImages struct {
	Type   string       `json:"$type"`
	Images []EmbedImage `json:"images"`
}

// EmbedExternal attaches a link preview card to a post.
type EmbedExternal struct {
	Type     string       `json:"$type"`
	External ExternalCard `json:"external"`
}

// ExternalCard is the body of an external embed.
type ExternalCard struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumb       *Blob  `json:"thumb,omitempty"`
}

// FeedPost is the record body for app.bsky.feed.post.
type FeedPost struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs,omitempty"`
	Facets    []Facet   `json:"facets,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Embed     any       `json:"embed,omitempty"`
}

// SubjectRecord is the shared shape of like and repost records.
type SubjectRecord struct {
	Type      string    `json:"$type"`
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// ActorRecord is the shared shape of follow and block records, whose
// subject is a bare DID.
type ActorRecord struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}
