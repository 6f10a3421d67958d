package domain

// MessageType distinguishes how a rendered message should be embedded.
type MessageType int

const (
	MessagePlain MessageType = iota
	MessageLink
)

// Image is an attachment queued for blob upload.
type Image struct {
	Data     []byte
	MimeType string
	Alt      string
}

// LinkPreview carries the fields for an external-link embed.
type LinkPreview struct {
	URI         string
	Title       string
	Description string

	// Preview is the optional thumbnail source; upload failure of the
	// thumbnail never fails the embed.
	Preview *Image
}

// RenderedMessage is the plain-text rendition of a post body with media and
// link metadata alongside. Text still carries the placeholder tokens that
// facet extraction resolves after fragmentation.
type RenderedMessage struct {
	Type   MessageType
	Text   string
	Langs  []string
	Images []Image
	Link   *LinkPreview
}
