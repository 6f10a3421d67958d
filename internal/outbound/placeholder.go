package outbound

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// PlaceholderKind classifies what a substituted token stood for.
type PlaceholderKind int

const (
	KindLink PlaceholderKind = iota
	KindTag
)

// Placeholder maps one original rich-text token to the short hash token
// substituted into the body and the display text that replaces the hash in
// the final segment.
type Placeholder struct {
	// Hash is the fixed-length token substituted into the body. Fixed
	// length keeps byte offsets of later tokens stable during the
	// substitution pass.
	Hash string

	// Display is the final visible text for this token.
	Display string

	Kind PlaceholderKind

	// Target is the link URI or the hashtag (without '#').
	Target string

	// Pos is the token's byte position in the original body. Entries are
	// resolved strictly in ascending Pos order.
	Pos int
}

// PlaceholderMap holds the placeholders of one post body, ordered by
// original position.
type PlaceholderMap struct {
	Entries []Placeholder
}

// maxLinkDisplay caps the visible length of a plain link, matching the
// client convention of truncating long URLs.
const maxLinkDisplay = 30

var tokenPattern = regexp.MustCompile(
	`\[url=([^\]]+)\]([^\[]*)\[/url\]` + // described link
		`|\[url\]([^\[]+)\[/url\]` + // plain link
		`|https?://[^\s\[\]]+` + // bare link
		`|#([\p{L}\p{N}_]+)`) // hashtag

// BuildPlaceholders scans the body for links and hashtags, substitutes each
// with a unique fixed-length hash token, and returns the prepared body plus
// the map needed to resolve the tokens after fragmentation. Tokens are
// processed low-to-high by original position.
func BuildPlaceholders(body string) (string, *PlaceholderMap) {
	matches := tokenPattern.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body, &PlaceholderMap{}
	}

	m := &PlaceholderMap{}
	var sb strings.Builder
	last := 0

	for i, loc := range matches {
		start, end := loc[0], loc[1]
		raw := body[start:end]

		var ph Placeholder
		switch {
		case loc[2] >= 0: // [url=uri]desc[/url]
			uri := body[loc[2]:loc[3]]
			desc := body[loc[4]:loc[5]]
			if desc == "" {
				desc = shortenLink(uri)
			}
			ph = Placeholder{Display: desc, Kind: KindLink, Target: uri}
		case loc[6] >= 0: // [url]uri[/url]
			uri := body[loc[6]:loc[7]]
			ph = Placeholder{Display: shortenLink(uri), Kind: KindLink, Target: uri}
		case loc[8] >= 0: // #hashtag
			tag := body[loc[8]:loc[9]]
			ph = Placeholder{Display: "#" + tag, Kind: KindTag, Target: tag}
		default: // bare link
			ph = Placeholder{Display: shortenLink(raw), Kind: KindLink, Target: raw}
		}

		// The entry index feeds the hash so that two tokens with the
		// same target still get distinct placeholders.
		ph.Hash = hashToken(ph.Target, i)
		ph.Pos = start
		m.Entries = append(m.Entries, ph)

		sb.WriteString(body[last:start])
		sb.WriteString(ph.Hash)
		last = end
	}
	sb.WriteString(body[last:])

	return sb.String(), m
}

// hashToken derives the substitution token for a target. All tokens have
// the same byte length.
func hashToken(target string, index int) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d", target, index)
	return fmt.Sprintf("@%08x@", h.Sum32())
}

// shortenLink produces the display form of a link: scheme stripped,
// truncated with an ellipsis when too long.
func shortenLink(uri string) string {
	display := strings.TrimPrefix(uri, "https://")
	display = strings.TrimPrefix(display, "http://")
	display = strings.TrimSuffix(display, "/")

	runes := []rune(display)
	if len(runes) > maxLinkDisplay {
		return string(runes[:maxLinkDisplay-1]) + "…"
	}
	return display
}
