package outbound

import (
	"strings"

	"github.com/atbridge-dev/atbridge/internal/atproto"
)

// ExtractFacets rewrites a segment, replacing every placeholder token with
// its final display text, and records the byte-offset facet of each
// replacement computed over the final text. Entries are resolved in original
// document order, left to right, one occurrence each; a hash that does not
// appear in the segment is skipped.
func ExtractFacets(segment string, m *PlaceholderMap) (string, []atproto.Facet) {
	text := segment
	var facets []atproto.Facet

	for _, ph := range m.Entries {
		pos := strings.Index(text, ph.Hash)
		if pos < 0 {
			continue
		}

		text = text[:pos] + ph.Display + text[pos+len(ph.Hash):]

		feature := atproto.FacetFeature{}
		switch ph.Kind {
		case KindLink:
			feature.Type = atproto.TypeFacetLink
			feature.URI = ph.Target
		case KindTag:
			feature.Type = atproto.TypeFacetTag
			feature.Tag = ph.Target
		}

		facets = append(facets, atproto.Facet{
			Index: atproto.ByteSlice{
				ByteStart: pos,
				ByteEnd:   pos + len(ph.Display),
			},
			Features: []atproto.FacetFeature{feature},
		})
	}

	return text, facets
}
