package inbound

// LanguagePolicy accepts posts whose declared languages intersect the
// configured list. An empty configuration accepts everything, as does a
// post with no declared language.
type LanguagePolicy struct {
	accept map[string]struct{}
}

// NewLanguagePolicy builds a policy from the configured language codes.
func NewLanguagePolicy(langs []string) *LanguagePolicy {
	p := &LanguagePolicy{}
	if len(langs) > 0 {
		p.accept = make(map[string]struct{}, len(langs))
		for _, l := range langs {
			p.accept[l] = struct{}{}
		}
	}
	return p
}

// IsAcceptable implements domain.LanguageFilter.
func (p *LanguagePolicy) IsAcceptable(text string, langs []string) bool {
	if p.accept == nil || len(langs) == 0 {
		return true
	}
	for _, l := range langs {
		if _, ok := p.accept[l]; ok {
			return true
		}
	}
	return false
}
