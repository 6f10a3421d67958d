package atproto

import (
	"fmt"
	"strings"
)

// URI is a parsed at:// record locator: repo DID, collection NSID, record key.
type URI struct {
	Repo       string
	Collection string
	RKey       string
}

// ParseURI parses a canonical at://did/collection/rkey locator.
func ParseURI(raw string) (*URI, error) {
	rest, ok := strings.CutPrefix(raw, "at://")
	if !ok {
		return nil, fmt.Errorf("not an at:// URI: %q", raw)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("malformed at:// URI: %q", raw)
	}

	return &URI{
		Repo:       parts[0],
		Collection: parts[1],
		RKey:       parts[2],
	}, nil
}

func (u *URI) String() string {
	return fmt.Sprintf("at://%s/%s/%s", u.Repo, u.Collection, u.RKey)
}

// MakeURI builds the canonical locator for a record.
func MakeURI(repo, collection, rkey string) string {
	return fmt.Sprintf("at://%s/%s/%s", repo, collection, rkey)
}
