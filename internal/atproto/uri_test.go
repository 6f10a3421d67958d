package atproto

import "testing"

func TestParseURI(t *testing.T) {
	uri, err := ParseURI("at://did:plc:abc123/app.bsky.feed.post/3kxyz")
	if err != nil {
		t.Fatal(err)
	}
	if uri.Repo != "did:plc:abc123" {
		t.Errorf("repo = %q", uri.Repo)
	}
	if uri.Collection != "app.bsky.feed.post" {
		t.Errorf("collection = %q", uri.Collection)
	}
	if uri.RKey != "3kxyz" {
		t.Errorf("rkey = %q", uri.RKey)
	}
}

func TestParseURIRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"https://bsky.app/profile/alice",
		"at://",
		"at://did:plc:abc123",
		"at://did:plc:abc123/app.bsky.feed.post",
		"at://did:plc:abc123//3kxyz",
		"at://did:plc:abc123/app.bsky.feed.post/3kxyz/extra",
	} {
		if _, err := ParseURI(raw); err == nil {
			t.Errorf("ParseURI(%q) accepted malformed input", raw)
		}
	}
}

func TestURIRoundTrip(t *testing.T) {
	raw := MakeURI("did:plc:abc123", "app.bsky.feed.like", "3kaaa")
	uri, err := ParseURI(raw)
	if err != nil {
		t.Fatal(err)
	}
	if uri.String() != raw {
		t.Errorf("round trip got %q, want %q", uri.String(), raw)
	}
}
