package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

func testClient() *Client {
	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testAccount(pds string) *domain.Account {
	return &domain.Account{
		ID:        1,
		DID:       "did:plc:me",
		PDS:       pds,
		AccessJwt: "access-token",
	}
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.server.createSession" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["identifier"] != "alice.test" || body["password"] != "app-pass" {
			t.Errorf("unexpected credentials: %v", body)
		}
		json.NewEncoder(w).Encode(Session{
			AccessJwt:  "new-access",
			RefreshJwt: "new-refresh",
			Handle:     "alice.test",
			DID:        "did:plc:alice",
		})
	}))
	defer srv.Close()

	sess, err := testClient().CreateSession(context.Background(), srv.URL, "alice.test", "app-pass")
	if err != nil {
		t.Fatal(err)
	}
	if sess.AccessJwt != "new-access" || sess.DID != "did:plc:alice" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestRefreshSessionUpdatesAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer old-refresh" {
			t.Errorf("refresh must authenticate with the refresh token, got %q", got)
		}
		json.NewEncoder(w).Encode(Session{AccessJwt: "rotated-access", RefreshJwt: "rotated-refresh"})
	}))
	defer srv.Close()

	acct := testAccount(srv.URL)
	acct.RefreshJwt = "old-refresh"
	if err := testClient().RefreshSession(context.Background(), acct); err != nil {
		t.Fatal(err)
	}
	if acct.AccessJwt != "rotated-access" || acct.RefreshJwt != "rotated-refresh" {
		t.Errorf("tokens not rotated in place: %+v", acct)
	}
}

func TestRefreshSessionWithoutTokenIsAuthFailure(t *testing.T) {
	err := testClient().RefreshSession(context.Background(), &domain.Account{PDS: "http://unused.invalid"})
	if !errors.Is(err, domain.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
		want    error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"AuthenticationRequired"}`, domain.ErrAuth},
		{"expired token", http.StatusBadRequest, `{"error":"ExpiredToken","message":"token expired"}`, domain.ErrAuth},
		{"record not found", http.StatusBadRequest, `{"error":"RecordNotFound"}`, domain.ErrNotFound},
		{"http 404", http.StatusNotFound, `{}`, domain.ErrNotFound},
		{"server error", http.StatusInternalServerError, `{"error":"InternalServerError"}`, domain.ErrTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.payload))
			}))
			defer srv.Close()

			err := testClient().Get(context.Background(), testAccount(srv.URL), "app.bsky.feed.getTimeline", nil, nil)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGetWithoutTokenIsAuthFailure(t *testing.T) {
	err := testClient().Get(context.Background(), &domain.Account{PDS: "http://unused.invalid"}, "app.bsky.feed.getTimeline", nil, nil)
	if !errors.Is(err, domain.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestCreateRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.repo.createRecord" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Repo       string          `json:"repo"`
			Collection string          `json:"collection"`
			Record     json.RawMessage `json:"record"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Repo != "did:plc:me" || body.Collection != CollectionPost {
			t.Errorf("unexpected envelope: repo=%q collection=%q", body.Repo, body.Collection)
		}
		json.NewEncoder(w).Encode(StrongRef{
			URI: "at://did:plc:me/app.bsky.feed.post/3kxyz",
			CID: "bafyref",
		})
	}))
	defer srv.Close()

	record := &FeedPost{Type: TypePost, Text: "hello world", CreatedAt: "2026-08-30T10:00:00Z"}
	ref, err := testClient().CreateRecord(context.Background(), testAccount(srv.URL), CollectionPost, record)
	if err != nil {
		t.Fatal(err)
	}
	if ref.URI != "at://did:plc:me/app.bsky.feed.post/3kxyz" || ref.CID != "bafyref" {
		t.Errorf("unexpected ref: %+v", ref)
	}
}

func TestCreateRecordEmptyRefIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := testClient().CreateRecord(context.Background(), testAccount(srv.URL), CollectionPost, &FeedPost{})
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestUploadBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "image/jpeg" {
			t.Errorf("content type = %q", got)
		}
		w.Write([]byte(`{"blob":{"$type":"blob","ref":{"$link":"bafyblob"},"mimeType":"image/jpeg","size":3}}`))
	}))
	defer srv.Close()

	blob, err := testClient().UploadBlob(context.Background(), testAccount(srv.URL), []byte{1, 2, 3}, "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if blob.Ref.Link != "bafyblob" || blob.MimeType != "image/jpeg" {
		t.Errorf("unexpected blob: %+v", blob)
	}
}

func TestUploadBlobEmptyResponseIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := testClient().UploadBlob(context.Background(), testAccount(srv.URL), []byte{1}, "image/png")
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}
