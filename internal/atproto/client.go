package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

// DefaultPDS is used when an account has no resolved endpoint yet.
const DefaultPDS = "https://bsky.social"

// Client is the XRPC transport for the bridge. It is account-agnostic: every
// call takes the account binding whose PDS and token pair it should use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an XRPC client with a 30 second request timeout.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Session is the token pair returned by createSession/refreshSession.
type Session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// CreateSession authenticates against the PDS with an app password.
func (c *Client) CreateSession(ctx context.Context, pds, identifier, password string) (*Session, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var sess Session
	if err := c.do(ctx, http.MethodPost, pds, "com.atproto.server.createSession", "", nil, body, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// RefreshSession exchanges the refresh token for a fresh token pair and
// updates the account in place. The caller persists the account.
func (c *Client) RefreshSession(ctx context.Context, acct *domain.Account) error {
	if acct.RefreshJwt == "" {
		return fmt.Errorf("refresh session: %w: no refresh token", domain.ErrAuth)
	}

	var sess Session
	if err := c.do(ctx, http.MethodPost, acct.PDS, "com.atproto.server.refreshSession", acct.RefreshJwt, nil, nil, &sess); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	acct.AccessJwt = sess.AccessJwt
	acct.RefreshJwt = sess.RefreshJwt
	return nil
}

// Get performs an authenticated XRPC query against the account's PDS.
func (c *Client) Get(ctx context.Context, acct *domain.Account, procedure string, params url.Values, out any) error {
	if acct.AccessJwt == "" {
		return fmt.Errorf("%s: %w: no access token", procedure, domain.ErrAuth)
	}
	return c.do(ctx, http.MethodGet, acct.PDS, procedure, acct.AccessJwt, params, nil, out)
}

// Post performs an authenticated XRPC procedure call against the account's PDS.
func (c *Client) Post(ctx context.Context, acct *domain.Account, procedure string, body, out any) error {
	if acct.AccessJwt == "" {
		return fmt.Errorf("%s: %w: no access token", procedure, domain.ErrAuth)
	}
	return c.do(ctx, http.MethodPost, acct.PDS, procedure, acct.AccessJwt, nil, body, out)
}

// UploadBlob submits raw bytes to com.atproto.repo.uploadBlob and returns
// the blob descriptor, or an error when the response carries none.
func (c *Client) UploadBlob(ctx context.Context, acct *domain.Account, data []byte, mimeType string) (*Blob, error) {
	if acct.AccessJwt == "" {
		return nil, fmt.Errorf("upload blob: %w: no access token", domain.ErrAuth)
	}

	endpoint := acct.PDS + "/xrpc/com.atproto.repo.uploadBlob"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+acct.AccessJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upload blob: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyError(resp.StatusCode, respBody, "com.atproto.repo.uploadBlob")
	}

	var result struct {
		Blob *Blob `json:"blob"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("upload blob: unmarshal response: %w", err)
	}
	if result.Blob == nil || result.Blob.Ref.Link == "" {
		return nil, fmt.Errorf("upload blob: %w: empty blob in response", domain.ErrTransport)
	}
	return result.Blob, nil
}

func (c *Client) do(ctx context.Context, method, base, procedure, token string, params url.Values, body, out any) error {
	if base == "" {
		base = DefaultPDS
	}

	endpoint := base + "/xrpc/" + procedure
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", procedure, domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", procedure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyError(resp.StatusCode, respBody, procedure)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: unmarshal response: %w", procedure, err)
		}
	}
	return nil
}

// classifyError maps an XRPC error response onto the bridge failure kinds.
func classifyError(status int, body []byte, procedure string) error {
	var xe struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &xe)

	kind := domain.ErrTransport
	switch {
	case status == http.StatusUnauthorized,
		xe.Error == "ExpiredToken",
		xe.Error == "InvalidToken",
		xe.Error == "AuthenticationRequired":
		kind = domain.ErrAuth
	case status == http.StatusNotFound,
		xe.Error == "RecordNotFound",
		xe.Error == "NotFound",
		xe.Error == "ActorNotFound":
		kind = domain.ErrNotFound
	}

	msg := xe.Message
	if msg == "" {
		msg = string(body)
	}
	return fmt.Errorf("%s: %w: %s (status %d)", procedure, kind, msg, status)
}
