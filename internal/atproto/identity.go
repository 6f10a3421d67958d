package atproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

const plcDirectory = "https://plc.directory"

// ResolveDID resolves a handle to its DID via the public resolveHandle
// endpoint on the default PDS.
func (c *Client) ResolveDID(ctx context.Context, handle string) (string, error) {
	params := url.Values{}
	params.Set("handle", handle)

	var resp struct {
		DID string `json:"did"`
	}
	err := c.do(ctx, http.MethodGet, DefaultPDS, "com.atproto.identity.resolveHandle", "", params, nil, &resp)
	if err != nil {
		return "", fmt.Errorf("resolve handle %s: %w", handle, err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("resolve handle %s: %w: empty DID in response", handle, domain.ErrTransport)
	}
	return resp.DID, nil
}

// ResolvePDS looks up the DID document and returns the atproto PDS service
// endpoint. Supports did:plc via the PLC directory and did:web.
func (c *Client) ResolvePDS(ctx context.Context, did string) (string, error) {
	var docURL string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		docURL = plcDirectory + "/" + did
	case strings.HasPrefix(did, "did:web:"):
		docURL = "https://" + strings.TrimPrefix(did, "did:web:") + "/.well-known/did.json"
	default:
		return "", fmt.Errorf("resolve pds: unsupported DID method: %s", did)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch DID document: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read DID document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch DID document: %w: status %d", domain.ErrTransport, resp.StatusCode)
	}

	var doc struct {
		Service []struct {
			ID              string `json:"id"`
			Type            string `json:"type"`
			ServiceEndpoint string `json:"serviceEndpoint"`
		} `json:"service"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unmarshal DID document: %w", err)
	}

	for _, svc := range doc.Service {
		if svc.ID == "#atproto_pds" || svc.Type == "AtprotoPersonalDataServer" {
			if svc.ServiceEndpoint != "" {
				return svc.ServiceEndpoint, nil
			}
		}
	}
	return "", fmt.Errorf("resolve pds: %w: no atproto_pds service in DID document for %s", domain.ErrNotFound, did)
}
