package atproto

import (
	"context"
	"fmt"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

// CreateRecord writes a record into the account's repository and returns the
// strong reference of the created version.
func (c *Client) CreateRecord(ctx context.Context, acct *domain.Account, collection string, record any) (*StrongRef, error) {
	body := struct {
		Repo       string `json:"repo"`
		Collection string `json:"collection"`
		Record     any    `json:"record"`
	}{
		Repo:       acct.DID,
		Collection: collection,
		Record:     record,
	}

	var ref StrongRef
	if err := c.Post(ctx, acct, "com.atproto.repo.createRecord", body, &ref); err != nil {
		return nil, fmt.Errorf("create record in %s: %w", collection, err)
	}
	if ref.URI == "" {
		return nil, fmt.Errorf("create record in %s: %w: empty ref in response", collection, domain.ErrTransport)
	}
	return &ref, nil
}

// DeleteRecord removes a record from the account's repository.
func (c *Client) DeleteRecord(ctx context.Context, acct *domain.Account, collection, rkey string) error {
	body := struct {
		Repo       string `json:"repo"`
		Collection string `json:"collection"`
		RKey       string `json:"rkey"`
	}{
		Repo:       acct.DID,
		Collection: collection,
		RKey:       rkey,
	}

	if err := c.Post(ctx, acct, "com.atproto.repo.deleteRecord", body, nil); err != nil {
		return fmt.Errorf("delete record %s/%s: %w", collection, rkey, err)
	}
	return nil
}
