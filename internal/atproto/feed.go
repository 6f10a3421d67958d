package atproto

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

// ProfileView is the hydrated actor shape embedded in feed responses.
type ProfileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// PostView is a hydrated post as returned by feed and thread endpoints.
type PostView struct {
	URI        string      `json:"uri"`
	CID        string      `json:"cid"`
	Author     ProfileView `json:"author"`
	Record     FeedPost    `json:"record"`
	ReplyCount int         `json:"replyCount"`
	IndexedAt  time.Time   `json:"indexedAt"`
}

// FeedReply carries the hydrated thread context of a feed entry.
type FeedReply struct {
	Root   PostView `json:"root"`
	Parent PostView `json:"parent"`
}

// RepostReason marks a feed entry that appears because someone reposted it.
type RepostReason struct {
	Type      string      `json:"$type"`
	By        ProfileView `json:"by"`
	IndexedAt time.Time   `json:"indexedAt"`
}

// FeedViewPost is one entry of a timeline or curated feed page.
type FeedViewPost struct {
	Post   PostView      `json:"post"`
	Reply  *FeedReply    `json:"reply,omitempty"`
	Reason *RepostReason `json:"reason,omitempty"`
}

// ThreadViewPost is a node of a getPostThread response.
type ThreadViewPost struct {
	Post    *PostView         `json:"post"`
	Parent  *ThreadViewPost   `json:"parent,omitempty"`
	Replies []*ThreadViewPost `json:"replies,omitempty"`
}

// Notification is one entry of a listNotifications page. Reason stays a raw
// string here; the reconciler parses it into its closed enum.
type Notification struct {
	URI           string      `json:"uri"`
	CID           string      `json:"cid"`
	Author        ProfileView `json:"author"`
	Reason        string      `json:"reason"`
	ReasonSubject string      `json:"reasonSubject"`
	IsRead        bool        `json:"isRead"`
	IndexedAt     time.Time   `json:"indexedAt"`
}

// FeedGeneratorView describes a curated feed.
type FeedGeneratorView struct {
	URI         string `json:"uri"`
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
}

// GetTimeline fetches a page of the account's home timeline, newest first.
func (c *Client) GetTimeline(ctx context.Context, acct *domain.Account, limit int) ([]FeedViewPost, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Feed []FeedViewPost `json:"feed"`
	}
	if err := c.Get(ctx, acct, "app.bsky.feed.getTimeline", params, &resp); err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	return resp.Feed, nil
}

// GetFeed fetches a page of a curated feed, newest first.
func (c *Client) GetFeed(ctx context.Context, acct *domain.Account, feedURI string, limit int) ([]FeedViewPost, error) {
	params := url.Values{}
	params.Set("feed", feedURI)
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Feed []FeedViewPost `json:"feed"`
	}
	if err := c.Get(ctx, acct, "app.bsky.feed.getFeed", params, &resp); err != nil {
		return nil, fmt.Errorf("get feed %s: %w", feedURI, err)
	}
	return resp.Feed, nil
}

// GetFeedGenerator fetches the descriptor of a curated feed.
func (c *Client) GetFeedGenerator(ctx context.Context, acct *domain.Account, feedURI string) (*FeedGeneratorView, error) {
	params := url.Values{}
	params.Set("feed", feedURI)

	var resp struct {
		View FeedGeneratorView `json:"view"`
	}
	if err := c.Get(ctx, acct, "app.bsky.feed.getFeedGenerator", params, &resp); err != nil {
		return nil, fmt.Errorf("get feed generator %s: %w", feedURI, err)
	}
	return &resp.View, nil
}

// ListNotifications fetches a page of the account's notifications.
func (c *Client) ListNotifications(ctx context.Context, acct *domain.Account, limit int) ([]Notification, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Notifications []Notification `json:"notifications"`
	}
	if err := c.Get(ctx, acct, "app.bsky.notification.listNotifications", params, &resp); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return resp.Notifications, nil
}

// GetPost fetches a single hydrated post by URI.
func (c *Client) GetPost(ctx context.Context, acct *domain.Account, uri string) (*PostView, error) {
	params := url.Values{}
	params.Add("uris", uri)

	var resp struct {
		Posts []PostView `json:"posts"`
	}
	if err := c.Get(ctx, acct, "app.bsky.feed.getPosts", params, &resp); err != nil {
		return nil, fmt.Errorf("get post %s: %w", uri, err)
	}
	if len(resp.Posts) == 0 {
		return nil, fmt.Errorf("get post %s: %w", uri, domain.ErrNotFound)
	}
	return &resp.Posts[0], nil
}

// GetPostThread fetches a post with its ancestors and descendants up to the
// given depth.
func (c *Client) GetPostThread(ctx context.Context, acct *domain.Account, uri string, depth int) (*ThreadViewPost, error) {
	params := url.Values{}
	params.Set("uri", uri)
	params.Set("depth", strconv.Itoa(depth))

	var resp struct {
		Thread ThreadViewPost `json:"thread"`
	}
	if err := c.Get(ctx, acct, "app.bsky.feed.getPostThread", params, &resp); err != nil {
		return nil, fmt.Errorf("get post thread %s: %w", uri, err)
	}
	if resp.Thread.Post == nil {
		return nil, fmt.Errorf("get post thread %s: %w", uri, domain.ErrNotFound)
	}
	return &resp.Thread, nil
}
