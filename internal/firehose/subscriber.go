package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
	didRefreshInterval = time.Minute
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream. Only post events matter for delete propagation.
var wantedCollections = []string{
	"app.bsky.feed.post",
}

// CursorStore persists the Jetstream resume cursor.
type CursorStore interface {
	GetStreamCursor(ctx context.Context, service string) (int64, error)
	UpdateStreamCursor(ctx context.Context, service string, cursor int64) error
}

// Subscriber watches the Jetstream firehose for deletions of posts authored
// by contacts we mirror, and removes the local mirrors so deleted remote
// content does not linger between reconciliation passes.
type Subscriber struct {
	url      string
	posts    domain.PostStore
	contacts domain.ContactStore
	cursors  CursorStore
	logger   *slog.Logger

	mu        sync.RWMutex
	watched   map[string]struct{}
	refreshed time.Time
}

// NewSubscriber creates a firehose delete-watcher.
func NewSubscriber(
	firehoseURL string,
	posts domain.PostStore,
	contacts domain.ContactStore,
	cursors CursorStore,
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:      firehoseURL,
		posts:    posts,
		contacts: contacts,
		cursors:  cursors,
		logger:   logger,
		watched:  map[string]struct{}{},
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					// backoff before reconnecting
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.cursors.GetStreamCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	if err := s.refreshWatched(ctx); err != nil {
		return fmt.Errorf("load watched DIDs: %w", err)
	}

	wsURL := s.buildURL(cursor)
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	lastCursorSave := time.Now()
	var latestCursor int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		latestCursor = event.TimeUS

		if event.Kind == "commit" && event.Commit != nil {
			if err := s.handleCommit(ctx, event); err != nil {
				s.logger.Error("failed to handle commit", "error", err)
			}
		}

		if time.Since(s.refreshed) >= didRefreshInterval {
			if err := s.refreshWatched(ctx); err != nil {
				s.logger.Warn("failed to refresh watched DIDs", "error", err)
			}
		}

		// Periodically save cursor
		if time.Since(lastCursorSave) >= cursorSaveInterval {
			if err := s.cursors.UpdateStreamCursor(ctx, cursorServiceName, latestCursor); err != nil {
				s.logger.Error("failed to save cursor", "error", err)
			} else {
				lastCursorSave = time.Now()
			}
		}
	}
}

func (s *Subscriber) handleCommit(ctx context.Context, event *jetstreamEvent) error {
	commit := event.Commit
	if commit.Operation != "delete" || commit.Collection != "app.bsky.feed.post" {
		return nil
	}

	s.mu.RLock()
	_, watched := s.watched[event.DID]
	s.mu.RUnlock()
	if !watched {
		return nil
	}

	uri := fmt.Sprintf("at://%s/%s/%s", event.DID, commit.Collection, commit.RKey)
	if err := s.posts.DeletePostByURI(ctx, uri); err != nil {
		return fmt.Errorf("delete mirror %s: %w", uri, err)
	}

	s.logger.Info("removed mirror of remotely deleted post", "uri", uri)
	return nil
}

// refreshWatched reloads the set of contact DIDs whose deletions we track.
func (s *Subscriber) refreshWatched(ctx context.Context) error {
	dids, err := s.contacts.KnownDIDs(ctx)
	if err != nil {
		return err
	}

	watched := make(map[string]struct{}, len(dids))
	for _, did := range dids {
		watched[did] = struct{}{}
	}

	s.mu.Lock()
	s.watched = watched
	s.refreshed = time.Now()
	s.mu.Unlock()
	return nil
}
