package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/atbridge-dev/atbridge/internal/domain"
)

// maxImageFetch caps how many bytes of a referenced image are downloaded.
const maxImageFetch = 10 << 20

// Renderer converts the host's BBCode-flavoured post bodies into the plain
// text rendition the publisher fragments. Formatting markup is stripped and
// media pulled out of the body; link and hashtag tokens stay in the text
// for the placeholder pass that follows.
type Renderer struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRenderer creates a renderer that downloads referenced images over HTTP.
func NewRenderer(logger *slog.Logger) *Renderer {
	return &Renderer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

var (
	imgPattern        = regexp.MustCompile(`\[img(?:=([^\]]*))?\]([^\[]+)\[/img\]`)
	attachmentPattern = regexp.MustCompile(`\[attachment=([^\]]+)\]([^\[]*)\[/attachment\]`)
	formatPattern     = regexp.MustCompile(`\[/?(?:b|i|u|s|quote|code|center|h[1-6])\]`)
)

// Render implements domain.Renderer.
func (r *Renderer) Render(ctx context.Context, post *domain.LocalPost) (*domain.RenderedMessage, error) {
	body := post.Body
	msg := &domain.RenderedMessage{Type: domain.MessagePlain, Langs: post.Langs}

	for _, m := range imgPattern.FindAllStringSubmatch(body, -1) {
		alt, src := m[1], m[2]
		img, err := r.fetchImage(ctx, src, alt)
		if err != nil {
			return nil, fmt.Errorf("fetch image %s: %w", src, err)
		}
		msg.Images = append(msg.Images, *img)
	}
	body = imgPattern.ReplaceAllString(body, "")

	if m := attachmentPattern.FindStringSubmatch(body); m != nil {
		title, description, _ := strings.Cut(m[2], "|")
		msg.Type = domain.MessageLink
		msg.Link = &domain.LinkPreview{
			URI:         m[1],
			Title:       strings.TrimSpace(title),
			Description: strings.TrimSpace(description),
		}
		body = attachmentPattern.ReplaceAllString(body, "")
	}

	body = formatPattern.ReplaceAllString(body, "")
	msg.Text = strings.TrimSpace(body)
	return msg, nil
}

func (r *Renderer) fetchImage(ctx context.Context, src, alt string) (*domain.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrTransport, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageFetch))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return &domain.Image{Data: data, MimeType: mimeType, Alt: alt}, nil
}
