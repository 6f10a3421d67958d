package outbound

import (
	"context"
	"fmt"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
)

// maxEmbedImages is the protocol limit on images per post; extras are
// dropped.
const maxEmbedImages = 4

// buildEmbed constructs the single embed for the final segment of a post.
// Any image upload failure fails the whole embed; a link thumbnail failure
// only drops the thumbnail. A message with neither images nor a link
// preview yields a nil embed.
func (p *Publisher) buildEmbed(ctx context.Context, acct *domain.Account, msg *domain.RenderedMessage, retryCount int) (any, error) {
	if msg.Type == domain.MessageLink && msg.Link != nil {
		embed := &atproto.EmbedExternal{
			Type: atproto.TypeEmbedExternal,
			External: atproto.ExternalCard{
				URI:         msg.Link.URI,
				Title:       msg.Link.Title,
				Description: msg.Link.Description,
			},
		}

		if msg.Link.Preview != nil {
			thumb, err := p.blobs.Upload(ctx, acct, *msg.Link.Preview, retryCount)
			if err != nil {
				p.logger.Warn("link thumbnail upload failed, attaching card without it",
					"uri", msg.Link.URI, "error", err)
			} else {
				embed.External.Thumb = thumb
			}
		}
		return embed, nil
	}

	if len(msg.Images) == 0 {
		return nil, nil
	}

	images := msg.Images
	if len(images) > maxEmbedImages {
		p.logger.Info("dropping images beyond embed limit",
			"total", len(images), "kept", maxEmbedImages)
		images = images[:maxEmbedImages]
	}

	embed := &atproto.EmbedImages{Type: atproto.TypeEmbedImages}
	for i, img := range images {
		blob, err := p.blobs.Upload(ctx, acct, img, retryCount)
		if err != nil {
			return nil, fmt.Errorf("embed image %d: %w", i, err)
		}
		embed.Images = append(embed.Images, atproto.EmbedImage{
			Image: blob,
			Alt:   img.Alt,
		})
	}
	return embed, nil
}
