package outbound

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"

	_ "image/gif"
	_ "image/png"

	"github.com/nfnt/resize"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
)

// sizeLadder is the descending sequence of upload size ceilings, indexed by
// the caller's retry count. A retry count past the end fails the upload
// instead of wrapping around.
var sizeLadder = []int{1_000_000, 500_000, 100_000, 50_000}

// BlobService is the remote blob-upload capability the uploader submits to.
type BlobService interface {
	UploadBlob(ctx context.Context, acct *domain.Account, data []byte, mimeType string) (*atproto.Blob, error)
}

// Uploader re-encodes images under a size ceiling and submits them as blobs.
// It never retries on its own; the caller re-invokes the whole post flow
// with an incremented retry count.
type Uploader struct {
	blobs  BlobService
	logger *slog.Logger
}

// NewUploader creates a blob uploader.
func NewUploader(blobs BlobService, logger *slog.Logger) *Uploader {
	return &Uploader{blobs: blobs, logger: logger}
}

// Upload fits the image under the size ceiling selected by retryCount and
// submits it. Negative retry counts clamp to zero; counts at or past the
// ladder length fail with an encoding error.
func (u *Uploader) Upload(ctx context.Context, acct *domain.Account, img domain.Image, retryCount int) (*atproto.Blob, error) {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(sizeLadder) {
		return nil, fmt.Errorf("upload image: %w: retry count %d exceeds size ladder", domain.ErrEncoding, retryCount)
	}
	ceiling := sizeLadder[retryCount]

	data, mimeType, width, height, err := fitUnder(img, ceiling)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	u.logger.Debug("uploading image blob",
		"bytes", len(data),
		"ceiling", ceiling,
		"width", width,
		"height", height,
		"mime_type", mimeType,
	)

	blob, err := u.blobs.UploadBlob(ctx, acct, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	return blob, nil
}

// fitUnder returns image bytes no larger than ceiling, re-encoding and
// downscaling as needed. Returns the bytes, their MIME type and the final
// pixel dimensions.
func fitUnder(img domain.Image, ceiling int) ([]byte, string, int, int, error) {
	if len(img.Data) == 0 {
		return nil, "", 0, 0, fmt.Errorf("%w: empty image", domain.ErrEncoding)
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("%w: decode: %v", domain.ErrEncoding, err)
	}
	bounds := decoded.Bounds()

	if len(img.Data) <= ceiling {
		return img.Data, img.MimeType, bounds.Dx(), bounds.Dy(), nil
	}

	// Scale the area by the byte ratio first, then keep shrinking until
	// the encoded size fits.
	scale := math.Sqrt(float64(ceiling) / float64(len(img.Data)))
	for attempt := 0; attempt < 8; attempt++ {
		width := int(float64(bounds.Dx()) * scale)
		if width < 1 {
			break
		}

		scaled := resize.Resize(uint(width), 0, decoded, resize.Lanczos3)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 80}); err != nil {
			return nil, "", 0, 0, fmt.Errorf("%w: encode: %v", domain.ErrEncoding, err)
		}

		if buf.Len() <= ceiling {
			b := scaled.Bounds()
			return buf.Bytes(), "image/jpeg", b.Dx(), b.Dy(), nil
		}
		scale *= 0.8
	}

	return nil, "", 0, 0, fmt.Errorf("%w: could not fit image under %d bytes", domain.ErrEncoding, ceiling)
}
