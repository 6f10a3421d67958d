package outbound

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/domain"
)

type fakeBlobService struct {
	uploads []fakeUpload
	err     error
}

type fakeUpload struct {
	size     int
	mimeType string
}

func (f *fakeBlobService) UploadBlob(ctx context.Context, acct *domain.Account, data []byte, mimeType string) (*atproto.Blob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploads = append(f.uploads, fakeUpload{size: len(data), mimeType: mimeType})
	blob := &atproto.Blob{Type: "blob", MimeType: mimeType, Size: len(data)}
	blob.Ref.Link = "bafytest"
	return blob, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pngImage encodes a width x height PNG. Noisy pixels make it hard to
// compress so size-driven tests behave predictably.
func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestUploadSelectsCeilingByRetryCount(t *testing.T) {
	data := pngImage(t, 8, 8)
	img := domain.Image{Data: data, MimeType: "image/png", Alt: "test"}
	acct := &domain.Account{ID: 1}

	for retry := 0; retry < len(sizeLadder); retry++ {
		svc := &fakeBlobService{}
		u := NewUploader(svc, testLogger())

		blob, err := u.Upload(context.Background(), acct, img, retry)
		if err != nil {
			t.Fatalf("retry %d: %v", retry, err)
		}
		if blob == nil || blob.Ref.Link == "" {
			t.Fatalf("retry %d: no blob returned", retry)
		}
		if len(svc.uploads) != 1 {
			t.Fatalf("retry %d: expected 1 upload, got %d", retry, len(svc.uploads))
		}
		if svc.uploads[0].size > sizeLadder[retry] {
			t.Errorf("retry %d: uploaded %d bytes over ceiling %d",
				retry, svc.uploads[0].size, sizeLadder[retry])
		}
	}
}

func TestUploadFailsPastLadder(t *testing.T) {
	img := domain.Image{Data: pngImage(t, 8, 8), MimeType: "image/png"}
	u := NewUploader(&fakeBlobService{}, testLogger())

	_, err := u.Upload(context.Background(), &domain.Account{}, img, len(sizeLadder))
	if err == nil {
		t.Fatal("expected an error past the ladder end")
	}
	if !errors.Is(err, domain.ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

func TestUploadClampsNegativeRetry(t *testing.T) {
	svc := &fakeBlobService{}
	img := domain.Image{Data: pngImage(t, 8, 8), MimeType: "image/png"}
	u := NewUploader(svc, testLogger())

	if _, err := u.Upload(context.Background(), &domain.Account{}, img, -1); err != nil {
		t.Fatalf("negative retry should clamp to 0: %v", err)
	}
}

func TestUploadReencodesOversizedImage(t *testing.T) {
	// 256x256 noise does not fit the smallest ceiling as PNG; the
	// uploader must downscale and re-encode to JPEG.
	data := pngImage(t, 256, 256)
	if len(data) <= sizeLadder[len(sizeLadder)-1] {
		t.Skipf("test image unexpectedly small: %d bytes", len(data))
	}

	svc := &fakeBlobService{}
	u := NewUploader(svc, testLogger())
	img := domain.Image{Data: data, MimeType: "image/png"}

	_, err := u.Upload(context.Background(), &domain.Account{}, img, len(sizeLadder)-1)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if svc.uploads[0].size > sizeLadder[len(sizeLadder)-1] {
		t.Errorf("uploaded %d bytes over the %d ceiling",
			svc.uploads[0].size, sizeLadder[len(sizeLadder)-1])
	}
	if svc.uploads[0].mimeType != "image/jpeg" {
		t.Errorf("expected re-encode to image/jpeg, got %s", svc.uploads[0].mimeType)
	}
}

func TestUploadEmptyImageFails(t *testing.T) {
	u := NewUploader(&fakeBlobService{}, testLogger())
	_, err := u.Upload(context.Background(), &domain.Account{}, domain.Image{}, 0)
	if !errors.Is(err, domain.ErrEncoding) {
		t.Errorf("expected ErrEncoding for empty image, got %v", err)
	}
}

func TestUploadPropagatesServiceFailure(t *testing.T) {
	svc := &fakeBlobService{err: domain.ErrTransport}
	u := NewUploader(svc, testLogger())
	img := domain.Image{Data: pngImage(t, 8, 8), MimeType: "image/png"}

	_, err := u.Upload(context.Background(), &domain.Account{}, img, 0)
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}
