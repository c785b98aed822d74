package pixel

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/krau/sketchline/apperr"
)

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

// StripDataURI drops a "data:...;base64," style prefix. Anything before the
// first comma is treated as the prefix.
func StripDataURI(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DataURIMediaType returns "image/png" for "data:image/png;base64,...", or ""
// when s carries no data URI prefix.
func DataURIMediaType(s string) string {
	i := strings.IndexByte(s, ',')
	if i < 0 || !strings.HasPrefix(s, "data:") {
		return ""
	}
	meta := s[len("data:"):i]
	if j := strings.IndexByte(meta, ';'); j >= 0 {
		meta = meta[:j]
	}
	return meta
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("empty image payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("invalid base64 image data: %w", err)
}

// DefaultMaxPixels bounds width*height when no other limit is given.
const DefaultMaxPixels = 40_000_000

// Decode parses a base64 payload, optionally data-URI prefixed, into an RGB
// buffer. See DecodeRaw for maxPixels.
func Decode(encoded string, maxPixels int) (*Buffer, error) {
	data, err := decodeBase64(StripDataURI(encoded))
	if err != nil {
		return nil, apperr.E(apperr.Decode, "pixel.Decode", err)
	}
	return DecodeRaw(data, maxPixels)
}

// DecodeRaw parses encoded image bytes in any registered format. Images
// whose header declares more than maxPixels pixels are rejected before any
// pixel data is read; maxPixels <= 0 means DefaultMaxPixels.
func DecodeRaw(data []byte, maxPixels int) (*Buffer, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.E(apperr.Decode, "pixel.Decode", fmt.Errorf("failed to decode image: %w", err))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, apperr.Errorf(apperr.Decode, "pixel.Decode",
			"image is %dx%d, limit is %d pixels", cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.E(apperr.Decode, "pixel.Decode", fmt.Errorf("failed to decode image: %w", err))
	}
	buf := FromImage(img)
	if err := buf.validate(); err != nil {
		return nil, apperr.E(apperr.Decode, "pixel.Decode", err)
	}
	return buf, nil
}

// EncodeBytes serializes b in format f.
func EncodeBytes(b *Buffer, f Format) ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	switch f {
	case PNG, "":
		if err := png.Encode(&out, b.Image()); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	case JPEG:
		if err := jpeg.Encode(&out, b.Image(), &jpeg.Options{Quality: 95}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", f)
	}
	return out.Bytes(), nil
}

// Encode serializes b in format f and returns it as unprefixed base64.
func Encode(b *Buffer, f Format) (string, error) {
	data, err := EncodeBytes(b, f)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
