// Package media prepares source photos before they are sent to a provider.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"

	"github.com/disintegration/imaging"
)

// DefaultMaxSide bounds the longest edge sent to providers.
const DefaultMaxSide = 2048

// ErrDecode is returned when the source is not a supported image.
var ErrDecode = errors.New("media: unsupported image")

// Image is a normalized, re-encoded picture.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Normalize applies EXIF orientation, downsizes so neither edge exceeds
// maxSide and re-encodes. Images with transparency stay PNG, the rest become JPEG.
func Normalize(data []byte, maxSide int) (*Image, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	format, mime := imaging.JPEG, "image/jpeg"
	if hasAlpha(img) {
		format, mime = imaging.PNG, "image/png"
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("media: encode: %w", err)
	}
	out := img.Bounds()
	return &Image{Data: buf.Bytes(), MIMEType: mime, Width: out.Dx(), Height: out.Dy()}, nil
}

// Sniff reports the content type of raw bytes.
func Sniff(data []byte) string {
	return http.DetectContentType(data)
}

func hasAlpha(img image.Image) bool {
	switch m := img.(type) {
	case *image.NRGBA:
		for i := 3; i < len(m.Pix); i += 4 {
			if m.Pix[i] != 0xff {
				return true
			}
		}
		return false
	case *image.RGBA:
		for i := 3; i < len(m.Pix); i += 4 {
			if m.Pix[i] != 0xff {
				return true
			}
		}
		return false
	default:
		return false
	}
}
