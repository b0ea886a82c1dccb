package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: alpha})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeDownscalesToJPEG(t *testing.T) {
	out, err := Normalize(encodePNG(t, 400, 200, 0xff), 100)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.MIMEType)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 50, out.Height)
	assert.Equal(t, "image/jpeg", Sniff(out.Data))
}

func TestNormalizeKeepsTransparency(t *testing.T) {
	out, err := Normalize(encodePNG(t, 40, 40, 0x80), 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MIMEType)
	assert.Equal(t, 40, out.Width)
	assert.Equal(t, "image/png", Sniff(out.Data))
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("not an image"), 0)
	require.ErrorIs(t, err, ErrDecode)
}
