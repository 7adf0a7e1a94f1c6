package queue

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPreviewBoundsEdge(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1200, 600))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	rendition, err := RenderPreview(context.Background(), buf.Bytes(), 320)
	require.NoError(t, err)
	assert.NotEmpty(t, rendition)
	assert.Less(t, len(rendition), buf.Len())
}

func TestRenderPreviewUndecodable(t *testing.T) {
	_, err := RenderPreview(context.Background(), []byte("nope"), 320)
	assert.Error(t, err)
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 3, toInt(3))
	assert.Equal(t, 4, toInt(int64(4)))
	assert.Equal(t, 5, toInt("5"))
	assert.Equal(t, 0, toInt("not a number"))
	assert.Equal(t, 0, toInt(nil))
}
