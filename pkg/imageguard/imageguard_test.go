package imageguard

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunil55999/Zorox/pkg/model"
)

type fakeStore struct {
	blocked []model.BlockedImage
}

func (f *fakeStore) LookupBlocked(ctx context.Context, pairID int64, phash uint64) (*model.BlockedImage, bool, error) {
	for _, b := range f.blocked {
		if bits.OnesCount64(b.PHash^phash) <= b.Threshold {
			return &b, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) BlockImage(ctx context.Context, b *model.BlockedImage) error {
	f.blocked = append(f.blocked, *b)
	return nil
}

func solidImagePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSniffMediaTagImage(t *testing.T) {
	data := solidImagePNG(t, color.RGBA{255, 0, 0, 255})
	require.Equal(t, model.MediaPhoto, SniffMediaTag(data))
}

func TestSniffMediaTagUnknown(t *testing.T) {
	require.Equal(t, model.MediaUnknown, SniffMediaTag([]byte("not an image")))
}

func TestBlockCheckMatchesIdenticalImage(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	g := New(store, 5)

	data := solidImagePNG(t, color.RGBA{10, 20, 30, 255})
	require.NoError(t, g.Block(ctx, 0, data, "test block"))

	_, blocked, err := g.BlockCheck(ctx, 42, data)
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestBlockCheckDoesNotMatchUnrelatedImage(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	g := New(store, 2) // tight threshold

	blockedData := solidImagePNG(t, color.RGBA{0, 0, 0, 255})
	require.NoError(t, g.Block(ctx, 0, blockedData, ""))

	other := solidImagePNG(t, color.RGBA{255, 255, 255, 255})
	_, blocked, err := g.BlockCheck(ctx, 1, other)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestWatermarkReturnsOriginalOnDecodeFailure(t *testing.T) {
	garbage := []byte("definitely not an image")
	out := Watermark(garbage, "SIGNAL CORP")
	require.Equal(t, garbage, out)
}

func TestWatermarkNoopWithoutText(t *testing.T) {
	data := solidImagePNG(t, color.RGBA{1, 2, 3, 255})
	require.Equal(t, data, Watermark(data, ""))
}

func TestWatermarkProducesValidJPEG(t *testing.T) {
	data := solidImagePNG(t, color.RGBA{50, 60, 70, 255})
	out := Watermark(data, "PROMO")
	require.NotEmpty(t, out)
	_, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}
