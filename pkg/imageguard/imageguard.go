// Package imageguard implements C3 (spec §4.3): perceptual-hash image
// blocking and optional watermarking. Media-type sniffing is grounded on
// the teacher's attachment pipeline use of github.com/h2non/filetype;
// watermark compositing uses github.com/disintegration/imaging and
// golang.org/x/image, both present in the wider example pack's manifests.
package imageguard

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
)

const component = "imageguard"

// blockedImageStore is the slice of Store this package depends on, kept
// narrow so tests can fake it without a real SQLite file.
type blockedImageStore interface {
	LookupBlocked(ctx context.Context, pairID int64, phash uint64) (*model.BlockedImage, bool, error)
	BlockImage(ctx context.Context, b *model.BlockedImage) error
}

type Guard struct {
	store     blockedImageStore
	threshold int
}

func New(store blockedImageStore, threshold int) *Guard {
	if threshold <= 0 {
		threshold = 5
	}
	return &Guard{store: store, threshold: threshold}
}

// SniffMediaTag classifies raw bytes the way the pipeline needs before
// deciding whether an image even qualifies for pHash/watermark work
// (spec §4.6 step 2: "media_tag ∈ {photo, image-document}").
func SniffMediaTag(data []byte) model.MediaTag {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return model.MediaUnknown
	}
	switch kind.MIME.Type {
	case "image":
		return model.MediaPhoto
	case "video":
		return model.MediaVideo
	case "audio":
		return model.MediaAudio
	default:
		return model.MediaDocument
	}
}

// BlockCheck decodes data, computes its perceptual hash, and reports
// whether it matches a blocked entry within that entry's Hamming
// threshold (spec §4.3).
func (g *Guard) BlockCheck(ctx context.Context, pairID int64, data []byte) (*model.BlockedImage, bool, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, errs.Permanent(fmt.Errorf("decode image: %w", err))
	}
	hash := computePHash(img)
	entry, blocked, err := g.store.LookupBlocked(ctx, pairID, hash)
	if err != nil {
		return nil, false, err
	}
	return entry, blocked, nil
}

// Block records data's perceptual hash as blocked, scoped to pairID (0
// means global).
func (g *Guard) Block(ctx context.Context, pairID int64, data []byte, note string) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return errs.Permanent(fmt.Errorf("decode image: %w", err))
	}
	scope := model.ScopeGlobal
	if pairID != 0 {
		scope = model.ScopePair
	}
	return g.store.BlockImage(ctx, &model.BlockedImage{
		PHash:     computePHash(img),
		Scope:     scope,
		PairID:    pairID,
		Threshold: g.threshold,
		Note:      note,
	})
}

// Watermark renders text onto the image in data per spec §4.3's layout
// rules. On any failure it logs and returns the original bytes unchanged
// — watermarking must never fail a dispatch.
func Watermark(data []byte, text string) []byte {
	if text == "" {
		return data
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.WarnCF(component, "Watermark skipped: decode failed", map[string]any{"error": err.Error()})
		return data
	}

	out, err := renderWatermark(img, text)
	if err != nil {
		logger.WarnCF(component, "Watermark skipped: render failed", map[string]any{"error": err.Error()})
		return data
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 95}); err != nil {
		logger.WarnCF(component, "Watermark skipped: encode failed", map[string]any{"error": err.Error()})
		return data
	}
	return buf.Bytes()
}

// renderWatermark draws a drop-shadow-then-foreground text layer centered
// horizontally with its baseline at 60% of the image height, font size
// max(12, round(0.07 * width)) (spec §4.3).
func renderWatermark(img image.Image, text string) (image.Image, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	canvas := imaging.Clone(img)

	fontSize := (width*7 + 50) / 100
	if fontSize < 12 {
		fontSize = 12
	}
	scale := fontSize / 13 // basicfont.Face7x13 glyphs are ~13px tall; scale by nearest-neighbor resize of the rendered label
	if scale < 1 {
		scale = 1
	}

	label := renderLabel(text, scale)
	labelBounds := label.Bounds()

	baselineY := int(float64(height) * 0.6)
	destX := (width - labelBounds.Dx()) / 2
	destY := baselineY - labelBounds.Dy()

	shadow := imaging.AdjustFunc(label, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: 0, G: 0, B: 0, A: scaleAlpha(c.A, 80)}
	})
	canvas = imaging.Overlay(canvas, shadow, image.Pt(destX+2, destY+2), 1.0)

	foreground := imaging.AdjustFunc(label, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: 255, G: 255, B: 255, A: scaleAlpha(c.A, 100)}
	})
	canvas = imaging.Overlay(canvas, foreground, image.Pt(destX, destY), 1.0)

	return canvas, nil
}

// renderLabel draws text with golang.org/x/image's bundled bitmap face
// (basicfont.Face7x13 — "implementation chooses best-available face" per
// spec §4.3) onto a transparent canvas, then scales it up to approximate
// the target font size.
func renderLabel(text string, scale int) image.Image {
	face := basicfont.Face7x13
	var width fixed.Int26_6
	for _, r := range text {
		a, ok := face.GlyphAdvance(r)
		if !ok {
			a = face.Advance
		}
		width += a
	}
	w := width.Ceil()
	if w < 1 {
		w = 1
	}
	h := 13

	base := image.NewNRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  base,
		Src:  image.NewUniform(color.NRGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.P(0, h-3),
	}
	d.DrawString(text)

	if scale <= 1 {
		return base
	}
	return imaging.Resize(base, w*scale, h*scale, imaging.NearestNeighbor)
}

func scaleAlpha(a uint8, targetOf255 int) uint8 {
	if a == 0 {
		return 0
	}
	return uint8(targetOf255)
}
