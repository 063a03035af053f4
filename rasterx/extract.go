// Package rasterx extracts crop regions from decoded images.
//
// Extraction happens in two steps. Copy maps a displayed-space rectangle into
// native space and copies the pixels into a fresh surface. Encode turns that
// surface into JPEG bytes. Copy is cheap relative to encoding and only reads
// the source, so callers may run Copy synchronously and Encode in the
// background.
package rasterx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/sebnyberg/cropview/region"
)

var (
	// ErrExtractionFailure wraps every error produced by Copy and Encode
	// except context cancellation.
	ErrExtractionFailure = errors.New("extraction failure")
	ErrEncode            = errors.New("encode failure")
)

const DefaultQuality = 95

var interpolators = map[string]xdraw.Interpolator{
	"nearest":         xdraw.NearestNeighbor,
	"approx-bilinear": xdraw.ApproxBiLinear,
	"bilinear":        xdraw.BiLinear,
	"catmullrom":      xdraw.CatmullRom,
}

// ParseInterpolator returns the resampling kernel with the given name. The
// empty string selects catmullrom.
func ParseInterpolator(name string) (xdraw.Interpolator, error) {
	if name == "" {
		return xdraw.CatmullRom, nil
	}
	interp, ok := interpolators[name]
	if !ok {
		return nil, fmt.Errorf("unknown interpolator %q", name)
	}
	return interp, nil
}

// Copy copies the region r (displayed space) of src into a new surface at
// native resolution. dims must describe src.
//
// Regions reaching outside the image are clamped. Regions that are aligned to
// the native pixel grid are copied verbatim, anything else is resampled with
// interp (nil means catmullrom).
//
// The returned image may be handed back with Release once it is no longer
// needed.
func Copy(src image.Image, dims region.Dimensions, r region.Rect, interp xdraw.Interpolator) (*image.RGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrExtractionFailure)
	}
	sb := src.Bounds()
	if sb.Dx() != dims.NaturalWidth || sb.Dy() != dims.NaturalHeight {
		return nil, fmt.Errorf("%w: source is %dx%d, dimensions say %dx%d, %w", ErrExtractionFailure,
			sb.Dx(), sb.Dy(), dims.NaturalWidth, dims.NaturalHeight, region.ErrInvalidDimensions)
	}
	n, err := dims.Native(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, err)
	}
	if interp == nil {
		interp = xdraw.CatmullRom
	}

	dst := getImage(n.Size)
	if n.Aligned() {
		sp := image.Pt(int(n.MinX), int(n.MinY)).Add(sb.Min)
		draw.Draw(dst, dst.Bounds(), src, sp, draw.Src)
		return dst, nil
	}

	// Pooled surfaces are dirty, and the transform only writes pixels whose
	// source lies inside sb.
	draw.Draw(dst, dst.Bounds(), image.Transparent, image.Point{}, draw.Src)
	kx := float64(n.Size.X) / (n.MaxX - n.MinX)
	ky := float64(n.Size.Y) / (n.MaxY - n.MinY)
	s2d := f64.Aff3{
		kx, 0, -(n.MinX + float64(sb.Min.X)) * kx,
		0, ky, -(n.MinY + float64(sb.Min.Y)) * ky,
	}
	interp.Transform(dst, s2d, src, sb, draw.Src, nil)
	return dst, nil
}

// Encode encodes img as a JPEG of the given quality (1-100).
func Encode(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrExtractionFailure, ErrEncode, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Extractor extracts regions from one decoded image.
type Extractor struct {
	src     image.Image
	dims    region.Dimensions
	interp  xdraw.Interpolator
	quality int
}

type Option func(*Extractor)

func WithInterpolator(interp xdraw.Interpolator) Option {
	return func(e *Extractor) {
		e.interp = interp
	}
}

func WithQuality(q int) Option {
	return func(e *Extractor) {
		e.quality = q
	}
}

func NewExtractor(src image.Image, dims region.Dimensions, opts ...Option) *Extractor {
	e := &Extractor{
		src:     src,
		dims:    dims,
		interp:  xdraw.CatmullRom,
		quality: DefaultQuality,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract copies r out of the source and writes it as a JPEG to w.
func (e *Extractor) Extract(ctx context.Context, r region.Rect, w io.Writer) (image.Point, error) {
	dst, err := Copy(e.src, e.dims, r, e.interp)
	if err != nil {
		return image.Point{}, err
	}
	defer Release(dst)
	b, err := Encode(ctx, dst, e.quality)
	if err != nil {
		return image.Point{}, err
	}
	if _, err := w.Write(b); err != nil {
		return image.Point{}, err
	}
	return dst.Rect.Size(), nil
}
