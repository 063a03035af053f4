// Package loadx turns a user supplied file into a decoded image source.
//
// Any format registered with the image package is accepted: bmp, gif, jpeg,
// png, tiff and webp are registered here. Inputs wrapped in a zstd stream or
// a seekable zstd archive are unwrapped first. JPEG EXIF orientation is
// applied on decode, matching how the image is shown to the user.
package loadx

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"path"
	"sync/atomic"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/sebnyberg/cropview/region"
)

// ErrDecodeFailure is returned when a file is missing, unreadable or not a
// supported image.
var ErrDecodeFailure = errors.New("decode failure")

const (
	DefaultMaxBytes = 64 << 20
	// DefaultMaxPixels bounds the decoded size; an RGBA image this large
	// takes 256 MiB.
	DefaultMaxPixels = 64 << 20
)

var generation atomic.Uint64

// Source is a decoded image. It is never modified after Load returns and may
// be read from multiple goroutines.
type Source struct {
	Image  image.Image
	Format string
	// Gen identifies the load. Every successful Load gets a new value.
	Gen uint64
	// Wrapped is set when the file was unwrapped from zstd before decoding.
	Wrapped bool
}

type options struct {
	maxBytes   int64
	maxPixels  int64
	autoOrient bool
}

type Option func(*options)

// WithMaxBytes limits how many bytes are read from the input, after zstd
// unwrapping.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithMaxPixels rejects images whose header declares more than n pixels,
// before any pixel data is decoded.
func WithMaxPixels(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPixels = n
		}
	}
}

func WithAutoOrient(enabled bool) Option {
	return func(o *options) {
		o.autoOrient = enabled
	}
}

// LoadFile loads the image found at p. For more info, see Load().
func LoadFile(p string, opts ...Option) (*Source, error) {
	p = path.Clean(p)
	f, err := os.OpenFile(p, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open file %q err, %w", ErrDecodeFailure, p, err)
	}
	defer f.Close()
	return Load(f, opts...)
}

// Load reads and decodes an image from r. All errors wrap ErrDecodeFailure.
func Load(r io.Reader, opts ...Option) (*Source, error) {
	o := options{
		maxBytes:   DefaultMaxBytes,
		maxPixels:  DefaultMaxPixels,
		autoOrient: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := readLimited(r, o.maxBytes)
	if err != nil {
		return nil, err
	}
	var wrapped bool
	if isZstd(data) {
		data, err = unzstd(data, o.maxBytes)
		if err != nil {
			return nil, err
		}
		wrapped = true
	}

	// DecodeConfig rejects unknown formats before a full decode is attempted
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: read image config err, %w", ErrDecodeFailure, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s image has no pixels (%dx%d)", ErrDecodeFailure, format, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > o.maxPixels {
		return nil, fmt.Errorf("%w: %s image is %dx%d, limit is %d pixels", ErrDecodeFailure, format, cfg.Width, cfg.Height, o.maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(o.autoOrient))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s err, %w", ErrDecodeFailure, format, err)
	}

	return &Source{
		Image:   img,
		Format:  format,
		Gen:     generation.Add(1),
		Wrapped: wrapped,
	}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read err, %w", ErrDecodeFailure, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: input exceeds %d bytes", ErrDecodeFailure, limit)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecodeFailure)
	}
	return data, nil
}

// Size returns the natural size of the image.
func (s *Source) Size() image.Point {
	return s.Image.Bounds().Size()
}

// Dimensions returns the dimensions of the source when displayed at w x h.
func (s *Source) Dimensions(w, h float64) region.Dimensions {
	sz := s.Size()
	return region.Dimensions{
		NaturalWidth:    sz.X,
		NaturalHeight:   sz.Y,
		DisplayedWidth:  w,
		DisplayedHeight: h,
	}
}

// Layout returns the dimensions of the source when fitted inside a box of
// maxWidth x maxHeight, preserving aspect ratio. Images are never enlarged.
// Zero leaves the axis unconstrained.
func (s *Source) Layout(maxWidth, maxHeight int) region.Dimensions {
	sz := s.Size()
	scale := 1.0
	if maxWidth > 0 {
		scale = math.Min(scale, float64(maxWidth)/float64(sz.X))
	}
	if maxHeight > 0 {
		scale = math.Min(scale, float64(maxHeight)/float64(sz.Y))
	}
	return s.Dimensions(float64(sz.X)*scale, float64(sz.Y)*scale)
}
