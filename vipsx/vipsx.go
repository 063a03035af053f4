//go:build vips

// Package vipsx extracts crop regions through libvips. It requires cgo and
// libvips, and is only built with the vips build tag.
package vipsx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/sebnyberg/cropview/rasterx"
	"github.com/sebnyberg/cropview/region"
)

var startOnce sync.Once

// Startup starts libvips once per process. Extract calls it on demand.
func Startup() {
	startOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelCritical)
		vips.Startup(nil)
	})
}

type Extractor struct {
	cropCount int
	mtx       sync.Mutex
	r         io.Reader
	dims      region.Dimensions
	quality   int
}

func NewExtractor(r io.Reader, dims region.Dimensions, quality int) *Extractor {
	return &Extractor{r: r, dims: dims, quality: quality}
}

func (e *Extractor) Extract(ctx context.Context, rect region.Rect, w io.Writer) (image.Point, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	n, err := e.dims.Native(rect)
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: %w", rasterx.ErrExtractionFailure, err)
	}

	// Guard against re-cropping of the same image unless it has been provided
	// as an io.Seeker (can be reset)
	if e.cropCount > 0 {
		s, ok := e.r.(io.Seeker)
		if !ok {
			return image.Point{}, errors.New("re-cropping not supported for non-io.Seekers")
		}
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return image.Point{}, err
		}
	}
	e.cropCount++

	b, err := Crop(e.r, n.Bounds(e.dims.Bounds()), e.quality)
	if err != nil {
		return image.Point{}, err
	}
	if err := ctx.Err(); err != nil {
		return image.Point{}, err
	}
	if _, err := w.Write(b); err != nil {
		return image.Point{}, err
	}
	return n.Size, nil
}

// Size returns the size of the image in rs after EXIF orientation is applied,
// which is the size Crop works in. rs is rewound afterwards.
func Size(rs io.ReadSeeker) (image.Point, error) {
	Startup()

	img, err := vips.NewImageFromReader(rs)
	if err != nil {
		return image.Point{}, fmt.Errorf("vips load err, %w", err)
	}
	defer img.Close()
	if err := img.AutoRotate(); err != nil {
		return image.Point{}, fmt.Errorf("vips rotate err, %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return image.Point{}, err
	}
	return image.Pt(img.Width(), img.Height()), nil
}

// Crop extracts area from the image in r and returns it JPEG encoded.
func Crop(r io.Reader, area image.Rectangle, quality int) ([]byte, error) {
	Startup()

	img, err := vips.NewImageFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: vips load err, %w", rasterx.ErrExtractionFailure, err)
	}
	defer img.Close()
	if err := img.AutoRotate(); err != nil {
		return nil, fmt.Errorf("%w: vips rotate err, %w", rasterx.ErrExtractionFailure, err)
	}
	bounds := image.Rect(0, 0, img.Width(), img.Height())
	if !area.In(bounds) || area.Empty() {
		return nil, fmt.Errorf("%w: area %v outside %v, %w", rasterx.ErrExtractionFailure, area, bounds, region.ErrInvalidRegion)
	}
	if err := img.ExtractArea(area.Min.X, area.Min.Y, area.Dx(), area.Dy()); err != nil {
		return nil, fmt.Errorf("%w: vips extract err, %w", rasterx.ErrExtractionFailure, err)
	}
	params := vips.NewJpegExportParams()
	params.Quality = quality
	b, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", rasterx.ErrExtractionFailure, rasterx.ErrEncode, err)
	}
	return b, nil
}
