package bmpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"golang.org/x/image/bmp"

	"github.com/sebnyberg/cropview/rasterx"
	"github.com/sebnyberg/cropview/region"
)

// Extractor extracts regions from an uncompressed BMP stream. Only the rows
// covered by the region are read, and only the cropped pixels are decoded.
//
// Regions are snapped to whole native pixels; there is no resampling.
type Extractor struct {
	mtx     sync.Mutex
	count   int
	r       io.Reader
	dims    region.Dimensions
	quality int
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
	if e.count > 0 {
		s, ok := e.r.(io.Seeker)
		if !ok {
			return image.Point{}, errors.New("re-cropping not supported for non-io.Seekers")
		}
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return image.Point{}, err
		}
	}
	e.count++

	area := n.Bounds(e.dims.Bounds())

	var cut bytes.Buffer
	if err := Crop(e.r, &cut, area); err != nil {
		return image.Point{}, fmt.Errorf("%w: crop bmp err, %w", rasterx.ErrExtractionFailure, err)
	}
	img, err := bmp.Decode(&cut)
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: decode cropped bmp err, %w", rasterx.ErrExtractionFailure, err)
	}
	b, err := rasterx.Encode(ctx, img, e.quality)
	if err != nil {
		return image.Point{}, err
	}
	if _, err := w.Write(b); err != nil {
		return image.Point{}, err
	}
	return img.Bounds().Size(), nil
}
