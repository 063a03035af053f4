// Package cropview crops user selected regions out of images.
//
// A region is drawn over the image as displayed, which may be scaled
// relative to the decoded image. Extraction maps the region back to native
// resolution and produces a JPEG. The widget package ties loading, region
// selection and extraction together; the sub-packages can be used alone.
package cropview

import (
	"context"
	"image"
	"io"

	"github.com/sebnyberg/cropview/bmpx"
	"github.com/sebnyberg/cropview/rasterx"
	"github.com/sebnyberg/cropview/region"
)

var _ Extractor = new(rasterx.Extractor)
var _ Extractor = new(bmpx.Extractor)

type Extractor interface {
	// Extract crops the displayed-space rectangle out of an image at native
	// resolution and writes the encoded result to w. The pixel size of the
	// result is returned.
	Extract(ctx context.Context, r region.Rect, w io.Writer) (image.Point, error)
}
