package rasterx

import (
	"image"
	"sync"
)

// maxPooledPixels bounds the surfaces kept for reuse. Larger ones are left to
// the garbage collector.
const maxPooledPixels = 4096 * 4096

// imagePool reuses output surfaces between extractions. A pooled surface is
// handed out for any size whose pixels fit in its backing array.
type imagePool struct {
	pool sync.Pool
}

var surfaces = &imagePool{}

// getImage returns an *image.RGBA of the given size. Its pixels are not
// cleared.
func getImage(size image.Point) *image.RGBA {
	return surfaces.get(size)
}

// Release hands a surface returned by Copy back for reuse. The image must not
// be used afterwards.
func Release(img *image.RGBA) {
	surfaces.put(img)
}

func (p *imagePool) get(size image.Point) *image.RGBA {
	n := 4 * size.X * size.Y
	if img, ok := p.pool.Get().(*image.RGBA); ok {
		if cap(img.Pix) >= n {
			img.Pix = img.Pix[:n]
			img.Stride = 4 * size.X
			img.Rect = image.Rectangle{Max: size}
			return img
		}
		// Too small for this request; keep it for a smaller one
		p.pool.Put(img)
	}
	return image.NewRGBA(image.Rectangle{Max: size})
}

func (p *imagePool) put(img *image.RGBA) {
	if img == nil || img.Rect.Min != (image.Point{}) || cap(img.Pix) > 4*maxPooledPixels {
		return
	}
	p.pool.Put(img)
}
