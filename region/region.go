// Package region maps crop rectangles drawn over a displayed image onto the
// image's native pixel grid.
//
// Two coordinate spaces are involved. Displayed space is the image as shown
// to the user, possibly scaled by layout. Native space is the decoded image
// at full resolution. A Rect always lives in displayed space until Native
// rescales it.
package region

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	ErrInvalidRegion     = errors.New("invalid crop region")
	ErrInvalidDimensions = errors.New("invalid image dimensions")
)

type Unit int

const (
	Pixels Unit = iota
	Percent
)

func (u Unit) String() string {
	switch u {
	case Pixels:
		return "px"
	case Percent:
		return "%"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// ParseUnit parses "px" or "%". The empty string is treated as pixels.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "", "px":
		return Pixels, nil
	case "%", "pct", "percent":
		return Percent, nil
	}
	return Pixels, fmt.Errorf("unknown unit %q", s)
}

// Rect is a crop rectangle in displayed space.
type Rect struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Unit   Unit    `yaml:"-"`
}

func (r Rect) Empty() bool {
	return !(r.Width > 0) || !(r.Height > 0)
}

func (r Rect) String() string {
	return fmt.Sprintf("{x:%g y:%g w:%g h:%g %v}", r.X, r.Y, r.Width, r.Height, r.Unit)
}

// ToPixels converts a percentage rectangle into pixels relative to a
// displayed image of size w x h. Pixel rectangles are returned unchanged.
func (r Rect) ToPixels(w, h float64) Rect {
	if r.Unit != Percent {
		return r
	}
	return Rect{
		X:      r.X * w / 100,
		Y:      r.Y * h / 100,
		Width:  r.Width * w / 100,
		Height: r.Height * h / 100,
		Unit:   Pixels,
	}
}

// ToPercent is the inverse of ToPixels.
func (r Rect) ToPercent(w, h float64) Rect {
	if r.Unit == Percent || w <= 0 || h <= 0 {
		return r
	}
	return Rect{
		X:      r.X * 100 / w,
		Y:      r.Y * 100 / h,
		Width:  r.Width * 100 / w,
		Height: r.Height * 100 / h,
		Unit:   Percent,
	}
}

// Dimensions captures the natural and displayed size of an image once layout
// is known. It is a plain value; nothing refers back to a live display.
type Dimensions struct {
	NaturalWidth    int
	NaturalHeight   int
	DisplayedWidth  float64
	DisplayedHeight float64
}

func (d Dimensions) Validate() error {
	if d.NaturalWidth <= 0 || d.NaturalHeight <= 0 {
		return fmt.Errorf("natural size %dx%d, %w", d.NaturalWidth, d.NaturalHeight, ErrInvalidDimensions)
	}
	if !(d.DisplayedWidth > 0) || !(d.DisplayedHeight > 0) ||
		math.IsInf(d.DisplayedWidth, 0) || math.IsInf(d.DisplayedHeight, 0) {
		return fmt.Errorf("displayed size %gx%g, %w", d.DisplayedWidth, d.DisplayedHeight, ErrInvalidDimensions)
	}
	return nil
}

// Scale returns the natural to displayed ratio on each axis.
func (d Dimensions) Scale() (sx, sy float64) {
	return float64(d.NaturalWidth) / d.DisplayedWidth, float64(d.NaturalHeight) / d.DisplayedHeight
}

func (d Dimensions) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.NaturalWidth, d.NaturalHeight)
}

// Native is a crop region in native space, clamped to the image.
type Native struct {
	// Min and Max hold the exact (possibly fractional) source extents.
	MinX, MinY float64
	MaxX, MaxY float64

	// Size is the output raster size in pixels.
	Size image.Point
}

// Native maps r onto the native pixel grid. The region is clamped to the
// image; a region that is empty before or after clamping is rejected with
// ErrInvalidRegion.
func (d Dimensions) Native(r Rect) (Native, error) {
	if err := d.Validate(); err != nil {
		return Native{}, err
	}
	r = r.ToPixels(d.DisplayedWidth, d.DisplayedHeight)
	if r.Empty() || math.IsNaN(r.X) || math.IsNaN(r.Y) {
		return Native{}, fmt.Errorf("rect %v, %w", r, ErrInvalidRegion)
	}
	sx, sy := d.Scale()
	x0, w, err := clampAxis(r.X*sx, r.Width*sx, float64(d.NaturalWidth))
	if err != nil {
		return Native{}, fmt.Errorf("rect %v, %w", r, err)
	}
	y0, h, err := clampAxis(r.Y*sy, r.Height*sy, float64(d.NaturalHeight))
	if err != nil {
		return Native{}, fmt.Errorf("rect %v, %w", r, err)
	}
	n := Native{
		MinX: x0,
		MinY: y0,
		MaxX: x0 + w,
		MaxY: y0 + h,
		Size: image.Pt(int(math.Round(w)), int(math.Round(h))),
	}
	if n.Size.X <= 0 || n.Size.Y <= 0 {
		return Native{}, fmt.Errorf("rect %v maps to %v, %w", r, n.Size, ErrInvalidRegion)
	}
	return n, nil
}

// clampAxis clamps the span [off, off+length) to [0, limit).
func clampAxis(off, length, limit float64) (float64, float64, error) {
	if off < 0 {
		length += off
		off = 0
	}
	if off+length > limit {
		length = limit - off
	}
	if !(length > 0) {
		return 0, 0, ErrInvalidRegion
	}
	return off, length, nil
}

// Aligned reports whether the region sits exactly on the pixel grid with a
// size equal to the output size, in which case no resampling is needed.
func (n Native) Aligned() bool {
	isInt := func(f float64) bool { return f == math.Trunc(f) }
	return isInt(n.MinX) && isInt(n.MinY) &&
		n.MaxX-n.MinX == float64(n.Size.X) &&
		n.MaxY-n.MinY == float64(n.Size.Y)
}

// Bounds returns the integer rectangle of Size pixels nearest to the exact
// region, kept inside within.
func (n Native) Bounds(within image.Rectangle) image.Rectangle {
	x := int(math.Round(n.MinX))
	y := int(math.Round(n.MinY))
	if over := x + n.Size.X - within.Max.X; over > 0 {
		x -= over
	}
	if over := y + n.Size.Y - within.Max.Y; over > 0 {
		y -= over
	}
	return image.Rect(x, y, x+n.Size.X, y+n.Size.Y).Intersect(within)
}
