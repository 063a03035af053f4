// Package selector tracks a rectangle drawn with a pointer over a displayed
// image.
//
// A gesture starts with Begin, continues with any number of Move calls and
// finishes with End. Beginning inside an existing rectangle moves it,
// beginning anywhere else draws a new one. Rectangles are kept inside the
// displayed image at all times.
//
// A Selector is driven from a single event loop and is not safe for
// concurrent use.
package selector

import (
	"math"

	"github.com/sebnyberg/cropview/region"
)

type Point struct {
	X, Y float64
}

type mode int

const (
	idle mode = iota
	drawing
	moving
)

type Selector struct {
	w, h       float64
	aspect     float64
	minW, minH float64

	rect region.Rect
	has  bool

	mode   mode
	anchor Point
	offset Point

	onChange   func(region.Rect)
	onComplete func(region.Rect)
}

type Option func(*Selector)

// WithAspect fixes the width/height ratio of drawn rectangles. Zero means
// free-form.
func WithAspect(aspect float64) Option {
	return func(s *Selector) {
		if aspect > 0 {
			s.aspect = aspect
		}
	}
}

// WithMinSize sets the smallest rectangle a completed gesture produces.
func WithMinSize(w, h float64) Option {
	return func(s *Selector) {
		s.minW, s.minH = math.Max(w, 0), math.Max(h, 0)
	}
}

// OnChange is called with the current rectangle whenever it changes.
func OnChange(fn func(region.Rect)) Option {
	return func(s *Selector) {
		s.onChange = fn
	}
}

// OnComplete is called when a gesture ends with a non-empty rectangle.
func OnComplete(fn func(region.Rect)) Option {
	return func(s *Selector) {
		s.onComplete = fn
	}
}

// New returns a selector over a displayed image of w x h.
func New(w, h float64, opts ...Option) *Selector {
	s := &Selector{w: w, h: h}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rect returns the current rectangle in pixels, and whether there is one.
func (s *Selector) Rect() (region.Rect, bool) {
	return s.rect, s.has
}

// Dragging reports whether a gesture is in progress.
func (s *Selector) Dragging() bool {
	return s.mode != idle
}

func (s *Selector) Begin(p Point) {
	p = s.clampPoint(p)
	if s.has && s.contains(p) {
		s.mode = moving
		s.offset = Point{X: p.X - s.rect.X, Y: p.Y - s.rect.Y}
		return
	}
	s.mode = drawing
	s.anchor = p
	s.rect = region.Rect{X: p.X, Y: p.Y}
	s.has = true
	s.changed()
}

func (s *Selector) Move(p Point) {
	switch s.mode {
	case drawing:
		s.rect = s.span(s.anchor, p)
	case moving:
		s.rect.X = clamp(p.X-s.offset.X, 0, s.w-s.rect.Width)
		s.rect.Y = clamp(p.Y-s.offset.Y, 0, s.h-s.rect.Height)
	default:
		return
	}
	s.changed()
}

// End finishes the gesture and returns the resulting rectangle. A gesture
// that did not span any area clears the selection and reports false.
func (s *Selector) End() (region.Rect, bool) {
	if s.mode == idle {
		return s.rect, s.has
	}
	s.mode = idle
	if s.rect.Empty() {
		s.Clear()
		return region.Rect{}, false
	}
	if s.rect.Width < s.minW || s.rect.Height < s.minH {
		s.rect.Width = math.Min(math.Max(s.rect.Width, s.minW), s.w)
		s.rect.Height = math.Min(math.Max(s.rect.Height, s.minH), s.h)
		s.rect.X = clamp(s.rect.X, 0, s.w-s.rect.Width)
		s.rect.Y = clamp(s.rect.Y, 0, s.h-s.rect.Height)
		s.changed()
	}
	if s.onComplete != nil {
		s.onComplete(s.rect)
	}
	return s.rect, true
}

// Set replaces the rectangle. Percentage rectangles are converted to pixels.
func (s *Selector) Set(r region.Rect) {
	r = r.ToPixels(s.w, s.h)
	x0 := clamp(r.X, 0, s.w)
	y0 := clamp(r.Y, 0, s.h)
	x1 := clamp(r.X+r.Width, 0, s.w)
	y1 := clamp(r.Y+r.Height, 0, s.h)
	s.rect = region.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	s.has = true
	s.changed()
}

// Clear drops the rectangle and any gesture in progress.
func (s *Selector) Clear() {
	s.rect = region.Rect{}
	s.has = false
	s.mode = idle
}

// Resize updates the displayed size, scaling the current rectangle and any
// gesture in progress with it.
func (s *Selector) Resize(w, h float64) {
	// A gesture in progress continues in the new coordinates
	if s.w > 0 && s.h > 0 {
		kx, ky := w/s.w, h/s.h
		s.anchor = Point{X: s.anchor.X * kx, Y: s.anchor.Y * ky}
		s.offset = Point{X: s.offset.X * kx, Y: s.offset.Y * ky}
	}
	if s.has && s.w > 0 && s.h > 0 {
		pct := s.rect.ToPercent(s.w, s.h)
		s.w, s.h = w, h
		s.Set(pct)
		return
	}
	s.w, s.h = w, h
}

// span returns the rectangle between anchor a and pointer p, honouring the
// aspect ratio and the image bounds.
func (s *Selector) span(a, p Point) region.Rect {
	p = s.clampPoint(p)
	dx, dy := p.X-a.X, p.Y-a.Y
	w, h := math.Abs(dx), math.Abs(dy)
	if s.aspect > 0 {
		if h == 0 || w/h > s.aspect {
			w = h * s.aspect
		} else {
			h = w / s.aspect
		}
	}

	availW, availH := s.w-a.X, s.h-a.Y
	if dx < 0 {
		availW = a.X
	}
	if dy < 0 {
		availH = a.Y
	}
	if w > availW {
		w = availW
		if s.aspect > 0 {
			h = w / s.aspect
		}
	}
	if h > availH {
		h = availH
		if s.aspect > 0 {
			w = h * s.aspect
		}
	}

	r := region.Rect{X: a.X, Y: a.Y, Width: w, Height: h}
	if dx < 0 {
		r.X = a.X - w
	}
	if dy < 0 {
		r.Y = a.Y - h
	}
	return r
}

func (s *Selector) contains(p Point) bool {
	return p.X >= s.rect.X && p.X <= s.rect.X+s.rect.Width &&
		p.Y >= s.rect.Y && p.Y <= s.rect.Y+s.rect.Height &&
		!s.rect.Empty()
}

func (s *Selector) clampPoint(p Point) Point {
	return Point{X: clamp(p.X, 0, s.w), Y: clamp(p.Y, 0, s.h)}
}

func (s *Selector) changed() {
	if s.onChange != nil {
		s.onChange(s.rect)
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
