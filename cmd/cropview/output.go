package main

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/sebnyberg/cropview/config"
	"github.com/sebnyberg/cropview/region"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// parseRect parses "x,y,w,h".
func parseRect(s string, unit region.Unit) (region.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return region.Rect{}, fmt.Errorf("rect %q: want x,y,w,h", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return region.Rect{}, fmt.Errorf("rect %q: %w", s, err)
		}
		v[i] = f
	}
	return region.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3], Unit: unit}, nil
}

// parseRects parses the values of repeated --rect flags. The flag parser
// may already have split "x,y,w,h" at the commas, so the values are joined
// and regrouped in fours.
func parseRects(values []string, unit region.Unit) ([]region.Rect, error) {
	var parts []string
	for _, v := range values {
		parts = append(parts, strings.Split(v, ",")...)
	}
	if len(parts) == 0 || len(parts)%4 != 0 {
		return nil, fmt.Errorf("rect %q: want x,y,w,h", strings.Join(values, " "))
	}
	var rects []region.Rect
	for i := 0; i < len(parts); i += 4 {
		r, err := parseRect(strings.Join(parts[i:i+4], ","), unit)
		if err != nil {
			return nil, err
		}
		rects = append(rects, r)
	}
	return rects, nil
}

// parseDisplay parses "WxH". The empty string yields a zero size.
func parseDisplay(s string) (w, h float64, err error) {
	if s == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("display %q: want WxH", s)
	}
	if w, err = strconv.ParseFloat(ws, 64); err != nil {
		return 0, 0, fmt.Errorf("display %q: %w", s, err)
	}
	if h, err = strconv.ParseFloat(hs, 64); err != nil {
		return 0, 0, fmt.Errorf("display %q: %w", s, err)
	}
	if !(w > 0) || !(h > 0) {
		return 0, 0, fmt.Errorf("display %q: %w", s, region.ErrInvalidDimensions)
	}
	return w, h, nil
}

// displayDims returns the dimensions of an image of natural size nat shown
// at the requested display size, or fitted to maxWidth when no display size
// is given.
func displayDims(nat image.Point, w, h float64, maxWidth int) region.Dimensions {
	d := region.Dimensions{
		NaturalWidth:    nat.X,
		NaturalHeight:   nat.Y,
		DisplayedWidth:  float64(nat.X),
		DisplayedHeight: float64(nat.Y),
	}
	switch {
	case w > 0 && h > 0:
		d.DisplayedWidth, d.DisplayedHeight = w, h
	case maxWidth > 0 && maxWidth < nat.X:
		scale := float64(maxWidth) / float64(nat.X)
		d.DisplayedWidth = float64(maxWidth)
		d.DisplayedHeight = float64(nat.Y) * scale
	}
	return d
}

func outputName(seq uint64) string {
	return fmt.Sprintf("crop-%d.jpg", seq)
}

var (
	stdoutMu sync.Mutex
	stdout   io.Writer = os.Stdout
)

// printResult is emit to stdout. Replays running side by side share it.
func printResult(dir string, seq uint64, size image.Point, data []byte) error {
	stdoutMu.Lock()
	defer stdoutMu.Unlock()
	return emit(stdout, dir, seq, size, data)
}

// emit writes a result to dir, when set, and prints a summary line to w.
func emit(w io.Writer, dir string, seq uint64, size image.Point, data []byte) error {
	name := outputName(seq)
	if dir != "" {
		name = filepath.Join(dir, name)
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	_, err := fmt.Fprintf(w, "%s\t%dx%d\t%s\n", name, size.X, size.Y, humanize.Bytes(uint64(len(data))))
	return err
}
