// Package script replays recorded widget events against a session.
//
// A script is a YAML document listing steps in order. Each step carries
// exactly one action:
//
//	version: "1"
//	steps:
//	  - load: photo.jpg
//	  - fit: {width: 800}
//	  - crop: {x: 10, y: 10, width: 50, height: 50, unit: "%"}
//	  - confirm: true
//	  - drag: [{x: 0, y: 0}, {x: 120, y: 80}]
//	  - wait: true
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sebnyberg/cropview/region"
	"github.com/sebnyberg/cropview/selector"
	"github.com/sebnyberg/cropview/widget"
)

var ErrInvalidScript = errors.New("invalid script")

type Script struct {
	Version string `yaml:"version"`
	Steps   []Step `yaml:"steps"`
}

type Size struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Crop is a crop rectangle as written in a script. Unit is "px" (default) or
// "%".
type Crop struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Unit   string  `yaml:"unit,omitempty"`
}

func (c Crop) Rect() (region.Rect, error) {
	u, err := region.ParseUnit(c.Unit)
	if err != nil {
		return region.Rect{}, err
	}
	return region.Rect{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height, Unit: u}, nil
}

type Step struct {
	Load    string           `yaml:"load,omitempty"`
	Layout  *Size            `yaml:"layout,omitempty"`
	Fit     *Size            `yaml:"fit,omitempty"`
	Crop    *Crop            `yaml:"crop,omitempty"`
	Drag    []selector.Point `yaml:"drag,omitempty"`
	Confirm bool             `yaml:"confirm,omitempty"`
	Discard bool             `yaml:"discard,omitempty"`
	Wait    bool             `yaml:"wait,omitempty"`
}

func (s Step) action() string {
	var names []string
	if s.Load != "" {
		names = append(names, "load")
	}
	if s.Layout != nil {
		names = append(names, "layout")
	}
	if s.Fit != nil {
		names = append(names, "fit")
	}
	if s.Crop != nil {
		names = append(names, "crop")
	}
	if len(s.Drag) > 0 {
		names = append(names, "drag")
	}
	if s.Confirm {
		names = append(names, "confirm")
	}
	if s.Discard {
		names = append(names, "discard")
	}
	if s.Wait {
		names = append(names, "wait")
	}
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

// Validate checks that every step has exactly one action.
func (s *Script) Validate() error {
	for i, st := range s.Steps {
		if st.action() == "" {
			return fmt.Errorf("step %d: want exactly one action, %w", i, ErrInvalidScript)
		}
		if st.Crop != nil {
			if _, err := st.Crop.Rect(); err != nil {
				return fmt.Errorf("step %d: %w: %w", i, ErrInvalidScript, err)
			}
		}
	}
	return nil
}

// Read parses the script at path.
func Read(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Write writes sc to path as YAML.
func Write(sc *Script, path string) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Run applies the steps of sc to s in order. Relative load paths are
// resolved against dir. Run stops at the first failing step and returns the
// extractions started by confirm steps so far.
//
// Confirmations made by a drag go through the session's selector; their
// results show up in the session's result list but not in the returned
// slice.
func Run(ctx context.Context, s *widget.Session, sc *Script, dir string) ([]*widget.Pending, error) {
	var started []*widget.Pending
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		p, err := apply(ctx, s, st, dir)
		if err != nil {
			return started, fmt.Errorf("step %d (%s): %w", i, st.action(), err)
		}
		if p != nil {
			started = append(started, p)
		}
	}
	return started, nil
}

func apply(ctx context.Context, s *widget.Session, st Step, dir string) (*widget.Pending, error) {
	switch st.action() {
	case "load":
		path := st.Load
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		return nil, s.LoadFile(path)
	case "layout":
		return nil, s.Layout(st.Layout.Width, st.Layout.Height)
	case "fit":
		return nil, s.Fit(int(st.Fit.Width), int(st.Fit.Height))
	case "crop":
		r, err := st.Crop.Rect()
		if err != nil {
			return nil, err
		}
		d, ok := s.Dimensions()
		if !ok {
			return nil, widget.ErrNoImageLoaded
		}
		s.SetCrop(r.ToPixels(d.DisplayedWidth, d.DisplayedHeight))
		return nil, nil
	case "drag":
		sel := s.Selector()
		if sel == nil {
			return nil, widget.ErrNoImageLoaded
		}
		sel.Begin(st.Drag[0])
		for _, p := range st.Drag[1:] {
			sel.Move(p)
		}
		sel.End()
		return nil, nil
	case "confirm":
		return s.Confirm()
	case "discard":
		s.Discard()
		return nil, nil
	case "wait":
		return nil, s.Wait(ctx)
	}
	return nil, ErrInvalidScript
}
