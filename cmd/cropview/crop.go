package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sebnyberg/cropview"
	"github.com/sebnyberg/cropview/bmpx"
	"github.com/sebnyberg/cropview/config"
	"github.com/sebnyberg/cropview/internal/logging"
	"github.com/sebnyberg/cropview/region"
	"github.com/sebnyberg/cropview/widget"
)

var cropopts struct {
	input      string
	rects      cli.StringSlice
	unit       string
	display    string
	maxWidth   int
	backend    string
	outputDir  string
	configFile string
}

var cropCommand = &cli.Command{
	Name:   "crop",
	Usage:  "Crop one or more regions out of an image.",
	Action: cropCmd,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:        "in",
			Aliases:     []string{"i"},
			Usage:       "Image file to read from",
			Required:    true,
			Destination: &cropopts.input,
		},
		&cli.StringSliceFlag{
			Name:        "rect",
			Aliases:     []string{"r"},
			Usage:       "Crop rectangle as x,y,w,h in displayed space, may be repeated",
			Required:    true,
			Destination: &cropopts.rects,
		},
		&cli.StringFlag{
			Name:        "unit",
			Usage:       "Unit of the crop rectangles, px or %",
			Value:       "px",
			Destination: &cropopts.unit,
		},
		&cli.StringFlag{
			Name:        "display",
			Usage:       "Size the image is displayed at, as WxH",
			Destination: &cropopts.display,
		},
		&cli.IntFlag{
			Name:        "max-width",
			Usage:       "Display the image fitted to this width, when no display size is given",
			Destination: &cropopts.maxWidth,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Extraction backend: raster, bmp or vips",
			Value:       "raster",
			Destination: &cropopts.backend,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "Directory to write results to; nothing is written when empty",
			Destination: &cropopts.outputDir,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML configuration file",
			Destination: &cropopts.configFile,
		},
	}, logging.Flags...),
}

func cropCmd(cc *cli.Context) error {
	logging.Setup()

	cfg, err := loadConfig(cropopts.configFile)
	if err != nil {
		return err
	}
	unit, err := region.ParseUnit(cropopts.unit)
	if err != nil {
		return err
	}
	rects, err := parseRects(cropopts.rects.Value(), unit)
	if err != nil {
		return err
	}
	w, h, err := parseDisplay(cropopts.display)
	if err != nil {
		return err
	}
	if cropopts.outputDir != "" {
		if err := os.MkdirAll(cropopts.outputDir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	switch cropopts.backend {
	case "raster":
		return cropSession(cc.Context, cfg, rects, w, h)
	case "bmp", "vips":
		return cropStream(cc.Context, cfg, rects, w, h)
	}
	return fmt.Errorf("unknown backend %q", cropopts.backend)
}

// cropSession runs every rectangle through a widget session. Results are
// printed in the order they finished.
func cropSession(ctx context.Context, cfg *config.Config, rects []region.Rect, w, h float64) error {
	s, err := widget.New(cfg, widget.WithLogger(logging.Default()))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.LoadFile(cropopts.input); err != nil {
		return err
	}
	switch {
	case w > 0:
		err = s.Layout(w, h)
	case cropopts.maxWidth > 0:
		err = s.Fit(cropopts.maxWidth, 0)
	}
	if err != nil {
		return err
	}

	for _, r := range rects {
		s.SetCrop(r)
		if _, err := s.Confirm(); err != nil {
			return fmt.Errorf("crop %v: %w", r, err)
		}
	}
	if err := s.Wait(ctx); err != nil {
		return err
	}
	return writeResults(s, cropopts.outputDir)
}

func writeResults(s *widget.Session, dir string) error {
	for _, it := range s.Results() {
		r, err := s.Open(it.URL)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		if err := printResult(dir, it.Seq, image.Pt(it.Width, it.Height), data); err != nil {
			return err
		}
	}
	return nil
}

// cropStream crops straight from the file with one of the streaming
// backends, one rectangle at a time.
func cropStream(ctx context.Context, cfg *config.Config, rects []region.Rect, w, h float64) error {
	f, err := os.Open(cropopts.input)
	if err != nil {
		return err
	}
	defer f.Close()

	var ex cropview.Extractor
	if cropopts.backend == "bmp" {
		nat, err := bmpx.Size(f)
		if err != nil {
			return err
		}
		ex = bmpx.NewExtractor(f, displayDims(nat, w, h, cropopts.maxWidth), cfg.JPEGQuality)
	} else {
		ex, err = vipsExtractor(f, w, h, cropopts.maxWidth, cfg.JPEGQuality)
		if err != nil {
			return err
		}
	}

	for i, r := range rects {
		var buf bytes.Buffer
		size, err := ex.Extract(ctx, r, &buf)
		if err != nil {
			return fmt.Errorf("crop %v: %w", r, err)
		}
		logging.Debug("crop extracted", "backend", cropopts.backend, "rect", r.String(), "size", size)
		if err := printResult(cropopts.outputDir, uint64(i+1), size, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
