package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sebnyberg/cropview/config"
	"github.com/sebnyberg/cropview/internal/logging"
	"github.com/sebnyberg/cropview/internal/script"
	"github.com/sebnyberg/cropview/widget"
)

var replayopts struct {
	scripts    cli.StringSlice
	outputDir  string
	configFile string
}

var replayCommand = &cli.Command{
	Name:   "replay",
	Usage:  "Replay recorded widget events from YAML scripts.",
	Action: replayCmd,
	Flags: append([]cli.Flag{
		&cli.StringSliceFlag{
			Name:        "script",
			Aliases:     []string{"s"},
			Usage:       "Script file to replay, may be repeated",
			Required:    true,
			Destination: &replayopts.scripts,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "Directory to write results to; nothing is written when empty",
			Destination: &replayopts.outputDir,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML configuration file",
			Destination: &replayopts.configFile,
		},
	}, logging.Flags...),
}

func replayCmd(cc *cli.Context) error {
	logging.Setup()

	cfg, err := loadConfig(replayopts.configFile)
	if err != nil {
		return err
	}
	paths := replayopts.scripts.Value()

	// Every script gets its own session. With several scripts each one
	// writes to a directory named after it.
	g, ctx := errgroup.WithContext(cc.Context)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range paths {
		dir := replayopts.outputDir
		if dir != "" && len(paths) > 1 {
			dir = filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
		path := path
		g.Go(func() error {
			return replay(ctx, cfg, path, dir)
		})
	}
	return g.Wait()
}

func replay(ctx context.Context, cfg *config.Config, path, dir string) error {
	sc, err := script.Read(path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", path, err)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s, err := widget.New(cfg, widget.WithLogger(logging.With("script", path)))
	if err != nil {
		return err
	}
	defer s.Close()

	started, err := script.Run(ctx, s, sc, filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	if err := s.Wait(ctx); err != nil {
		return err
	}
	logging.Info("script replayed", "script", path, "steps", len(sc.Steps), "confirmed", len(started), "results", len(s.Results()))
	return writeResults(s, dir)
}
