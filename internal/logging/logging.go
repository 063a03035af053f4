package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	&cli.BoolFlag{
		Name:        "verbose",
		Aliases:     []string{"v"},
		Usage:       "Set logging level more verbose to include info level logs",
		Value:       false,
		Destination: &Opts.Verbose,
	},

	&cli.BoolFlag{
		Name:        "veryverbose",
		Aliases:     []string{"vv"},
		Usage:       "Set logging level more verbose to include debug level logs",
		Destination: &Opts.VeryVerbose,
	},

	&cli.BoolFlag{
		Name:        "log-json",
		Usage:       "Emit logs as JSON lines",
		Destination: &Opts.JSON,
	},
}

var Opts struct {
	Verbose     bool
	VeryVerbose bool
	JSON        bool
}

// Setup installs the default logger according to Opts. Logs go to stderr.
func Setup() {
	SetupWriter(os.Stderr)
}

func SetupWriter(w io.Writer) {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelWarn)
	if Opts.Verbose {
		logLevel.Set(slog.LevelInfo)
	}
	if Opts.VeryVerbose {
		logLevel.Set(slog.LevelDebug)
	}

	hopts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler = slog.NewTextHandler(w, hopts)
	if Opts.JSON {
		h = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
}

var (
	Default = slog.Default
	Debug   = slog.Debug
	Info    = slog.Info
	Warn    = slog.Warn
	Error   = slog.Error
	With    = slog.With
)
