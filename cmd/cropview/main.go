package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:     "cropview",
		HelpName: "cropview",
		Usage:    "Crop regions out of images at native resolution",
		Commands: []*cli.Command{
			cropCommand,
			replayCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
