//go:build !vips

package main

import (
	"errors"
	"io"

	"github.com/sebnyberg/cropview"
)

func vipsExtractor(io.ReadSeeker, float64, float64, int, int) (cropview.Extractor, error) {
	return nil, errors.New("vips backend not available, rebuild with -tags vips")
}
