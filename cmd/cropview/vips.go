//go:build vips

package main

import (
	"fmt"
	"io"

	"github.com/sebnyberg/cropview"
	"github.com/sebnyberg/cropview/vipsx"
)

func vipsExtractor(rs io.ReadSeeker, w, h float64, maxWidth, quality int) (cropview.Extractor, error) {
	// The oriented size, so that crops match the image as it is shown
	nat, err := vipsx.Size(rs)
	if err != nil {
		return nil, fmt.Errorf("read image size: %w", err)
	}
	dims := displayDims(nat, w, h, maxWidth)
	return vipsx.NewExtractor(rs, dims, quality), nil
}
