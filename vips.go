//go:build vips

package cropview

import "github.com/sebnyberg/cropview/vipsx"

var _ Extractor = new(vipsx.Extractor)
