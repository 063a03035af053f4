package bmpx

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/sebnyberg/cropview/rasterx"
	"github.com/sebnyberg/cropview/region"
)

func TestCrop(t *testing.T) {
	for i := 0; i < 100; i++ {
		w := 100 + rand.Intn(200)
		h := 100 + rand.Intn(200)
		img := randRGBA(w, h)
		var orig, cropped bytes.Buffer
		err := bmp.Encode(&orig, img)
		require.NoError(t, err)
		offx := rand.Intn(w - 1)
		offy := rand.Intn(h - 1)
		dx := 1 + rand.Intn(w-offx-1)
		dy := 1 + rand.Intn(h-offy-1)
		area := image.Rect(offx, offy, offx+dx, offy+dy)

		// Alternate between seekable and stream-only inputs
		var src io.Reader = bytes.NewReader(orig.Bytes())
		if i%2 == 0 {
			src = onlyReader{&orig}
		}
		err = Crop(src, &cropped, area)
		require.NoError(t, err)
		got, err := bmp.Decode(&cropped)
		require.NoError(t, err)
		want, err := stdlibCrop(img, area)
		require.NoError(t, err)
		requireSamePixels(t, want, got)
	}
}

func TestCropPaletted(t *testing.T) {
	pal := make(color.Palette, 256)
	for i := range pal {
		pal[i] = color.RGBA{uint8(i), uint8(255 - i), uint8(i / 2), 0xff}
	}
	img := image.NewPaletted(image.Rect(0, 0, 33, 17), pal)
	_, _ = rand.Read(img.Pix)
	var orig, cropped bytes.Buffer
	require.NoError(t, bmp.Encode(&orig, img))
	area := image.Rect(3, 2, 30, 9)
	require.NoError(t, Crop(&orig, &cropped, area))
	got, err := bmp.Decode(&cropped)
	require.NoError(t, err)
	want, err := stdlibCrop(img, area)
	require.NoError(t, err)
	requireSamePixels(t, want, got)
}

func TestCropErrors(t *testing.T) {
	img := randRGBA(20, 20)
	var orig bytes.Buffer
	require.NoError(t, bmp.Encode(&orig, img))

	err := Crop(bytes.NewReader(orig.Bytes()), io.Discard, image.Rect(30, 30, 40, 40))
	require.Error(t, err)

	err = Crop(bytes.NewReader(orig.Bytes()[:orig.Len()/2]), io.Discard, image.Rect(0, 0, 20, 20))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	err = Crop(bytes.NewReader([]byte("not a bmp at all, not even close")), io.Discard, image.Rect(0, 0, 1, 1))
	require.Error(t, err)

	// Translucent images are written with an alpha channel
	nrgba := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	var translucent bytes.Buffer
	require.NoError(t, bmp.Encode(&translucent, nrgba))
	err = Crop(&translucent, io.Discard, image.Rect(0, 0, 2, 2))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestSize(t *testing.T) {
	var orig bytes.Buffer
	require.NoError(t, bmp.Encode(&orig, randRGBA(31, 7)))
	rs := bytes.NewReader(orig.Bytes())
	sz, err := Size(rs)
	require.NoError(t, err)
	require.Equal(t, image.Pt(31, 7), sz)
	pos, err := rs.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	require.Zero(t, pos)
}

func TestExtractor(t *testing.T) {
	img := randRGBA(400, 200)
	var orig bytes.Buffer
	require.NoError(t, bmp.Encode(&orig, img))
	dims := region.Dimensions{NaturalWidth: 400, NaturalHeight: 200, DisplayedWidth: 200, DisplayedHeight: 100}
	e := NewExtractor(bytes.NewReader(orig.Bytes()), dims, rasterx.DefaultQuality)

	// Extract twice to exercise the re-seek guard
	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		sz, err := e.Extract(context.Background(), region.Rect{X: 10, Y: 5, Width: 50, Height: 25}, &out)
		require.NoError(t, err)
		require.Equal(t, image.Pt(100, 50), sz)
		cfg, err := jpeg.DecodeConfig(&out)
		require.NoError(t, err)
		require.Equal(t, 100, cfg.Width)
		require.Equal(t, 50, cfg.Height)
	}

	_, err := e.Extract(context.Background(), region.Rect{}, io.Discard)
	require.ErrorIs(t, err, region.ErrInvalidRegion)
	require.ErrorIs(t, err, rasterx.ErrExtractionFailure)

	// A rejected region does not consume the stream
	stream := NewExtractor(onlyReader{bytes.NewReader(orig.Bytes())}, dims, rasterx.DefaultQuality)
	_, err = stream.Extract(context.Background(), region.Rect{X: 500, Y: 500, Width: 10, Height: 10}, io.Discard)
	require.ErrorIs(t, err, region.ErrInvalidRegion)
	_, err = stream.Extract(context.Background(), region.Rect{Width: 10, Height: 10}, io.Discard)
	require.NoError(t, err)
	_, err = stream.Extract(context.Background(), region.Rect{Width: 10, Height: 10}, io.Discard)
	require.Error(t, err)
}

// onlyReader hides any io.Seeker implementation of the wrapped reader.
type onlyReader struct {
	r io.Reader
}

func (o onlyReader) Read(p []byte) (int, error) {
	return o.r.Read(p)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func stdlibCrop(img image.Image, rect image.Rectangle) (image.Image, error) {
	subimg, ok := img.(subImager)
	if !ok {
		return nil, errors.New("image does not support sub-imaging")
	}
	return subimg.SubImage(rect), nil
}

func requireSamePixels(t *testing.T, want, got image.Image) {
	t.Helper()
	require.Equal(t, want.Bounds().Size(), got.Bounds().Size())
	wb, gb := want.Bounds(), got.Bounds()
	for y := 0; y < wb.Dy(); y++ {
		for x := 0; x < wb.Dx(); x++ {
			wr, wg, wbl, wa := want.At(wb.Min.X+x, wb.Min.Y+y).RGBA()
			gr, gg, gbl, ga := got.At(gb.Min.X+x, gb.Min.Y+y).RGBA()
			require.Equal(t, [4]uint32{wr, wg, wbl, wa}, [4]uint32{gr, gg, gbl, ga}, "(%v,%v)", x, y)
		}
	}
}

// randRGBA returns an opaque image with random pixels. BMP has no alpha
// without a V4 header, which Crop does not support.
func randRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	_, _ = rand.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}
