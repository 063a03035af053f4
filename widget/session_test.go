package widget

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sebnyberg/cropview/config"
	"github.com/sebnyberg/cropview/loadx"
	"github.com/sebnyberg/cropview/rasterx"
	"github.com/sebnyberg/cropview/region"
	"github.com/sebnyberg/cropview/resultlist"
	"github.com/sebnyberg/cropview/selector"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// gradientPNG returns a PNG of w x h. Gradients keep large fixtures small.
func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(x)
			img.Pix[i+1] = uint8(y)
			img.Pix[i+2] = uint8(x + y)
			img.Pix[i+3] = 0xff
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newSession(t *testing.T, cfg *config.Config, opts ...Option) *Session {
	t.Helper()
	s, err := New(cfg, append([]Option{WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// gatedEncoder blocks encoding of images of a given width until the gate for
// that width is closed.
func gatedEncoder(gates map[int]chan struct{}) encodeFunc {
	return func(ctx context.Context, img image.Image, quality int) ([]byte, error) {
		if gate, ok := gates[img.Bounds().Dx()]; ok {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return rasterx.Encode(ctx, img, quality)
	}
}

func TestConfirmScaled(t *testing.T) {
	s := newSession(t, nil)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 2000, 1000))))
	require.NoError(t, s.Layout(1000, 500))
	s.SetCrop(region.Rect{X: 100, Y: 50, Width: 200, Height: 100})

	p, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, image.Pt(400, 200), p.Size)
	item, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, 400, item.Width)
	require.Equal(t, 200, item.Height)
	require.Equal(t, uint64(1), item.Seq)
	require.Equal(t, []resultlist.Item{item}, s.Results())

	r, err := s.Open(item.URL)
	require.NoError(t, err)
	img, err := jpeg.Decode(r)
	require.NoError(t, err)
	require.Equal(t, image.Pt(400, 200), img.Bounds().Size())

	thumb, err := s.Thumbnail(waitCtx(t), item.URL)
	require.NoError(t, err)
	require.Equal(t, image.Pt(160, 80), thumb.Bounds().Size())
}

func TestConfirmIdempotent(t *testing.T) {
	s := newSession(t, nil)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 300, 300))))
	require.NoError(t, s.Layout(200, 200))
	s.SetCrop(region.Rect{X: 1, Y: 1, Width: 11, Height: 11})

	a, err := s.Confirm()
	require.NoError(t, err)
	b, err := s.Confirm()
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))
	ia, err := a.Wait(waitCtx(t))
	require.NoError(t, err)
	ib, err := b.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, ia.Width, ib.Width)
	require.Equal(t, ia.Height, ib.Height)
	require.NotEqual(t, ia.URL, ib.URL)
	require.Len(t, s.Results(), 2)
}

func TestConfirmErrors(t *testing.T) {
	s := newSession(t, nil)
	_, err := s.Confirm()
	require.ErrorIs(t, err, ErrNoImageLoaded)
	require.ErrorIs(t, s.Layout(10, 10), ErrNoImageLoaded)

	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 100, 100))))
	_, err = s.Confirm()
	require.ErrorIs(t, err, ErrNoCrop)

	s.SetCrop(region.Rect{X: 10, Y: 10, Width: 0, Height: 0})
	_, err = s.Confirm()
	require.ErrorIs(t, err, region.ErrInvalidRegion)
	require.ErrorIs(t, err, rasterx.ErrExtractionFailure)

	s.SetCrop(region.Rect{X: 500, Y: 500, Width: 10, Height: 10})
	_, err = s.Confirm()
	require.ErrorIs(t, err, region.ErrInvalidRegion)

	require.Empty(t, s.Results())
	require.Zero(t, s.InFlight())

	// the session stays usable
	s.SetCrop(region.Rect{X: 90, Y: 90, Width: 50, Height: 50})
	p, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, image.Pt(10, 10), p.Size)
}

func TestLoadFailureKeepsImage(t *testing.T) {
	s := newSession(t, nil)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 50, 40))))
	s.SetCrop(region.Rect{Width: 10, Height: 10})
	gen := s.Source().Gen

	err := s.Load(strings.NewReader("GIF89a but not really"))
	require.ErrorIs(t, err, loadx.ErrDecodeFailure)
	require.Equal(t, gen, s.Source().Gen)
	r, ok := s.Crop()
	require.True(t, ok)
	require.Equal(t, region.Rect{Width: 10, Height: 10}, r)

	_, err = s.Confirm()
	require.NoError(t, err)
}

func TestSecondFileReplacesFirst(t *testing.T) {
	s := newSession(t, nil)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 2000, 1000))))
	require.NoError(t, s.Layout(1000, 500))
	s.SetCrop(region.Rect{X: 0, Y: 0, Width: 100, Height: 100})

	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 300, 200))))
	_, ok := s.Crop()
	require.False(t, ok)
	d, ok := s.Dimensions()
	require.True(t, ok)
	require.Equal(t, region.Dimensions{
		NaturalWidth:    300,
		NaturalHeight:   200,
		DisplayedWidth:  300,
		DisplayedHeight: 200,
	}, d)

	s.SetCrop(region.Rect{X: 0, Y: 0, Width: 100, Height: 100})
	p, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, image.Pt(100, 100), p.Size)
}

func TestCompletionOrder(t *testing.T) {
	s := newSession(t, nil)
	gates := map[int]chan struct{}{100: make(chan struct{}), 50: make(chan struct{})}
	s.encode = gatedEncoder(gates)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 200, 200))))

	s.SetCrop(region.Rect{Width: 100, Height: 100})
	a, err := s.Confirm()
	require.NoError(t, err)
	s.SetCrop(region.Rect{Width: 50, Height: 50})
	b, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, 2, s.InFlight())

	close(gates[50])
	_, err = b.Wait(waitCtx(t))
	require.NoError(t, err)
	close(gates[100])
	_, err = a.Wait(waitCtx(t))
	require.NoError(t, err)

	var seqs []uint64
	for _, it := range s.Results() {
		seqs = append(seqs, it.Seq)
	}
	require.Equal(t, []uint64{2, 1}, seqs)
}

func TestConfirmationOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Ordering = config.OrderConfirmation
	s := newSession(t, cfg)
	gates := map[int]chan struct{}{100: make(chan struct{}), 50: make(chan struct{})}
	s.encode = gatedEncoder(gates)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 200, 200))))

	s.SetCrop(region.Rect{Width: 100, Height: 100})
	a, err := s.Confirm()
	require.NoError(t, err)
	s.SetCrop(region.Rect{Width: 50, Height: 50})
	b, err := s.Confirm()
	require.NoError(t, err)

	close(gates[50])
	select {
	case <-b.Done():
		t.Fatal("second crop appended before the first finished")
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, s.Results())

	close(gates[100])
	require.NoError(t, s.Wait(waitCtx(t)))
	_, err = a.Wait(waitCtx(t))
	require.NoError(t, err)
	_, err = b.Wait(waitCtx(t))
	require.NoError(t, err)

	var seqs []uint64
	for _, it := range s.Results() {
		seqs = append(seqs, it.Seq)
	}
	require.Equal(t, []uint64{1, 2}, seqs)
}

func TestConfirmationOrderSkipsFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Ordering = config.OrderConfirmation
	s := newSession(t, cfg)
	gates := map[int]chan struct{}{100: make(chan struct{})}
	s.encode = gatedEncoder(gates)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 200, 200))))

	s.SetCrop(region.Rect{Width: 100, Height: 100})
	a, err := s.Confirm()
	require.NoError(t, err)
	s.SetCrop(region.Rect{Width: 50, Height: 50})
	b, err := s.Confirm()
	require.NoError(t, err)

	a.Cancel()
	_, err = a.Wait(waitCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	item, err := b.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, []resultlist.Item{item}, s.Results())
}

func TestNewFileCancelsPending(t *testing.T) {
	s := newSession(t, nil)
	gates := map[int]chan struct{}{100: make(chan struct{})}
	s.encode = gatedEncoder(gates)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 200, 200))))
	s.SetCrop(region.Rect{Width: 100, Height: 100})
	p, err := s.Confirm()
	require.NoError(t, err)

	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 20, 20))))
	_, err = p.Wait(waitCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, s.Results())
	require.Zero(t, s.InFlight())
}

func TestSelectorConfirms(t *testing.T) {
	results := make(chan resultlist.Item, 1)
	s := newSession(t, nil, OnResult(func(it resultlist.Item) { results <- it }))
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 400, 200))))
	require.NoError(t, s.Fit(200, 0))

	sel := s.Selector()
	require.NotNil(t, sel)
	sel.Begin(selector.Point{X: 10, Y: 10})
	sel.Move(selector.Point{X: 60, Y: 40})
	r, ok := s.Crop()
	require.True(t, ok)
	require.Equal(t, region.Rect{X: 10, Y: 10, Width: 50, Height: 30}, r)
	sel.End()

	select {
	case it := <-results:
		require.Equal(t, 100, it.Width)
		require.Equal(t, 60, it.Height)
	case <-waitCtx(t).Done():
		t.Fatal("no result")
	}
}

func TestLayoutRescalesCrop(t *testing.T) {
	s := newSession(t, nil)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 400, 200))))
	s.SetCrop(region.Rect{X: 40, Y: 20, Width: 100, Height: 50})
	require.NoError(t, s.Layout(200, 100))
	r, ok := s.Crop()
	require.True(t, ok)
	require.Equal(t, region.Rect{X: 20, Y: 10, Width: 50, Height: 25}, r)

	p, err := s.Confirm()
	require.NoError(t, err)
	require.Equal(t, image.Pt(100, 50), p.Size)

	require.Error(t, s.Layout(0, 100))
}

func TestClose(t *testing.T) {
	s, err := New(nil, WithLogger(quiet))
	require.NoError(t, err)
	gates := map[int]chan struct{}{100: make(chan struct{})}
	s.encode = gatedEncoder(gates)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 200, 200))))
	s.SetCrop(region.Rect{Width: 50, Height: 50})
	done, err := s.Confirm()
	require.NoError(t, err)
	item, err := done.Wait(waitCtx(t))
	require.NoError(t, err)

	s.SetCrop(region.Rect{Width: 100, Height: 100})
	stuck, err := s.Confirm()
	require.NoError(t, err)

	s.Close()
	_, err = stuck.Wait(waitCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Open(item.URL)
	require.Error(t, err)
	_, err = s.Confirm()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Load(bytes.NewReader(gradientPNG(t, 10, 10))), ErrClosed)
	s.Close()
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Interpolator = "sinc"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestLayoutDuringDrag(t *testing.T) {
	s := newSession(t, nil)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 400, 200))))
	require.NoError(t, s.Layout(200, 100))

	sel := s.Selector()
	sel.Begin(selector.Point{X: 10, Y: 10})
	sel.Move(selector.Point{X: 50, Y: 30})
	require.NoError(t, s.Layout(400, 200))
	r, ok := s.Crop()
	require.True(t, ok)
	require.Equal(t, region.Rect{X: 20, Y: 20, Width: 80, Height: 40}, r)

	sel.Move(selector.Point{X: 120, Y: 80})
	r, _ = s.Crop()
	require.Equal(t, region.Rect{X: 20, Y: 20, Width: 100, Height: 60}, r)
}

func TestDiscardCancelsPending(t *testing.T) {
	s := newSession(t, nil)
	gates := map[int]chan struct{}{100: make(chan struct{})}
	s.encode = gatedEncoder(gates)
	require.NoError(t, s.Load(bytes.NewReader(gradientPNG(t, 200, 200))))
	s.SetCrop(region.Rect{Width: 100, Height: 100})
	p, err := s.Confirm()
	require.NoError(t, err)

	s.Discard()
	_, err = p.Wait(waitCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, s.Results())
	require.Zero(t, s.InFlight())
	require.Nil(t, s.Source())
	_, ok := s.Crop()
	require.False(t, ok)

	_, err = s.Confirm()
	require.ErrorIs(t, err, ErrNoImageLoaded)
}
