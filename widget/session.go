// Package widget implements a headless image cropping widget.
//
// A Session is fed the same events a user interface would produce: a file
// was chosen, the image was laid out, the crop rectangle was dragged, the
// crop was confirmed. Each confirmation copies the selected pixels right
// away and encodes them in the background. Finished results are appended to
// the session's result list.
//
// Input events (Load, Layout, Fit, SetCrop, Discard, Confirm and gestures
// fed to the Selector) are expected to come from a single event loop, as
// they would in a user interface. Results, Open, Thumbnail, InFlight and
// Wait may be called from any goroutine.
package widget

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"

	"github.com/sebnyberg/cropview/blobx"
	"github.com/sebnyberg/cropview/config"
	"github.com/sebnyberg/cropview/loadx"
	"github.com/sebnyberg/cropview/rasterx"
	"github.com/sebnyberg/cropview/region"
	"github.com/sebnyberg/cropview/resultlist"
	"github.com/sebnyberg/cropview/selector"
)

var (
	ErrNoImageLoaded = errors.New("no image loaded")
	ErrNoCrop        = errors.New("no crop region selected")
	ErrClosed        = errors.New("session closed")
)

type encodeFunc func(ctx context.Context, img image.Image, quality int) ([]byte, error)

type Session struct {
	cfg        config.Config
	interp     xdraw.Interpolator
	log        *slog.Logger
	store      *blobx.Store
	list       *resultlist.List
	sem        *semaphore.Weighted
	encode     encodeFunc
	onResult   func(resultlist.Item)
	onError    func(error)
	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	src       *loadx.Source
	dims      region.Dimensions
	srcCtx    context.Context
	srcCancel context.CancelFunc
	crop      region.Rect
	hasCrop   bool
	sel       *selector.Selector
	closed    bool
	seq       uint64
	pending   map[uint64]*Pending

	// Results held back until every earlier confirmation has finished. Only
	// used with config.OrderConfirmation.
	held map[uint64]*Pending
	next uint64
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// OnResult is called from a background goroutine each time a result is
// appended to the list.
func OnResult(fn func(resultlist.Item)) Option {
	return func(s *Session) {
		s.onResult = fn
	}
}

// OnError is called when an extraction started by the crop selector fails,
// or when a background extraction fails.
func OnError(fn func(error)) Option {
	return func(s *Session) {
		s.onError = fn
	}
}

// New returns an empty session. cfg is copied; nil means config.Default().
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	interp, err := rasterx.ParseInterpolator(c.Interpolator)
	if err != nil {
		return nil, err
	}
	store := blobx.New("")
	list, err := resultlist.New(store, c.Thumbnail.CacheSize)
	if err != nil {
		return nil, err
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        c,
		interp:     interp,
		log:        slog.Default(),
		store:      store,
		list:       list,
		sem:        semaphore.NewWeighted(int64(c.MaxInFlight)),
		encode:     rasterx.Encode,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		pending:    make(map[uint64]*Pending),
		held:       make(map[uint64]*Pending),
		next:       1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadFile loads the image at path. See Load.
func (s *Session) LoadFile(path string) error {
	src, err := loadx.LoadFile(path, s.loadOpts()...)
	if err != nil {
		s.log.Warn("load image failed", "path", path, "err", err)
		return err
	}
	return s.use(src)
}

// Load decodes an image from r and makes it the current image. On failure
// the previous image, if any, is kept. On success the previous image is
// discarded together with its crop rectangle and pending extractions.
func (s *Session) Load(r io.Reader) error {
	src, err := loadx.Load(r, s.loadOpts()...)
	if err != nil {
		s.log.Warn("load image failed", "err", err)
		return err
	}
	return s.use(src)
}

func (s *Session) loadOpts() []loadx.Option {
	return []loadx.Option{
		loadx.WithMaxBytes(s.cfg.MaxBytes),
		loadx.WithMaxPixels(s.cfg.MaxPixels),
		loadx.WithAutoOrient(s.cfg.AutoOrient),
	}
}

func (s *Session) use(src *loadx.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.discardLocked()
	s.src = src
	s.srcCtx, s.srcCancel = context.WithCancel(s.rootCtx)
	s.dims = src.Layout(s.cfg.Display.MaxWidth, s.cfg.Display.MaxHeight)
	gen := src.Gen
	s.sel = selector.New(s.dims.DisplayedWidth, s.dims.DisplayedHeight,
		selector.OnChange(func(r region.Rect) { s.setCrop(gen, r) }),
		selector.OnComplete(func(r region.Rect) { s.selectionComplete(gen, r) }),
	)
	s.log.Info("image loaded",
		"format", src.Format,
		"gen", src.Gen,
		"natural", src.Size(),
		"displayed", fmt.Sprintf("%gx%g", s.dims.DisplayedWidth, s.dims.DisplayedHeight),
	)
	return nil
}

// Discard drops the current image, its crop rectangle and cancels its
// pending extractions. Results already in the list are kept.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardLocked()
}

func (s *Session) discardLocked() {
	if s.src == nil {
		return
	}
	s.srcCancel()
	s.log.Debug("image discarded", "gen", s.src.Gen, "pending", len(s.pending))
	s.src = nil
	s.srcCtx, s.srcCancel = nil, nil
	s.dims = region.Dimensions{}
	s.crop, s.hasCrop = region.Rect{}, false
	s.sel = nil
}

// Layout records the size the current image is displayed at. The crop
// rectangle is scaled along with the image.
func (s *Session) Layout(displayedWidth, displayedHeight float64) error {
	s.mu.Lock()
	if s.src == nil {
		s.mu.Unlock()
		return ErrNoImageLoaded
	}
	dims := s.src.Dimensions(displayedWidth, displayedHeight)
	if err := dims.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.hasCrop {
		pct := s.crop.ToPercent(s.dims.DisplayedWidth, s.dims.DisplayedHeight)
		s.crop = pct.ToPixels(displayedWidth, displayedHeight)
	}
	s.dims = dims
	sel := s.sel
	s.mu.Unlock()

	// The selector reports the rescaled rectangle through setCrop
	sel.Resize(displayedWidth, displayedHeight)
	return nil
}

// Fit lays the current image out inside a box of maxWidth x maxHeight. See
// loadx.Source.Layout.
func (s *Session) Fit(maxWidth, maxHeight int) error {
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()
	if src == nil {
		return ErrNoImageLoaded
	}
	d := src.Layout(maxWidth, maxHeight)
	return s.Layout(d.DisplayedWidth, d.DisplayedHeight)
}

// SetCrop replaces the crop rectangle. It is called continuously while the
// user drags. Any rectangle held by the selector is dropped.
func (s *Session) SetCrop(r region.Rect) {
	s.mu.Lock()
	if s.src == nil {
		s.mu.Unlock()
		return
	}
	s.crop, s.hasCrop = r, true
	sel := s.sel
	s.mu.Unlock()

	// Like Layout, the selector is only touched outside the lock
	sel.Clear()
}

// setCrop is SetCrop for selector events, which are ignored once the image
// they were made on is gone.
func (s *Session) setCrop(gen uint64, r region.Rect) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil || s.src.Gen != gen {
		return false
	}
	s.crop, s.hasCrop = r, true
	return true
}

// Crop returns the current crop rectangle.
func (s *Session) Crop() (region.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crop, s.hasCrop
}

// Dimensions returns the natural and displayed size of the current image.
func (s *Session) Dimensions() (region.Dimensions, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims, s.src != nil
}

// Source returns the current image, or nil.
func (s *Session) Source() *loadx.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Selector returns the crop selector of the current image, or nil. Gestures
// fed to it update the crop rectangle, and a completed gesture confirms the
// crop.
func (s *Session) Selector() *selector.Selector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

func (s *Session) selectionComplete(gen uint64, r region.Rect) {
	if !s.setCrop(gen, r) {
		return
	}
	if _, err := s.Confirm(); err != nil {
		s.log.Warn("crop on selection complete failed", "rect", r.String(), "err", err)
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// Confirm extracts the current crop rectangle. The pixels are copied before
// Confirm returns; encoding continues in the background and its outcome is
// available through the returned Pending.
//
// Nothing is appended to the result list when Confirm returns an error.
func (s *Session) Confirm() (*Pending, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.src == nil {
		s.mu.Unlock()
		return nil, ErrNoImageLoaded
	}
	if !s.hasCrop {
		s.mu.Unlock()
		return nil, ErrNoCrop
	}
	src, dims, rect, srcCtx := s.src, s.dims, s.crop, s.srcCtx
	s.mu.Unlock()

	// The source is read-only, so copying happens outside the lock
	dst, err := rasterx.Copy(src.Image, dims, rect, s.interp)
	if err != nil {
		s.log.Debug("crop rejected", "rect", rect.String(), "err", err)
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		rasterx.Release(dst)
		return nil, ErrClosed
	}
	s.seq++
	ctx, cancel := context.WithCancel(srcCtx)
	p := &Pending{
		Seq:    s.seq,
		Size:   dst.Rect.Size(),
		Gen:    src.Gen,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.pending[p.Seq] = p
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Debug("crop confirmed", "seq", p.Seq, "gen", p.Gen, "rect", rect.String(), "size", p.Size)
	go s.run(p, dst)
	return p, nil
}

func (s *Session) run(p *Pending, dst *image.RGBA) {
	defer s.wg.Done()
	item, err := s.extract(p, dst)
	s.finish(p, item, err)
}

func (s *Session) extract(p *Pending, dst *image.RGBA) (resultlist.Item, error) {
	defer rasterx.Release(dst)
	if err := s.sem.Acquire(p.ctx, 1); err != nil {
		return resultlist.Item{}, err
	}
	defer s.sem.Release(1)

	b, err := s.encode(p.ctx, dst, s.cfg.JPEGQuality)
	if err != nil {
		return resultlist.Item{}, err
	}
	url, err := s.store.Put(b, "image/jpeg")
	if err != nil {
		return resultlist.Item{}, err
	}
	return resultlist.Item{
		URL:    url,
		Width:  p.Size.X,
		Height: p.Size.Y,
		Size:   len(b),
		Seq:    p.Seq,
	}, nil
}

// finish records the outcome of p and appends whatever results became ready.
func (s *Session) finish(p *Pending, item resultlist.Item, err error) {
	s.mu.Lock()
	delete(s.pending, p.Seq)
	p.item, p.err = item, err

	var ready []*Pending
	if s.cfg.Ordering == config.OrderConfirmation {
		s.held[p.Seq] = p
		for {
			q, ok := s.held[s.next]
			if !ok {
				break
			}
			delete(s.held, s.next)
			s.next++
			ready = append(ready, q)
		}
	} else {
		ready = append(ready, p)
	}
	for _, q := range ready {
		// The image may have been discarded after encoding finished
		if q.err == nil && q.ctx.Err() != nil {
			s.store.Revoke(q.item.URL)
			q.item, q.err = resultlist.Item{}, q.ctx.Err()
		}
		if q.err == nil {
			s.list.Append(q.item)
		}
	}
	s.mu.Unlock()

	for _, q := range ready {
		q.cancel()
		close(q.done)
		if q.err != nil {
			s.report(q)
			continue
		}
		s.log.Info("crop ready",
			"seq", q.Seq,
			"url", q.item.URL,
			"size", fmt.Sprintf("%dx%d", q.item.Width, q.item.Height),
			"bytes", humanize.Bytes(uint64(q.item.Size)),
		)
		if s.onResult != nil {
			s.onResult(q.item)
		}
	}
}

func (s *Session) report(p *Pending) {
	if errors.Is(p.err, context.Canceled) {
		s.log.Debug("crop cancelled", "seq", p.Seq, "gen", p.Gen)
		return
	}
	s.log.Error("crop failed", "seq", p.Seq, "gen", p.Gen, "err", p.err)
	if s.onError != nil {
		s.onError(p.err)
	}
}

// Results returns the result list in append order.
func (s *Session) Results() []resultlist.Item {
	return s.list.Items()
}

// Open returns the encoded bytes behind a result URL.
func (s *Session) Open(url string) (io.ReadSeeker, error) {
	r, _, err := s.store.Open(url)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Thumbnail renders the result at url within the configured thumbnail box.
func (s *Session) Thumbnail(ctx context.Context, url string) (*image.NRGBA, error) {
	return s.list.Thumbnail(ctx, url, s.cfg.Thumbnail.Width, s.cfg.Thumbnail.Height)
}

// InFlight returns the number of extractions that have not finished.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) + len(s.held)
}

// Wait waits for every extraction started before the call.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	waiting := make([]*Pending, 0, len(s.pending)+len(s.held))
	for _, p := range s.pending {
		waiting = append(waiting, p)
	}
	for _, p := range s.held {
		waiting = append(waiting, p)
	}
	s.mu.Unlock()

	for _, p := range waiting {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close cancels pending extractions and releases all results. The session
// cannot be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.discardLocked()
	s.rootCancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.store.Close()
	s.list.Forget()
}

// Pending is an extraction whose encoding may still be running.
type Pending struct {
	Seq uint64
	// Size is the pixel size of the result.
	Size image.Point
	// Gen is the generation of the image the crop was taken from.
	Gen uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	item   resultlist.Item
	err    error
}

// Done is closed once the result has been appended, or the extraction failed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Cancel abandons the extraction. It has no effect once Done is closed.
func (p *Pending) Cancel() {
	p.cancel()
}

// Wait blocks until the extraction finishes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (resultlist.Item, error) {
	select {
	case <-p.done:
		return p.item, p.err
	case <-ctx.Done():
		return resultlist.Item{}, ctx.Err()
	}
}
