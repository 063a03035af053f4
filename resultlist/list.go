// Package resultlist holds extraction results in the order they were added
// and renders thumbnails for them.
package resultlist

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"sync"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 64

// Item is one extraction result. Items are never modified once appended.
type Item struct {
	URL    string
	Width  int
	Height int
	// Size is the number of encoded bytes.
	Size int
	// Seq is the confirmation number of the crop that produced the item.
	Seq uint64
}

// Opener resolves result URLs to encoded bytes.
type Opener interface {
	Open(url string) (*bytes.Reader, string, error)
}

type thumbKey struct {
	url  string
	w, h int
}

// List is an append-only list of results. It is safe for concurrent use.
type List struct {
	opener Opener
	thumbs *lru.Cache[thumbKey, *image.NRGBA]

	mu    sync.RWMutex
	items []Item
}

func New(opener Opener, cacheSize int) (*List, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	thumbs, err := lru.New[thumbKey, *image.NRGBA](cacheSize)
	if err != nil {
		return nil, err
	}
	return &List{opener: opener, thumbs: thumbs}, nil
}

// Append adds it to the end of the list and returns its index.
func (l *List) Append(it Item) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, it)
	return len(l.items) - 1
}

// Items returns a snapshot of the list.
func (l *List) Items() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Item, len(l.items))
	copy(res, l.items)
	return res
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Thumbnail returns the image at url scaled down to fit within w x h. Images
// that already fit are returned at their own size. ctx is checked before
// decoding and before resizing.
func (l *List) Thumbnail(ctx context.Context, url string, w, h int) (*image.NRGBA, error) {
	key := thumbKey{url: url, w: w, h: h}
	if thumb, ok := l.thumbs.Get(key); ok {
		return thumb, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, _, err := l.opener.Open(url)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %q err, %w", url, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	thumb := imaging.Fit(img, w, h, imaging.Lanczos)
	l.thumbs.Add(key, thumb)
	return thumb, nil
}

// Forget drops cached thumbnails. Items are kept.
func (l *List) Forget() {
	l.thumbs.Purge()
}
