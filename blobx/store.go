// Package blobx keeps encoded results in memory behind opaque blob URLs.
package blobx

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrClosed   = errors.New("blob store closed")
)

const scheme = "blob:"

type blob struct {
	data []byte
	mime string
}

// Store maps blob URLs to immutable byte slices. The zero value is not
// usable; call New.
type Store struct {
	origin string

	mu     sync.RWMutex
	blobs  map[string]blob
	size   int64
	closed bool
}

// New returns a store whose URLs look like blob:<origin>/<uuid>.
func New(origin string) *Store {
	if origin == "" {
		origin = "cropview"
	}
	return &Store{
		origin: origin,
		blobs:  make(map[string]blob),
	}
}

// Put stores data and returns a URL referring to it. The store takes
// ownership of data.
func (s *Store) Put(data []byte, mime string) (string, error) {
	url := fmt.Sprintf("%s%s/%s", scheme, s.origin, uuid.NewString())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	s.blobs[url] = blob{data: data, mime: mime}
	s.size += int64(len(data))
	return url, nil
}

// Open returns a reader over the blob at url and its media type.
func (s *Store) Open(url string) (*bytes.Reader, string, error) {
	if !strings.HasPrefix(url, scheme) {
		return nil, "", fmt.Errorf("%q is not a blob url, %w", url, ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[url]
	if !ok {
		return nil, "", fmt.Errorf("open %q, %w", url, ErrNotFound)
	}
	return bytes.NewReader(b.data), b.mime, nil
}

// Revoke releases the blob at url. Revoking an unknown url is a no-op.
func (s *Store) Revoke(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blobs[url]; ok {
		s.size -= int64(len(b.data))
		delete(s.blobs, url)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Size returns the total number of stored bytes.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close revokes all blobs. Put fails afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[string]blob)
	s.size = 0
	s.closed = true
}
