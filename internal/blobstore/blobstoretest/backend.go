package blobstoretest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

// Backend is an in-memory blobstore.Backend that is not a *blobstore.Store,
// so copies involving it take the streaming path.
type Backend struct {
	name string

	mu    sync.Mutex
	blobs map[blobpath.Path][]byte
	// Metadata records the options each committed blob was written with.
	Metadata map[blobpath.Path]blobstore.ObjectMetadata
	// Reads counts NewReader calls.
	Reads int
}

// NewBackend returns an empty backend labelled name.
func NewBackend(name string) *Backend {
	return &Backend{
		name:     name,
		blobs:    make(map[blobpath.Path][]byte),
		Metadata: make(map[blobpath.Path]blobstore.ObjectMetadata),
	}
}

// Put stores data at p.
func (b *Backend) Put(p blobpath.Path, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[p] = data
}

// Get returns the data at p.
func (b *Backend) Get(p blobpath.Path) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.blobs[p]
	return d, ok
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Exists(_ context.Context, p blobpath.Path) (bool, error) {
	_, ok := b.Get(p)
	return ok, nil
}

func (b *Backend) Size(_ context.Context, p blobpath.Path) (int64, error) {
	d, ok := b.Get(p)
	if !ok {
		return 0, &blobstore.NotFoundError{Store: b.name, Path: p.String()}
	}
	return int64(len(d)), nil
}

func (b *Backend) NewReader(_ context.Context, p blobpath.Path, rng *blobstore.ByteRange) (io.ReadCloser, error) {
	b.mu.Lock()
	b.Reads++
	d, ok := b.blobs[p]
	b.mu.Unlock()
	if !ok {
		return nil, &blobstore.NotFoundError{Store: b.name, Path: p.String()}
	}
	if rng != nil {
		end := rng.End
		if end < 0 || end > int64(len(d)) {
			end = int64(len(d))
		}
		d = d[min(rng.Start, end):end]
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (b *Backend) NewWriter(_ context.Context, p blobpath.Path, opts ...blobstore.WriterOption) (blobstore.Writer, error) {
	return &memWriter{backend: b, path: p, opts: blobstore.ApplyWriterOptions(opts...)}, nil
}

func (b *Backend) Delete(_ context.Context, p blobpath.Path) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, p)
	return nil
}

type memWriter struct {
	backend *Backend
	path    blobpath.Path
	opts    blobstore.WriterOptions
	buf     bytes.Buffer
	done    bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, blobstore.ErrWriterClosed
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	b := w.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[w.path]; ok && w.opts.Mode == blobstore.CreateNew {
		return &blobstore.AlreadyExistsError{Store: b.name, Path: w.path.String(), Err: errors.New("exists")}
	}
	b.blobs[w.path] = w.buf.Bytes()
	b.Metadata[w.path] = w.opts.Metadata
	return nil
}

func (w *memWriter) Abort() error {
	w.done = true
	return nil
}

var _ blobstore.Backend = (*Backend)(nil)
