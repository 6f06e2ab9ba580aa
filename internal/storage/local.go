package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

// tmpDirName holds in-flight writes below the root. It is not a valid first
// path segment for blobs.
const tmpDirName = ".tmp"

// LocalBackend implements blobstore.Backend using the local filesystem.
// Blobs are stored as files within a root directory, one directory level per
// path segment. Object metadata is not persisted.
type LocalBackend struct {
	name string
	// RootDir is the base directory under which all blobs are stored.
	RootDir string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalBackend(name, rootDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalBackend{name: name, RootDir: rootDir}, nil
}

func (b *LocalBackend) Name() string { return b.name }

// CleanTempFiles removes all files in the .tmp directory. This is called on
// startup as part of crash-only recovery. Any temp files left behind indicate
// incomplete writes from a previous crash. It returns the number removed.
func (b *LocalBackend) CleanTempFiles() (int, error) {
	tmpDir := filepath.Join(b.RootDir, tmpDirName)
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading temp directory: %w", err)
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(tmpDir, entry.Name())); err == nil {
			n++
		}
	}
	if n > 0 {
		slog.Info("Removed leftover temp files", "store", b.name, "count", n)
	}
	return n, nil
}

// filePath returns the full filesystem path for a blob.
func (b *LocalBackend) filePath(p blobpath.Path) (string, error) {
	if p.IsRoot() {
		return "", fmt.Errorf("%w: root is not a blob", blobpath.ErrInvalidPath)
	}
	if p.Segments()[0] == tmpDirName {
		return "", fmt.Errorf("%w: %q is reserved", blobpath.ErrInvalidPath, tmpDirName)
	}
	return filepath.Join(b.RootDir, filepath.FromSlash(p.String())), nil
}

func (b *LocalBackend) notFound(p blobpath.Path, err error) error {
	return &blobstore.NotFoundError{Store: b.name, Path: p.String(), Err: err}
}

// stat returns the file info of a blob. Directories are not blobs.
func (b *LocalBackend) stat(p blobpath.Path) (fs.FileInfo, error) {
	fp, err := b.filePath(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, b.notFound(p, err)
		}
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, b.notFound(p, fmt.Errorf("%s is a directory", fp))
	}
	return info, nil
}

func (b *LocalBackend) Exists(_ context.Context, p blobpath.Path) (bool, error) {
	_, err := b.stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, blobstore.ErrNotFound):
		return false, nil
	}
	return false, err
}

func (b *LocalBackend) Size(_ context.Context, p blobpath.Path) (int64, error) {
	info, err := b.stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// NewReader opens the blob file. A range is served by seeking to its start
// and limiting the read to its length.
func (b *LocalBackend) NewReader(_ context.Context, p blobpath.Path, rng *blobstore.ByteRange) (io.ReadCloser, error) {
	if rng != nil {
		if err := rng.Validate(); err != nil {
			return nil, err
		}
	}
	if _, err := b.stat(p); err != nil {
		return nil, err
	}
	fp, _ := b.filePath(p)
	file, err := os.Open(fp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, b.notFound(p, err)
		}
		return nil, fmt.Errorf("opening blob file %s: %w", p, err)
	}
	if rng == nil {
		return file, nil
	}
	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seeking blob file %s: %w", p, err)
	}
	if rng.End < 0 {
		return file, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(file, rng.End-rng.Start), file}, nil
}

// NewWriter streams into a temp file that is moved into place on Close.
func (b *LocalBackend) NewWriter(_ context.Context, p blobpath.Path, opts ...blobstore.WriterOption) (blobstore.Writer, error) {
	fp, err := b.filePath(p)
	if err != nil {
		return nil, err
	}
	tmpPath := filepath.Join(b.RootDir, tmpDirName, "tmp-"+uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &localWriter{
		backend: b,
		path:    p,
		target:  fp,
		tmpPath: tmpPath,
		file:    f,
		opts:    blobstore.ApplyWriterOptions(opts...),
	}, nil
}

// Delete removes the blob file. Deleting a missing blob succeeds. Empty
// parent directories up to the root are removed as well.
func (b *LocalBackend) Delete(_ context.Context, p blobpath.Path) error {
	fp, err := b.filePath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(fp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing blob file %s: %w", p, err)
	}
	b.pruneDirs(filepath.Dir(fp))
	return nil
}

func (b *LocalBackend) pruneDirs(dir string) {
	root := filepath.Clean(b.RootDir)
	for dir != root && len(dir) > len(root) {
		if err := os.Remove(dir); err != nil {
			// Directory not empty or other error: stop climbing.
			return
		}
		dir = filepath.Dir(dir)
	}
}

// localWriter implements the crash-only atomic write pattern: write to a temp
// file, fsync, then rename (Overwrite) or hard-link (CreateNew) into place.
type localWriter struct {
	backend *LocalBackend
	path    blobpath.Path
	target  string
	tmpPath string
	file    *os.File
	opts    blobstore.WriterOptions

	closed   bool
	closeErr error
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, blobstore.ErrWriterClosed
	}
	return w.file.Write(p)
}

func (w *localWriter) Close() error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	w.closeErr = w.commit()
	return w.closeErr
}

func (w *localWriter) commit() error {
	defer os.Remove(w.tmpPath)

	// Fsync before rename to guarantee durability.
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.target), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %s: %w", w.path, err)
	}

	if w.opts.Mode == blobstore.CreateNew {
		// Link fails if the target exists, which makes the check atomic.
		if err := os.Link(w.tmpPath, w.target); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return &blobstore.AlreadyExistsError{Store: w.backend.name, Path: w.path.String(), Err: err}
			}
			return fmt.Errorf("linking temp file to %s: %w", w.path, err)
		}
		return nil
	}
	if err := os.Rename(w.tmpPath, w.target); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", w.path, err)
	}
	return nil
}

// Abort discards the temp file. Abort after Close is a no-op.
func (w *localWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.closeErr = fmt.Errorf("%w: aborted", blobstore.ErrWriterClosed)
	w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing temp file: %w", err)
	}
	return nil
}

var _ blobstore.Backend = (*LocalBackend)(nil)
