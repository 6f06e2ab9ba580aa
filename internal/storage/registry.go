// Package storage connects blob stores to their services. It provides the
// S3 wire client behind blobstore.Store, blobstore.Backend implementations
// for the local filesystem, Google Cloud Storage and Azure Blob Storage,
// and a Registry that builds the configured stores by name.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
	"github.com/bleepstore/s3blob/internal/config"
)

// probePath is looked up to check that a backend without a cheaper probe is
// reachable. It is not expected to exist.
var probePath = blobpath.MustParse(".healthcheck")

// Registry holds the configured backends by name.
type Registry struct {
	backends map[string]blobstore.Backend
	checks   map[string]func(context.Context) error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]blobstore.Backend),
		checks:   make(map[string]func(context.Context) error),
	}
}

// Open builds a backend for every store in cfg. Remote services are
// contacted once to verify access.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, sc := range cfg.Stores {
		if err := r.open(ctx, sc, logger); err != nil {
			return nil, fmt.Errorf("opening store %q: %w", sc.Name, err)
		}
		logger.Info("Store opened", "store", sc.Name, "kind", sc.Kind)
	}
	return r, nil
}

func (r *Registry) open(ctx context.Context, sc config.StoreConfig, logger *slog.Logger) error {
	switch sc.Kind {
	case config.KindS3:
		client, err := NewS3Client(ctx, S3Options{
			Region:    sc.Region,
			Endpoint:  sc.Endpoint,
			PathStyle: sc.PathStyle,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
		})
		if err != nil {
			return err
		}
		if err := client.CheckBucket(ctx, sc.Bucket); err != nil {
			return err
		}
		store := blobstore.New(client, sc.Bucket,
			blobstore.WithName(sc.Name),
			blobstore.WithPrefix(sc.Prefix),
			blobstore.WithUploadPartSize(int64(sc.UploadPartSize)),
			blobstore.WithCopyPartSize(int64(sc.CopyPartSize)),
			blobstore.WithListPageSize(sc.ListPageSize),
			blobstore.WithLogger(logger),
		)
		r.Register(store, func(ctx context.Context) error { return client.CheckBucket(ctx, sc.Bucket) })

	case config.KindLocal:
		b, err := NewLocalBackend(sc.Name, sc.RootDir)
		if err != nil {
			return err
		}
		if _, err := b.CleanTempFiles(); err != nil {
			return err
		}
		r.Register(b, func(context.Context) error {
			_, err := os.Stat(b.RootDir)
			return err
		})

	case config.KindGCS:
		b, err := NewGCSBackend(ctx, sc.Name, sc.Bucket, sc.Prefix, sc.CredentialsFile)
		if err != nil {
			return err
		}
		r.Register(b, nil)

	case config.KindAzure:
		b, err := NewAzureBackend(ctx, sc.Name, sc.Container, sc.Prefix, sc.AccountURL, sc.ConnectionString)
		if err != nil {
			return err
		}
		r.Register(b, nil)

	default:
		return fmt.Errorf("unknown store kind %q", sc.Kind)
	}
	return nil
}

// Register adds b under its name, replacing any backend of the same name.
// check probes the backend for health; nil falls back to an existence
// lookup of a path that is not expected to exist.
func (r *Registry) Register(b blobstore.Backend, check func(context.Context) error) {
	if check == nil {
		check = func(ctx context.Context) error {
			_, err := b.Exists(ctx, probePath)
			return err
		}
	}
	r.backends[b.Name()] = b
	r.checks[b.Name()] = check
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (blobstore.Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check probes every backend and returns the failures by name.
func (r *Registry) Check(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}
