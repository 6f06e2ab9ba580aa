package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/s3blob/internal/config"
)

func TestOpenLocalStores(t *testing.T) {
	cfg, err := config.Parse([]byte(`
stores:
  - name: b
    kind: local
    root_dir: ` + t.TempDir() + `
  - name: a
    kind: local
    root_dir: ` + t.TempDir() + `
`))
	require.NoError(t, err)

	r, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	b, ok := r.Get("a")
	require.True(t, ok)
	assert.IsType(t, &LocalBackend{}, b)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Empty(t, r.Check(context.Background()))
}

func TestRegistryCheckReportsFailures(t *testing.T) {
	r := NewRegistry()
	local := newTestLocalBackend(t)
	r.Register(local, nil)

	gcsBackend, _ := newTestGCSBackend(t)
	r.Register(gcsBackend, func(context.Context) error { return errors.New("unreachable") })

	failed := r.Check(context.Background())
	require.Len(t, failed, 1)
	assert.EqualError(t, failed["gcs"], "unreachable")
}
