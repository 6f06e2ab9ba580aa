package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Stores)
}

func TestParseStores(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 8080
  shutdown_timeout: 5s
logging:
  level: debug
  format: json
metrics:
  enabled: false
stores:
  - name: main
    kind: S3
    bucket: data
    prefix: /team/a/
    endpoint: http://localhost:9000
    path_style: true
    upload_part_size: 8MiB
    copy_part_size: 1GiB
    list_page_size: 500
  - bucket: archive
  - name: scratch
    kind: local
    root_dir: /tmp/blobs
  - name: gcs
    kind: gcs
    bucket: g
  - name: az
    kind: azure
    container: c
    account_url: https://acct.blob.core.windows.net
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Metrics.Enabled)
	require.Len(t, cfg.Stores, 5)

	main := cfg.Stores[0]
	assert.Equal(t, KindS3, main.Kind)
	assert.Equal(t, ByteSize(8<<20), main.UploadPartSize)
	assert.Equal(t, ByteSize(1<<30), main.CopyPartSize)
	assert.EqualValues(t, 500, main.ListPageSize)
	assert.Equal(t, "us-east-1", main.Region)
	assert.True(t, main.PathStyle)

	archive, ok := cfg.Store("archive")
	require.True(t, ok, "name defaults to the bucket")
	assert.Equal(t, KindS3, archive.Kind)
	assert.Zero(t, archive.UploadPartSize, "unset sizes stay unset")

	_, ok = cfg.Store("missing")
	assert.False(t, ok)
}

func TestPartSizesAreClamped(t *testing.T) {
	cfg, err := Parse([]byte(`
stores:
  - bucket: b
    upload_part_size: 1KiB
    copy_part_size: 10GiB
`))
	require.NoError(t, err)
	assert.Equal(t, MinPartSize, cfg.Stores[0].UploadPartSize)
	assert.Equal(t, MaxPartSize, cfg.Stores[0].CopyPartSize)
}

func TestByteSizeParsing(t *testing.T) {
	cfg, err := Parse([]byte("stores: [{bucket: b, upload_part_size: 10485760}]"))
	require.NoError(t, err)
	assert.Equal(t, ByteSize(10<<20), cfg.Stores[0].UploadPartSize)
	assert.Equal(t, "10 MiB", cfg.Stores[0].UploadPartSize.String())

	_, err = Parse([]byte("stores: [{bucket: b, upload_part_size: lots}]"))
	assert.ErrorContains(t, err, "invalid size")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing bucket", "stores: [{name: a}]", `store "a": bucket is required`},
		{"missing root", "stores: [{name: a, kind: local}]", "root_dir is required"},
		{"missing container", "stores: [{name: a, kind: azure}]", "container is required"},
		{"missing account", "stores: [{name: a, kind: azure, container: c}]", "account_url or connection_string"},
		{"unknown kind", "stores: [{name: a, kind: ftp}]", `unknown kind "ftp"`},
		{"duplicate", "stores: [{bucket: a}, {bucket: a}]", `duplicate store name "a"`},
		{"no name", "stores: [{kind: local, root_dir: /x}]", "name is required"},
		{"page size", "stores: [{bucket: a, list_page_size: 5000}]", "list_page_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stores: [{bucket: b}]\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Stores, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}
