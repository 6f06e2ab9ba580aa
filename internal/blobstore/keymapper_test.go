package blobstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

func TestKeyMapperNormalizesPrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", ""},
		{"/", ""},
		{"data", "data"},
		{"/data/", "data"},
		{"a//b///c", "a/b/c"},
		{"//a/b//", "a/b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, blobstore.NewKeyMapper(tt.in).Prefix(), "prefix %q", tt.in)
	}
}

func TestKeyMapperBuildKey(t *testing.T) {
	p := blobpath.MustParse("dir/file.txt")

	assert.Equal(t, "dir/file.txt", blobstore.NewKeyMapper("").BuildKey(p))
	assert.Equal(t, "pre/fix/dir/file.txt", blobstore.NewKeyMapper("/pre//fix/").BuildKey(p))
	assert.Equal(t, "pre", blobstore.NewKeyMapper("pre").BuildKey(blobpath.Root()))

	assert.Equal(t, "pre/dir/", blobstore.NewKeyMapper("pre").KeyPrefixFor(blobpath.MustParse("dir")))
	assert.Equal(t, "pre/", blobstore.NewKeyMapper("pre").KeyPrefixFor(blobpath.Root()))
	assert.Equal(t, "/", blobstore.NewKeyMapper("").KeyPrefixFor(blobpath.Root()))
}

func TestKeyMapperRoundTrip(t *testing.T) {
	prefixes := []string{"", " ", "/", "data", "/data/", "a//b"}
	paths := []string{"x", "x/y", "dir/sub/file.bin", "with space/ü.txt", "a.b/c..d"}

	for _, prefix := range prefixes {
		m := blobstore.NewKeyMapper(prefix)
		for _, s := range paths {
			p, err := blobpath.Parse(s)
			require.NoError(t, err)
			got, ok := m.KeyToPath(m.BuildKey(p))
			require.True(t, ok, "prefix %q path %q", prefix, s)
			assert.Equal(t, p, got, "prefix %q path %q", prefix, s)
		}
	}
}

func TestKeyMapperRejectsForeignKeys(t *testing.T) {
	m := blobstore.NewKeyMapper("data")

	for _, key := range []string{
		"other/file",
		"database/file", // shares characters but not the segment
		"data//file",
		"data/../etc/passwd",
		"data/./file",
		"data/a//b",
	} {
		_, ok := m.KeyToPath(key)
		assert.False(t, ok, "key %q", key)
	}

	root, ok := m.KeyToPath("data")
	require.True(t, ok)
	assert.True(t, root.IsRoot())
}

func TestKeyMapperEqual(t *testing.T) {
	assert.True(t, blobstore.NewKeyMapper("/a/b/").Equal(blobstore.NewKeyMapper("a//b")))
	assert.False(t, blobstore.NewKeyMapper("a").Equal(blobstore.NewKeyMapper("b")))
}
