package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config with two local stores and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "stores:\n" +
		"  - name: one\n    kind: local\n    root_dir: " + filepath.Join(dir, "one") + "\n" +
		"  - name: two\n    kind: local\n    root_dir: " + filepath.Join(dir, "two") + "\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestParseRef(t *testing.T) {
	r, err := parseRef("s3:a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "s3", r.store)
	assert.Equal(t, "a/b.txt", r.path.String())
	assert.Equal(t, "s3:a/b.txt", r.String())

	r, err = parseRef("s3:")
	require.NoError(t, err)
	assert.True(t, r.path.IsRoot())

	for _, bad := range []string{"no-colon", ":a", "s3:a//b"} {
		_, err := parseRef(bad)
		assert.Error(t, err, bad)
	}

	_, err = parseBlobRef("s3:/")
	assert.Error(t, err)
}

func TestStoresCommand(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, cfg, "stores")
	require.NoError(t, err)
	assert.Contains(t, out, "one")
	assert.Contains(t, out, "two")
	assert.Contains(t, out, "local")
}

func TestPutCatStat(t *testing.T) {
	cfg := writeConfig(t)
	src := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0o644))

	_, err := run(t, cfg, "put", src, "one:dir/file.txt")
	require.NoError(t, err)

	out, err := run(t, cfg, "cat", "one:dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", out)

	out, err = run(t, cfg, "cat", "--offset", "2", "--length", "3", "one:dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "234", out)

	out, err = run(t, cfg, "stat", "one:dir/file.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "10 B")

	_, err = run(t, cfg, "put", "--if-not-exists", src, "one:dir/file.txt")
	assert.Error(t, err)
}

func TestCopyMoveRemove(t *testing.T) {
	cfg := writeConfig(t)
	src := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	_, err := run(t, cfg, "put", src, "one:a.txt")
	require.NoError(t, err)

	_, err = run(t, cfg, "cp", "one:a.txt", "two:b.txt")
	require.NoError(t, err)
	out, err := run(t, cfg, "cat", "two:b.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", out)

	_, err = run(t, cfg, "mv", "one:a.txt", "one:c.txt")
	require.NoError(t, err)
	_, err = run(t, cfg, "cat", "one:a.txt")
	assert.Error(t, err)

	_, err = run(t, cfg, "rm", "one:c.txt")
	require.NoError(t, err)
	_, err = run(t, cfg, "cat", "one:c.txt")
	assert.Error(t, err)
}

func TestListRequiresS3Store(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, cfg, "ls", "one:")
	assert.ErrorContains(t, err, "not an s3 store")

	_, err = run(t, cfg, "rm", "-r", "one:dir")
	assert.ErrorContains(t, err, "not an s3 store")
}

func TestCheckCommand(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, cfg, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "one")
	assert.Contains(t, out, "ok")
}

func TestUnknownStore(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, cfg, "cat", "nope:x")
	assert.ErrorContains(t, err, `unknown store "nope"`)
}
