package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Accept: application/json", "X-Token:abc", "X-Empty:"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Accept":  "application/json",
		"X-Token": "abc",
		"X-Empty": "",
	}, headers)

	for _, bad := range []string{"no-colon", ": value"} {
		_, err := parseHeaders([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestIsDescriptorPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://example.com\n"), 0o600))

	assert.True(t, isDescriptorPath(path))
	assert.False(t, isDescriptorPath(dir))
	assert.False(t, isDescriptorPath(filepath.Join(dir, "missing.yaml")))
	assert.False(t, isDescriptorPath("https://example.com/requests.yaml"))
}
