package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(`
name: good-chain
description: two steps
steps:
  - id: a
    workflow: generate
  - id: b
    workflow: upscale
    depends_on: [a]
`), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cyclic.yml"), []byte(`
name: bad-chain
steps:
  - id: a
    workflow: w
    depends_on: [b]
  - id: b
    workflow: w
    depends_on: [a]
`), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a chain"), 0o644))

	summaries, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, summaries, 1, "only valid chain files are summarized")

	assert.Equal(t, "good-chain", summaries[0].Name)
	assert.Equal(t, 2, summaries[0].Steps)
	assert.Equal(t, 2, summaries[0].Levels)
}

func TestLoadSpecFile_Missing(t *testing.T) {
	_, err := LoadSpecFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}
