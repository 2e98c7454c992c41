package editor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnchangedPassesOriginalThrough(t *testing.T) {
	s, err := Prepare([]byte("original"), "shot.png", "true", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "shot.png", filepath.Base(s.Path))

	data, changed, err := s.Finish(nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []byte("original"), data)
	assert.NoFileExists(t, s.Path)
}

func TestEditedResultIsReturned(t *testing.T) {
	s, err := Prepare([]byte("original"), "shot.png", "my-editor --flag", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"my-editor", "--flag", s.Path}, s.Cmd().Args)

	require.NoError(t, os.WriteFile(s.Path, []byte("edited"), 0600))
	data, changed, err := s.Finish(nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []byte("edited"), data)
}

func TestEditorFailureKeepsOriginal(t *testing.T) {
	s, err := Prepare([]byte("original"), "", "editor", t.TempDir())
	require.NoError(t, err)

	data, changed, err := s.Finish(errors.New("exit status 1"))
	assert.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, []byte("original"), data)
}

func TestPrepareWithoutCommand(t *testing.T) {
	_, err := Prepare([]byte("x"), "a.png", "  ", t.TempDir())
	assert.ErrorIs(t, err, ErrNoEditor)
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvEditor, "krita")
	assert.Equal(t, "pinta", Resolve(" pinta "))
	assert.Equal(t, "krita", Resolve(""))
}
