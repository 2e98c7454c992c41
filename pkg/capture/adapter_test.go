package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

type fakeClipboard struct {
	data    []byte
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeClipboard) ReadImage(ctx context.Context) ([]byte, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.data, f.err
}

func newAdapter(t *testing.T, cb Clipboard) *Adapter {
	t.Helper()
	a := New(Options{Clipboard: cb, TempDir: t.TempDir()})
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPickFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "shot.png", pngBytes(t, 40, 20))

	a := newAdapter(t, &fakeClipboard{})
	c, err := a.PickFile(path)
	require.NoError(t, err)
	assert.Equal(t, "shot.png", c.Image.Name)
	assert.Equal(t, FilePick, c.Image.Source)
	assert.Equal(t, Info{Format: "png", Width: 40, Height: 20}, c.Preview.Info)
	assert.FileExists(t, c.Preview.Path)
}

func TestNewCaptureReleasesPreviousPreview(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.png", pngBytes(t, 4, 4))
	second := writeFile(t, dir, "b.png", pngBytes(t, 8, 8))

	a := newAdapter(t, &fakeClipboard{})
	c1, err := a.PickFile(first)
	require.NoError(t, err)
	c2, err := a.PickFile(second)
	require.NoError(t, err)

	assert.NoFileExists(t, c1.Preview.Path)
	assert.FileExists(t, c2.Preview.Path)

	require.NoError(t, a.Close())
	assert.NoFileExists(t, c2.Preview.Path)
	_, ok := a.Current()
	assert.False(t, ok)
}

func TestDropName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/alice/cat.png", "cat.png"},
		{"cat.png", "cat.png"},
		{"/tmp/dir/", "dir"},
		{"/", DroppedName},
		{"", DroppedName},
		{".", DroppedName},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, dropName(tt.path))
		})
	}
}

func TestDropUsesFirstPath(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.png", pngBytes(t, 2, 2))
	second := writeFile(t, dir, "second.png", pngBytes(t, 2, 2))

	a := newAdapter(t, &fakeClipboard{})
	c, err := a.Drop([]string{first, second})
	require.NoError(t, err)
	assert.Equal(t, "first.png", c.Image.Name)
	assert.Equal(t, Drop, c.Image.Source)

	c, err = a.Drop(nil)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDropReadFailure(t *testing.T) {
	a := newAdapter(t, &fakeClipboard{})
	_, err := a.Drop([]string{filepath.Join(t.TempDir(), "missing.png")})

	var cerr *CaptureError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "drop", cerr.Op)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPickRejectsNonImage(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", []byte("hello"))

	a := newAdapter(t, &fakeClipboard{})
	_, err := a.PickFile(path)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestPasteWithoutImageIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "kept.png", pngBytes(t, 2, 2))

	a := newAdapter(t, &fakeClipboard{})
	_, err := a.PickFile(path)
	require.NoError(t, err)

	c, err := a.Paste(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, c)

	cur, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, "kept.png", cur.Image.Name)
}

func TestPasteNamesImage(t *testing.T) {
	a := newAdapter(t, &fakeClipboard{data: pngBytes(t, 3, 3)})
	c, err := a.Paste(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PastedName+".png", c.Image.Name)
	assert.Equal(t, Paste, c.Image.Source)
}

func TestLatePasteIsDiscarded(t *testing.T) {
	cb := &fakeClipboard{
		data:    pngBytes(t, 3, 3),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	a := newAdapter(t, cb)
	path := writeFile(t, t.TempDir(), "newer.png", pngBytes(t, 5, 5))

	done := make(chan error, 1)
	go func() {
		_, err := a.Paste(context.Background())
		done <- err
	}()
	<-cb.started

	_, err := a.PickFile(path)
	require.NoError(t, err)
	close(cb.release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	cur, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, "newer.png", cur.Image.Name)
}

func TestEmptyPasteKeepsCaptureInFlight(t *testing.T) {
	tests := []struct {
		name      string
		clipboard []byte
		wantErr   error
	}{
		{"empty clipboard", nil, nil},
		{"image on clipboard", pngBytes(t, 3, 3), ErrSuperseded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(t, &fakeClipboard{data: tt.clipboard})

			// A pick has started and not yet committed
			gen := a.begin()
			_, err := a.Paste(context.Background())
			require.NoError(t, err)

			_, err = a.commit(gen, "pick", Image{Data: pngBytes(t, 4, 4), Name: "picked.png", Source: FilePick})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			cur, ok := a.Current()
			require.True(t, ok)
			assert.Equal(t, "picked.png", cur.Image.Name)
		})
	}
}

func TestEditedKeepsName(t *testing.T) {
	a := newAdapter(t, &fakeClipboard{})
	c, err := a.Edited(Image{Name: "shot.png", Source: Paste}, pngBytes(t, 6, 6))
	require.NoError(t, err)
	assert.Equal(t, "shot.png", c.Image.Name)
	assert.Equal(t, EditedResult, c.Image.Source)
	assert.Equal(t, 6, c.Preview.Info.Width)
}
