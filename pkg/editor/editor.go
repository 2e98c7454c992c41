// Package editor hands a captured image to an external editor and picks up
// the result.
package editor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvEditor names the environment variable consulted when no editor is configured
const EnvEditor = "GOFLASH_EDITOR"

// ErrNoEditor is returned when no editor command can be determined
var ErrNoEditor = errors.New("no image editor configured")

// Resolve picks the editor command: the configured one, then $GOFLASH_EDITOR,
// then a platform default
func Resolve(configured string) string {
	if c := strings.TrimSpace(configured); c != "" {
		return c
	}
	if c := strings.TrimSpace(os.Getenv(EnvEditor)); c != "" {
		return c
	}
	switch runtime.GOOS {
	case "darwin":
		return "open -W -a Preview"
	case "linux", "freebsd", "openbsd":
		return "gimp"
	}
	return ""
}

// Session is one edit of one image
type Session struct {
	Path     string
	original []byte
	argv     []string
}

// Prepare copies data to a temp file the editor can modify in place. The
// command is split on spaces and the file path is appended.
func Prepare(data []byte, name, command, tempDir string) (*Session, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, ErrNoEditor
	}

	dir, err := os.MkdirTemp(tempDir, "goflash-edit-*")
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "image.png"
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0600); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &Session{
		Path:     path,
		original: bytes.Clone(data),
		argv:     append(argv, path),
	}, nil
}

// Cmd builds the editor process. The caller runs it, typically with the
// terminal handed over.
func (s *Session) Cmd() *exec.Cmd {
	return exec.Command(s.argv[0], s.argv[1:]...)
}

// Finish reads the edited file and removes the temp copy. An unchanged or
// emptied file yields the original bytes with changed set to false.
func (s *Session) Finish(runErr error) (data []byte, changed bool, err error) {
	defer os.RemoveAll(filepath.Dir(s.Path))

	if runErr != nil {
		return s.original, false, fmt.Errorf("editor %s: %w", s.argv[0], runErr)
	}
	edited, err := os.ReadFile(s.Path)
	if err != nil {
		return s.original, false, fmt.Errorf("read edited image: %w", err)
	}
	if len(edited) == 0 || bytes.Equal(edited, s.original) {
		return s.original, false, nil
	}
	return edited, true, nil
}
