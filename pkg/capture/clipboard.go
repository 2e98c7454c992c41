package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// ErrNoClipboardTool is returned when no supported clipboard reader is installed
var ErrNoClipboardTool = errors.New("no clipboard image reader available")

// Clipboard reads an image from the system clipboard. It returns nil data and
// a nil error when the clipboard holds no image.
type Clipboard interface {
	ReadImage(ctx context.Context) ([]byte, error)
}

// ExecClipboard reads the clipboard through a platform command
type ExecClipboard struct {
	// Command overrides the platform default, argv form
	Command []string
}

// defaultClipboardCommand picks the reader for the current platform
func defaultClipboardCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"pngpaste", "-"}
	case "linux", "freebsd", "openbsd":
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			return []string{"wl-paste", "--no-newline", "--type", "image/png"}
		}
		return []string{"xclip", "-selection", "clipboard", "-target", "image/png", "-out"}
	}
	return nil
}

func (c ExecClipboard) ReadImage(ctx context.Context) ([]byte, error) {
	argv := c.Command
	if len(argv) == 0 {
		argv = defaultClipboardCommand()
	}
	if len(argv) == 0 {
		return nil, ErrNoClipboardTool
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoClipboardTool, argv[0])
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The readers exit non-zero when the clipboard has no image
			return nil, nil
		}
		return nil, err
	}
	if stdout.Len() == 0 {
		return nil, nil
	}
	return stdout.Bytes(), nil
}
