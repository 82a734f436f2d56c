//go:build !windows

package ui

import (
	"io"
	"os"
)

// OpenTTY opens the controlling terminal so the TUI works with redirected
// stdin.
func OpenTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}
