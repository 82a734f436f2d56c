//go:build windows

package ui

import (
	"io"
	"os"
)

// OpenTTY opens the console input so the TUI works with redirected stdin.
func OpenTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("CONIN$", os.O_RDWR, 0)
}
