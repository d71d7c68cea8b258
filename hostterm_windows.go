//go:build windows

package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/term"
)

// readHostWindow returns the console grid; consoles report no pixel size.
func readHostWindow(fd int) (HostWindow, error) {
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return HostWindow{}, fmt.Errorf("get console size: %w", err)
	}
	return HostWindow{Cols: cols, Rows: rows}, nil
}

// watchHostResize polls the console size since Windows has no SIGWINCH.
func watchHostResize(ctx context.Context, fd int, fn func()) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	var last HostWindow
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w, err := readHostWindow(fd)
			if err != nil {
				continue
			}
			if w != last {
				last = w
				fn()
			}
		}
	}
}
