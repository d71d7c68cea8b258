//go:build !windows

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// readHostWindow queries the tty behind fd with TIOCGWINSZ.
func readHostWindow(fd int) (HostWindow, error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return HostWindow{}, fmt.Errorf("get window size: %w", err)
	}
	return HostWindow{
		Cols:   int(ws.Col),
		Rows:   int(ws.Row),
		Width:  float64(ws.Xpixel),
		Height: float64(ws.Ypixel),
	}, nil
}

// watchHostResize calls fn on every SIGWINCH until ctx is done. fd is unused;
// the signal covers the controlling terminal.
func watchHostResize(ctx context.Context, fd int, fn func()) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			fn()
		}
	}
}
