package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/muesli/cancelreader"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"pkt.systems/pslog"
)

func newAttachCmd(cfgPath *string) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "attach [session-id...]",
		Short: "Attach to sessions in the current terminal",
		Long: "Attach to one or more sessions. Without ids, every session the server lists is opened;\n" +
			"with --new (or when the server has none) a fresh session is created.\n\n" + workspaceHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			return runAttach(cmd.Context(), cfg, args, create)
		},
	}
	cmd.Flags().BoolVarP(&create, "new", "n", false, "create a new session")
	return cmd
}

// openLogFile routes logging to a file; stdout belongs to the sessions while attached.
func openLogFile(path string) (pslog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(f),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole, NoColor: true}),
	)
	return logger, f, nil
}

func runAttach(ctx context.Context, cfg Config, ids []string, create bool) error {
	inFd, outFd := int(os.Stdin.Fd()), int(os.Stdout.Fd())
	if !term.IsTerminal(inFd) || !term.IsTerminal(outFd) {
		return errors.New("attach needs an interactive terminal")
	}

	logger, logFile, err := openLogFile(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	log.SetOutput(pslog.LogLogger(logger).Writer())
	ctx = pslog.ContextWithLogger(ctx, logger)

	api, err := NewSessionAPI(cfg.ServerURL, cfg.Token, nil)
	if err != nil {
		return err
	}
	dialer, err := NewWSDialer(cfg.ServerURL, cfg.Token)
	if err != nil {
		return err
	}

	host, err := readHostWindow(outFd)
	if err != nil {
		return err
	}
	if len(ids) == 0 && !create {
		sessions, err := api.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		id := uuid.NewString()
		size, _ := FitGrid(host.Box(cfg.Settings.FontMetrics(), statusRows), cfg.Settings.FontMetrics())
		if err := api.Create(ctx, id, size); err != nil {
			return err
		}
		ids = append(ids, id)
	}

	var notifier FailureNotifier = nopNotifier{}
	if tg := cfg.Notify.Telegram; tg.Enabled() {
		n, err := NewTelegramNotifier(tg.BotToken, tg.ChatIDs, logger)
		if err != nil {
			logger.Warn("telegram notifier disabled", "err", err)
		} else {
			notifier = n
		}
	}

	state, err := term.MakeRaw(inFd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(inFd, state)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	loop := NewEventLoop()
	deps := SessionDeps{
		Sched:     loop,
		Dialer:    dialer,
		Resizer:   api,
		Registry:  NewRegistry(),
		Notifier:  notifier,
		Log:       logger,
		Transport: DefaultTransportConfig(),
		Settings:  cfg.Settings,
	}
	ws := NewWorkspace(gctx, os.Stdout, host, deps, api, cancel)

	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		var opened int
		err := loop.Call(gctx, func() {
			ws.Start()
			for _, id := range ids {
				if err := ws.Open(id); err != nil {
					logger.Warn("open session failed", "session", id, "err", err)
				}
			}
			opened = len(ws.Sessions())
			if opened == 0 {
				cancel()
			}
		})
		if err != nil {
			return nil
		}
		logger.Info("attached", "sessions", opened, "host", fmt.Sprintf("%dx%d", host.Cols, host.Rows))
		return nil
	})

	cr, err := cancelreader.NewReader(os.Stdin)
	if err != nil {
		cancel()
		return fmt.Errorf("stdin reader: %w", err)
	}
	defer cr.Close()
	g.Go(func() error {
		<-gctx.Done()
		cr.Cancel()
		return nil
	})
	g.Go(func() error {
		buf := make([]byte, 4096)
		for {
			n, err := cr.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				loop.Post(func() { ws.HandleKeys(data) })
			}
			if err != nil {
				if errors.Is(err, cancelreader.ErrCanceled) {
					return nil
				}
				cancel()
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read stdin: %w", err)
			}
		}
	})
	g.Go(func() error {
		return watchHostResize(gctx, outFd, func() {
			w, err := readHostWindow(outFd)
			if err != nil {
				logger.Debug("host window size", "err", err)
				return
			}
			loop.Post(func() { ws.Resize(w) })
		})
	})

	err = g.Wait()

	// The loop has stopped; nothing else touches the workspace now.
	ws.Shutdown()
	logger.Info("detached")
	return err
}
