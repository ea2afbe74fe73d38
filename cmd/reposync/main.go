// Command reposync mirrors APT and RPM repositories to a local path or S3
// bucket, per the configuration file given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/zextras/reposync/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).
		With().Timestamp().Logger()
	zlog.Set(&log)
	ctx = log.WithContext(ctx)

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("reposync")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-repo NAME] CONFIG_FILE ACTION\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Actions:")
	fmt.Fprintln(os.Stderr, "  check   validate the configuration file and exit")
	fmt.Fprintln(os.Stderr, "  sync    run one synchronization pass and exit")
	fmt.Fprintln(os.Stderr, "  server  run the scheduler and status HTTP API until stopped")
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reposync", flag.ContinueOnError)
	repoFlag := fs.String("repo", "all", "repository name to act on ('all' for every configured repository)")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		usage()
		return fmt.Errorf("reposync: expected CONFIG_FILE and ACTION arguments")
	}
	cfgPath, action := fs.Arg(0), fs.Arg(1)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("reposync: %w", err)
	}

	switch action {
	case "check":
		zlog.Info(ctx).Int("repos", len(cfg.Repos)).Msg("configuration is valid")
		return nil
	case "sync":
		return runSync(ctx, cfg, *repoFlag)
	case "server":
		return runServer(ctx, cfg)
	default:
		usage()
		return fmt.Errorf("reposync: unknown action %q", action)
	}
}

func runSync(ctx context.Context, cfg *config.File, repoName string) error {
	m, err := buildManager(cfg)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	if err := m.TriggerSync(repoName); err != nil {
		return fmt.Errorf("reposync: %w", err)
	}

	// One-shot mode: poll until every targeted repository has left the
	// syncing phase, then report results and exit.
	names := targets(m, repoName)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if allSettled(m, names) {
				return reportOutcomes(m, names)
			}
		}
	}
}

func runServer(ctx context.Context, cfg *config.File) error {
	m, err := buildManager(cfg)
	if err != nil {
		return err
	}
	m.Start(ctx)

	h := newStatusHandler(m)
	srv := &http.Server{
		Addr:        cfg.General.BindAddress,
		Handler:     h,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	zlog.Info(ctx).Str("addr", cfg.General.BindAddress).Msg("status API listening")
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
