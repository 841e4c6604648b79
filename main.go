package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/treefix50/classreplay/internal/auth"
	"github.com/treefix50/classreplay/internal/config"
	"github.com/treefix50/classreplay/internal/ffmpeg"
	"github.com/treefix50/classreplay/internal/logging"
	"github.com/treefix50/classreplay/internal/media"
	"github.com/treefix50/classreplay/internal/server"
	"github.com/treefix50/classreplay/internal/storage"
	"github.com/treefix50/classreplay/internal/telemetry"
)

const authCleanupInterval = time.Hour

// app carries what every subcommand needs after the root command has
// loaded the configuration.
type app struct {
	cfg config.Config
	log zerolog.Logger

	addr   string
	dbPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "classreplay",
		Short:        "Replay recorded classroom sessions in sync with their media",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.addr, "addr", "", "listen address (overrides CLASSREPLAY_ADDR)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (overrides CLASSREPLAY_DB_PATH)")

	root.AddCommand(
		newServeCmd(a),
		newPlayCmd(a),
		newRecordingCmd(a),
		newAdminCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = a.addr
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = a.dbPath
	}
	log, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) openStore() (*storage.Store, error) {
	store, err := storage.Open(a.cfg.DBPath, storage.Options{})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.DBPath, err)
	}
	return store, nil
}

// mediaOptions builds the headless element settings and, when ffprobe can
// be found, a probe for the real media length.
func (a *app) mediaOptions() (media.ProbeFunc, media.HeadlessOptions) {
	opts := media.HeadlessOptions{
		LoadDelay: a.cfg.MediaLoadDelay,
		SeekDelay: a.cfg.MediaSeekDelay,
	}
	baseDir := "."
	if exe, err := os.Executable(); err == nil {
		baseDir = filepath.Dir(exe)
	}
	path, err := ffmpeg.Ensure(baseDir, a.cfg.FFprobePath)
	if err != nil {
		a.log.Warn().Err(err).Msg("ffprobe unavailable, media length falls back to the session bounds")
		return nil, opts
	}
	a.log.Info().Str("ffprobe", path).Msg("probing media with ffprobe")
	return ffmpeg.Prober(path, a.cfg.ProbeTimeout), opts
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the replay HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	shutdownTracing, err := telemetry.Setup(ctx, a.cfg.OTelEndpoint, a.cfg.OTelEnabled)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			a.log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	manager := auth.NewManager(store, a.cfg.SessionTTL)
	password, err := manager.InitializeAdmin()
	if err != nil {
		return fmt.Errorf("initialize admin: %w", err)
	}
	if password != "" {
		a.log.Warn().
			Str("username", auth.AdminUsername).
			Str("password", password).
			Msg("created admin account, change this password with 'classreplay admin reset-password'")
	}

	probe, mediaOpts := a.mediaOptions()
	srv := server.New(store, manager, server.HeadlessMedia(probe, mediaOpts), server.Options{
		Addr:           a.cfg.Addr,
		CORSEnabled:    a.cfg.CORSEnabled,
		Logger:         a.log,
		TickInterval:   a.cfg.TickInterval,
		DriftTolerance: a.cfg.DriftTolerance,
		SeekCooldown:   a.cfg.SeekCooldown,
		IdleTimeout:    a.cfg.SessionIdleTimeout,
		ReapInterval:   a.cfg.ReapInterval,
		MaxSessions:    a.cfg.MaxSessions,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		return srv.Close()
	})
	g.Go(func() error {
		ticker := time.NewTicker(authCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := manager.CleanupExpiredSessions()
				if err != nil {
					a.log.Error().Err(err).Msg("clean expired auth sessions")
					continue
				}
				if n > 0 {
					a.log.Info().Int64("removed", n).Msg("expired auth sessions removed")
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
