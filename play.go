package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/treefix50/classreplay/internal/replay"
	"github.com/treefix50/classreplay/internal/server"
)

type playFlags struct {
	start     int64
	end       int64
	url       string
	recording string
	seek      int64
}

func newPlayCmd(a *app) *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Replay a session headlessly and print its progress",
		Long: "Replay a class either from explicit bounds (--start, --end, --url) or from a\n" +
			"stored recording (--recording) and print the clock as it advances.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.play(ctx, cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().Int64Var(&f.start, "start", 0, "class start, unix milliseconds")
	cmd.Flags().Int64Var(&f.end, "end", 0, "class end, unix milliseconds")
	cmd.Flags().StringVar(&f.url, "url", "", "media URL (http or https)")
	cmd.Flags().StringVar(&f.recording, "recording", "", "stored recording ID")
	cmd.Flags().Int64Var(&f.seek, "seek", 0, "start position in milliseconds")
	cmd.MarkFlagsMutuallyExclusive("recording", "url")
	return cmd
}

func (a *app) play(ctx context.Context, out io.Writer, f playFlags) error {
	params := replay.Params{StartTime: f.start, EndTime: f.end, MediaURL: f.url}
	var entries []replay.Entry
	if f.recording != "" {
		store, err := a.openStore()
		if err != nil {
			return err
		}
		rec, err := store.GetRecording(f.recording)
		if err == nil {
			params = rec.Params()
			entries, err = store.ListEntries(rec.ID, -1)
		}
		store.Close()
		if err != nil {
			return fmt.Errorf("load recording %s: %w", f.recording, err)
		}
	}

	probe, mediaOpts := a.mediaOptions()
	sess, err := replay.Open(ctx, uuid.NewString(), params, server.HeadlessMedia(probe, mediaOpts)(params), replay.Options{
		TickInterval:   a.cfg.TickInterval,
		DriftTolerance: a.cfg.DriftTolerance,
		SeekCooldown:   a.cfg.SeekCooldown,
		Entries:        entries,
		Logger:         a.log,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	p := newProgressPrinter(out)
	finished := make(chan struct{})
	if _, err := sess.Subscribe(ctx, func(s replay.Snapshot) {
		if p.print(s) {
			close(finished)
		}
	}); err != nil {
		return err
	}

	// Wait for the media before the first control; earlier ones are no-ops.
	if err := waitReady(ctx, sess, p.ready); err != nil {
		return err
	}
	if f.seek > 0 {
		if _, err := sess.EndScrub(ctx, f.seek); err != nil {
			return err
		}
	} else if _, err := sess.Toggle(ctx); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		fmt.Fprintln(out)
		return nil
	}
}

func waitReady(ctx context.Context, sess *replay.Session, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-sess.Done():
		return replay.ErrSessionClosed
	}
}

// progressPrinter writes one line per displayed second or state change. It
// runs on the session's event loop.
type progressPrinter struct {
	out      io.Writer
	ready    chan struct{}
	isReady  bool
	started  bool
	last     string
	finished bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, ready: make(chan struct{})}
}

// print reports whether playback has run to the end.
func (p *progressPrinter) print(s replay.Snapshot) bool {
	if !p.isReady && s.Cover != replay.CoverLoading {
		p.isReady = true
		close(p.ready)
	}
	if s.IsPlaying {
		p.started = true
	}
	line := fmt.Sprintf("%s / %s  %-8s cover=%-7s entries=%d",
		replay.FormatClock(s.CurrentTime), replay.FormatClock(s.Duration), s.Phase, s.Cover, s.SeenEntries)
	if line != p.last {
		fmt.Fprintln(p.out, line)
		p.last = line
	}
	if p.finished || !p.started || s.IsPlaying {
		return false
	}
	if s.Duration > 0 && s.Progress >= s.Duration {
		p.finished = true
		return true
	}
	return false
}
