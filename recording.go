package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/treefix50/classreplay/internal/replay"
)

func newRecordingCmd(a *app) *cobra.Command {
	recording := &cobra.Command{
		Use:   "recording",
		Short: "Manage the recording catalogue",
	}

	var rec replay.Recording
	add := &cobra.Command{
		Use:   "add",
		Short: "Store a recorded class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.addRecording(cmd.OutOrStdout(), rec)
		},
	}
	add.Flags().StringVar(&rec.ID, "id", "", "recording ID (random when empty)")
	add.Flags().StringVar(&rec.Title, "title", "", "title")
	add.Flags().Int64Var(&rec.StartTime, "start", 0, "class start, unix milliseconds")
	add.Flags().Int64Var(&rec.EndTime, "end", 0, "class end, unix milliseconds")
	add.Flags().StringVar(&rec.MediaURL, "url", "", "media URL")
	_ = add.MarkFlagRequired("start")
	_ = add.MarkFlagRequired("end")
	_ = add.MarkFlagRequired("url")

	importLog := &cobra.Command{
		Use:   "import-log <recording-id> <entries.json>",
		Short: "Append a whiteboard/chat log to a recording",
		Long: "The file holds a JSON array of entries:\n" +
			`  [{"at": 1700000001000, "kind": "chat", "author": "kim", "payload": "hi"}]` + "\n" +
			"Use - to read from stdin.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.importLog(cmd.InOrStdin(), cmd.OutOrStdout(), args[0], args[1])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored recordings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listRecordings(cmd.OutOrStdout())
		},
	}

	recording.AddCommand(add, importLog, list)
	return recording
}

func (a *app) addRecording(out io.Writer, rec replay.Recording) error {
	rec.MediaURL = strings.TrimSpace(rec.MediaURL)
	if err := rec.Params().Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveRecording(rec); err != nil {
		return err
	}
	fmt.Fprintln(out, rec.ID)
	return nil
}

func (a *app) importLog(stdin io.Reader, out io.Writer, id, path string) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var entries []replay.Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	for i, e := range entries {
		if e.Kind != replay.EntryChat && e.Kind != replay.EntryWhiteboard {
			return fmt.Errorf("entry %d: unknown kind %q", i, e.Kind)
		}
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AppendEntries(id, entries); err != nil {
		return fmt.Errorf("import into %s: %w", id, err)
	}
	total, err := store.CountEntries(id)
	if err != nil {
		return err
	}
	a.log.Info().Str("recording", id).Int("imported", len(entries)).Int("total", total).Msg("log imported")
	fmt.Fprintf(out, "imported %d entries (%d total)\n", len(entries), total)
	return nil
}

func (a *app) listRecordings(out io.Writer) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	recordings, err := store.ListRecordings()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTART\tLENGTH\tENTRIES")
	for _, rec := range recordings {
		n, err := store.CountEntries(rec.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			rec.ID, rec.Title,
			time.UnixMilli(rec.StartTime).UTC().Format(time.RFC3339),
			replay.FormatClock(rec.Params().Duration()), n)
	}
	return tw.Flush()
}
