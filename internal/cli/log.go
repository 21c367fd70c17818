package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/auditkv/internal/store"
)

// LogEntry is one audit event as printed by the log command.
type LogEntry struct {
	Seq         int64     `json:"seq"`
	UID         string    `json:"uid"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	Address     string    `json:"address"`
	Headers     int       `json:"headers"`
	ValueBefore string    `json:"value_before,omitempty"`
	ValueAfter  string    `json:"value_after,omitempty"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log <key>",
		Short: "List the raw audit events of a key",
		Long: `List every audit event recorded for a key in insertion order,
retrievals included. Value references are shown as content digests.

Example:
  auditkv log 3f2a...e1
  auditkv log 3f2a...e1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(rootOpts, cmd, args[0])
		},
	}
}

func runLog(opts *RootOptions, cmd *cobra.Command, key string) error {
	env, err := openEnvironment(opts, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	events, err := env.svc.Events(cmd.Context(), key)
	if err != nil {
		return env.out.Fail(CodeFailed, WrapExitError(ExitFailure, "failed to read audit log", err), map[string]string{"key": key})
	}

	entries := make([]LogEntry, 0, len(events))
	for _, ev := range events {
		entries = append(entries, LogEntry{
			Seq:         ev.Seq,
			UID:         ev.UID,
			Action:      string(ev.Action),
			Timestamp:   ev.Request.Timestamp,
			Address:     ev.Request.Address,
			Headers:     len(ev.Request.Headers),
			ValueBefore: refDigest(ev.ValueBefore),
			ValueAfter:  refDigest(ev.ValueAfter),
		})
	}

	if opts.Format == "json" {
		return env.out.Success(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No events found for key: %s\n", key)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tACTION\tTIMESTAMP\tADDRESS\tBEFORE\tAFTER")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Action, e.Timestamp.Format(time.RFC3339Nano), e.Address,
			orDash(short(e.ValueBefore)), orDash(short(e.ValueAfter)))
		if opts.Verbose {
			fmt.Fprintf(tw, "\tuid %s\t\t\t\t\n", e.UID)
		}
	}
	return tw.Flush()
}

func refDigest(r *store.ValueRef) string {
	if r == nil {
		return ""
	}
	return r.DigestString()
}

// short truncates a hex digest for table output.
func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
