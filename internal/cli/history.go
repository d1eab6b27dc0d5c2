package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/hyperloop/internal/domain"
	"github.com/soyeahso/hyperloop/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded swarm runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, closer, err := openRunStore()
			if err != nil {
				return err
			}
			defer closer.Close()

			list, err := runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			printRuns(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(newHistoryShowCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its tasks and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, closer, err := openRunStore()
			if err != nil {
				return err
			}
			defer closer.Close()

			run, err := runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func openRunStore() (store.RunStore, io.Closer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver == "memory" || cfg.Store.Driver == "none" {
		return nil, nil, fmt.Errorf("store driver %q keeps no history between runs", cfg.Store.Driver)
	}
	return store.New(cfg.Store, paths.History, log)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRuns(w io.Writer, runs []domain.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tMODEL\tATTEMPT\tOUTCOME\tTASKS\tDURATION")
	for _, r := range runs {
		ok := len(r.Tasks) - len(r.Failed())
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d/%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Model,
			r.Attempt,
			r.Outcome,
			ok, len(r.Tasks),
			r.Duration().Round(time.Millisecond),
		)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *domain.Run) {
	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Model:    %s\n", r.Model)
	fmt.Fprintf(w, "Attempt:  %d\n", r.Attempt)
	fmt.Fprintf(w, "Outcome:  %s\n", r.Outcome)
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration: %s\n", r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", r.Error)
	}

	if len(r.Tasks) > 0 {
		fmt.Fprintln(w, "\nTasks:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, t := range r.Tasks {
			detail := t.Error
			if t.OK() {
				detail = truncate(t.Output, 60)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", t.Agent, t.Status, t.Duration.Round(time.Millisecond), detail)
		}
		tw.Flush()
	}

	if len(r.Transcript) > 0 {
		fmt.Fprintln(w, "\nTranscript:")
		for _, m := range r.Transcript {
			fmt.Fprintf(w, "  [%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), m.Sender, m.Content)
		}
	}
}
