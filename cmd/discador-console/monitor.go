package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/discador/internal/monitor"
)

var (
	monitorCampaign string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Real-time call monitoring",
}

var monitorCallsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Show active calls",
	RunE:  runMonitorCalls,
}

func init() {
	monitorCallsCmd.Flags().StringVar(&monitorCampaign, "campaign", "", "Only show calls of this campaign")

	monitorCmd.AddCommand(monitorCallsCmd)
	rootCmd.AddCommand(monitorCmd)
}

func runMonitorCalls(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	m := monitor.New(backend.Client, nil, logger)
	if err := m.Refresh(context.Background()); err != nil {
		return fmt.Errorf("failed to fetch active calls: %w", err)
	}

	snap := m.Snapshot()
	if monitorCampaign != "" {
		snap.Calls = m.CampaignCalls(monitorCampaign)
		snap.Total = len(snap.Calls)
	}

	printCalls(os.Stdout, snap)
	return nil
}

func printCalls(out io.Writer, snap monitor.Snapshot) {
	if len(snap.Calls) == 0 {
		fmt.Fprintln(out, "No active calls")
		return
	}

	calls := append([]monitor.Call(nil), snap.Calls...)
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].StartedAt.Before(calls[j].StartedAt)
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CALL\tCAMPAIGN\tNUMBER\tSTATE\tTRUNK\tDURATION")
	for _, c := range calls {
		trunk := c.Trunk
		if trunk == "" {
			trunk = "-"
		}
		d := time.Duration(c.DurationSeconds) * time.Second
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.CampaignID, c.Number, c.State, trunk, d)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d active calls\n", snap.Total)
}
