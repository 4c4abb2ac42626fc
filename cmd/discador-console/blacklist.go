package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/discador/internal/blacklist"
)

var (
	blacklistReason string
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Do-not-call list commands",
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blacklisted numbers",
	RunE:  runBlacklistList,
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add <number>",
	Short: "Add a number to the blacklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlacklistAdd,
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove <number>",
	Short: "Remove a number from the blacklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlacklistRemove,
}

var blacklistImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import numbers, one per line",
	Long: `Import numbers from a text file, one per line. Blank lines and lines
starting with # are ignored. A reason may follow the number after a comma.
Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runBlacklistImport,
}

func init() {
	blacklistAddCmd.Flags().StringVar(&blacklistReason, "reason", "", "Reason for blocking")
	blacklistImportCmd.Flags().StringVar(&blacklistReason, "reason", "", "Default reason for lines without one")

	blacklistCmd.AddCommand(blacklistListCmd, blacklistAddCmd, blacklistRemoveCmd, blacklistImportCmd)
	rootCmd.AddCommand(blacklistCmd)
}

func runBlacklistList(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	list, err := backend.Blacklist.List(context.Background(), true)
	if err != nil {
		return fmt.Errorf("failed to list blacklist: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("Blacklist is empty")
		return nil
	}

	printBlacklist(os.Stdout, list)
	return nil
}

func printBlacklist(out io.Writer, list []blacklist.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tREASON\tADDED")
	for _, e := range list {
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		added := "-"
		if !e.CreatedAt.IsZero() {
			added = e.CreatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Number, reason, added)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d numbers\n", len(list))
}

func runBlacklistAdd(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	entry, err := backend.Blacklist.Add(context.Background(), args[0], blacklistReason)
	if err != nil {
		return fmt.Errorf("failed to add number: %w", err)
	}

	fmt.Printf("Number %s blacklisted\n", entry.Number)
	return nil
}

func runBlacklistRemove(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	if err := backend.Blacklist.Remove(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to remove number: %w", err)
	}

	fmt.Printf("Number %s removed from blacklist\n", args[0])
	return nil
}

func runBlacklistImport(cmd *cobra.Command, args []string) error {
	var src io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		src = f
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}

	res, err := backend.Blacklist.Import(context.Background(), src, blacklistReason)
	if err != nil {
		// Partial imports are reported before the error
		printImportResult(os.Stdout, res)
		return fmt.Errorf("import stopped: %w", err)
	}

	printImportResult(os.Stdout, res)
	return nil
}

func printImportResult(out io.Writer, res blacklist.ImportResult) {
	fmt.Fprintf(out, "Added:   %d\n", res.Added)
	fmt.Fprintf(out, "Skipped: %d\n", res.Skipped)
	fmt.Fprintf(out, "Invalid: %d\n", len(res.Invalid))
	for _, n := range res.Invalid {
		fmt.Fprintf(out, "  %s\n", n)
	}
}
