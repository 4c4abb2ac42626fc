package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/discador/internal/trunks"
)

var (
	trunkInput   trunks.Trunk
	trunkDVCodes []string
)

var trunksCmd = &cobra.Command{
	Use:   "trunks",
	Short: "SIP trunk management commands",
}

var trunksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trunks",
	RunE:  runTrunksList,
}

var trunksCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a trunk",
	RunE:  runTrunksCreate,
}

var trunksDeleteCmd = &cobra.Command{
	Use:   "delete <trunk_id>",
	Short: "Delete a trunk",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrunksDelete,
}

func init() {
	f := trunksCreateCmd.Flags()
	f.StringVar(&trunkInput.Name, "name", "", "Trunk name (required)")
	f.StringVar(&trunkInput.Host, "host", "", "SIP host[:port] (required)")
	f.StringVar(&trunkInput.CountryCode, "country-code", "", "Country calling code, e.g. 54 (required)")
	f.StringSliceVar(&trunkDVCodes, "dv-code", nil, "Area code routed through the trunk (repeatable)")
	f.IntVar(&trunkInput.MaxChannels, "max-channels", 30, "Maximum simultaneous channels")
	f.StringVar(&trunkInput.TrunkType, "type", "sip", "Trunk type (sip, pjsip, iax2)")
	trunksCreateCmd.MarkFlagRequired("name")
	trunksCreateCmd.MarkFlagRequired("host")
	trunksCreateCmd.MarkFlagRequired("country-code")

	trunksCmd.AddCommand(trunksListCmd, trunksCreateCmd, trunksDeleteCmd)
	rootCmd.AddCommand(trunksCmd)
}

func runTrunksList(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	list, err := backend.Trunks.List(context.Background(), true)
	if err != nil {
		return fmt.Errorf("failed to list trunks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No trunks configured")
		return nil
	}

	printTrunks(os.Stdout, list)
	return nil
}

func printTrunks(out io.Writer, list []trunks.Trunk) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tHOST\tCOUNTRY\tDV CODES\tCHANNELS")
	for _, t := range list {
		dv := strings.Join(t.DVCodes, ",")
		if dv == "" {
			dv = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t+%s\t%s\t%d\n", t.ID, t.Name, t.TrunkType, t.Host, t.CountryCode, dv, t.MaxChannels)
	}
	w.Flush()
}

func runTrunksCreate(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	trunkInput.DVCodes = trunkDVCodes
	t, err := backend.Trunks.Create(context.Background(), trunkInput)
	if err != nil {
		return fmt.Errorf("failed to create trunk: %w", err)
	}

	fmt.Printf("Trunk %s created: %s (%s)\n", t.ID, t.Name, t.Host)
	return nil
}

func runTrunksDelete(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	if err := backend.Trunks.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete trunk: %w", err)
	}

	fmt.Printf("Trunk %s deleted\n", args[0])
	return nil
}
