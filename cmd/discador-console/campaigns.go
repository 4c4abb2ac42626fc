package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/dialer"
)

var (
	campaignsListActive bool
	campaignsListStatus string
	campaignInput       campaigns.Input
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Campaign management commands",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignsList,
}

var campaignsShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show campaign details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignsShow,
}

var campaignsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign",
	RunE:  runCampaignsCreate,
}

var campaignsDeleteCmd = &cobra.Command{
	Use:   "delete <campaign_id>",
	Short: "Delete a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignsDelete,
}

var campaignsControlCmd = &cobra.Command{
	Use:   "control <campaign_id> <start|pause|resume|stop>",
	Short: "Start, pause, resume or stop a campaign",
	Args:  cobra.ExactArgs(2),
	RunE:  runCampaignsControl,
}

var campaignsStatsCmd = &cobra.Command{
	Use:   "stats <campaign_id>",
	Short: "Show campaign statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignsStats,
}

func init() {
	campaignsListCmd.Flags().BoolVar(&campaignsListActive, "active", false, "Show only active campaigns")
	campaignsListCmd.Flags().StringVar(&campaignsListStatus, "status", "", "Filter by status (active, paused, draft)")

	f := campaignsCreateCmd.Flags()
	f.StringVar(&campaignInput.Name, "name", "", "Campaign name (required)")
	f.StringVar(&campaignInput.Description, "description", "", "Campaign description")
	f.StringVar(&campaignInput.CLINumber, "cli", "", "Caller ID number")
	f.IntVar(&campaignInput.MaxConcurrentCalls, "max-calls", 10, "Maximum concurrent calls")
	f.IntVar(&campaignInput.MaxAttempts, "max-attempts", 3, "Maximum attempts per contact")
	f.IntVar(&campaignInput.RetryIntervalSeconds, "retry-interval", 300, "Seconds between attempts")
	campaignsCreateCmd.MarkFlagRequired("name")

	campaignsCmd.AddCommand(campaignsListCmd, campaignsShowCmd, campaignsCreateCmd,
		campaignsDeleteCmd, campaignsControlCmd, campaignsStatsCmd)
	rootCmd.AddCommand(campaignsCmd)
}

func runCampaignsList(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var list []campaigns.Campaign
	if campaignsListActive {
		list, err = backend.Campaigns.ActiveCampaigns(ctx)
	} else {
		list, err = backend.Campaigns.ListCampaigns(ctx, true)
	}
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if campaignsListStatus != "" {
		status, ok := campaigns.ParseStatus(campaignsListStatus)
		if !ok {
			return fmt.Errorf("invalid status: %s", campaignsListStatus)
		}
		list = campaigns.FilterByStatus(list, status)
	}

	if len(list) == 0 {
		fmt.Println("No campaigns found")
		return nil
	}

	printCampaigns(os.Stdout, list)
	return nil
}

func printCampaigns(out io.Writer, list []campaigns.Campaign) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCLI\tCONTACTS\tUPDATED")
	for _, c := range list {
		updated := "-"
		if !c.UpdatedAt.IsZero() {
			updated = c.UpdatedAt.Format("2006-01-02 15:04")
		}
		cli := c.CLINumber
		if cli == "" {
			cli = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", c.ID, c.Name, c.Status, cli, c.ContactsTotal, updated)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d campaigns\n", len(list))
}

func runCampaignsShow(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	c, err := backend.Campaigns.GetCampaign(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}

	fmt.Printf("ID:          %s\n", c.ID)
	fmt.Printf("Name:        %s\n", c.Name)
	fmt.Printf("Status:      %s\n", c.Status)
	if c.Description != "" {
		fmt.Printf("Description: %s\n", c.Description)
	}
	if c.CLINumber != "" {
		fmt.Printf("CLI:         %s\n", c.CLINumber)
	}
	fmt.Printf("Contacts:    %d\n", c.ContactsTotal)
	if !c.CreatedAt.IsZero() {
		fmt.Printf("Created:     %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if !c.UpdatedAt.IsZero() {
		fmt.Printf("Updated:     %s\n", c.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runCampaignsCreate(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	c, err := backend.Campaigns.CreateCampaign(context.Background(), campaignInput)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	fmt.Printf("Campaign %s created: %s\n", c.ID, c.Name)
	return nil
}

func runCampaignsDelete(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	res, err := backend.Campaigns.DeleteCampaign(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	fmt.Printf("Campaign %s deleted (%s endpoint)\n", res.ID, res.Method)
	if res.PrimaryError != "" {
		fmt.Printf("  primary endpoint failed: %s\n", res.PrimaryError)
	}
	return nil
}

func runCampaignsControl(cmd *cobra.Command, args []string) error {
	action, err := campaigns.ParseAction(args[1])
	if err != nil {
		return err
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}

	resp, err := backend.Campaigns.ControlCampaign(context.Background(), args[0], action, nil)
	if err != nil {
		return fmt.Errorf("failed to %s campaign: %w", action, err)
	}

	fmt.Printf("Campaign %s: %s -> %s\n", args[0], action, action.ResultingStatus())
	if resp != nil && resp.Message != "" {
		fmt.Printf("  backend: %s\n", resp.Message)
	}
	return nil
}

func runCampaignsStats(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	stats, err := backend.Campaigns.GetCampaignStats(context.Background(), args[0], false)
	if err != nil {
		return fmt.Errorf("failed to get campaign stats: %w", err)
	}

	printStats(os.Stdout, stats)
	return nil
}

func printStats(out io.Writer, s *dialer.CampaignStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Calls total:\t%d\n", s.CallsTotal)
	fmt.Fprintf(w, "Answered:\t%d\n", s.CallsAnswered)
	fmt.Fprintf(w, "Failed:\t%d\n", s.CallsFailed)
	fmt.Fprintf(w, "In progress:\t%d\n", s.CallsInProgress)
	fmt.Fprintf(w, "Contacts pending:\t%d\n", s.ContactsPending)
	fmt.Fprintf(w, "Contacts completed:\t%d\n", s.ContactsCompleted)
	fmt.Fprintf(w, "Answer rate:\t%.1f%%\n", s.AnswerRate)
	fmt.Fprintf(w, "Avg duration:\t%.0fs\n", s.AvgDurationSeconds)
	w.Flush()
}
