package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/discador/internal/assets"
)

var (
	audioName        string
	audioDescription string
	audioType        string
	audioCampaign    string
)

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Audio file management commands",
}

var audioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audio files",
	RunE:  runAudioList,
}

var audioUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an audio file (.wav, .mp3, .gsm)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudioUpload,
}

var audioDeleteCmd = &cobra.Command{
	Use:   "delete <audio_id>",
	Short: "Delete an audio file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudioDelete,
}

func init() {
	audioUploadCmd.Flags().StringVar(&audioName, "name", "", "Display name (default: file name)")
	audioUploadCmd.Flags().StringVar(&audioDescription, "description", "", "Description")
	audioUploadCmd.Flags().StringVar(&audioType, "type", string(assets.TypeGreeting), "Audio type (greeting, voicemail, hold, dtmf, transfer)")
	audioUploadCmd.Flags().StringVar(&audioCampaign, "campaign", "", "Campaign ID the file belongs to")

	audioCmd.AddCommand(audioListCmd, audioUploadCmd, audioDeleteCmd)
	rootCmd.AddCommand(audioCmd)
}

func runAudioList(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	list, err := backend.Audio.List(context.Background(), true)
	if err != nil {
		return fmt.Errorf("failed to list audio: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No audio files found")
		return nil
	}

	printAudio(os.Stdout, list)
	return nil
}

func printAudio(out io.Writer, list []assets.Asset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSIZE\tDURATION\tCAMPAIGN")
	for _, a := range list {
		campaign := a.CampaignID
		if campaign == "" {
			campaign = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1fs\t%s\n", a.ID, a.Name, a.AudioType, formatBytes(a.SizeBytes), a.DurationSeconds, campaign)
	}
	w.Flush()
}

func runAudioUpload(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}

	asset, err := backend.Audio.Upload(context.Background(), assets.UploadInput{
		Name:        audioName,
		Description: audioDescription,
		AudioType:   assets.AudioType(audioType),
		CampaignID:  audioCampaign,
		FileName:    info.Name(),
		Size:        info.Size(),
	}, f)
	if err != nil {
		return fmt.Errorf("failed to upload audio: %w", err)
	}

	fmt.Printf("Audio %s uploaded: %s (%s)\n", asset.ID, asset.Name, formatBytes(info.Size()))
	return nil
}

func runAudioDelete(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}

	if err := backend.Audio.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete audio: %w", err)
	}

	fmt.Printf("Audio %s deleted\n", args[0])
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
