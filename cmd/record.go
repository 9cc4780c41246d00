package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/dictate/internal/audio"
	"github.com/audiolibrelab/dictate/internal/service"

	"github.com/spf13/cobra"
)

// closeTimeout bounds how long a command waits for queued transcriptions
const closeTimeout = 2 * time.Minute

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one dictation and insert the transcription",
	Long: `Record from the configured microphone until Enter or Ctrl+C is pressed,
or until --max-duration elapses. The recording is transcribed and pasted at
the cursor of the focused application, and printed to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRecordFlags(cmd)

		results := make(chan service.Result, 1)
		svc, err := service.New(cfg, recordOptions(cmd, results)...)
		if err != nil {
			return err
		}
		defer closeService(svc)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.StartRecording(ctx); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		hint := "Recording... press Enter or Ctrl+C to stop"
		if cfg.Recording.MaxDuration > 0 {
			hint += fmt.Sprintf(" (auto-stop after %s)", cfg.Recording.MaxDuration)
		}
		fmt.Fprintln(os.Stderr, hint)

		enter := make(chan struct{})
		go func() {
			bufio.NewReader(os.Stdin).ReadString('\n')
			close(enter)
		}()

		select {
		case result := <-results:
			return printResult(result)
		case <-enter:
		case <-ctx.Done():
		}

		slog.Info("Stopping recording...")
		clip, err := svc.StopRecording(context.Background())
		switch {
		case errors.Is(err, audio.ErrNotRecording):
			// The auto-stop timer won the race, its result is on the way
		case err != nil:
			return fmt.Errorf("failed to stop recording: %w", err)
		default:
			fmt.Fprintf(os.Stderr, "Transcribing %.1fs of audio...\n", clip.Duration.Seconds())
		}

		return printResult(<-results)
	},
}

func init() {
	recordCmd.Flags().Duration("max-duration", 0, "stop automatically after this long (overrides config, 0 keeps config)")
	recordCmd.Flags().Bool("no-inject", false, "print the transcription without pasting it")
	recordCmd.Flags().Bool("respond", false, "treat the dictation as an instruction for the responder model")
}

// applyRecordFlags folds command line overrides into the loaded config
func applyRecordFlags(cmd *cobra.Command) {
	if d, _ := cmd.Flags().GetDuration("max-duration"); d > 0 {
		cfg.Recording.MaxDuration = d
	}
	if respond, _ := cmd.Flags().GetBool("respond"); respond {
		cfg.Responder.Enabled = true
	}
}

func recordOptions(cmd *cobra.Command, results chan<- service.Result) []service.Option {
	opts := []service.Option{
		service.WithResultHandler(func(r service.Result) { results <- r }),
	}
	if noInject, _ := cmd.Flags().GetBool("no-inject"); noInject {
		opts = append(opts, service.WithInjector(nil))
	}
	return opts
}

func printResult(result service.Result) error {
	if result.Text != "" {
		fmt.Println(result.Text)
	} else if result.Err == nil {
		fmt.Fprintln(os.Stderr, "No speech detected")
	}
	return result.Err
}

func closeService(svc service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		slog.Warn("Service did not shut down cleanly", "error", err)
	}
}
