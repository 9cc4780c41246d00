package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/audiolibrelab/dictate/internal/audio"
	"github.com/audiolibrelab/dictate/internal/service"

	"github.com/spf13/cobra"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE...",
	Short: "Transcribe existing audio files",
	Long: `Send one or more audio files to the transcription provider and print the
text. Nothing is pasted. WAV files are checked locally before upload; other
formats are passed through to the provider as is.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if respond, _ := cmd.Flags().GetBool("respond"); respond {
			cfg.Responder.Enabled = true
		}

		// No microphone is opened in file mode
		svc, err := service.New(cfg,
			service.WithRecorder(idleRecorder{}),
			service.WithInjector(nil),
			service.WithoutClipCleanup())
		if err != nil {
			return err
		}
		defer closeService(svc)

		failed := 0
		for _, path := range args {
			result, err := svc.TranscribeFile(cmd.Context(), path)
			if err != nil {
				slog.Error("Transcription failed", "file", path, "error", err)
				failed++
				if result == nil {
					continue
				}
			}
			if len(args) > 1 {
				fmt.Printf("== %s\n", path)
			}
			if result.Text == "" {
				fmt.Fprintln(os.Stderr, "No speech detected")
				continue
			}
			fmt.Println(result.Text)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	transcribeCmd.Flags().Bool("respond", false, "treat the transcription as an instruction for the responder model")
}

// idleRecorder stands in for the microphone session in file mode
type idleRecorder struct {
	audio.Recorder
}

func (idleRecorder) State() audio.State { return audio.StateIdle }

func (idleRecorder) SetMaxDuration(d time.Duration) {}

func (idleRecorder) OnAutoStop(fn audio.AutoStopFunc) {}

func (idleRecorder) Close() error { return nil }
