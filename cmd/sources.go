package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/audiolibrelab/dictate/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio input devices",
	Long: `List the capture devices of the configured audio backend. Use --backend
to inspect another backend without editing the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if name, _ := cmd.Flags().GetString("backend"); name != "" {
			cfg.Audio.Backend = name
		}

		backend, err := audio.NewBackend(cfg)
		if err != nil {
			return err
		}
		return listAvailableSources(backend, cfg.Audio.Device)
	},
}

func init() {
	var names []string
	for _, b := range audio.GetAvailableBackends() {
		names = append(names, string(b))
	}
	sourcesCmd.Flags().String("backend", "", "backend to query: "+strings.Join(names, ", "))
}

// listAvailableSources prints devices and marks the configured one
func listAvailableSources(backend audio.AudioBackend, device string) error {
	sources, err := backend.ListSources()
	if err != nil {
		return fmt.Errorf("failed to get %s sources: %w", backend.GetType(), err)
	}

	fmt.Printf("🎙  Audio Sources (%s, %s)\n", backend.GetType(), runtime.GOOS)
	fmt.Printf("═══════════════════════════════════════\n\n")

	fmt.Printf("📋 %d found:\n", len(sources))
	for i, source := range sources {
		marker := " "
		if strings.EqualFold(source, device) {
			marker = "*"
		}
		fmt.Printf(" %s%d. %s\n", marker, i+1, source)
	}

	fmt.Printf("\n💡 Usage:\n")
	fmt.Printf("  • Set audio.device to one of the names above, or \"default\"\n")
	if err := backend.ValidateSource(device); err != nil {
		fmt.Printf("  • Configured device %q: %v\n", device, err)
	} else {
		fmt.Printf("  • Configured device: %s\n", device)
	}
	fmt.Println()

	return nil
}
