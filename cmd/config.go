package cmd

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/dictate/internal/config"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage dictate configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Print the effective configuration (file, environment and defaults merged). The API key is masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		shown.Provider.APIKey = cfg.MaskedAPIKey()

		out, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Printf("# %s\n", cfg.File)
		fmt.Print(string(out))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(cfg.File)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key API_KEY",
	Short: "Save the provider API key",
	Long:  `Store the API key in the config file with owner-only permissions.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")

		store := config.NewStore(cfg.File)
		if err := store.SaveAPIKey(args[0], provider); err != nil {
			return err
		}
		fmt.Printf("API key saved to %s\n", store.File())
		return nil
	},
}

var configSetMaxDurationCmd = &cobra.Command{
	Use:   "set-max-duration DURATION",
	Short: "Save the automatic stop limit",
	Long:  `Store recording.max_duration, e.g. 45s or 2m. Use 0 to record until stopped.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		store := config.NewStore(cfg.File)
		if err := store.SaveMaxDuration(d); err != nil {
			return err
		}
		if d == 0 {
			fmt.Println("Max duration disabled")
		} else {
			fmt.Printf("Max duration set to %s\n", d)
		}
		return nil
	},
}

func init() {
	configSetKeyCmd.Flags().String("provider", "", "provider the key belongs to: groq, openai (default keeps current)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configSetMaxDurationCmd)
}
