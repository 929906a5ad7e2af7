package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "botmux",
	Short: "Middleware dispatch engine for chat bot adapters",
	Long: `botmux connects chat platforms such as Telegram and Discord to one
dispatch engine. Every update and every reply flows through a shared
middleware pipeline before application logic answers it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if path := strings.TrimSpace(cfgFile); path != "" {
			return os.Setenv("BOTMUX_CONFIG", path)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (overrides BOTMUX_CONFIG)")
}
