package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "mediaforge",
		Short:         "Media composition and speech synthesis servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFlag != "" {
				return os.Setenv("MEDIAFORGE_CONFIG", configFlag)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newComposeCommand())
	rootCmd.AddCommand(newTTSCommand())
	rootCmd.AddCommand(newQueueCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newEventsCommand())

	return rootCmd
}
