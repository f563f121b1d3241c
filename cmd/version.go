package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumcontrol/ballotbox/resources"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Get ballotbox version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		version, err := resources.Version()
		if err != nil {
			return fmt.Errorf("couldn't load version: %w", err)
		}
		fmt.Printf("ballotbox version: %s\n", version)
		return nil
	},
}
