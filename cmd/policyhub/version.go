package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"policyhub/pkg/contracts"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print detailed version information including Git commit and build time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(contracts.GetVersionInfo())
		}
		fmt.Fprintln(cmd.OutOrStdout(), contracts.GetFullVersionString())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version information as JSON")
}
