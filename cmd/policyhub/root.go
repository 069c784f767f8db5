package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"policyhub/pkg/contracts"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "policyhub",
	Short: "policyhub - security policy distribution service",
	Long: `policyhub holds the security policy carried by an encrypted license file
and pushes changes to the applications subscribed to it.

It provides:
  - License upload and validation over HTTP
  - Per-application policy lookup
  - WebSocket subscriptions with change notifications or full contents
  - Tools to encrypt, decrypt and inspect license files`,
	Version:       contracts.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: search policyhub.yaml)")
}
