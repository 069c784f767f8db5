package main

import (
	"github.com/spf13/cobra"

	"policyhub/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policy service",
	Long: `Start the HTTP and WebSocket server.

The server runs until SIGINT or SIGTERM, then closes subscriber connections
and drains pending deliveries before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.NewApplication(cfgFile)
		if err != nil {
			return err
		}
		return application.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
