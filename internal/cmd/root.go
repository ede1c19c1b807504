// Package cmd implements the tokengate command line: the server and the
// operator tools that talk to it.
package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/web8kameleon-hub/tokengate/internal/config"
	"github.com/web8kameleon-hub/tokengate/internal/output"
)

var (
	cfgFile      string
	serverURL    string
	apiToken     string
	outputFormat string
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:   "tokengate",
	Short: "Physical-token gated asset transfers",
	Long: `tokengate ingests radio telemetry from sensor nodes, verifies physical
token presence, and executes rate-limited, audited transfers that must pass a
market-aware security gate.

Run "tokengate serve" to start the API, or use the client commands against a
running server.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute runs the root command and prints any error.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.Error(os.Stderr, "%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/tokengate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TOKENGATE_SERVER", "http://localhost:8095"), "tokengate API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("TOKENGATE_TOKEN"), "bearer token for operator endpoints")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", output.FormatTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newAPIClient() *Client {
	return NewClient(serverURL, apiToken)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
