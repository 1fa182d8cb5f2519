package main

import (
	"fmt"
	"os"

	"github.com/koscakluka/ema-session/internal/config"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type rootOptions struct {
	configPath string
	serverURL  string
	apiKey     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "emachat",
		Short:         "Terminal client for the EMA conversational agent",
		Long:          "emachat connects to an EMA agent server and renders the reconciled conversation in the terminal.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", "", "agent server URL (overrides config and "+config.EnvServerURL+")")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "agent server API key (overrides config and "+config.EnvAPIKey+")")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newTailCmd(opts))
	cmd.AddCommand(newSchemaCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "emachat %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.serverURL != "" {
		cfg.Server.URL = o.serverURL
	}
	if o.apiKey != "" {
		cfg.Server.APIKey = o.apiKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
