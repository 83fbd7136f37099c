package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keepalive_engine/internal/app"
	"keepalive_engine/internal/config"
)

type globalFlags struct {
	configPath string
	envPath    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "keepalivectl",
		Short:         "Manage keepalive accounts, schedule and runs",
		Long:          "keepalivectl edits the account registry and runs keepalive passes without the HTTP server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "./config.yaml", "path to config.yaml")
	cmd.PersistentFlags().StringVar(&g.envPath, "env", ".env", "path to .env file (optional)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "mirror logs to stderr")

	cmd.AddCommand(newAccountsCmd(g))
	cmd.AddCommand(newScheduleCmd(g))
	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newSummaryCmd(g))
	return cmd
}

// open loads configuration and builds the application graph.
func (g *globalFlags) open(ctx context.Context) (*app.App, error) {
	if err := config.LoadDotEnv(g.envPath); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	path := g.configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Log.Console = g.verbose
	return app.New(ctx, cfg, app.Overrides{})
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
