// Command app runs the promotional image agent.
//
//	app serve --config promo.yaml
//	app ingest products.json
//	app search "hydrating face cream" --limit 3
//	app chat --photo me.jpg
//
// Configuration comes from the optional YAML file, .env and PROMO_*
// variables (PROMO_MODEL_PROVIDER, PROMO_INDEX_TYPE, ...).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/promo-agent/src/config"
	"github.com/Protocol-Lattice/promo-agent/src/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "app",
		Short:         "Retrieval-augmented promotional image agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCmd(flags),
		newChatCmd(flags),
		newIngestCmd(flags),
		newSearchCmd(flags),
	)
	return root
}

// loadConfig applies command-line overrides on top of config.Load.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}

// start loads the config and builds the application graph.
func (f *rootFlags) start(cmd *cobra.Command) (*app, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return bootstrap(cmd.Context(), cfg, logger)
}
