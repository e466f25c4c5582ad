// Command sightline is the CLI for the sightline correlation core.
//
// Usage:
//
//	sightline ingest <file.jsonl>       Submit incidents and signals
//	sightline pass [--since T]          Run one correlation pass
//	sightline run [--metrics-addr A]    Run the pass scheduler until interrupted
//	sightline graph <incident-id>       Evidence neighborhood of an incident
//	sightline classification <id>       Classification and recommendations
//	sightline sources                   Source utility ranking
//	sightline feedback <link-id> <v>    Record an analyst verdict on a link
//	sightline catalog                   Countermeasure catalog
//	sightline events                    JSONL event log viewer
//	sightline config init               Write the default config file
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/config"
	"github.com/abelbrown/sightline/internal/logging"
)

// globals set by the root command's persistent flags.
var (
	configPath string
	dbOverride string
	logLevel   string
	cfg        *config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "sightline",
		Short:         "Correlate sightings with posts and transactions into an evidence graph",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = c
			return logging.Init(logging.Options{Dir: cfg.Log.Dir, Level: cfg.Log.Level})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.sightline/config.yaml)")
	root.PersistentFlags().StringVar(&dbOverride, "db", "", "database path (overrides config and SIGHTLINE_DB)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newIngestCmd(),
		newPassCmd(),
		newRunCmd(),
		newGraphCmd(),
		newClassificationCmd(),
		newSignalCmd(),
		newSourcesCmd(),
		newFeedbackCmd(),
		newCatalogCmd(),
		newEventsCmd(),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config (or the default path) and applies environment
// and flag overrides, flags last.
func loadConfig() (*config.Config, error) {
	var (
		c   *config.Config
		err error
	)
	if configPath != "" {
		c, err = config.LoadFromFile(configPath)
		if err == nil {
			c.AutoPopulateFromEnv()
		}
	} else {
		c, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if dbOverride != "" {
		c.DB = dbOverride
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	return c, nil
}
