// Package cli implements the hyperloop command tree.
package cli

import (
	"fmt"
	"io"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths     config.Paths
	log       *logging.Logger
	logCloser io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hyperloop",
		Short: "Bring up an Ollama model and run the agent swarm",
		Long: "hyperloop installs the runtime's dependencies, restarts the model runtime until the\n" +
			"configured model is loaded, then runs a fixed set of agents in a shared group chat.\n" +
			"Run without a subcommand to start the bootstrap loop.",
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if _, err := config.LoadEnvFiles(".env", paths.EnvFile); err != nil {
				return err
			}
			log = logging.New(nil, resolveLevel(""))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.hyperloop/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// resolveLevel picks the log level: flag, then config, then info.
func resolveLevel(configured string) string {
	switch {
	case logLevel != "":
		return logLevel
	case configured != "":
		return configured
	default:
		return "info"
	}
}

// loadConfig reads the config file, applies the extra env file it names and
// re-reads so variables from that file take effect.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if cfg.EnvFile == "" {
		return cfg, nil
	}
	loaded, err := config.LoadEnvFiles(cfg.EnvFile)
	if err != nil {
		return cfg, err
	}
	if len(loaded) == 0 {
		return cfg, nil
	}
	return config.Load(paths.Config)
}

// loadValidConfig is loadConfig followed by validation.
func loadValidConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openLogger replaces the bootstrap logger with one built from cfg.
func openLogger(cfg config.Config) error {
	l, closer, err := logging.Open(logging.Options{
		Level: resolveLevel(cfg.Logging.Level),
		Style: cfg.Logging.ConsoleStyle,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	log = l
	logCloser = closer
	return nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
