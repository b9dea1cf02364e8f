package cli

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier: conversational orchestration for shipment support",
		Long: "Courier classifies customer messages, routes them to a tracking, rates, " +
			"retail-center or FAQ agent, and streams the answer back over SSE or WebSocket.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := loadEnvFile(); err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.courier/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file exported before config is read (default ~/.courier/.env if present)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newKnowledgeCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadEnvFile exports the explicit --env-file, or the default one when it
// exists.
func loadEnvFile() error {
	if envFile != "" {
		return config.LoadEnvFile(envFile)
	}
	if _, err := os.Stat(paths.EnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return config.LoadEnvFile(paths.EnvFile)
}

// loadConfig reads the config file and overlays the --log-level flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
