// Package cli builds the batchsync command line: runner passes, the
// scheduler, migrations, ledger maintenance and configuration inspection.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nimburion/batchsync/pkg/config"
	"github.com/nimburion/batchsync/pkg/observability/logger"
)

const defaultEnvPrefix = "BATCHSYNC"

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	// EnvPrefix defaults to BATCHSYNC.
	EnvPrefix string
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath          string
	secretFilePath      string
	serviceNameOverride string
}

// rootCommand carries what subcommands need to load configuration.
type rootCommand struct {
	opts  Options
	flags globalFlags
}

// NewRootCommand creates the batchsync command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "batchsync"
	}
	opts.EnvPrefix = resolveEnvPrefix(opts.EnvPrefix)

	root := &rootCommand{opts: opts}
	cmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&root.flags.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	cmd.PersistentFlags().StringVar(&root.flags.secretFilePath, "secret-file", "", fmt.Sprintf("path to secrets file (sets %s_SECRETS_FILE)", opts.EnvPrefix))
	cmd.PersistentFlags().StringVar(&root.flags.serviceNameOverride, "service-name", "", "service name override")

	cmd.AddCommand(
		newVersionCommand(opts.Name),
		root.newRunCommand(),
		root.newScheduleCommand(),
		root.newMigrateCommand(),
		root.newLedgerCommand(),
		root.newStatusCommand(),
		root.newHealthcheckCommand(),
		root.newConfigCommand(),
	)
	return cmd
}

// loadConfig loads the configuration and the secrets it was merged with,
// and creates the logger.
func (r *rootCommand) loadConfig() (*config.Config, *config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(r.opts.EnvPrefix, r.flags.secretFilePath); err != nil {
		return nil, nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(r.flags.configPath, r.opts.EnvPrefix).
		WithServiceNameDefault(r.opts.Name).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, r.opts.Name, r.flags.serviceNameOverride)

	log, err := logger.NewZapLogger(logger.Config{
		Level:   logger.LogLevel(cfg.Observability.LogLevel),
		Format:  logger.LogFormat(cfg.Observability.LogFormat),
		Service: cfg.Service.Name,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log.Debug("configuration loaded", "database", cfg.Database.Type)
	return cfg, secrets, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

// Execute runs the command and exits with a non-zero code on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return defaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "batchsync"
}
