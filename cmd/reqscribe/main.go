package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yangwenmai/reqscribe/internal/config"
	"github.com/yangwenmai/reqscribe/internal/logging"
)

var version = "dev"

// v holds the layered configuration shared by every command.
var v = config.NewViper()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reqscribe",
		Short: "Turn meeting recordings into requirements documents",
		Long: `reqscribe accepts audio uploads, checks that they contain a software
discussion, transcribes them with whisper.cpp and asks a local LLM for a
requirements document.

Each pipeline stage is a queue consumer. Run them together with 'reqscribe run'
or separately with 'reqscribe serve' and 'reqscribe worker <stage>'.`,
		SilenceUsage: true,
	}
	addPersistentFlags(root, v)
	registerCommands(root)
	return root
}

func main() {
	config.LoadEnvFile(".env.local")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addPersistentFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (TOML, YAML or JSON)")
	flags.String("db-path", "", "SQLite database path")
	flags.String("data-dir", "", "content store root")
	flags.String("broker", "", "message broker driver (sqlite or amqp)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json, auto)")
	_ = v.BindPFlag("db_path", flags.Lookup("db-path"))
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("broker_driver", flags.Lookup("broker"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_format", flags.Lookup("log-format"))
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(runCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
}

// loadConfig resolves the effective configuration and installs the default
// logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	// Local flags are bound per invocation since several commands share a key.
	if f := cmd.Flags().Lookup("port"); f != nil {
		_ = v.BindPFlag("port", f)
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return config.Config{}, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
