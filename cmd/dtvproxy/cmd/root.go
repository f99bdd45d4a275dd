// Package cmd implements the CLI commands for dtvproxy.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/dtvproxy/internal/config"
	"github.com/jmylchreest/dtvproxy/internal/observability"
	"github.com/jmylchreest/dtvproxy/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "dtvproxy",
	Short:   "Loopback FLV proxy and live-recording engine for Douyu/Douyin/Huya/Bilibili",
	Version: version.Short(),
	Long: `dtvproxy mediates live FLV streams between Douyu, Douyin, Huya, and
Bilibili CDNs and local consumers.

It runs a pool of per-session loopback reverse proxies for watching a stream
in an external player, a fixed-port static proxy for images and legacy
requests, and a live-recording engine that writes reconnecting, segmented
recordings to disk.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dtvproxy.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Bind flags to viper
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Set default configuration values before reading config file
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".dtvproxy" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/dtvproxy")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dtvproxy")
	}

	// Environment variables
	viper.SetEnvPrefix("DTVPROXY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger from the --log-level/
// --log-format flags, routing through observability.NewLoggerWithWriter so
// the same masq-based sensitive-field redaction used by the HTTP middleware
// stack also covers every other log line the CLI emits.
func initLogging() error {
	level := strings.ToLower(viper.GetString("log.level"))
	switch level {
	case "debug", "info", "warn", "error":
	case "warning":
		level = "warn"
	default:
		level = "info"
	}

	format := strings.ToLower(viper.GetString("log.format"))
	if format != "json" {
		format = "text"
	}

	logger := observability.NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: format}, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
// This helper ensures lint-compliant error handling for viper.BindPFlag.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
