// Package cli implements the command-line interface for the Tempo client.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/colthorp/tempo-cli-go/internal/app"
	"github.com/colthorp/tempo-cli-go/internal/config"
	"github.com/colthorp/tempo-cli-go/internal/core"
)

// Global flags
var (
	verbose    bool
	quiet      bool
	raw        bool
	forceCache bool
	timezone   string
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "tempo",
	Short:         "Tempo CLI – your calendar, health and insights",
	Long:          `A command-line client for Tempo: sign in, keep local caches warm, and read briefings and insights offline.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of markdown")
	rootCmd.PersistentFlags().BoolVarP(&forceCache, "force-cache", "f", false, "Use cache only; skip API requests")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", fmt.Sprintf("Timezone for date calculations (default: %s)", core.DefaultTZ))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.tempo/config.yaml)")
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Verbose = true
	}
	if timezone != "" {
		cfg.Timezone = timezone
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openApp builds the client and restores any saved session. Callers must
// Close the returned App.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	a.Auth.Restore(cmd.Context())
	return a, nil
}

func progress(msg string) {
	core.ProgressPrint(msg, quiet)
}
