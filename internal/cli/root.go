// Package cli implements the dashsync command line client.
package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/backend"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/stream"
)

var (
	cfgFile       string
	contextName   string
	overrideURL   string
	overrideToken string
	outputFormat  string
	logLevel      string

	appConfig *Config

	// errCommand is set by exitWithError so Execute can report failure.
	errCommand error
)

// Execute runs the CLI.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	errCommand = nil
	if err := rootCmd.Execute(); err != nil {
		return err
	}
	return errCommand
}

var rootCmd = &cobra.Command{
	Use:   "dashsync",
	Short: "Watch and drive real-time dashboard updates",
	Long: `dashsync talks to the dashsync relay: it follows the per-user update
stream, publishes test events and manages push subscriptions.
Most commands require a configured context (see 'dashsync config set-context').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logutil.Configure(logutil.Options{Level: logLevel, Output: cmd.ErrOrStderr()})
		// Config commands load/save the file manually.
		if strings.HasPrefix(cmd.CommandPath(), "dashsync config") {
			return nil
		}
		if appConfig == nil {
			var err error
			appConfig, err = LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(), "Path to the dashsync config file")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "Context name to use (overrides current)")
	rootCmd.PersistentFlags().StringVar(&overrideURL, "server", "", "Override relay server URL")
	rootCmd.PersistentFlags().StringVar(&overrideToken, "token", "", "Override API token")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json|yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(configCmd)
}

// resolvedContext merges config state with flag overrides.
func resolvedContext() (*Context, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	ctxName := contextName
	if ctxName == "" {
		ctxName = appConfig.CurrentContext
	}
	ctx, ok := appConfig.Contexts[ctxName]
	if !ok {
		// Flags alone are enough when no context is stored.
		if overrideURL == "" {
			return nil, fmt.Errorf("context %q not found; use 'dashsync config set-context'", ctxName)
		}
		ctx = Context{Name: ctxName}
	}
	if overrideURL != "" {
		ctx.Server = overrideURL
	}
	if overrideToken != "" {
		ctx.Token = overrideToken
	}
	if ctx.AuthMode == "" {
		ctx.AuthMode = string(stream.AuthHeader)
	}
	if ctx.Server == "" {
		return nil, fmt.Errorf("context %q is missing a server URL", ctxName)
	}
	return &ctx, nil
}

func mustClient() (*backend.Client, *Context, error) {
	ctx, err := resolvedContext()
	if err != nil {
		return nil, nil, err
	}
	client := &backend.Client{
		BaseURL: ctx.Server,
		Token:   ctx.Token,
		Timeout: 15 * time.Second,
	}
	return client, ctx, nil
}

func exitWithError(cmd *cobra.Command, err error) {
	cmd.SilenceUsage = true
	if errors.Is(err, backend.ErrNotFound) {
		err = fmt.Errorf("not found: %w", err)
	}
	errCommand = err
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}
