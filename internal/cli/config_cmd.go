package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/stream"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI contexts",
}

var (
	setCtxServer   string
	setCtxToken    string
	setCtxAuthMode string
	setCtxCurrent  bool
)

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		switch stream.AuthMode(setCtxAuthMode) {
		case stream.AuthHeader, stream.AuthQuery:
		default:
			exitWithError(cmd, fmt.Errorf("--auth-mode must be %q or %q", stream.AuthHeader, stream.AuthQuery))
			return
		}
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx := cfg.Contexts[args[0]]
		ctx.Name = args[0]
		if setCtxServer != "" {
			ctx.Server = setCtxServer
		}
		if setCtxToken != "" {
			ctx.Token = setCtxToken
		}
		if cmd.Flags().Changed("auth-mode") || ctx.AuthMode == "" {
			ctx.AuthMode = setCtxAuthMode
		}
		if ctx.Server == "" {
			exitWithError(cmd, fmt.Errorf("--server is required for a new context"))
			return
		}
		setContext(cfg, ctx, setCtxCurrent)
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Context %q saved to %s\n", ctx.Name, cfgFile)
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := ensureContextExists(cfg, args[0]); err != nil {
			exitWithError(cmd, err)
			return
		}
		cfg.CurrentContext = args[0]
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q\n", args[0])
	},
}

var configCurrentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Print the current context name",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if cfg.CurrentContext == "" {
			exitWithError(cmd, fmt.Errorf("no current context set"))
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.CurrentContext)
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the configuration with tokens redacted",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		view := redacted(cfg)
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), view); err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		if err := printYAML(cmd.OutOrStdout(), view); err != nil {
			exitWithError(cmd, err)
		}
	},
}

func init() {
	configSetContextCmd.Flags().StringVar(&setCtxServer, "server", "", "Relay base URL")
	configSetContextCmd.Flags().StringVar(&setCtxToken, "token", "", "Bearer token")
	configSetContextCmd.Flags().StringVar(&setCtxAuthMode, "auth-mode", string(stream.AuthHeader), "How the stream sends the token: header|query")
	configSetContextCmd.Flags().BoolVar(&setCtxCurrent, "current", false, "Make this the current context")

	configCmd.AddCommand(configSetContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configCurrentContextCmd)
	configCmd.AddCommand(configViewCmd)
}
