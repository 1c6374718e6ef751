package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/samsaffron/relaychat/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var debugLogs bool

var rootCmd = &cobra.Command{
	Use:   "relaychat",
	Short: "Web chat relay with model tool calling",
	Long: `relaychat serves a browser chat UI and streams model replies over
Server-Sent Events, running tool calls the model asks for along the way.

Examples:
  relaychat serve                          # start the server on 127.0.0.1:8080
  relaychat chat "what time is it?"        # stream a reply from a running server
  relaychat models                         # list models and prices
  relaychat usage --user alice             # cumulative cost from the local store
  relaychat mcp                            # expose the tools over MCP stdio`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if wd, err := os.Getwd(); err == nil {
			config.LoadDotEnv(wd)
		}
		setupLogging(debugLogs)
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().BoolVarP(&debugLogs, "debug", "d", false, "Enable debug logging")
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
