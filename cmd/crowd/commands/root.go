package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crowdchat/crowd/internal/api"
	"github.com/crowdchat/crowd/internal/chatsync"
	"github.com/crowdchat/crowd/internal/config"
	"github.com/crowdchat/crowd/internal/logging"
	"github.com/crowdchat/crowd/internal/stream"
)

var (
	cfgFile   string
	serverURL string
	verbose   bool
	jsonOut   bool
)

// cfg is loaded before any subcommand runs.
var (
	cfg      *config.Config
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "crowd",
	Short: "crowd - terminal client for multi-assistant chats",
	Long: `crowd talks to a chat server and keeps the conversation in sync with
the server's event stream.

Commands:
  crowd chat [chat-id]          Interactive terminal chat
  crowd tail <chat-id>          Print a chat and follow new messages
  crowd send <chat-id> <text>   Post a message
  crowd chats                   List, search and delete chats
  crowd assistants              List assistants or pick one for a chat
  crowd config                  Manage configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cfgFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if serverURL != "" {
			cfg.Server.URL = serverURL
		}

		opts := logging.Options{Level: cfg.Logging.Level, File: cfg.LogFile()}
		if verbose {
			opts.Level = "debug"
			// The chat screen owns the terminal.
			if cmd.Name() != "chat" {
				opts.Console = os.Stderr
			}
		}
		closeLog, err = logging.Setup(opts)
		if err != nil {
			return err
		}

		log.Debug().Str("command", cmd.CommandPath()).Str("server", cfg.Server.URL).Msg("[crowd] starting")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.crowd/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "chat server url (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	// Add commands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(assistantsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute(ver string) error {
	version = ver
	return rootCmd.Execute()
}

var version string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "crowd %s\n", version)
	},
}

func newClient() (*api.Client, error) {
	client, err := api.New(cfg.Server.URL, api.WithTimeout(cfg.Server.Timeout.Duration))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	log.Debug().Str("server", client.BaseURL()).Dur("timeout", cfg.Server.Timeout.Duration).Msg("[crowd] client ready")
	return client, nil
}

func syncOptions() chatsync.Options {
	return chatsync.Options{
		UserName:         cfg.Chat.UserName,
		DefaultAssistant: cfg.Chat.DefaultAssistant,
		CancelSuperseded: cfg.Chat.CancelSuperseded,
		Stream: stream.Options{
			ReconnectAttempts: cfg.Stream.ReconnectAttempts,
			ReconnectDelay:    cfg.Stream.ReconnectDelay.Duration,
		},
	}
}
