package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crowdchat/crowd/internal/chats"
	"github.com/crowdchat/crowd/internal/chatsync"
	"github.com/crowdchat/crowd/internal/config"
	"github.com/crowdchat/crowd/internal/tui"
)

var (
	chatLast      bool
	chatAssistant string
)

var chatCmd = &cobra.Command{
	Use:   "chat [chat-id]",
	Short: "Start interactive chat",
	Long: `Open a chat in the terminal. Without a chat id a new chat is started.

Examples:
  crowd chat
  crowd chat 3f2c0e4a-5b1d-4c8e-9a7f-2d6b1e0c9a11
  crowd chat --last
  crowd chat --assistant Researcher`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVarP(&chatLast, "last", "l", false, "reopen the most recently opened chat")
	chatCmd.Flags().StringVarP(&chatAssistant, "assistant", "a", "", "assistant to select once the chat is open")
}

func runChat(cmd *cobra.Command, args []string) error {
	// Ensure directories exist
	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	recent := chats.NewRecent(config.RecentDir())

	opts := tui.Options{
		Assistant: chatAssistant,
		Recent:    recent,
	}

	switch {
	case len(args) == 1:
		opts.ChatID = args[0]
	case chatLast:
		rec, err := recent.Last()
		if err != nil && !errors.Is(err, chats.ErrNotFound) {
			return err
		}
		if rec != nil {
			opts.ChatID = rec.ID
		}
	}

	s := chatsync.New(client, syncOptions())
	return tui.Run(s, client, opts)
}
