package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crowdchat/crowd/internal/api"
	"github.com/crowdchat/crowd/internal/chats"
	"github.com/crowdchat/crowd/internal/config"
)

var chatsSearch string

var chatsCmd = &cobra.Command{
	Use:     "chats",
	Aliases: []string{"chat-history", "history"},
	Short:   "Manage chat history",
	Long: `List, search and delete chats.

Subcommands:
  list [--search term]   Chats on the server, newest first
  delete <chat-id>       Delete a chat
  recent                 Chats recently opened on this machine`,
}

func init() {
	chatsListCmd.Flags().StringVarP(&chatsSearch, "search", "q", "", "only chats whose title contains term")

	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	chatsCmd.AddCommand(chatsRecentCmd)
}

var chatsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List chats",
	Long: `List chats on the server, newest first.

Examples:
  crowd chats list
  crowd chats list --search budget`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		list, err := client.Chats(cmd.Context())
		if err != nil {
			return err
		}
		list = chats.Filter(list, chatsSearch)

		return printChats(cmd.OutOrStdout(), list)
	},
}

func printChats(out io.Writer, list []api.ChatSummary) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No chats found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tLAST UPDATED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Title, formatTime(c.LastUpdated.Time))
	}
	return w.Flush()
}

var chatsDeleteCmd = &cobra.Command{
	Use:     "delete <chat-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a chat",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		id := args[0]
		if err := client.DeleteChat(cmd.Context(), id); err != nil {
			if api.IsNotFound(err) {
				return fmt.Errorf("chat not found: %s", id)
			}
			return err
		}

		recent := chats.NewRecent(config.RecentDir())
		if err := recent.Delete(id); err != nil && !errors.Is(err, chats.ErrNotFound) {
			log.Warn().Err(err).Str("chat", id).Msg("[crowd] failed to forget recent chat")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", id)
		return nil
	},
}

var chatsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List chats recently opened here",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := chats.NewRecent(config.RecentDir()).List()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Fprintln(out, "No recent chats.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tASSISTANT\tOPENED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Title, r.Assistant, formatTime(r.OpenedAt))
		}
		return w.Flush()
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
