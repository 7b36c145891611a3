package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var assistantsCmd = &cobra.Command{
	Use:     "assistants",
	Aliases: []string{"assistant", "as"},
	Short:   "List assistants or select one for a chat",
	Long: `List the assistants the server offers, or select the assistant of a chat.

Examples:
  crowd assistants
  crowd assistants list
  crowd assistants use 3f2c0e4a-5b1d-4c8e-9a7f-2d6b1e0c9a11 Researcher`,
}

func init() {
	// Bare "crowd assistants" lists them.
	assistantsCmd.RunE = assistantsListCmd.RunE

	assistantsCmd.AddCommand(assistantsListCmd)
	assistantsCmd.AddCommand(assistantsUseCmd)
}

var assistantsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List assistants",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		list, err := client.Assistants(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}

		if len(list) == 0 {
			fmt.Fprintln(out, "No assistants available.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, a := range list {
			fmt.Fprintf(w, "%s\t%s\n", a.Name, a.Description)
		}
		return w.Flush()
	},
}

var assistantsUseCmd = &cobra.Command{
	Use:   "use <chat-id> <name>",
	Short: "Select the assistant of a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		if err := client.SetAssistant(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Chat %s now uses %s\n", args[0], args[1])
		return nil
	},
}
