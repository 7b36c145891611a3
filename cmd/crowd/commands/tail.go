package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crowdchat/crowd/internal/chatsync"
	"github.com/crowdchat/crowd/internal/stream"
	"github.com/crowdchat/crowd/internal/transcript"
)

var tailOnce bool

var tailCmd = &cobra.Command{
	Use:   "tail <chat-id>",
	Short: "Print a chat and follow new messages",
	Long: `Print the history of a chat as plain text, then keep printing messages
as they stream in until interrupted or the server ends the stream.

Examples:
  crowd tail 3f2c0e4a-5b1d-4c8e-9a7f-2d6b1e0c9a11
  crowd tail 3f2c0e4a-5b1d-4c8e-9a7f-2d6b1e0c9a11 --once`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().BoolVar(&tailOnce, "once", false, "print the history and exit")
}

func runTail(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := chatsync.New(client, syncOptions())
	defer s.Close()

	if err := s.Open(ctx, args[0]); err != nil {
		return err
	}
	if tailOnce {
		s.Close()
	}

	return tailChat(ctx, cmd.OutOrStdout(), s)
}

// tailChat prints the open chat until ctx is done or its stream ends.
func tailChat(ctx context.Context, w io.Writer, s *chatsync.Sync) error {
	pr := transcript.NewPrinter(w)
	defer pr.Flush()

	for {
		snap := s.Snapshot()
		if err := pr.Update(snap.View); err != nil {
			return err
		}
		if !snap.Streaming {
			return streamResult(snap.StreamErr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.Updates():
		}
	}
}

func streamResult(err error) error {
	if err == nil || errors.Is(err, stream.ErrStreamEnded) {
		return nil
	}
	return fmt.Errorf("event stream: %w", err)
}
