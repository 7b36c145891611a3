package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crowdchat/crowd/internal/chatsync"
	"github.com/crowdchat/crowd/internal/conversation"
	"github.com/crowdchat/crowd/internal/transcript"
)

var (
	sendAssistant string
	sendFollow    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text...>",
	Short: "Post a message to a chat",
	Long: `Post a message to a chat. Ctrl+C cancels the request while it is in flight;
the message stays in the chat either way.

Examples:
  crowd send 3f2c0e4a-5b1d-4c8e-9a7f-2d6b1e0c9a11 "summarise the thread"
  crowd send 3f2c0e4a-5b1d-4c8e-9a7f-2d6b1e0c9a11 hello --assistant Researcher --follow`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendAssistant, "assistant", "a", "", "assistant to answer (also becomes the chat's assistant)")
	sendCmd.Flags().BoolVarP(&sendFollow, "follow", "f", false, "print streamed messages until the reply finishes")
}

func runSend(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s := chatsync.New(client, syncOptions())
	defer s.Close()

	if err := s.Open(ctx, args[0]); err != nil {
		return err
	}
	if sendAssistant != "" {
		if err := s.SetAssistant(ctx, sendAssistant); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return sendMessage(ctx, cmd.OutOrStdout(), s, strings.Join(args[1:], " "), sendFollow, sigCh)
}

// sendMessage submits text and waits for the post. With follow it also prints
// what streams in until a reply to the message has finished. The first
// interrupt cancels the post; one after the post is done stops following.
func sendMessage(ctx context.Context, w io.Writer, s *chatsync.Sync, text string, follow bool, interrupt <-chan os.Signal) error {
	pr := transcript.NewPrinter(w)
	pr.Skip(s.Snapshot().View)

	p, err := s.Submit(text)
	if err != nil {
		return err
	}

	if !follow {
		select {
		case <-p.Done():
		case <-interrupt:
			s.CancelPending()
			<-p.Done()
		case <-ctx.Done():
			p.Cancel()
			<-p.Done()
		}
		return postResult(w, p)
	}

	defer pr.Flush()

	done := p.Done()
	for {
		snap := s.Snapshot()
		if err := pr.Update(snap.View); err != nil {
			return err
		}
		if done == nil {
			if replied(snap.View, p.MessageID) {
				return nil
			}
			if !snap.Streaming {
				return streamResult(snap.StreamErr)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-interrupt:
			if !s.CancelPending() {
				return nil
			}
		case <-done:
			done = nil
			if err := p.Err(); err != nil {
				pr.Flush()
				return postResult(w, p)
			}
		case <-s.Updates():
		}
	}
}

func postResult(w io.Writer, p *chatsync.Pending) error {
	err := p.Err()
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, "Request cancelled.")
		return nil
	case err != nil:
		return fmt.Errorf("failed to send message: %w", err)
	}

	if jsonOut {
		return json.NewEncoder(w).Encode(map[string]string{"id": p.MessageID})
	}
	fmt.Fprintf(w, "Sent %s\n", p.MessageID)
	return nil
}

// replied reports whether a non-user message after id has finished streaming.
func replied(v conversation.View, id string) bool {
	i := v.Index(id)
	if _, streaming := v.Open(); i < 0 || streaming {
		return false
	}
	for _, m := range v.Messages[i+1:] {
		if m.Role != conversation.RoleUser {
			return true
		}
	}
	return false
}
