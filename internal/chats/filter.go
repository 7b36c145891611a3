// Package chats holds the chat-history helpers behind the sidebar: title
// search and the local record of recently opened chats.
package chats

import (
	"strings"

	"github.com/crowdchat/crowd/internal/api"
)

// Filter returns the chats whose title contains term, ignoring case. A blank
// term returns every chat. Order is preserved.
func Filter(list []api.ChatSummary, term string) []api.ChatSummary {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return list
	}

	var out []api.ChatSummary
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.Title), term) {
			out = append(out, c)
		}
	}
	return out
}

// Remove returns list without the chat with the given id.
func Remove(list []api.ChatSummary, id string) []api.ChatSummary {
	out := make([]api.ChatSummary, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
