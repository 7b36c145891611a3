package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Get returns the value at a dotted key such as "server.url". A bare section
// name returns the whole section. It returns nil for unknown keys.
func (c *Config) Get(key string) any {
	parts := strings.Split(key, ".")

	switch parts[0] {
	case "server":
		if len(parts) == 1 {
			return c.Server
		}
		switch parts[1] {
		case "url":
			return c.Server.URL
		case "timeout":
			return c.Server.Timeout.String()
		}

	case "chat":
		if len(parts) == 1 {
			return c.Chat
		}
		switch parts[1] {
		case "user_name":
			return c.Chat.UserName
		case "default_assistant":
			return c.Chat.DefaultAssistant
		case "cancel_superseded":
			return c.Chat.CancelSuperseded
		}

	case "stream":
		if len(parts) == 1 {
			return c.Stream
		}
		switch parts[1] {
		case "reconnect_attempts":
			return c.Stream.ReconnectAttempts
		case "reconnect_delay":
			return c.Stream.ReconnectDelay.String()
		}

	case "logging":
		if len(parts) == 1 {
			return c.Logging
		}
		switch parts[1] {
		case "level":
			return c.Logging.Level
		case "file":
			return c.Logging.File
		}
	}

	return nil
}

// Set assigns a string value to a dotted key, parsing it for the field type.
func (c *Config) Set(key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return fmt.Errorf("invalid key: %s (use <section>.<field>)", key)
	}

	switch parts[0] {
	case "server":
		switch parts[1] {
		case "url":
			c.Server.URL = value
		case "timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", key, err)
			}
			c.Server.Timeout = Duration{d}
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "chat":
		switch parts[1] {
		case "user_name":
			c.Chat.UserName = value
		case "default_assistant":
			c.Chat.DefaultAssistant = value
		case "cancel_superseded":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid bool for %s: %w", key, err)
			}
			c.Chat.CancelSuperseded = b
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "stream":
		switch parts[1] {
		case "reconnect_attempts":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid count for %s: %q", key, value)
			}
			c.Stream.ReconnectAttempts = n
		case "reconnect_delay":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", key, err)
			}
			c.Stream.ReconnectDelay = Duration{d}
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "logging":
		switch parts[1] {
		case "level":
			c.Logging.Level = value
		case "file":
			c.Logging.File = value
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	default:
		return fmt.Errorf("unknown section: %s", parts[0])
	}

	return nil
}
