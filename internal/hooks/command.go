package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/soyeahso/courier/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// CommandHandler returns a handler that runs entry.Command through the
// shell with the JSON payload on stdin.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(cmd.Environ(), "COURIER_HOOK_EVENT="+p.Event)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("hook command %q: %w: %s", entry.Command, err, bytes.TrimSpace(out))
		}
		return nil
	}
}

// RegisterCommands wires the configured shell hooks into m.
// Returns the number of handlers registered.
func RegisterCommands(m *Manager, cfg config.HooksConfig) int {
	sets := map[string][]config.HookEntry{
		EventTurnCompleted: cfg.TurnCompleted,
		EventTurnFailed:    cfg.TurnFailed,
		EventPersistFailed: cfg.PersistFailed,
		EventServerStart:   cfg.ServerStart,
		EventServerStop:    cfg.ServerStop,
	}
	n := 0
	for event, entries := range sets {
		for i, entry := range entries {
			m.On(event, fmt.Sprintf("command:%s:%d", event, i), CommandHandler(entry))
			n++
		}
	}
	return n
}
