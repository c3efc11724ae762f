package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// CommandSpeaker speaks by running a local text-to-speech program such as espeak-ng. The text is passed as
// the last argument; any "{lang}" in args is replaced with the lowercased language tag.
type CommandSpeaker struct {
	name string
	args []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// NewCommandSpeaker creates a CommandSpeaker running name with args.
func NewCommandSpeaker(name string, args []string, logger *slog.Logger) *CommandSpeaker {
	return &CommandSpeaker{
		name:   name,
		args:   args,
		logger: logger.With(slog.String("module", "speech-command")),
	}
}

// Speak implements Speaker. It returns once the program has started; playback continues in the background
// until it ends or Cancel is called.
func (c *CommandSpeaker) Speak(ctx context.Context, text, lang string) error {
	args := make([]string, 0, len(c.args)+1)
	for _, a := range c.args {
		args = append(args, strings.ReplaceAll(a, "{lang}", strings.ToLower(lang)))
	}
	args = append(args, text)

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(ctx, c.name, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", c.name, err)
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			c.logger.Warn("Speech command failed", slog.String(errLoggerKey, err.Error()))
		}
	}()
	return nil
}

// Cancel implements Speaker. It kills the running program and waits for it to exit.
func (c *CommandSpeaker) Cancel() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Speaking implements Speaker.
func (c *CommandSpeaker) Speaking() bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
