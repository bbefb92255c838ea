package feature

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/vimba-capture/device"
)

// CommandConfig bounds the wait for a command feature to report completion.
type CommandConfig struct {
	Timeout      time.Duration // Total wait after the run call (default: 2 seconds)
	PollDelay    time.Duration // Initial delay between is-done polls (default: 1ms)
	MaxPollDelay time.Duration // Poll delay cap (default: 50ms)
}

// DefaultCommandConfig returns the default command completion bounds
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		Timeout:      2 * time.Second,
		PollDelay:    1 * time.Millisecond,
		MaxPollDelay: 50 * time.Millisecond,
	}
}

func (c CommandConfig) withDefaults() CommandConfig {
	d := DefaultCommandConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PollDelay <= 0 {
		c.PollDelay = d.PollDelay
	}
	if c.MaxPollDelay <= 0 {
		c.MaxPollDelay = d.MaxPollDelay
	}
	return c
}

// RunCommand runs a command feature and waits until the device reports it done.
//
// Poll schedule (default config):
//   - Poll 1: 1ms
//   - Poll 2: 2ms
//   - Poll 3: 4ms
//   - ...capped at 50ms
//
// Returns *device.TimeoutError when the command is still pending after
// Timeout, a *device.CommandError if the run or a poll fails, or ctx.Err().
func (g *Gateway) RunCommand(ctx context.Context, name string) error {
	if err := g.io.CommandRun(name); err != nil {
		return wrap(err, name, "run")
	}

	cfg := g.command
	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	for attempt := 1; ; attempt++ {
		done, err := g.io.CommandIsDone(name)
		if err != nil {
			return wrap(err, name, "is-done")
		}
		if done {
			slog.Debug("feature: command done", "feature", name, "polls", attempt)
			return nil
		}

		delay := calculateBackoff(attempt, cfg)

		select {
		case <-time.After(delay):
			continue
		case <-deadline.C:
			slog.Warn("feature: command not done in time",
				"feature", name,
				"timeout", cfg.Timeout,
				"polls", attempt,
			)
			return &device.TimeoutError{Feature: name, After: cfg.Timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// calculateBackoff returns PollDelay * 2^(attempt-1), capped at MaxPollDelay.
func calculateBackoff(attempt int, cfg CommandConfig) time.Duration {
	if attempt > 16 {
		return cfg.MaxPollDelay
	}
	delay := cfg.PollDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxPollDelay {
		delay = cfg.MaxPollDelay
	}
	return delay
}
