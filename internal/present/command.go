package present

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/medscribe/internal/pipeline"
)

// ErrUnknownCommand is returned by [ParseCommand] for unrecognised input.
var ErrUnknownCommand = errors.New("present: unknown command")

// Command is a user-input signal.
type Command string

const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandToggle Command = "toggle"
)

// ParseCommand maps a typed line to a command. An empty line toggles, like
// a single record button.
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CommandToggle, nil
	case CommandStart, CommandStop, CommandToggle:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Controller is the part of [pipeline.Orchestrator] input sources drive.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Stop() error
	Toggle(ctx context.Context) error
	Info() pipeline.Info
}

var _ Controller = (*pipeline.Orchestrator)(nil)

// Execute sends cmd to c.
func Execute(ctx context.Context, c Controller, cmd Command) error {
	switch cmd {
	case CommandStart:
		_, err := c.Start(ctx)
		return err
	case CommandStop:
		return c.Stop()
	case CommandToggle:
		return c.Toggle(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd))
	}
}
