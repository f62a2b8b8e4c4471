package present

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/medscribe/internal/pipeline"
)

// Disclaimer is shown once when the console starts.
const Disclaimer = "Disclaimer: This tool is for assistance only. It does not replace professional medical judgment or documentation standards."

// Console renders events as plain text on a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

var _ pipeline.Sink = (*Console)(nil)

// NewConsole returns a console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Greet prints the disclaimer, the ready status and the input help.
func (c *Console) Greet() {
	c.printf("%s\n\n%s\nCommands: start, stop, or Enter to toggle recording.\n",
		Disclaimer, pipeline.StatusReady.Text())
}

// Publish renders e.
func (c *Console) Publish(e pipeline.Event) {
	switch e.Kind {
	case pipeline.KindReset:
		c.printf("\n=== session %s ===\n", e.SessionID)
	case pipeline.KindStatus:
		c.printf("[%s] %s\n", e.Status, e.Text)
	case pipeline.KindTranscript:
		c.printf("\n--- Transcription ---\n%s\n\n", e.Text)
	case pipeline.KindNote:
		c.printf("\n--- Clinical Note ---\n%s\n\n", e.Text)
	case pipeline.KindError:
		c.printf("error: %s\n", e.Text)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// ReadCommands reads one command per line from in and executes it on ctl
// until in is exhausted or ctx ends. Rejected commands are reported through
// feedback and never stop the loop.
//
// The scanner runs on its own goroutine because reads from a terminal cannot
// be interrupted; on cancellation that goroutine is left blocked until the
// next line or process exit.
func ReadCommands(ctx context.Context, in io.Reader, ctl Controller, feedback io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("present: read commands: %w", err)
					}
				default:
				}
				return nil
			}
			cmd, err := ParseCommand(line)
			if err == nil {
				err = Execute(ctx, ctl, cmd)
			}
			if err != nil {
				slog.Debug("console command rejected", "line", strings.TrimSpace(line), "err", err)
				_, _ = fmt.Fprintln(feedback, describeRejection(err))
			}
		}
	}
}

// describeRejection turns a command error into a line for the operator.
func describeRejection(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return "busy: wait for the current session to finish"
	case errors.Is(err, pipeline.ErrNotRecording):
		return "not recording"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown command; use start, stop, or Enter"
	default:
		// Session failures are already rendered from the event stream.
		return "command failed: " + err.Error()
	}
}
