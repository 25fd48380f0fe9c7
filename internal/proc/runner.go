// Package proc launches the external cache processor binary and streams its
// JSON progress lines back to the caller. The processor owns all heavy
// filesystem work; this side only supervises it.
package proc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Event is one progress line emitted by the processor on stdout. Progress
// lines may attach incremental counters; the final "complete" line carries
// the success flag.
type Event struct {
	Event           string  `json:"event"`
	OperationID     string  `json:"operationId,omitempty"`
	Status          string  `json:"status,omitempty"`
	PercentComplete float64 `json:"percentComplete"`
	Message         string  `json:"message,omitempty"`
	Success         bool    `json:"success,omitempty"`
	Cancelled       bool    `json:"cancelled,omitempty"`

	FilesDeleted int64 `json:"filesDeleted,omitempty"`
	BytesFreed   int64 `json:"bytesFreed,omitempty"`
	LinesParsed  int64 `json:"linesParsed,omitempty"`
	EntriesSaved int64 `json:"entriesSaved,omitempty"`
}

// Event kinds on the processor's stdout protocol.
const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventComplete = "complete"
)

// Config controls the Runner.
//   - Binary: path to the processor executable (required).
//   - LaunchAttempts: how often to retry a failed process start (default 3).
//   - LaunchDelay: backoff base between launch attempts (default 200ms).
//   - Logger: optional structured logger.
type Config struct {
	Binary         string
	LaunchAttempts uint
	LaunchDelay    time.Duration
	Logger         *zap.Logger
}

// Runner supervises one processor invocation at a time per call. It is
// stateless and safe for concurrent use.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// NewRunner validates the config and returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("processor binary path is required")
	}
	if cfg.LaunchAttempts == 0 {
		cfg.LaunchAttempts = 3
	}
	if cfg.LaunchDelay <= 0 {
		cfg.LaunchDelay = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Run executes the processor with args, forwarding every stdout event to
// onEvent, and returns the final non-event JSON line (the report some
// subcommands print) when one was emitted. Only process *start* failures are
// retried; once the processor runs, it runs exactly once. The process is
// killed when ctx is cancelled, in which case Run returns ctx.Err().
func (r *Runner) Run(ctx context.Context, args []string, onEvent func(Event)) ([]byte, error) {
	var (
		cmd    *exec.Cmd
		stdout io.ReadCloser
		stderr bytes.Buffer
	)
	err := retry.Do(
		func() error {
			c := exec.CommandContext(ctx, r.cfg.Binary, args...)
			out, pipeErr := c.StdoutPipe()
			if pipeErr != nil {
				return retry.Unrecoverable(fmt.Errorf("stdout pipe: %w", pipeErr))
			}
			stderr.Reset()
			c.Stderr = &stderr
			if startErr := c.Start(); startErr != nil {
				return fmt.Errorf("start processor: %w", startErr)
			}
			cmd = c
			stdout = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.LaunchAttempts),
		retry.Delay(r.cfg.LaunchDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("processor launched",
		zap.String("binary", r.cfg.Binary),
		zap.Strings("args", args),
	)

	report, final, consumeErr := consumeOutput(stdout, onEvent)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, fmt.Errorf("processor exited: %w: %s", waitErr, tail(&stderr))
	}
	if consumeErr != nil {
		return nil, fmt.Errorf("read processor output: %w", consumeErr)
	}
	if final != nil && !final.Success {
		msg := final.Message
		if msg == "" {
			msg = "processor reported failure"
		}
		return nil, fmt.Errorf("processor failed: %s", msg)
	}
	return report, nil
}

// consumeOutput scans stdout line by line. Lines that parse as events are
// forwarded; the last JSON line that is not an event is kept as the report.
func consumeOutput(r io.Reader, onEvent func(Event)) (report []byte, final *Event, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		if evt, ok := parseEvent(line); ok {
			if onEvent != nil {
				onEvent(evt)
			}
			if evt.Event == EventComplete {
				final = &evt
			}
			continue
		}
		report = append(report[:0], line...)
	}
	return report, final, scanner.Err()
}

func parseEvent(line string) (Event, bool) {
	var evt Event
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		return Event{}, false
	}
	switch evt.Event {
	case EventStarted, EventProgress, EventComplete:
		return evt, true
	}
	return Event{}, false
}

// tail returns the trailing portion of captured stderr for error context.
func tail(buf *bytes.Buffer) string {
	const max = 512
	s := strings.TrimSpace(buf.String())
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	if s == "" {
		return "(no stderr)"
	}
	return s
}
