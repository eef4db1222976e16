package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	// DefaultStopTimeout is how long Stop waits after SIGINT before killing.
	DefaultStopTimeout = 5 * time.Second

	stderrTailLines = 20
)

// LogLevel returns the -loglevel passed to ffmpeg. It follows
// FFMPEG_LOGLEVEL, which the CLI sets for high verbosity levels.
func LogLevel() string {
	if v := strings.TrimSpace(os.Getenv("FFMPEG_LOGLEVEL")); v != "" {
		return v
	}
	return "error"
}

// Process is a running ffmpeg whose stdout is read by the caller.
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdout *os.File

	stderr *tailBuffer

	waitOnce sync.Once
	waitDone chan struct{}
	waitErr  error
}

// Start launches path with args. stdout is connected to an os.Pipe so
// reads can carry deadlines.
func Start(name, path string, args []string) (*Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = pw
	detach(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	slog.Debug("Starting FFmpeg", "name", name, "command", path+" "+strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	p := &Process{
		name:     name,
		cmd:      cmd,
		stdout:   pr,
		stderr:   newTailBuffer(stderrTailLines),
		waitDone: make(chan struct{}),
	}
	stderrDone := make(chan struct{})
	go func() {
		p.readStderr(stderr)
		close(stderrDone)
	}()
	go func() {
		// Wait closes the stderr pipe, so every line must be read first.
		<-stderrDone
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()
	return p, nil
}

// Stdout is the read end of the process output.
func (p *Process) Stdout() *os.File {
	return p.stdout
}

// Exited is closed once the process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.waitDone
}

// StderrTail returns the last lines ffmpeg wrote to stderr.
func (p *Process) StderrTail() string {
	return p.stderr.String()
}

// ExitError describes why the process ended, with its stderr tail.
func (p *Process) ExitError() error {
	select {
	case <-p.waitDone:
	default:
		return nil
	}
	if p.waitErr == nil {
		return fmt.Errorf("%s exited", p.name)
	}
	return fmt.Errorf("%s exited: %w: %s", p.name, p.waitErr, TailString(p.StderrTail(), 240))
}

func (p *Process) readStderr(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		p.stderr.Add(line)
		slog.Debug("FFmpeg output", "name", p.name, "line", line)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("FFmpeg stderr scan stopped", "name", p.name, "error", err)
	}
	// Keep draining so the child never blocks on a full stderr pipe.
	_, _ = io.Copy(io.Discard, pipe)
}

// Stop interrupts ffmpeg, closes its stdout and kills it if it has not
// exited within timeout. Any exit after the interrupt is expected; an
// earlier failed exit is reported.
func (p *Process) Stop(timeout time.Duration) error {
	var err error
	p.waitOnce.Do(func() {
		err = p.stop(timeout)
	})
	return err
}

func (p *Process) stop(timeout time.Duration) error {
	select {
	case <-p.waitDone:
		// Exited on its own before the stop request.
		var errs error
		if !interruptedExit(p.waitErr) {
			errs = fmt.Errorf("FFmpeg process failed: %w", p.waitErr)
		}
		return multierr.Append(errs, p.stdout.Close())
	default:
	}

	if p.cmd.Process != nil {
		slog.Debug("Sending SIGINT to FFmpeg process", "name", p.name)
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, killing", "name", p.name, "error", err)
			_ = p.cmd.Process.Kill()
		}
	}
	// Nothing reads stdout any more. Closing it turns a write blocked on the
	// full pipe into EPIPE so ffmpeg can act on the interrupt.
	errs := p.stdout.Close()

	select {
	case <-p.waitDone:
		slog.Debug("FFmpeg process exited", "name", p.name, "status", p.waitErr)
	case <-time.After(timeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing", "name", p.name)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.waitDone
	}
	return errs
}

// interruptedExit reports whether err is nil or the result of the SIGINT
// or kill that Stop sent.
func interruptedExit(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// Exit code 255 is ffmpeg's normal answer to an interrupt.
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		if state == "signal: interrupt" || state == "signal: killed" {
			return true
		}
	}
	return false
}

// TailString returns at most max trailing bytes of input.
func TailString(input string, max int) string {
	if input == "" {
		return "no ffmpeg stderr output"
	}
	if max <= 0 || len(input) <= max {
		return input
	}
	return input[len(input)-max:]
}

type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
