package keyboard

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const ctrlC = 3

// Listener watches stdin for a stop request: 'q' (or Ctrl-C, which raw
// mode no longer turns into SIGINT) on a terminal, "q" or an empty line
// otherwise.
type Listener struct {
	in       *os.File
	fd       int
	oldState *term.State

	restoreOnce sync.Once
}

// NewListener puts stdin into raw mode when it is a terminal. Call Restore
// before exiting.
func NewListener(in *os.File) *Listener {
	l := &Listener{in: in, fd: int(in.Fd())}
	if term.IsTerminal(l.fd) {
		state, err := term.MakeRaw(l.fd)
		if err != nil {
			slog.Warn("Could not enable raw keyboard mode, press Enter to stop", "error", err)
		} else {
			l.oldState = state
		}
	}
	return l
}

// Raw reports whether the terminal is in raw mode.
func (l *Listener) Raw() bool {
	return l.oldState != nil
}

// Listen blocks until a stop key is read or stdin ends, then calls onStop
// with a description of what was pressed. EOF on stdin is not a stop
// request.
func (l *Listener) Listen(onStop func(key string)) {
	var key string
	var ok bool
	if l.Raw() {
		key, ok = scanRaw(l.in)
	} else {
		key, ok = scanLines(l.in)
	}
	if ok {
		onStop(key)
	}
}

// Restore returns the terminal to its previous mode.
func (l *Listener) Restore() {
	l.restoreOnce.Do(func() {
		if l.oldState != nil {
			if err := term.Restore(l.fd, l.oldState); err != nil {
				slog.Warn("Failed to restore terminal", "error", err)
			}
		}
	})
}

func scanRaw(r io.Reader) (string, bool) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			switch buf[0] {
			case 'q', 'Q':
				return "q", true
			case ctrlC:
				return "ctrl-c", true
			}
		}
		if err != nil {
			return "", false
		}
	}
}

func scanLines(r io.Reader) (string, bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			return "enter", true
		case "q", "quit", "stop":
			return "q", true
		}
	}
	return "", false
}

// CRLFWriter translates "\n" to "\r\n" so log lines stay aligned while the
// terminal is in raw mode.
type CRLFWriter struct {
	W io.Writer
}

func (w CRLFWriter) Write(p []byte) (int, error) {
	if bytes.IndexByte(p, '\n') < 0 {
		return w.W.Write(p)
	}
	converted := bytes.ReplaceAll(p, []byte("\r\n"), []byte("\n"))
	converted = bytes.ReplaceAll(converted, []byte("\n"), []byte("\r\n"))
	if _, err := w.W.Write(converted); err != nil {
		return 0, err
	}
	return len(p), nil
}
