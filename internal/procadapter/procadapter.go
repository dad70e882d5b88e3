// Package procadapter is the process/multiplexer abstraction the rest of
// Claw Town talks to instead of shelling out to tmux directly: list
// windows, capture pane output, send keystrokes, kill a window, and check
// pane/process liveness. Generalized from the teacher's 980-line
// internal/tmux.Tmux wrapper down to the capability surface the spec's
// components actually need.
package procadapter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors, kept in the teacher's plain-error style
// (internal/tmux.ErrNoServer / ErrSessionNotFound).
var (
	ErrNoServer     = errors.New("no tmux server running")
	ErrWindowExists = errors.New("window already exists")
	ErrWindowGone   = errors.New("window not found")
)

// Adapter wraps tmux window operations via subprocess, the only
// multiplexer backend the pack's examples demonstrate.
type Adapter struct{}

// New returns an Adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", a.wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (a *Adapter) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	if strings.Contains(stderr, "no server running") || strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") || strings.Contains(stderr, "duplicate window") {
		return ErrWindowExists
	}
	if strings.Contains(stderr, "can't find window") || strings.Contains(stderr, "session not found") {
		return ErrWindowGone
	}
	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// ListWindows returns every window name currently attached to the tmux
// server, across every session. An absent server is reported as an empty
// list, not an error, matching the teacher's ListSessions ErrNoServer
// handling.
func (a *Adapter) ListWindows() ([]string, error) {
	out, err := a.run("list-windows", "-a", "-F", "#{session_name}:#{window_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// WindowExists reports whether the named window is attached (exact match,
// "=" prefix to avoid prefix collisions, per the teacher's HasSession).
func (a *Adapter) WindowExists(window string) (bool, error) {
	_, err := a.run("has-session", "-t", "="+window)
	if err != nil {
		if errors.Is(err, ErrWindowGone) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CapturePane returns the last n lines of visible pane content for window.
func (a *Adapter) CapturePane(window string, lines int) (string, error) {
	return a.run("capture-pane", "-p", "-t", window, "-S", fmt.Sprintf("-%d", lines))
}

// SendKeys types keys into window in literal mode, then sends Enter after a
// short debounce — two separate tmux calls, since appending Enter to the
// same send-keys call races the paste on slow panes.
func (a *Adapter) SendKeys(window, keys string) error {
	if _, err := a.run("send-keys", "-t", window, "-l", keys); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	_, err := a.run("send-keys", "-t", window, "Enter")
	return err
}

// KillWindow terminates the named window.
func (a *Adapter) KillWindow(window string) error {
	_, err := a.run("kill-window", "-t", window)
	return err
}

// PanePID returns the OS pid of the shell process running in window's pane.
func (a *Adapter) PanePID(window string) (int, error) {
	out, err := a.run("list-panes", "-t", window, "-F", "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	line := strings.SplitN(out, "\n", 2)[0]
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("parsing pane pid for %s: %w", window, err)
	}
	return pid, nil
}

// NewSession creates a detached window running command, or a plain shell
// when command is empty.
func (a *Adapter) NewSession(window, workDir, command string) error {
	args := []string{"new-session", "-d", "-s", window}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := a.run(args...)
	return err
}

// idlePrompts are the bare-prompt shapes the broker treats as "safe to
// paste into", mirroring _is_pane_idle's pattern set.
var idlePrompts = map[string]bool{
	">": true, "$ ": true, "% ": true, "❯": true, "→": true,
}

// isPaneIdle reports whether window's cursor line looks like an empty
// prompt, retrying a few times before giving up and sending anyway — the
// same fail-open policy the dashboard uses, since a false negative would
// otherwise stall delivery forever.
func (a *Adapter) isPaneIdle(window string, maxRetries int, retryDelay time.Duration) bool {
	for attempt := 0; attempt < maxRetries; attempt++ {
		out, err := a.run("capture-pane", "-p", "-t", window, "-S", "-1")
		if err != nil {
			return true
		}
		last := strings.TrimSpace(out)
		if last == "" || idlePrompts[last] {
			return true
		}
		if strings.HasSuffix(last, "> ") || last == ">" {
			return true
		}
		trimmed := strings.TrimRight(last, " ")
		if strings.HasSuffix(trimmed, "$") || strings.HasSuffix(trimmed, "%") {
			return true
		}
		if attempt < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return true
}

// SendAtomic delivers content to window as a single paste-then-Enter
// operation: load into a fresh named buffer (UUID-derived to avoid racing
// concurrent senders), paste, send Enter, then clean up the buffer and
// tempfile. Implements outbox.Sender. Grounded on
// claw_town_dashboard.py's _send_message_atomic.
func (a *Adapter) SendAtomic(window, content string) error {
	a.isPaneIdle(window, 5, 2*time.Second)

	buffer := "claw_town_" + uuid.New().String()[:8]

	tmp, err := os.CreateTemp("", "claw-town-msg-*.txt")
	if err != nil {
		return fmt.Errorf("creating message tempfile: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing message tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing message tempfile: %w", err)
	}

	if _, err := a.run("load-buffer", "-b", buffer, path); err != nil {
		return fmt.Errorf("tmux load-buffer failed for %s: %w", window, err)
	}

	if _, err := a.run("paste-buffer", "-b", buffer, "-t", window); err != nil {
		_, _ = a.run("delete-buffer", "-b", buffer)
		return fmt.Errorf("tmux paste-buffer failed for %s: %w", window, err)
	}

	_, err = a.run("send-keys", "-t", window, "Enter")
	_, _ = a.run("delete-buffer", "-b", buffer)
	if err != nil {
		return fmt.Errorf("tmux send-keys Enter failed for %s: %w", window, err)
	}
	return nil
}
