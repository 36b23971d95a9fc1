// Package flyctl drives the flyctl CLI: app creation, remote deploys, and
// log retrieval for one target app.
package flyctl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Runner executes one flyctl invocation and returns its combined output.
// Tests inject a fake; production uses the real CLI.
type Runner interface {
	Run(ctx context.Context, dir string, args []string, w io.Writer) (string, error)
}

// cliRunner shells out to flyctl, streaming merged stdout/stderr to w while
// capturing it for the attempt log.
type cliRunner struct{}

func (cliRunner) Run(ctx context.Context, dir string, args []string, w io.Writer) (string, error) {
	cmd := exec.CommandContext(ctx, "flyctl", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return "", err
	}

	out, streamErr := streamMerged(w, stdout, stderr)
	if streamErr != nil {
		_ = cmd.Process.Kill()
		return out, streamErr
	}

	if err := cmd.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func streamMerged(w io.Writer, readers ...io.Reader) (string, error) {
	merged := io.MultiReader(readers...)
	var captured strings.Builder
	scanner := bufio.NewScanner(merged)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		captured.WriteString(line)
		captured.WriteString("\n")
		if w != nil {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return captured.String(), err
			}
		}
	}
	return captured.String(), scanner.Err()
}

// Executor is the deployment executor for one flyctl installation. All
// operations block; Deploy is bounded by the configured timeout.
type Executor struct {
	runner  Runner
	timeout time.Duration
	w       io.Writer
	debug   bool
}

// NewExecutor builds an executor using the real CLI.
func NewExecutor(w io.Writer, timeout time.Duration, debug bool) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Executor{runner: cliRunner{}, timeout: timeout, w: w, debug: debug}
}

// NewExecutorWithRunner builds an executor around an injected runner.
func NewExecutorWithRunner(r Runner, w io.Writer, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Executor{runner: r, timeout: timeout, w: w}
}

type appListing struct {
	Name string `json:"name"`
}

// EnsureApp creates the target app if it does not already exist. An
// "already exists" failure on create is a continuation signal, not an error,
// so two racing sessions on the same name both proceed.
func (e *Executor) EnsureApp(ctx context.Context, name string) error {
	out, err := e.runner.Run(ctx, "", []string{"apps", "list", "--json"}, e.debugWriter())
	if err == nil {
		var apps []appListing
		if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(out)), &apps); jsonErr == nil {
			for _, app := range apps {
				if strings.EqualFold(app.Name, name) {
					e.logf("[flyctl] app %s already exists", name)
					return nil
				}
			}
		}
	} else {
		e.logf("[flyctl] apps list failed, attempting create anyway: %v", err)
	}

	out, err = e.runner.Run(ctx, "", []string{"apps", "create", name}, e.debugWriter())
	if err != nil {
		lower := strings.ToLower(out)
		if strings.Contains(lower, "already exists") || strings.Contains(lower, "already been taken") || strings.Contains(lower, "taken") {
			e.logf("[flyctl] app %s created by a concurrent session", name)
			return nil
		}
		return fmt.Errorf("failed to create app %s: %w (%s)", name, err, strings.TrimSpace(out))
	}
	return nil
}

// Deploy submits the materialized workspace for a remote build and blocks
// until it finishes or the timeout elapses. The returned output is the raw
// attempt log; a non-nil error means a Failure outcome.
func (e *Executor) Deploy(ctx context.Context, dir, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{"deploy", "--remote-only", "--app", name, "--config", "fly.toml"}
	e.logf("[flyctl] deploying %s (remote build, timeout %s)", name, e.timeout)

	out, err := e.runner.Run(ctx, dir, args, e.w)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out + "\ndeploy timed out after " + e.timeout.String() + "\n", fmt.Errorf("deploy timed out after %s", e.timeout)
		}
		return out, fmt.Errorf("deploy failed: %w", err)
	}
	return out, nil
}

// FetchLogs retrieves recent app logs. Best-effort: callers must not change
// an attempt outcome on a fetch error.
func (e *Executor) FetchLogs(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := e.runner.Run(ctx, "", []string{"logs", "--app", name, "--no-tail"}, e.debugWriter())
	if err != nil {
		return out, fmt.Errorf("log fetch failed: %w", err)
	}
	return out, nil
}

func (e *Executor) logf(format string, args ...any) {
	if e.w != nil {
		_, _ = fmt.Fprintf(e.w, format+"\n", args...)
	}
}

// debugWriter suppresses command output for the chatty bookkeeping calls
// unless debug is on; deploy output always streams.
func (e *Executor) debugWriter() io.Writer {
	if e.debug {
		return e.w
	}
	return nil
}
