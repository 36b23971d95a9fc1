// Package orchestrator composes classification, sanitization, recipe
// synthesis, deployment and repair into the bounded self-healing retry loop.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/zaikaman/forgedeploy/internal/classify"
	"github.com/zaikaman/forgedeploy/internal/learning"
	"github.com/zaikaman/forgedeploy/internal/project"
	"github.com/zaikaman/forgedeploy/internal/recipe"
	"github.com/zaikaman/forgedeploy/internal/sanitize"
	"github.com/zaikaman/forgedeploy/internal/signature"
	"github.com/zaikaman/forgedeploy/internal/workspace"
)

// Executor is the deployment side the engine drives. The flyctl package
// provides the real one; tests inject fakes.
type Executor interface {
	EnsureApp(ctx context.Context, name string) error
	Deploy(ctx context.Context, dir, name string) (string, error)
	FetchLogs(ctx context.Context, name string) (string, error)
}

// Repairer requests a corrected file set for a failed attempt. The boolean
// is false when repair is declined or unusable.
type Repairer interface {
	RequestFix(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int) (project.FileSet, bool)
}

// Config holds the engine's safety thresholds.
type Config struct {
	// MaxConsecutiveFailures stops the loop once this many failures happen
	// without the repair agent making progress.
	MaxConsecutiveFailures int
	// MaxSignatureRepeats stops the loop once the same failure signature is
	// seen this many times in a session.
	MaxSignatureRepeats int
	// MaxAttempts optionally hard-caps total attempts; 0 leaves the loop
	// bounded only by the two safety valves.
	MaxAttempts int
	// Region is the deployment region written into the platform descriptor.
	Region string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		MaxSignatureRepeats:    3,
		MaxAttempts:            0,
		Region:                 "iad",
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.MaxSignatureRepeats <= 0 {
		c.MaxSignatureRepeats = 3
	}
	if c.Region == "" {
		c.Region = "iad"
	}
	return c
}

// Result is the engine's answer to the caller.
type Result struct {
	Success      bool     `json:"success" yaml:"success"`
	PreviewURL   string   `json:"previewUrl,omitempty" yaml:"previewUrl,omitempty"`
	Error        string   `json:"error,omitempty" yaml:"error,omitempty"`
	RawLogs      string   `json:"rawLogs,omitempty" yaml:"rawLogs,omitempty"`
	AttemptCount int      `json:"attemptCount" yaml:"attemptCount"`
	Session      *Session `json:"session,omitempty" yaml:"session,omitempty"`
}

// Engine runs deployment sessions. One engine may serve many targets;
// sessions share no mutable state.
type Engine struct {
	exec     Executor
	repairer Repairer
	learner  learning.Collaborator
	cfg      Config
	w        io.Writer
}

// New builds an engine. learner may be nil to disable failure capture;
// repairer may be nil to disable repair entirely (every failure then stops
// the session).
func New(exec Executor, repairer Repairer, learner learning.Collaborator, cfg Config, w io.Writer) *Engine {
	return &Engine{exec: exec, repairer: repairer, learner: learner, cfg: cfg.withDefaults(), w: w}
}

func (e *Engine) logf(format string, args ...any) {
	if e.w != nil {
		_, _ = fmt.Fprintf(e.w, format+"\n", args...)
	}
}

// Run executes one deployment session to its terminal state. Attempts are
// strictly sequential; each uses a fresh disposable workspace and an
// immutable file-set snapshot.
func (e *Engine) Run(ctx context.Context, fs project.FileSet, target string) Result {
	session := &Session{
		ID:              uuid.NewString(),
		Target:          target,
		AppName:         AppName(target),
		Status:          StatusDeploying,
		SignatureCounts: make(map[string]int),
	}

	rt := classify.Detect(fs, e.w)
	session.Runtime = rt.Effective().String()
	e.logf("[engine] session %s: target=%s app=%s runtime=%s", session.ID, target, session.AppName, session.Runtime)

	if err := e.exec.EnsureApp(ctx, session.AppName); err != nil {
		session.Status = StatusFailed
		session.StopReason = "target-unavailable"
		return Result{
			Error:   fmt.Sprintf("failed to prepare deployment target: %v", err),
			Session: session,
		}
	}

	var capturedFailures []string
	current := fs

	for {
		attemptIndex := len(session.Attempts) + 1
		if e.cfg.MaxAttempts > 0 && attemptIndex > e.cfg.MaxAttempts {
			return e.stop(session, StopReasonAttemptCap)
		}

		current = sanitize.Sanitize(current, rt, e.logf)
		rcp := recipe.Synthesize(current, rt, session.AppName, e.cfg.Region)

		ws, err := workspace.Materialize(current, rcp)
		if err != nil {
			session.Status = StatusFailed
			session.StopReason = "workspace-error"
			return Result{
				Error:        fmt.Sprintf("failed to materialize workspace: %v", err),
				AttemptCount: len(session.Attempts),
				Session:      session,
			}
		}

		e.logf("[engine] attempt %d: deploying %d files", attemptIndex, current.Len())
		startedAt := time.Now()
		out, deployErr := e.exec.Deploy(ctx, ws.Dir, session.AppName)
		ws.Remove()
		endedAt := time.Now()

		if deployErr == nil {
			session.Attempts = append(session.Attempts, Attempt{
				Index:     attemptIndex,
				Outcome:   OutcomeSuccess,
				RawLog:    out,
				StartedAt: startedAt,
				EndedAt:   endedAt,
			})
			session.ConsecutiveFailures = 0
			session.Status = StatusDeployed
			return e.succeed(ctx, session, capturedFailures, out)
		}

		sig := signature.Extract(out)
		session.Attempts = append(session.Attempts, Attempt{
			Index:     attemptIndex,
			Outcome:   OutcomeFailure,
			Signature: sig,
			RawLog:    out,
			StartedAt: startedAt,
			EndedAt:   endedAt,
		})
		session.ConsecutiveFailures++
		session.SignatureCounts[sig]++
		errMsg := signature.Summary(out)
		e.logf("[engine] attempt %d failed: %s", attemptIndex, errMsg)

		if id := e.captureFailure(ctx, current, errMsg, out, attemptIndex, session); id != "" {
			capturedFailures = append(capturedFailures, id)
		}

		// Safety valves come before repair: the repair agent is never
		// consulted once a threshold is tripped.
		if session.SignatureCounts[sig] >= e.cfg.MaxSignatureRepeats {
			e.logf("[engine] same failure signature seen %d times, stopping", session.SignatureCounts[sig])
			return e.stop(session, StopReasonStuck)
		}
		if session.ConsecutiveFailures >= e.cfg.MaxConsecutiveFailures {
			e.logf("[engine] %d consecutive failures without progress, stopping", session.ConsecutiveFailures)
			return e.stop(session, StopReasonDiverging)
		}

		if e.repairer == nil {
			return e.stop(session, StopReasonRepairDeclined)
		}
		fixed, ok := e.repairer.RequestFix(ctx, current, errMsg, out, attemptIndex)
		if !ok {
			return e.stop(session, StopReasonRepairDeclined)
		}

		if !fixed.Equal(current) {
			// Progress: the repair changed the inputs, so the divergence
			// counter starts over.
			session.Attempts[len(session.Attempts)-1].RepairProgress = true
			session.ConsecutiveFailures = 0
		} else {
			e.logf("[engine] repair returned identical files, retrying without progress credit")
		}
		current = fixed
	}
}

func (e *Engine) succeed(ctx context.Context, session *Session, capturedFailures []string, deployLog string) Result {
	logs, err := e.exec.FetchLogs(ctx, session.AppName)
	if err != nil {
		e.logf("[engine] post-deploy log fetch failed (ignored): %v", err)
	} else if logs != "" {
		deployLog = deployLog + "\n" + logs
	}

	if e.learner != nil {
		description := fmt.Sprintf("deployment succeeded after %d attempt(s)", len(session.Attempts))
		for _, id := range capturedFailures {
			if err := e.learner.MarkResolved(ctx, id, description); err != nil {
				e.logf("[engine] learning mark-resolved failed (ignored): %v", err)
			}
		}
	}

	e.logf("[engine] deployed %s in %d attempt(s)", session.AppName, len(session.Attempts))
	return Result{
		Success:      true,
		PreviewURL:   "https://" + session.AppName + ".fly.dev",
		RawLogs:      deployLog,
		AttemptCount: len(session.Attempts),
		Session:      session,
	}
}

func (e *Engine) captureFailure(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int, session *Session) string {
	if e.learner == nil {
		return ""
	}
	id, err := e.learner.CaptureFailure(ctx, fs, errMsg, rawLog, attempt, session.Target, session.Runtime)
	if err != nil {
		e.logf("[engine] learning capture failed (ignored): %v", err)
		return ""
	}
	return id
}

func (e *Engine) stop(session *Session, reason string) Result {
	session.Status = StatusFailed
	session.StopReason = reason

	rawLog := ""
	if n := len(session.Attempts); n > 0 {
		rawLog = session.Attempts[n-1].RawLog
	}
	return Result{
		Error:        "deployment stopped: " + reason,
		RawLogs:      rawLog,
		AttemptCount: len(session.Attempts),
		Session:      session,
	}
}
