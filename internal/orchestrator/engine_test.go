package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/zaikaman/forgedeploy/internal/project"
)

type fakeExecutor struct {
	ensureErr    error
	deployCalls  int
	deployScript func(call int) (string, error)
	logsOut      string
	logsErr      error
	deployDirs   []string
}

func (f *fakeExecutor) EnsureApp(ctx context.Context, name string) error { return f.ensureErr }

func (f *fakeExecutor) Deploy(ctx context.Context, dir, name string) (string, error) {
	f.deployCalls++
	f.deployDirs = append(f.deployDirs, dir)
	return f.deployScript(f.deployCalls)
}

func (f *fakeExecutor) FetchLogs(ctx context.Context, name string) (string, error) {
	return f.logsOut, f.logsErr
}

type fakeRepairer struct {
	calls int
	fn    func(call int, fs project.FileSet) (project.FileSet, bool)
}

func (f *fakeRepairer) RequestFix(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int) (project.FileSet, bool) {
	f.calls++
	return f.fn(f.calls, fs)
}

type fakeLearner struct {
	captured []string
	resolved []string
	fail     bool
}

func (f *fakeLearner) CaptureFailure(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int, target, runtime string) (string, error) {
	if f.fail {
		return "", errors.New("learning service down")
	}
	id := fmt.Sprintf("f-%d", len(f.captured)+1)
	f.captured = append(f.captured, id)
	return id, nil
}

func (f *fakeLearner) MarkResolved(ctx context.Context, failureID, description string) error {
	if f.fail {
		return errors.New("learning service down")
	}
	f.resolved = append(f.resolved, failureID)
	return nil
}

func jsProject() project.FileSet {
	return project.New(project.File{Path: "index.js", Content: "console.log('hi')"})
}

func passThroughRepairer() *fakeRepairer {
	return &fakeRepairer{fn: func(call int, fs project.FileSet) (project.FileSet, bool) {
		return fs, true
	}}
}

func progressRepairer() *fakeRepairer {
	return &fakeRepairer{fn: func(call int, fs project.FileSet) (project.FileSet, bool) {
		return fs.With(project.File{Path: "index.js", Content: fmt.Sprintf("console.log(%d)", call)}), true
	}}
}

func TestFirstAttemptSucceeds(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(int) (string, error) { return "deployed ok", nil },
		logsOut:      "app listening",
	}
	e := New(exec, passThroughRepairer(), nil, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-1")

	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if res.AttemptCount != 1 {
		t.Errorf("attemptCount = %d", res.AttemptCount)
	}
	if !strings.HasPrefix(res.PreviewURL, "https://") || !strings.Contains(res.PreviewURL, AppName("proj-1")) {
		t.Errorf("previewUrl = %q", res.PreviewURL)
	}
	if res.Session.Status != StatusDeployed {
		t.Errorf("status = %s", res.Session.Status)
	}
	if !strings.Contains(res.RawLogs, "app listening") {
		t.Errorf("post-success log fetch missing from rawLogs: %q", res.RawLogs)
	}
}

func TestFailThenRepairThenSucceed(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(call int) (string, error) {
			if call == 1 {
				return "Error: Cannot find module 'express'", errors.New("exit status 1")
			}
			return "deployed ok", nil
		},
	}
	learner := &fakeLearner{}
	repairer := progressRepairer()
	e := New(exec, repairer, learner, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-2")

	if !res.Success {
		t.Fatalf("expected success after repair: %+v", res)
	}
	if res.AttemptCount != 2 {
		t.Errorf("attemptCount = %d", res.AttemptCount)
	}
	if repairer.calls != 1 {
		t.Errorf("repair calls = %d", repairer.calls)
	}

	session := res.Session
	if session.Status != StatusDeployed {
		t.Errorf("status = %s", session.Status)
	}
	if !session.Attempts[0].RepairProgress {
		t.Error("first attempt should record repair progress")
	}
	if session.ConsecutiveFailures != 0 {
		t.Errorf("consecutiveFailures = %d, want reset to 0", session.ConsecutiveFailures)
	}
	if len(learner.captured) != 1 || len(learner.resolved) != 1 || learner.resolved[0] != learner.captured[0] {
		t.Errorf("captured failure not marked resolved: captured=%v resolved=%v", learner.captured, learner.resolved)
	}
}

func TestDivergingSafetyBound(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(call int) (string, error) {
			// Every attempt fails with a structurally distinct error.
			return fmt.Sprintf("Error: problem variant %s", strings.Repeat("x", call)), errors.New("exit status 1")
		},
	}
	repairer := passThroughRepairer()
	e := New(exec, repairer, nil, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-3")

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Session.StopReason != StopReasonDiverging {
		t.Errorf("stopReason = %q", res.Session.StopReason)
	}
	if res.AttemptCount != 5 {
		t.Errorf("attemptCount = %d, want exactly maxConsecutiveFailures", res.AttemptCount)
	}
	if repairer.calls != 4 {
		t.Errorf("repair calls = %d; the agent must not be consulted once the threshold trips", repairer.calls)
	}
	if res.Session.Status != StatusFailed {
		t.Errorf("status = %s", res.Session.Status)
	}
}

func TestStuckSafetyBound(t *testing.T) {
	logs := []string{
		"Error: line 42: missing module 'x'",
		"Error: line 99: missing module 'x'",
		"Error: line 7: missing module 'x'",
	}
	exec := &fakeExecutor{
		deployScript: func(call int) (string, error) {
			return logs[call-1], errors.New("exit status 1")
		},
	}
	repairer := progressRepairer()
	e := New(exec, repairer, nil, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-4")

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Session.StopReason != StopReasonStuck {
		t.Errorf("stopReason = %q", res.Session.StopReason)
	}
	if res.AttemptCount != 3 {
		t.Errorf("attemptCount = %d, want exactly maxSameSignatureRepeats", res.AttemptCount)
	}
	if repairer.calls != 2 {
		t.Errorf("repair calls = %d", repairer.calls)
	}

	// Line-number variants collapse to one signature.
	if len(res.Session.SignatureCounts) != 1 {
		t.Errorf("expected one signature, got %v", res.Session.SignatureCounts)
	}
	for _, count := range res.Session.SignatureCounts {
		if count != 3 {
			t.Errorf("histogram count = %d", count)
		}
	}
}

func TestRepairDeclinedStopsSession(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(int) (string, error) { return "Error: broken", errors.New("exit status 1") },
	}
	repairer := &fakeRepairer{fn: func(int, project.FileSet) (project.FileSet, bool) {
		return project.FileSet{}, false
	}}
	e := New(exec, repairer, nil, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-5")

	if res.Session.StopReason != StopReasonRepairDeclined {
		t.Errorf("stopReason = %q", res.Session.StopReason)
	}
	if res.AttemptCount != 1 {
		t.Errorf("attemptCount = %d", res.AttemptCount)
	}
	if !strings.Contains(res.RawLogs, "Error: broken") {
		t.Errorf("raw log lost: %q", res.RawLogs)
	}
}

func TestAttemptCap(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(call int) (string, error) {
			return fmt.Sprintf("Error: variant %s", strings.Repeat("y", call)), errors.New("exit status 1")
		},
	}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	e := New(exec, progressRepairer(), nil, cfg, &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-6")

	if res.Session.StopReason != StopReasonAttemptCap {
		t.Errorf("stopReason = %q", res.Session.StopReason)
	}
	if res.AttemptCount != 2 {
		t.Errorf("attemptCount = %d", res.AttemptCount)
	}
}

func TestEnsureAppFailureAbortsBeforeDeploying(t *testing.T) {
	exec := &fakeExecutor{
		ensureErr:    errors.New("api unreachable"),
		deployScript: func(int) (string, error) { return "", nil },
	}
	e := New(exec, passThroughRepairer(), nil, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-7")

	if res.Success {
		t.Fatal("expected failure")
	}
	if exec.deployCalls != 0 {
		t.Errorf("deploy must not run when the target cannot be prepared")
	}
	if res.Session.Status != StatusFailed {
		t.Errorf("status = %s", res.Session.Status)
	}
}

func TestLearnerFailuresNeverChangeOutcome(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(call int) (string, error) {
			if call == 1 {
				return "Error: nope", errors.New("exit status 1")
			}
			return "deployed ok", nil
		},
	}
	e := New(exec, progressRepairer(), &fakeLearner{fail: true}, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-8")
	if !res.Success {
		t.Fatalf("learning errors must be swallowed: %+v", res)
	}
}

func TestDerivedCachesMatchRecompute(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(call int) (string, error) {
			if call < 3 {
				return fmt.Sprintf("Error: variant %s", strings.Repeat("z", call)), errors.New("exit status 1")
			}
			return "deployed ok", nil
		},
	}
	e := New(exec, progressRepairer(), nil, DefaultConfig(), &bytes.Buffer{})

	res := e.Run(context.Background(), jsProject(), "proj-9")

	session := res.Session
	gotConsecutive := session.ConsecutiveFailures
	gotCounts := fmt.Sprintf("%v", session.SignatureCounts)
	session.RecomputeDerived()
	if session.ConsecutiveFailures != gotConsecutive {
		t.Errorf("consecutiveFailures cache %d != recomputed %d", gotConsecutive, session.ConsecutiveFailures)
	}
	if fmt.Sprintf("%v", session.SignatureCounts) != gotCounts {
		t.Errorf("signature histogram cache %s != recomputed %v", gotCounts, session.SignatureCounts)
	}
}

func TestAttemptIndicesMonotonic(t *testing.T) {
	exec := &fakeExecutor{
		deployScript: func(call int) (string, error) {
			if call < 3 {
				return fmt.Sprintf("Error: v %s", strings.Repeat("q", call)), errors.New("exit status 1")
			}
			return "ok", nil
		},
	}
	e := New(exec, progressRepairer(), nil, DefaultConfig(), &bytes.Buffer{})
	res := e.Run(context.Background(), jsProject(), "proj-10")

	for i, a := range res.Session.Attempts {
		if a.Index != i+1 {
			t.Errorf("attempt %d has index %d", i, a.Index)
		}
	}
}

func TestAppName(t *testing.T) {
	name := AppName("My Project #42!")
	if strings.ToLower(name) != name {
		t.Errorf("app name must be lowercase: %q", name)
	}
	if strings.ContainsAny(name, " #!") {
		t.Errorf("app name has invalid characters: %q", name)
	}
	if AppName("target-a") == AppName("target-b") {
		t.Error("distinct targets must not collide")
	}
	if AppName("target-a") != AppName("target-a") {
		t.Error("app names must be deterministic")
	}
}
