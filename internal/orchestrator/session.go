package orchestrator

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// Outcome of a single deployment attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Status of a deployment session. A session never re-opens after reaching
// StatusDeployed or StatusFailed.
type Status string

const (
	StatusDeploying Status = "deploying"
	StatusDeployed  Status = "deployed"
	StatusFailed    Status = "failed"
)

// Stop reasons for sessions that end without success.
const (
	StopReasonDiverging      = "diverging"
	StopReasonStuck          = "stuck"
	StopReasonRepairDeclined = "repair-declined"
	StopReasonAttemptCap     = "attempt-cap"
)

// Attempt is one deployment attempt. RepairProgress records whether the
// repair following this failure produced a file set different from the
// attempt's input; the consecutive-failure cache is derived from it.
type Attempt struct {
	Index          int       `json:"index" yaml:"index"`
	Outcome        Outcome   `json:"outcome" yaml:"outcome"`
	Signature      string    `json:"signature,omitempty" yaml:"signature,omitempty"`
	RawLog         string    `json:"rawLog,omitempty" yaml:"rawLog,omitempty"`
	RepairProgress bool      `json:"repairProgress,omitempty" yaml:"repairProgress,omitempty"`
	StartedAt      time.Time `json:"startedAt" yaml:"startedAt"`
	EndedAt        time.Time `json:"endedAt" yaml:"endedAt"`
}

// Session is the full ordered history of attempts for one target. It is
// mutated only by the engine appending attempts and is immutable once
// terminal.
type Session struct {
	ID         string    `json:"id" yaml:"id"`
	Target     string    `json:"target" yaml:"target"`
	AppName    string    `json:"appName" yaml:"appName"`
	Runtime    string    `json:"runtime" yaml:"runtime"`
	Status     Status    `json:"status" yaml:"status"`
	StopReason string    `json:"stopReason,omitempty" yaml:"stopReason,omitempty"`
	Attempts   []Attempt `json:"attempts" yaml:"attempts"`

	// Derived caches, recomputable from Attempts.
	ConsecutiveFailures int            `json:"consecutiveFailures" yaml:"consecutiveFailures"`
	SignatureCounts     map[string]int `json:"signatureCounts" yaml:"signatureCounts"`
}

// RecomputeDerived rebuilds the cached counters from the attempt history.
// The incremental updates in the engine must always agree with this.
func (s *Session) RecomputeDerived() {
	counts := make(map[string]int)
	consecutive := 0
	for _, a := range s.Attempts {
		if a.Outcome == OutcomeSuccess {
			consecutive = 0
			continue
		}
		counts[a.Signature]++
		if a.RepairProgress {
			consecutive = 0
		} else {
			consecutive++
		}
	}
	s.SignatureCounts = counts
	s.ConsecutiveFailures = consecutive
}

// AppName derives a valid deployment app name from a target id: lowercased
// slug plus a short content hash so distinct targets never collide.
func AppName(target string) string {
	slug := strings.ToLower(strings.TrimSpace(target))
	var out strings.Builder
	lastDash := false
	for _, r := range slug {
		isAZ := r >= 'a' && r <= 'z'
		is09 := r >= '0' && r <= '9'
		if isAZ || is09 {
			out.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			out.WriteByte('-')
			lastDash = true
		}
	}
	slug = strings.Trim(out.String(), "-")
	if slug == "" {
		slug = "preview"
	}
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}

	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(target))))
	return slug + "-" + hex.EncodeToString(sum[:])[:6]
}
