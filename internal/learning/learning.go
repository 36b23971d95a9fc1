// Package learning records deployment failures and their resolutions so
// repeated failure patterns can be recognized later. All calls are
// fire-and-forget from the engine's perspective: errors are reported but
// must never change a deployment outcome.
package learning

import (
	"context"

	"github.com/zaikaman/forgedeploy/internal/project"
)

// Collaborator is the failure-pattern store contract.
type Collaborator interface {
	// CaptureFailure records one failed attempt and returns a failure id.
	CaptureFailure(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int, target, runtime string) (string, error)
	// MarkResolved flags a previously captured failure as fixed.
	MarkResolved(ctx context.Context, failureID, description string) error
}

// FailureRecord is one captured failure as stored locally.
type FailureRecord struct {
	ID         string `json:"id" yaml:"id"`
	Target     string `json:"target" yaml:"target"`
	Runtime    string `json:"runtime" yaml:"runtime"`
	Attempt    int    `json:"attempt" yaml:"attempt"`
	Error      string `json:"error" yaml:"error"`
	Resolved   bool   `json:"resolved" yaml:"resolved"`
	Resolution string `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	CreatedAt  string `json:"createdAt" yaml:"createdAt"`
}
