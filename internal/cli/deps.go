// Package cli provides detection of the external CLI tools the engine
// shells out to.
package cli

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
)

// DependencyChecker handles detection of CLI tools
type DependencyChecker struct {
	debug bool
}

// NewDependencyChecker creates a new dependency checker
func NewDependencyChecker(debug bool) *DependencyChecker {
	return &DependencyChecker{debug: debug}
}

// DependencyStatus represents the status of a CLI tool
type DependencyStatus struct {
	Name      string
	Installed bool
	Version   string
	Required  bool
	Message   string
}

// CheckAll checks every dependency the engine needs.
func (d *DependencyChecker) CheckAll() []DependencyStatus {
	return []DependencyStatus{
		d.CheckFlyctl(),
	}
}

// CheckMissing returns only the missing or invalid dependencies
func (d *DependencyChecker) CheckMissing() []DependencyStatus {
	all := d.CheckAll()
	var missing []DependencyStatus
	for _, dep := range all {
		if !dep.Installed {
			missing = append(missing, dep)
		}
	}
	return missing
}

// CheckFlyctl checks if the flyctl CLI is installed.
func (d *DependencyChecker) CheckFlyctl() DependencyStatus {
	status := DependencyStatus{
		Name:     "flyctl",
		Required: true,
	}

	path, err := exec.LookPath("flyctl")
	if err != nil {
		// Homebrew installs it as "fly".
		path, err = exec.LookPath("fly")
	}
	if err != nil {
		status.Installed = false
		status.Message = "flyctl is not installed (https://fly.io/docs/flyctl/install/)"
		return status
	}

	status.Installed = true

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, path, "version")
	output, err := cmd.Output()
	if err == nil {
		status.Version = strings.TrimSpace(string(output))
		if re := regexp.MustCompile(`v?\d+\.\d+\.\d+`); re.Match(output) {
			status.Version = re.FindString(string(output))
		}
	}

	return status
}
