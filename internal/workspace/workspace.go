// Package workspace materializes a file set plus its build recipe into a
// disposable directory for one deployment attempt.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zaikaman/forgedeploy/internal/project"
	"github.com/zaikaman/forgedeploy/internal/recipe"
)

// Workspace is one attempt's scratch directory. It must be removed on every
// exit path, success or failure.
type Workspace struct {
	Dir string
}

// Materialize writes fs, the Dockerfile and the fly.toml into a fresh temp
// directory. Paths that escape the workspace root are rejected by the
// FileSet normalization upstream; anything surviving with an empty
// normalized path is skipped here.
func Materialize(fs project.FileSet, r recipe.Recipe) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "forgedeploy-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	ws := &Workspace{Dir: dir}

	for _, f := range fs.Files() {
		rel := project.NormalizePath(f.Path)
		if rel == "" {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			ws.Remove()
			return nil, fmt.Errorf("failed to create %s: %w", rel, err)
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			ws.Remove()
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, recipe.DockerfilePath), []byte(r.Dockerfile), 0o644); err != nil {
		ws.Remove()
		return nil, fmt.Errorf("failed to write build recipe: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, recipe.FlyConfigPath), []byte(r.FlyConfig), 0o644); err != nil {
		ws.Remove()
		return nil, fmt.Errorf("failed to write platform descriptor: %w", err)
	}

	return ws, nil
}

// Remove deletes the workspace directory. Best-effort; a straggling temp dir
// is not worth failing an attempt over.
func (w *Workspace) Remove() {
	if w == nil || w.Dir == "" {
		return
	}
	_ = os.RemoveAll(w.Dir)
	w.Dir = ""
}
