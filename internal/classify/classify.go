// Package classify infers the dominant runtime of a generated project from
// file extensions and ecosystem marker files.
package classify

import (
	"fmt"
	"io"

	"github.com/zaikaman/forgedeploy/internal/project"
)

// Runtime is the detected ecosystem of a file set.
type Runtime string

const (
	RuntimeTypeScript Runtime = "typescript"
	RuntimeJavaScript Runtime = "javascript"
	RuntimePython     Runtime = "python"
	RuntimeUnknown    Runtime = "unknown"
)

func (r Runtime) String() string { return string(r) }

// Effective maps RuntimeUnknown to RuntimeJavaScript; recipe synthesis and
// sanitization treat an unclassifiable project as plain JavaScript.
func (r Runtime) Effective() Runtime {
	if r == RuntimeUnknown {
		return RuntimeJavaScript
	}
	return r
}

// Detect classifies a file set. Classification is total: it never fails, it
// falls back to RuntimeUnknown and warns on w instead.
//
// A Python dependency manifest with no package.json wins outright, regardless
// of file counts. Otherwise the presence of a package.json or of any TS/JS
// sources picks whichever of TypeScript vs JavaScript has more files, ties
// going to TypeScript.
func Detect(fs project.FileSet, w io.Writer) Runtime {
	counts := fs.CountByExtension()
	tsCount := counts["ts"] + counts["tsx"]
	jsCount := counts["js"] + counts["jsx"] + counts["mjs"] + counts["cjs"]

	hasPackageJSON := fs.Has("package.json")
	hasRequirements := fs.Has("requirements.txt")

	if hasRequirements && !hasPackageJSON {
		return RuntimePython
	}

	if hasPackageJSON || tsCount > 0 || jsCount > 0 {
		if jsCount > tsCount {
			return RuntimeJavaScript
		}
		return RuntimeTypeScript
	}

	if counts["py"] > 0 {
		return RuntimePython
	}
	if counts["html"] > 0 || counts["css"] > 0 {
		return RuntimeJavaScript
	}

	if w != nil {
		_, _ = fmt.Fprintf(w, "[classify] warning: no recognizable runtime markers (%d files), treating as javascript\n", fs.Len())
	}
	return RuntimeUnknown
}
