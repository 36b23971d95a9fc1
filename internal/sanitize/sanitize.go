// Package sanitize deterministically rewrites dependency and compiler
// manifests to remove known build-breaking patterns in generated projects.
// It is pure: no I/O, no network, and re-running it on its own output is a
// no-op.
package sanitize

import (
	"encoding/json"
	"strings"

	"github.com/zaikaman/forgedeploy/internal/classify"
	"github.com/zaikaman/forgedeploy/internal/project"
)

const (
	// FallbackTypeScriptVersion is pinned whenever the declared compiler
	// version is a placeholder or otherwise not known-good.
	FallbackTypeScriptVersion = "5.3.3"

	packageJSONPath = "package.json"
	tsconfigPath    = "tsconfig.json"
)

// allowedTypeScriptVersions is the explicit allow-list of compiler versions
// that are left untouched.
var allowedTypeScriptVersions = map[string]bool{
	"5.3.3":  true,
	"^5.3.3": true,
	"~5.3.3": true,
	"5.4.5":  true,
	"^5.4.5": true,
	"5.5.4":  true,
	"^5.5.4": true,
	"5.6.3":  true,
	"^5.6.3": true,
}

// typedCompanions maps runtime dependencies to the pinned @types package
// their compiled builds need.
var typedCompanions = map[string]struct {
	name    string
	version string
}{
	"express":     {"@types/express", "^4.17.21"},
	"cors":        {"@types/cors", "^2.8.17"},
	"ws":          {"@types/ws", "^8.5.10"},
	"body-parser": {"@types/body-parser", "^1.19.5"},
	"morgan":      {"@types/morgan", "^1.9.9"},
}

// browserIdentifiers are the API names whose presence in a source file means
// the build needs the DOM library set.
var browserIdentifiers = []string{
	"document.", "window.", "localStorage", "sessionStorage", "navigator.",
}

type state struct {
	fs   project.FileSet
	rt   classify.Runtime
	logf func(string, ...any)

	pkg        map[string]any
	pkgChanged bool

	tsconfig   map[string]any
	tscChanged bool
}

// rule is one (predicate -> action) entry of the ordered sanitization table.
// apply reports whether it changed anything; every rule is idempotent on its
// own output.
type rule struct {
	name  string
	apply func(*state) bool
}

var rules = []rule{
	{"ensure-compiler-dependency", ensureCompilerDependency},
	{"pin-compiler-version", pinCompilerVersion},
	{"ensure-typed-companions", ensureTypedCompanions},
	{"tsconfig-baseline-libs", tsconfigBaselineLibs},
	{"tsconfig-dom-libs", tsconfigDOMLibs},
	{"tsconfig-force-strict", tsconfigForceStrict},
	{"tsconfig-drop-noemit", tsconfigDropNoEmit},
}

// Sanitize applies the ordered rule table to fs and returns the rewritten
// file set. Files that fail to parse are skipped unchanged with a warning.
func Sanitize(fs project.FileSet, rt classify.Runtime, logf func(string, ...any)) project.FileSet {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &state{fs: fs, rt: rt.Effective(), logf: logf}
	if s.rt == classify.RuntimePython {
		// The rule table rewrites JavaScript-ecosystem manifests only; a
		// stray package.json in a Python project is left alone.
		return fs
	}
	s.loadManifests()

	for _, r := range rules {
		if r.apply(s) {
			logf("[sanitize] applied rule %s", r.name)
		}
	}

	return s.flush()
}

func (s *state) loadManifests() {
	if raw, ok := s.fs.Get(packageJSONPath); ok {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			s.logf("[sanitize] warning: %s is not valid JSON, leaving untouched: %v", packageJSONPath, err)
		} else {
			s.pkg = parsed
		}
	}
	if raw, ok := s.fs.Get(tsconfigPath); ok {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			s.logf("[sanitize] warning: %s is not valid JSON, leaving untouched: %v", tsconfigPath, err)
		} else {
			s.tsconfig = parsed
		}
	}
}

// flush re-serializes only the manifests a rule actually changed, so an
// already-clean file set passes through byte-identical.
func (s *state) flush() project.FileSet {
	out := s.fs
	if s.pkgChanged && s.pkg != nil {
		data, err := json.MarshalIndent(s.pkg, "", "  ")
		if err == nil {
			out = out.With(project.File{Path: packageJSONPath, Content: string(data) + "\n"})
		}
	}
	if s.tscChanged && s.tsconfig != nil {
		data, err := json.MarshalIndent(s.tsconfig, "", "  ")
		if err == nil {
			out = out.With(project.File{Path: tsconfigPath, Content: string(data) + "\n"})
		}
	}
	return out
}

func (s *state) hasCompiledSources() bool {
	counts := s.fs.CountByExtension()
	return counts["ts"] > 0 || counts["tsx"] > 0
}

func (s *state) depsSection(key string) map[string]any {
	if s.pkg == nil {
		return nil
	}
	section, ok := s.pkg[key].(map[string]any)
	if !ok {
		return nil
	}
	return section
}

func (s *state) ensureDepsSection(key string) map[string]any {
	if section := s.depsSection(key); section != nil {
		return section
	}
	section := map[string]any{}
	s.pkg[key] = section
	return section
}

// declaredCompilerVersion finds the typescript entry across both dependency
// sections. Returns the section it lives in so a rewrite stays in place.
func (s *state) declaredCompilerVersion() (version string, section map[string]any, ok bool) {
	for _, key := range []string{"devDependencies", "dependencies"} {
		deps := s.depsSection(key)
		if deps == nil {
			continue
		}
		if v, found := deps["typescript"]; found {
			str, _ := v.(string)
			return str, deps, true
		}
	}
	return "", nil, false
}

// ensureCompilerDependency adds typescript at the fallback version when
// compiled sources exist but no compiler is declared. A project with
// TypeScript sources and no manifest at all gets a minimal one.
func ensureCompilerDependency(s *state) bool {
	if !s.hasCompiledSources() {
		return false
	}
	if s.pkg == nil {
		if s.fs.Has(packageJSONPath) {
			// Present but unparseable; rule 1 skips rather than clobbers.
			return false
		}
		s.pkg = map[string]any{
			"name":    "generated-app",
			"version": "1.0.0",
			"devDependencies": map[string]any{
				"typescript": FallbackTypeScriptVersion,
			},
		}
		s.pkgChanged = true
		return true
	}
	if _, _, declared := s.declaredCompilerVersion(); declared {
		return false
	}
	s.ensureDepsSection("devDependencies")["typescript"] = FallbackTypeScriptVersion
	s.pkgChanged = true
	return true
}

// pinCompilerVersion rewrites placeholder or unvetted compiler versions to
// the fallback pin.
func pinCompilerVersion(s *state) bool {
	version, section, ok := s.declaredCompilerVersion()
	if !ok {
		return false
	}
	if !isPlaceholderVersion(version) && allowedTypeScriptVersions[version] {
		return false
	}
	if version == FallbackTypeScriptVersion {
		return false
	}
	section["typescript"] = FallbackTypeScriptVersion
	s.pkgChanged = true
	return true
}

// isPlaceholderVersion matches the version strings generated code commonly
// emits that break installs: floating tags, pre-releases, workspace refs.
func isPlaceholderVersion(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "", "*", "latest", "next", "beta", "alpha", "canary":
		return true
	}
	if strings.HasPrefix(v, "workspace:") || strings.HasPrefix(v, "file:") || strings.HasPrefix(v, "link:") {
		return true
	}
	// Pre-release suffixes such as 5.4.0-beta or 5.4.0-rc.1.
	if strings.Contains(v, "-") {
		return true
	}
	return false
}

// ensureTypedCompanions pins the @types package for each known runtime
// dependency, plus @types/node whenever compiled sources exist. Existing pins
// are never overwritten.
func ensureTypedCompanions(s *state) bool {
	if s.pkg == nil {
		return false
	}
	changed := false
	if s.hasCompiledSources() && !s.hasDependency("@types/node") {
		s.ensureDepsSection("devDependencies")["@types/node"] = "^20.11.30"
		changed = true
	}
	if runtime := s.depsSection("dependencies"); runtime != nil {
		for dep, companion := range typedCompanions {
			if _, present := runtime[dep]; !present {
				continue
			}
			if s.hasDependency(companion.name) {
				continue
			}
			s.ensureDepsSection("devDependencies")[companion.name] = companion.version
			changed = true
		}
	}
	if changed {
		s.pkgChanged = true
	}
	return changed
}

func (s *state) hasDependency(name string) bool {
	for _, key := range []string{"dependencies", "devDependencies"} {
		if deps := s.depsSection(key); deps != nil {
			if _, ok := deps[name]; ok {
				return true
			}
		}
	}
	return false
}

func (s *state) compilerOptions() map[string]any {
	if s.tsconfig == nil {
		return nil
	}
	opts, ok := s.tsconfig["compilerOptions"].(map[string]any)
	if !ok {
		return nil
	}
	return opts
}

func (s *state) ensureCompilerOptions() map[string]any {
	if opts := s.compilerOptions(); opts != nil {
		return opts
	}
	if s.tsconfig == nil {
		return nil
	}
	opts := map[string]any{}
	s.tsconfig["compilerOptions"] = opts
	return opts
}

func libList(opts map[string]any) []string {
	raw, ok := opts["lib"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func hasLib(libs []string, name string) bool {
	for _, l := range libs {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

func setLibs(opts map[string]any, libs []string) {
	converted := make([]any, len(libs))
	for i, l := range libs {
		converted[i] = l
	}
	opts["lib"] = converted
}

// tsconfigBaselineLibs guarantees the standard library set is declared.
func tsconfigBaselineLibs(s *state) bool {
	if s.tsconfig == nil {
		return false
	}
	opts := s.ensureCompilerOptions()
	libs := libList(opts)
	if hasLib(libs, "ES2020") || hasLib(libs, "ESNext") || hasLib(libs, "ES2021") || hasLib(libs, "ES2022") {
		return false
	}
	setLibs(opts, append(libs, "ES2020"))
	s.tscChanged = true
	return true
}

// tsconfigDOMLibs adds the DOM library set only when browser APIs are
// actually used.
func tsconfigDOMLibs(s *state) bool {
	if s.tsconfig == nil || !s.usesDOM() {
		return false
	}
	opts := s.ensureCompilerOptions()
	libs := libList(opts)
	changed := false
	if !hasLib(libs, "DOM") {
		libs = append(libs, "DOM")
		changed = true
	}
	if !hasLib(libs, "DOM.Iterable") {
		libs = append(libs, "DOM.Iterable")
		changed = true
	}
	if !changed {
		return false
	}
	setLibs(opts, libs)
	s.tscChanged = true
	return true
}

// usesDOM detects browser usage: a UI-entry file (.tsx, index.html) or any
// browser-API identifier in the sources.
func (s *state) usesDOM() bool {
	counts := s.fs.CountByExtension()
	if counts["tsx"] > 0 || counts["jsx"] > 0 {
		return true
	}
	for _, f := range s.fs.Files() {
		lower := strings.ToLower(f.Path)
		if !strings.HasSuffix(lower, ".ts") && !strings.HasSuffix(lower, ".js") {
			continue
		}
		for _, ident := range browserIdentifiers {
			if strings.Contains(f.Content, ident) {
				return true
			}
		}
	}
	return false
}

// tsconfigForceStrict turns strict mode on when unset. An explicit false is
// respected.
func tsconfigForceStrict(s *state) bool {
	if s.tsconfig == nil {
		return false
	}
	opts := s.ensureCompilerOptions()
	if _, set := opts["strict"]; set {
		return false
	}
	opts["strict"] = true
	s.tscChanged = true
	return true
}

// tsconfigDropNoEmit removes noEmit; generated projects must emit output or
// the build stage produces nothing to run.
func tsconfigDropNoEmit(s *state) bool {
	opts := s.compilerOptions()
	if opts == nil {
		return false
	}
	if _, present := opts["noEmit"]; !present {
		return false
	}
	delete(opts, "noEmit")
	s.tscChanged = true
	return true
}
