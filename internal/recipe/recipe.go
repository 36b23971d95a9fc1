// Package recipe turns a classified file set into the build recipe
// (Dockerfile) and platform descriptor (fly.toml) for one deployment attempt.
package recipe

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/zaikaman/forgedeploy/internal/classify"
	"github.com/zaikaman/forgedeploy/internal/project"
)

const (
	// DefaultPort is the internal port for node-based runtimes.
	DefaultPort = 3000
	// PythonPort is the internal port for the scripting runtime.
	PythonPort = 8000
	// StaticPort is nginx's default listen port for static sites.
	StaticPort = 80

	DockerfilePath = "Dockerfile"
	FlyConfigPath  = "fly.toml"
)

// Recipe is the synthesized build output for one attempt.
type Recipe struct {
	Dockerfile   string
	FlyConfig    string
	InternalPort int
	Static       bool
}

type flyBuild struct {
	Dockerfile string `toml:"dockerfile"`
}

type flyHTTPService struct {
	InternalPort       int  `toml:"internal_port"`
	ForceHTTPS         bool `toml:"force_https"`
	AutoStopMachines   bool `toml:"auto_stop_machines"`
	AutoStartMachines  bool `toml:"auto_start_machines"`
	MinMachinesRunning int  `toml:"min_machines_running"`
}

type flyConfig struct {
	App           string         `toml:"app"`
	PrimaryRegion string         `toml:"primary_region"`
	Build         flyBuild       `toml:"build"`
	HTTPService   flyHTTPService `toml:"http_service"`
}

// Synthesize produces the Dockerfile and fly.toml for fs. It never fails;
// every classification has a recipe.
func Synthesize(fs project.FileSet, rt classify.Runtime, appName, region string) Recipe {
	r := Recipe{}
	switch {
	case IsStaticSite(fs):
		r.Static = true
		r.InternalPort = StaticPort
		r.Dockerfile = staticDockerfile()
	case rt == classify.RuntimePython:
		r.InternalPort = PythonPort
		r.Dockerfile = pythonDockerfile(fs)
	default:
		r.InternalPort = DefaultPort
		r.Dockerfile = nodeDockerfile(fs, rt.Effective())
	}
	r.FlyConfig = renderFlyConfig(appName, region, r.InternalPort)
	return r
}

// IsStaticSite reports whether fs is a plain static site: an HTML entry file
// and a stylesheet, with no compiled sources and no build-tool manifest.
func IsStaticSite(fs project.FileSet) bool {
	counts := fs.CountByExtension()
	hasHTML := fs.Has("index.html") || counts["html"] > 0
	hasCSS := counts["css"] > 0
	hasCompiled := counts["ts"] > 0 || counts["tsx"] > 0
	hasManifest := fs.Has("package.json")
	return hasHTML && hasCSS && !hasCompiled && !hasManifest
}

func renderFlyConfig(appName, region string, port int) string {
	if strings.TrimSpace(region) == "" {
		region = "iad"
	}
	cfg := flyConfig{
		App:           appName,
		PrimaryRegion: region,
		Build:         flyBuild{Dockerfile: DockerfilePath},
		HTTPService: flyHTTPService{
			InternalPort:       port,
			ForceHTTPS:         true,
			AutoStopMachines:   true,
			AutoStartMachines:  true,
			MinMachinesRunning: 0,
		},
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		// flyConfig is a fixed struct; Marshal cannot fail on it.
		return ""
	}
	return string(data)
}

func staticDockerfile() string {
	return `FROM nginx:alpine
COPY . /usr/share/nginx/html
EXPOSE 80
`
}

// nodeDockerfile is the multi-stage recipe for TypeScript and JavaScript
// projects. The build step is tolerated missing, and the runtime stage walks
// the fallback entry-point chain: built output, server entry, start script.
func nodeDockerfile(fs project.FileSet, rt classify.Runtime) string {
	var b strings.Builder
	b.WriteString("FROM node:20-alpine AS build\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY package*.json ./\n")
	b.WriteString("RUN npm install\n")
	b.WriteString("COPY . .\n")
	if rt == classify.RuntimeTypeScript {
		b.WriteString("RUN npm run build || npx tsc || echo \"no build step\"\n")
	} else {
		b.WriteString("RUN npm run build || echo \"no build step\"\n")
	}
	b.WriteString("\n")
	b.WriteString("FROM node:20-alpine\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY --from=build /app .\n")
	b.WriteString(fmt.Sprintf("ENV PORT=%d\n", DefaultPort))
	b.WriteString(fmt.Sprintf("EXPOSE %d\n", DefaultPort))
	b.WriteString(`CMD ["sh", "-c", "` + nodeEntryChain(fs) + `"]` + "\n")
	return b.String()
}

// nodeEntryChain builds the ordered entry-point fallback: dist output first,
// then a server entry file, then the package-declared start script.
func nodeEntryChain(fs project.FileSet) string {
	candidates := []string{"dist/index.js", "dist/server.js", "server.js", "index.js", "src/index.js"}
	var parts []string
	for _, c := range candidates {
		parts = append(parts, fmt.Sprintf("if [ -f %s ]; then node %s;", c, c))
	}
	chain := strings.Join(parts, " el")
	chain += " else npm start; fi"
	return chain
}

func pythonDockerfile(fs project.FileSet) string {
	entry := "main.py"
	for _, candidate := range []string{"main.py", "app.py", "server.py"} {
		if fs.Has(candidate) {
			entry = candidate
			break
		}
	}
	var b strings.Builder
	b.WriteString("FROM python:3.11-slim\n")
	b.WriteString("WORKDIR /app\n")
	if fs.Has("requirements.txt") {
		b.WriteString("COPY requirements.txt ./\n")
		b.WriteString("RUN pip install --no-cache-dir -r requirements.txt\n")
	}
	b.WriteString("COPY . .\n")
	b.WriteString(fmt.Sprintf("ENV PORT=%d\n", PythonPort))
	b.WriteString(fmt.Sprintf("EXPOSE %d\n", PythonPort))
	b.WriteString(fmt.Sprintf("CMD [\"python\", \"%s\"]\n", entry))
	return b.String()
}
