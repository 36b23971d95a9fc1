package recipe

import (
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/zaikaman/forgedeploy/internal/classify"
	"github.com/zaikaman/forgedeploy/internal/project"
)

func TestIsStaticSite(t *testing.T) {
	tests := []struct {
		name  string
		files []project.File
		want  bool
	}{
		{
			name:  "html plus css",
			files: []project.File{{Path: "index.html"}, {Path: "style.css"}},
			want:  true,
		},
		{
			name:  "html without stylesheet",
			files: []project.File{{Path: "index.html"}},
			want:  false,
		},
		{
			name: "compiled sources disqualify",
			files: []project.File{
				{Path: "index.html"}, {Path: "style.css"}, {Path: "app.ts"},
			},
			want: false,
		},
		{
			name: "build manifest disqualifies",
			files: []project.File{
				{Path: "index.html"}, {Path: "style.css"}, {Path: "package.json"},
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStaticSite(project.New(tt.files...)); got != tt.want {
				t.Errorf("IsStaticSite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStaticRecipe(t *testing.T) {
	fs := project.New(project.File{Path: "index.html"}, project.File{Path: "style.css"})
	r := Synthesize(fs, classify.Detect(fs, nil), "demo-abc123", "iad")

	if !r.Static {
		t.Fatal("expected static recipe")
	}
	if !strings.Contains(r.Dockerfile, "nginx") {
		t.Errorf("static recipe should serve via a static web server:\n%s", r.Dockerfile)
	}
	if r.InternalPort != StaticPort {
		t.Errorf("expected port %d, got %d", StaticPort, r.InternalPort)
	}
}

func TestNodeRecipeToleratesMissingBuild(t *testing.T) {
	fs := project.New(
		project.File{Path: "package.json", Content: `{"name":"x"}`},
		project.File{Path: "src/index.ts", Content: "export {}"},
	)
	r := Synthesize(fs, classify.RuntimeTypeScript, "demo", "iad")

	if r.Static {
		t.Fatal("typescript project is not a static site")
	}
	if !strings.Contains(r.Dockerfile, "npm run build ||") {
		t.Errorf("build step must tolerate absence:\n%s", r.Dockerfile)
	}
	for _, want := range []string{"dist/index.js", "server.js", "npm start"} {
		if !strings.Contains(r.Dockerfile, want) {
			t.Errorf("entry-point chain missing %q:\n%s", want, r.Dockerfile)
		}
	}
	if r.InternalPort != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, r.InternalPort)
	}
}

func TestPythonRecipe(t *testing.T) {
	fs := project.New(
		project.File{Path: "requirements.txt", Content: "flask"},
		project.File{Path: "app.py", Content: "pass"},
	)
	r := Synthesize(fs, classify.RuntimePython, "demo", "iad")

	if !strings.Contains(r.Dockerfile, "pip install") {
		t.Errorf("expected pip install:\n%s", r.Dockerfile)
	}
	if !strings.Contains(r.Dockerfile, `CMD ["python", "app.py"]`) {
		t.Errorf("expected app.py entry:\n%s", r.Dockerfile)
	}
	if r.InternalPort != PythonPort {
		t.Errorf("expected scripting runtime port %d, got %d", PythonPort, r.InternalPort)
	}
}

func TestUnknownRuntimeTreatedAsJavaScript(t *testing.T) {
	fs := project.New(project.File{Path: "whatever.txt"})
	r := Synthesize(fs, classify.RuntimeUnknown, "demo", "iad")
	if !strings.Contains(r.Dockerfile, "node:20-alpine") {
		t.Errorf("unknown runtime should get the node recipe:\n%s", r.Dockerfile)
	}
}

func TestFlyConfigShape(t *testing.T) {
	fs := project.New(
		project.File{Path: "requirements.txt"},
		project.File{Path: "main.py"},
	)
	r := Synthesize(fs, classify.RuntimePython, "preview-app-1a2b3c", "sjc")

	var cfg struct {
		App           string `toml:"app"`
		PrimaryRegion string `toml:"primary_region"`
		Build         struct {
			Dockerfile string `toml:"dockerfile"`
		} `toml:"build"`
		HTTPService struct {
			InternalPort       int  `toml:"internal_port"`
			AutoStopMachines   bool `toml:"auto_stop_machines"`
			MinMachinesRunning int  `toml:"min_machines_running"`
		} `toml:"http_service"`
	}
	if err := toml.Unmarshal([]byte(r.FlyConfig), &cfg); err != nil {
		t.Fatalf("fly.toml does not parse: %v\n%s", err, r.FlyConfig)
	}
	if cfg.App != "preview-app-1a2b3c" {
		t.Errorf("app = %q", cfg.App)
	}
	if cfg.PrimaryRegion != "sjc" {
		t.Errorf("primary_region = %q", cfg.PrimaryRegion)
	}
	if cfg.Build.Dockerfile != DockerfilePath {
		t.Errorf("dockerfile ref = %q", cfg.Build.Dockerfile)
	}
	if cfg.HTTPService.InternalPort != PythonPort {
		t.Errorf("internal_port = %d", cfg.HTTPService.InternalPort)
	}
	if !cfg.HTTPService.AutoStopMachines || cfg.HTTPService.MinMachinesRunning != 0 {
		t.Errorf("scale-to-zero flags wrong: %+v", cfg.HTTPService)
	}
}
