package launchconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// FileVersion is the version stamp written into generated launch.json
// files.
const FileVersion = "0.2.0"

// Configuration is one entry of LaunchConfigFile.configurations.
type Configuration struct {
	Type    string
	Request string
	Name    string
	Fields  map[string]interface{}
}

// MarshalJSON flattens Fields into the configuration object alongside the
// fixed type/request/name keys, producing the launch.json shape adapters
// expect.
func (c Configuration) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(c.Fields)+3)
	for k, v := range c.Fields {
		m[k] = v
	}
	m["type"] = c.Type
	m["request"] = c.Request
	m["name"] = c.Name
	return json.Marshal(m)
}

// BuildFile renders configurations as a complete launch.json document body
// suitable for Write.
func BuildFile(configs []Configuration) ([]byte, error) {
	return json.Marshal(struct {
		Version        string          `json:"version"`
		Configurations []Configuration `json:"configurations"`
	}{Version: FileVersion, Configurations: configs})
}

// DefaultLaunchConfig returns a minimal default template for a detected
// adapter type.
func DefaultLaunchConfig(adapterType string) Configuration {
	switch adapterType {
	case "node":
		return Configuration{
			Type: "node", Request: "launch", Name: "Launch Node.js",
			Fields: map[string]interface{}{
				"program":   "${workspaceFolder}/index.js",
				"cwd":       "${workspaceFolder}",
				"console":   "integratedTerminal",
				"skipFiles": []string{"<node_internals>/**"},
			},
		}
	case "python":
		return Configuration{
			Type: "python", Request: "launch", Name: "Launch Python",
			Fields: map[string]interface{}{
				"program": "${file}",
				"cwd":     "${workspaceFolder}",
			},
		}
	case "go":
		return Configuration{
			Type: "go", Request: "launch", Name: "Launch Go",
			Fields: map[string]interface{}{
				"program": "${workspaceFolder}",
				"mode":    "debug",
			},
		}
	case "cppdbg":
		return Configuration{
			Type: "cppdbg", Request: "launch", Name: "Launch C/C++",
			Fields: map[string]interface{}{
				"program": "${workspaceFolder}/build/a.out",
				"cwd":     "${workspaceFolder}",
				"MIMode":  DefaultMIMode(),
			},
		}
	default:
		return Configuration{Type: adapterType, Request: "launch", Name: "Launch"}
	}
}

var cmakeProjectRe = regexp.MustCompile(`(?i)project\s*\(\s*([A-Za-z0-9_\-]+)`)

// AutoGenerateConfigurations derives launch configurations from workspace
// markers: package.json scripts.start/dev, manage.py/app.py/main.py, and
// CMakeLists.txt project() parsing. It does not call DetectDebuggers: a
// workspace whose only markers are go.mod, tsconfig.json, Makefile,
// requirements.txt or pyproject.toml yields no configuration.
func AutoGenerateConfigurations(workspaceFolder string) []Configuration {
	var configs []Configuration

	if body, err := os.ReadFile(filepath.Join(workspaceFolder, "package.json")); err == nil {
		scripts := gjson.GetBytes(body, "scripts")
		if scripts.Get("start").Exists() {
			configs = append(configs, Configuration{
				Type: "node", Request: "launch", Name: "npm start",
				Fields: map[string]interface{}{
					"runtimeExecutable": "npm",
					"runtimeArgs":       []string{"run", "start"},
					"cwd":               "${workspaceFolder}",
					"console":           "integratedTerminal",
				},
			})
		}
		if scripts.Get("dev").Exists() {
			configs = append(configs, Configuration{
				Type: "node", Request: "launch", Name: "npm run dev",
				Fields: map[string]interface{}{
					"runtimeExecutable": "npm",
					"runtimeArgs":       []string{"run", "dev"},
					"cwd":               "${workspaceFolder}",
					"console":           "integratedTerminal",
				},
			})
		}
	}

	if exists(workspaceFolder, "manage.py") {
		configs = append(configs, Configuration{
			Type: "python", Request: "launch", Name: "Django",
			Fields: map[string]interface{}{
				"program": "${workspaceFolder}/manage.py",
				"args":    []string{"runserver", "--noreload"},
				"cwd":     "${workspaceFolder}",
			},
		})
	}
	if exists(workspaceFolder, "app.py") {
		configs = append(configs, Configuration{
			Type: "python", Request: "launch", Name: "Flask",
			Fields: map[string]interface{}{
				"program": "${workspaceFolder}/app.py",
				"cwd":     "${workspaceFolder}",
				"env":     map[string]string{"FLASK_APP": "app.py"},
			},
		})
	}
	if exists(workspaceFolder, "main.py") {
		configs = append(configs, Configuration{
			Type: "python", Request: "launch", Name: "Main",
			Fields: map[string]interface{}{
				"program": "${workspaceFolder}/main.py",
				"cwd":     "${workspaceFolder}",
			},
		})
	}

	if body, err := os.ReadFile(filepath.Join(workspaceFolder, "CMakeLists.txt")); err == nil {
		if m := cmakeProjectRe.FindStringSubmatch(string(body)); m != nil {
			name := m[1]
			configs = append(configs, Configuration{
				Type: "cppdbg", Request: "launch", Name: fmt.Sprintf("Launch %s (CMake)", name),
				Fields: map[string]interface{}{
					"program": "${workspaceFolder}/build/" + name,
					"cwd":     "${workspaceFolder}",
					"MIMode":  DefaultMIMode(),
				},
			})
		}
	}

	return configs
}

func exists(workspaceFolder, name string) bool {
	_, err := os.Stat(filepath.Join(workspaceFolder, name))
	return err == nil
}

// DetectedAdapter is one entry returned by DetectDebuggers.
type DetectedAdapter struct {
	Type        string
	DisplayName string
	Confidence  string
	Reason      string
}

// DetectDebuggers inspects workspace marker files and recommends debugger
// types with a confidence level.
func DetectDebuggers(workspaceFolder string) []DetectedAdapter {
	var out []DetectedAdapter

	hasPackageJSON := exists(workspaceFolder, "package.json")
	hasTSConfig := exists(workspaceFolder, "tsconfig.json")
	if hasPackageJSON {
		confidence := "medium"
		reason := "package.json present"
		if hasTSConfig {
			confidence = "high"
			reason = "package.json + tsconfig.json present"
		}
		out = append(out, DetectedAdapter{Type: "node", DisplayName: "Node.js", Confidence: confidence, Reason: reason})
	} else if hasTSConfig {
		out = append(out, DetectedAdapter{Type: "node", DisplayName: "Node.js (TypeScript)", Confidence: "medium", Reason: "tsconfig.json present"})
	}

	switch {
	case exists(workspaceFolder, "manage.py"):
		out = append(out, DetectedAdapter{Type: "python-django", DisplayName: "Python (Django)", Confidence: "high", Reason: "manage.py present"})
	case exists(workspaceFolder, "app.py"):
		out = append(out, DetectedAdapter{Type: "python-flask", DisplayName: "Python (Flask)", Confidence: "high", Reason: "app.py present"})
	default:
		var markers []string
		for _, name := range []string{"main.py", "requirements.txt", "pyproject.toml"} {
			if exists(workspaceFolder, name) {
				markers = append(markers, name)
			}
		}
		if len(markers) > 0 {
			confidence := "medium"
			if len(markers) > 1 {
				confidence = "high"
			}
			out = append(out, DetectedAdapter{
				Type: "python", DisplayName: "Python", Confidence: confidence,
				Reason: strings.Join(markers, ", ") + " present",
			})
		}
	}

	if exists(workspaceFolder, "go.mod") {
		out = append(out, DetectedAdapter{Type: "go", DisplayName: "Go", Confidence: "high", Reason: "go.mod present"})
	}

	hasCMake := exists(workspaceFolder, "CMakeLists.txt")
	hasMakefile := exists(workspaceFolder, "Makefile")
	switch {
	case hasCMake && hasMakefile:
		out = append(out, DetectedAdapter{Type: "cppdbg", DisplayName: "C/C++", Confidence: "high", Reason: "CMakeLists.txt + Makefile present"})
	case hasCMake:
		out = append(out, DetectedAdapter{Type: "cppdbg", DisplayName: "C/C++ (CMake)", Confidence: "medium", Reason: "CMakeLists.txt present"})
	case hasMakefile:
		out = append(out, DetectedAdapter{Type: "cppdbg", DisplayName: "C/C++ (Make)", Confidence: "medium", Reason: "Makefile present"})
	}

	return out
}
