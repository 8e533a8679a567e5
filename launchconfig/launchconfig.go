// Package launchconfig implements the persisted launch-configuration model
//: reading `.logos/launch.json` with a
// `.vscode/launch.json` JSONC fallback, variable substitution, default
// template generation, and project auto-detection.
package launchconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/zixiao-technologies/logos-sub002/errs"
)

// Source reports which file a launch configuration was read from.
type Source string

const (
	SourceLogos  Source = "logos"
	SourceVSCode Source = "vscode"
	SourceNone   Source = ""
)

const (
	logosRelPath  = ".logos/launch.json"
	vscodeRelPath = ".vscode/launch.json"
)

// ReadResult is the return shape of Read// readLaunchConfig(workspaceFolder)). Config is raw JSON text (comment-free
// even when Source is vscode); nil when Source is SourceNone.
type ReadResult struct {
	Config []byte
	Source Source
}

// Read prefers .logos/launch.json, else falls back to .vscode/launch.json
// with JSONC stripped.
func Read(workspaceFolder string) (ReadResult, error) {
	logosPath := filepath.Join(workspaceFolder, logosRelPath)
	if data, err := os.ReadFile(logosPath); err == nil {
		return ReadResult{Config: data, Source: SourceLogos}, nil
	} else if !os.IsNotExist(err) {
		return ReadResult{}, &errs.ConfigError{Path: logosPath, Cause: err}
	}

	vscodePath := filepath.Join(workspaceFolder, vscodeRelPath)
	data, err := os.ReadFile(vscodePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{Source: SourceNone}, nil
		}
		return ReadResult{}, &errs.ConfigError{Path: vscodePath, Cause: err}
	}

	stripped := StripJSONC(data)
	if !gjson.ValidBytes(stripped) {
		return ReadResult{}, &errs.ConfigError{Path: vscodePath, Cause: errors.New("invalid JSON after comment stripping")}
	}
	return ReadResult{Config: stripped, Source: SourceVSCode}, nil
}

// Write always writes to .logos/launch.json, pretty-printed with two-space
// indent.
func Write(workspaceFolder string, config []byte) error {
	dir := filepath.Join(workspaceFolder, ".logos")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errs.ConfigError{Path: dir, Cause: err}
	}
	path := filepath.Join(dir, "launch.json")
	formatted := pretty.PrettyOptions(config, &pretty.Options{Indent: "  "})
	if err := os.WriteFile(path, formatted, 0o644); err != nil {
		return &errs.ConfigError{Path: path, Cause: err}
	}
	return nil
}

// ImportFromVSCode reads the .vscode fallback and writes it straight to
// .logos/launch.json, producing a comment-free JSON file.
func ImportFromVSCode(workspaceFolder string) error {
	vscodePath := filepath.Join(workspaceFolder, vscodeRelPath)
	data, err := os.ReadFile(vscodePath)
	if err != nil {
		return &errs.ConfigError{Path: vscodePath, Cause: err}
	}
	stripped := StripJSONC(data)
	if !gjson.ValidBytes(stripped) {
		return &errs.ConfigError{Path: vscodePath, Cause: errors.New("invalid JSON after comment stripping")}
	}
	return Write(workspaceFolder, stripped)
}

// StripJSONC removes `//` line comments and `/* */` block comments while
// leaving characters inside double-quoted strings untouched, tracking
// escape sequences so `"//"` inside a string survives. Input with no
// comment markers outside a string passes through unchanged.
func StripJSONC(src []byte) []byte {
	out := make([]byte, 0, len(src))
	inString := false
	escaped := false
	i := 0
	for i < len(src) {
		c := src[i]

		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			i++
			continue
		}

		if c == '"' {
			inString = true
			out = append(out, c)
			i++
			continue
		}

		if c == '/' && i+1 < len(src) {
			switch src[i+1] {
			case '/':
				i += 2
				for i < len(src) && src[i] != '\n' {
					i++
				}
				continue
			case '*':
				i += 2
				for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
					i++
				}
				i += 2
				continue
			}
		}

		out = append(out, c)
		i++
	}
	return out
}

// SubstitutionContext carries the values the substitution tokens resolve
// to.
type SubstitutionContext struct {
	WorkspaceFolder string
	ActiveFile      string // absolute path, or "" if none
}

var tokenOrder = []string{
	"${workspaceFolder}",
	"${fileBasenameNoExtension}",
	"${fileBasename}",
	"${fileDirname}",
	"${fileExtname}",
	"${relativeFileDirname}",
	"${relativeFile}",
	"${file}",
}

func (c SubstitutionContext) tokenValues() map[string]string {
	values := map[string]string{"${workspaceFolder}": c.WorkspaceFolder}
	if c.ActiveFile == "" {
		values["${file}"] = ""
		values["${fileBasename}"] = ""
		values["${fileBasenameNoExtension}"] = ""
		values["${fileDirname}"] = ""
		values["${fileExtname}"] = ""
		values["${relativeFile}"] = ""
		values["${relativeFileDirname}"] = ""
		return values
	}
	base := filepath.Base(c.ActiveFile)
	ext := filepath.Ext(base)
	rel, err := filepath.Rel(c.WorkspaceFolder, c.ActiveFile)
	if err != nil {
		rel = c.ActiveFile
	}
	values["${file}"] = c.ActiveFile
	values["${fileBasename}"] = base
	values["${fileBasenameNoExtension}"] = strings.TrimSuffix(base, ext)
	values["${fileDirname}"] = filepath.Dir(c.ActiveFile)
	values["${fileExtname}"] = ext
	values["${relativeFile}"] = rel
	values["${relativeFileDirname}"] = filepath.Dir(rel)
	return values
}

// SubstituteString replaces every recognized token with its value,
// globally, leaving unknown tokens unchanged. Idempotent on strings with no
// recognized token.
func SubstituteString(s string, ctx SubstitutionContext) string {
	values := ctx.tokenValues()
	for _, token := range tokenOrder {
		s = strings.ReplaceAll(s, token, values[token])
	}
	return s
}

// SubstituteJSON applies SubstituteString recursively to every string value
// in a JSON document — including array elements and nested objects, but not
// numbers/bools/null.
func SubstituteJSON(doc []byte, ctx SubstitutionContext) []byte {
	result := gjson.ParseBytes(doc)
	out, _ := substituteValue(doc, "", result, ctx)
	return out
}

func substituteValue(doc []byte, path string, v gjson.Result, ctx SubstitutionContext) ([]byte, error) {
	switch v.Type {
	case gjson.String:
		if path == "" {
			// Top-level scalar document; nothing to recurse into further.
			return doc, nil
		}
		return sjson.SetBytes(doc, path, SubstituteString(v.String(), ctx))
	case gjson.JSON:
		if v.IsArray() {
			var err error
			v.ForEach(func(key, value gjson.Result) bool {
				idx := key.Int()
				childPath := joinPath(path, strconv.FormatInt(idx, 10))
				doc, err = substituteValue(doc, childPath, value, ctx)
				return err == nil
			})
			return doc, err
		}
		if v.IsObject() {
			var err error
			v.ForEach(func(key, value gjson.Result) bool {
				childPath := joinPath(path, key.String())
				doc, err = substituteValue(doc, childPath, value, ctx)
				return err == nil
			})
			return doc, err
		}
		return doc, nil
	default:
		return doc, nil
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

// IsDarwinHost reports whether the host OS identifier is Darwin-like, used
// to pick the default MI mode.
func IsDarwinHost() bool {
	return runtime.GOOS == "darwin"
}

// DefaultMIMode returns "lldb" on Darwin hosts, "gdb" elsewhere.
func DefaultMIMode() string {
	if IsDarwinHost() {
		return "lldb"
	}
	return "gdb"
}
