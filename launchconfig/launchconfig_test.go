package launchconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripJSONCIdentityWithoutComments(t *testing.T) {
	in := `{"version": "0.2.0", "configurations": []}`
	assert.Equal(t, in, string(StripJSONC([]byte(in))))
}

func TestStripJSONCRemovesLineAndBlockComments(t *testing.T) {
	in := "{ /* a */ \"version\": \"0.2.0\", // b\n \"configurations\": [] }"
	out := StripJSONC([]byte(in))
	assert.True(t, gjsonValid(out))

	want := "{  \"version\": \"0.2.0\", \n \"configurations\": [] }"
	assert.Equal(t, want, string(out))
}

func TestStripJSONCPreservesSlashesInsideStrings(t *testing.T) {
	in := `{"path": "a//b", "note": "not /* a comment */ literally"}`
	// The second string contains a literal "/* ... */" sequence that must
	// survive because it is inside quotes; only comments outside strings
	// are removed, so this input is identity.
	out := StripJSONC([]byte(in))
	assert.Equal(t, in, string(out))
}

func gjsonValid(b []byte) bool {
	var v interface{}
	return json.Unmarshal(b, &v) == nil
}

func TestReadVSCodeFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".vscode"), 0o755))
	content := "{ /* a */ \"version\": \"0.2.0\", // b\n \"configurations\": [] }"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vscode", "launch.json"), []byte(content), 0o644))

	res, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, SourceVSCode, res.Source)
	assert.True(t, gjsonValid(res.Config))
}

func TestReadPrefersLogosOverVSCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".logos"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".vscode"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".logos", "launch.json"), []byte(`{"version":"logos"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vscode", "launch.json"), []byte(`{"version":"vscode"}`), 0o644))

	res, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, SourceLogos, res.Source)
}

func TestReadNoneWhenNeitherExists(t *testing.T) {
	dir := t.TempDir()
	res, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.Source)
}

func TestImportFromVSCodeWritesCommentFreeLogosFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".vscode"), 0o755))
	content := "{ /* a */ \"version\": \"0.2.0\", // b\n \"configurations\": [] }"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vscode", "launch.json"), []byte(content), 0o644))

	require.NoError(t, ImportFromVSCode(dir))

	written, err := os.ReadFile(filepath.Join(dir, ".logos", "launch.json"))
	require.NoError(t, err)
	assert.True(t, gjsonValid(written))
	assert.NotContains(t, string(written), "//")
	assert.NotContains(t, string(written), "/*")
}

func TestSubstituteStringReplacesAllOccurrences(t *testing.T) {
	ctx := SubstitutionContext{WorkspaceFolder: "/ws", ActiveFile: "/ws/src/main.go"}
	in := "${workspaceFolder}/bin and ${workspaceFolder}/lib"
	assert.Equal(t, "/ws/bin and /ws/lib", SubstituteString(in, ctx))
}

func TestSubstituteStringIdempotentWithoutTokens(t *testing.T) {
	ctx := SubstitutionContext{WorkspaceFolder: "/ws"}
	in := "plain string with no tokens"
	assert.Equal(t, in, SubstituteString(in, ctx))
}

func TestSubstituteStringFileDerivedTokens(t *testing.T) {
	ctx := SubstitutionContext{WorkspaceFolder: "/ws", ActiveFile: "/ws/src/main.go"}
	assert.Equal(t, "main.go", SubstituteString("${fileBasename}", ctx))
	assert.Equal(t, "main", SubstituteString("${fileBasenameNoExtension}", ctx))
	assert.Equal(t, ".go", SubstituteString("${fileExtname}", ctx))
	assert.Equal(t, "/ws/src", SubstituteString("${fileDirname}", ctx))
	assert.Equal(t, "src/main.go", SubstituteString("${relativeFile}", ctx))
}

func TestSubstituteStringUnknownTokenUnchanged(t *testing.T) {
	ctx := SubstitutionContext{WorkspaceFolder: "/ws"}
	in := "${notAToken}"
	assert.Equal(t, in, SubstituteString(in, ctx))
}

func TestSubstituteJSONRecursesThroughArraysAndObjects(t *testing.T) {
	ctx := SubstitutionContext{WorkspaceFolder: "/ws"}
	doc := []byte(`{"program":"${workspaceFolder}/index.js","args":["${workspaceFolder}/a","b"],"nested":{"cwd":"${workspaceFolder}"},"port":9229}`)

	out := SubstituteJSON(doc, ctx)

	assert.Contains(t, string(out), `"program":"/ws/index.js"`)
	assert.Contains(t, string(out), `"/ws/a"`)
	assert.Contains(t, string(out), `"cwd":"/ws"`)
	assert.Contains(t, string(out), `"port":9229`)
}

func TestBuildFileWrapsConfigurations(t *testing.T) {
	body, err := BuildFile([]Configuration{DefaultLaunchConfig("node")})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"version":"0.2.0"`)
	assert.Contains(t, string(body), `"type":"node"`)
	assert.Contains(t, string(body), `"request":"launch"`)
	assert.True(t, gjsonValid(body))
}

func TestDefaultMIModeMatchesHostOS(t *testing.T) {
	if IsDarwinHost() {
		assert.Equal(t, "lldb", DefaultMIMode())
	} else {
		assert.Equal(t, "gdb", DefaultMIMode())
	}
}

func TestAutoGenerateConfigurationsFromPackageJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{"start":"node index.js","dev":"nodemon index.js"}}`), 0o644))

	configs := AutoGenerateConfigurations(dir)
	var names []string
	for _, c := range configs {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "npm start")
	assert.Contains(t, names, "npm run dev")
}

func TestAutoGenerateConfigurationsFromCMake(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CMakeLists.txt"), []byte("cmake_minimum_required(VERSION 3.10)\nproject(MyApp)\n"), 0o644))

	configs := AutoGenerateConfigurations(dir)
	require.Len(t, configs, 1)
	assert.Equal(t, "${workspaceFolder}/build/MyApp", configs[0].Fields["program"])
}

func TestDetectDebuggersConfidenceLevels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte(`{}`), 0o644))

	detected := DetectDebuggers(dir)
	require.Len(t, detected, 1)
	assert.Equal(t, "high", detected[0].Confidence)
}
