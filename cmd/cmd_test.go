package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/playpen/internal/auth"
	"github.com/conneroisu/playpen/internal/config"
	"github.com/conneroisu/playpen/internal/version"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// execute runs the root command with args and returns stdout and stderr.
// Flag values persist between runs of the package-level commands, so every
// flag is reset to its default first.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var cmds []*cobra.Command
	cmds = append(cmds, rootCmd)
	cmds = append(cmds, rootCmd.Commands()...)
	for _, c := range cmds {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTokenCommand(t *testing.T) {
	out, stderr, err := execute(t, "token", "--subject", "alice", "--name", "Alice", "--secret", testSecret, "--ttl", "1h")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Expires")

	claims, err := auth.ValidateToken([]byte(testSecret), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID())
	assert.Equal(t, "Alice", claims.Name)
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	_, _, err := execute(t, "token", "--subject", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
}

func TestTokenCommandNeedsSubject(t *testing.T) {
	_, _, err := execute(t, "token", "--secret", testSecret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
}

func TestComposeFiles(t *testing.T) {
	dir := t.TempDir()
	html := writeFile(t, dir, "a.html", "<p>hi</p>")
	css := writeFile(t, dir, "a.css", "p { color: red }</style>")
	js := writeFile(t, dir, "a.js", "let x = 1;")

	out, stderr, err := execute(t, "compose", "--html", html, "--css", css, "--js", js)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<body>\n<p>hi</p>\n<script>let x = 1;</script>")
	assert.Contains(t, stderr, "closes its <style> block early")
}

func TestComposeDirectoryWithProbe(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "<h1>x</h1>")
	writeFile(t, dir, "script.js", "console.log('hi', 2); console.warn('careful');")
	outFile := filepath.Join(t.TempDir(), "out.html")

	out, stderr, err := execute(t, "compose", "--dir", dir, "--out", outFile, "--probe")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<h1>x</h1>")

	assert.Contains(t, stderr, "console.log: hi 2")
	assert.Contains(t, stderr, "console.warn: careful")
}

func TestComposeRejectsMissingFile(t *testing.T) {
	_, _, err := execute(t, "compose", "--html", filepath.Join(t.TempDir(), "missing.html"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
}

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")

	out, _, err := execute(t, "init", dir, "--project")
	require.NoError(t, err)
	assert.Contains(t, out, "Created project")

	for _, name := range []string{"index.html", "style.css", "script.js"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, config.FileName))
	require.NoError(t, v.ReadInConfig())
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.Preview, cfg.Preview)
	assert.Equal(t, def.API, cfg.API)
	assert.Equal(t, ".", cfg.Editor.ProjectDir)

	_, _, err = execute(t, "init", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "init", dir, "--force")
	require.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.GetShortVersion()+"\n", out)

	out, _, err = execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "playpen "))

	out, _, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "is_release")

	_, _, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestFlagValidation(t *testing.T) {
	assert.NoError(t, ValidatePort("8080"))
	assert.Error(t, ValidatePort("0"))
	assert.Error(t, ValidatePort("http"))

	assert.NoError(t, ValidateSavePolicy("race"))
	assert.Error(t, ValidateSavePolicy("sometimes"))

	assert.NoError(t, ValidateDir(""))
	assert.NoError(t, ValidateDir(t.TempDir()))
	assert.Error(t, ValidateDir(writeFile(t, t.TempDir(), "f", "")))

	_, _, err := execute(t, "serve", "--port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be between")
}
