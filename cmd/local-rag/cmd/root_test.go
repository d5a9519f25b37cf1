package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezzdar/local-rag/pkg/version"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing with --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()

	// Then: it should show usage information
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "local-rag", "Help should mention program name")
	assert.Contains(t, output, "Usage:", "Help should show usage")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	// Given: a root command

	// When: executing with --version
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	err := cmd.Execute()

	// Then: it should show version
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "local-rag", "Version output should mention program name")
	assert.Contains(t, output, version.Version, "Version output should contain version")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// When: checking available commands
	var commandNames []string
	for _, subcmd := range cmd.Commands() {
		commandNames = append(commandNames, subcmd.Name())
	}

	// Then: serve and version subcommands should exist
	assert.Contains(t, commandNames, "serve", "Should have serve subcommand")
	assert.Contains(t, commandNames, "version", "Should have version subcommand")
}

func TestRootCmd_HasPersistentFlags(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should expose --config and --data-dir
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"), "Should have --config flag")
	assert.NotNil(t, cmd.PersistentFlags().Lookup("data-dir"), "Should have --data-dir flag")
}

func TestServeCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing serve --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"serve", "--help"})

	err := cmd.Execute()

	// Then: it should show serve usage with the addr flag
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "serve", "Serve help should mention serve")
	assert.Contains(t, output, "--addr", "Serve help should list the addr flag")
}

func TestVersionCmd_DefaultOutput(t *testing.T) {
	// Given: a version command
	cmd := NewVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	// When: executing without flags
	err := cmd.Execute()

	// Then: it should output version string
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "local-rag", "Output should contain program name")
	assert.Contains(t, output, version.Version, "Output should contain version")
	assert.Contains(t, output, "commit", "Output should contain commit info")
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	// Given: a version command with --json flag
	cmd := NewVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	// When: executing with --json
	err := cmd.Execute()

	// Then: it should output valid JSON with all fields
	require.NoError(t, err)
	var info map[string]string
	err = json.Unmarshal(buf.Bytes(), &info)
	require.NoError(t, err, "Output should be valid JSON")

	assert.Equal(t, version.Version, info["version"], "JSON should contain version")
	for _, field := range []string{"commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, info, field, "JSON should contain "+field)
	}
}

func TestConfigInit_WritesTemplate(t *testing.T) {
	// Given: a target path in a temp directory
	path := filepath.Join(t.TempDir(), "local-rag.yaml")

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"config", "init", "--config", path})

	// When: running config init
	err := cmd.Execute()

	// Then: the template is written and a rerun without --force fails
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "embedding:")

	cmd = NewRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"config", "init", "--config", path})
	err = cmd.Execute()
	assert.ErrorContains(t, err, "already exists")
}

func TestConfigShow_PrintsEffectiveConfig(t *testing.T) {
	// Given: no config file, defaults only
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"config", "show", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	// When: running config show
	err := cmd.Execute()

	// Then: the defaults are rendered as YAML
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, ":8000")
	assert.Contains(t, output, "provider: ollama")
}

func TestVersionTemplate_IsSingleLine(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	// When: executing with --version
	require.NoError(t, cmd.Execute())

	// Then: output is exactly one line
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 1)
}
