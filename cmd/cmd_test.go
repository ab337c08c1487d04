// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/scripts"
)

// executeCommand runs a pristine command tree with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep config discovery away from any snapreport.yaml in the package dir.
	t.Chdir(t.TempDir())

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapreport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	t.Run("Command", func(t *testing.T) {
		out, err := executeCommand(t, "version")
		require.NoError(t, err)
		assert.Equal(t, "snapreport "+Version+"\n", out)
	})

	t.Run("Flag", func(t *testing.T) {
		out, err := executeCommand(t, "--version")
		require.NoError(t, err)
		assert.Equal(t, Version+"\n", out)
	})
}

func TestScriptsCommand(t *testing.T) {
	t.Run("ListsNames", func(t *testing.T) {
		out, err := executeCommand(t, "scripts")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, len(scripts.Names()))
		assert.Equal(t, string(scripts.IsElementInViewport), lines[0])
	})

	t.Run("PrintsEmbeddedBody", func(t *testing.T) {
		out, err := executeCommand(t, "scripts", string(scripts.ScrollElementIntoMiddle))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "function"), "got %q", out)
	})

	t.Run("HonorsOverrideDirFromConfig", func(t *testing.T) {
		dir := t.TempDir()
		body := "function (el) { return true; }"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "isElementInViewport.js"), []byte(body+"\n"), 0o600))
		cfgPath := writeConfig(t, "scripts:\n  dir: "+dir+"\n")

		out, err := executeCommand(t, "--config", cfgPath, "scripts", "isElementInViewport")
		require.NoError(t, err)
		assert.Equal(t, body+"\n", out)
	})

	t.Run("UnknownName", func(t *testing.T) {
		_, err := executeCommand(t, "scripts", "dragAndDrop")
		assert.ErrorIs(t, err, scripts.ErrUnknownScript)
	})
}

func TestConfigLoading(t *testing.T) {
	t.Run("MalformedFile", func(t *testing.T) {
		cfgPath := writeConfig(t, "browser: [unterminated\n")
		_, err := executeCommand(t, "--config", cfgPath, "scripts")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("InvalidDriverFromEnv", func(t *testing.T) {
		t.Setenv("SNAPREPORT_BROWSER_DRIVER", "selenium")
		_, err := executeCommand(t, "scripts")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.driver")
	})

	t.Run("InvalidDriverFlag", func(t *testing.T) {
		_, err := executeCommand(t, "capture", "--driver", "selenium", "https://example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.driver")
	})

	t.Run("CaptureNeedsURL", func(t *testing.T) {
		_, err := executeCommand(t, "capture")
		assert.Error(t, err)
	})
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.EqualError(t, err, "configuration not loaded")

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, config.Interface(cfg)))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
