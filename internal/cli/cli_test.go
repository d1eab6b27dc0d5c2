package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/hyperloop/internal/domain"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the command tree with HYPERLOOP_HOME set to home.
func execute(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HYPERLOOP_HOME", home)
	cfgFile, logLevel = "", ""

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "hyperloop dev")
}

func TestConfigPathCmd(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, home, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config.yaml")+"\n", out)

	out, err = execute(t, home, "--config", "/etc/hyperloop.toml", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, "/etc/hyperloop.toml\n", out)
}

func TestConfigSetGetUnset(t *testing.T) {
	home := t.TempDir()

	out, err := execute(t, home, "config", "set", "loop.maxAttempts", "25")
	require.NoError(t, err)
	assert.Contains(t, out, "Set loop.maxAttempts = 25")
	assert.NotContains(t, out, "warning")

	out, err = execute(t, home, "config", "get", "loop.maxAttempts")
	require.NoError(t, err)
	assert.Equal(t, "25\n", out)

	_, err = execute(t, home, "config", "set", "models.primary.id", "llama3")
	require.NoError(t, err)
	out, err = execute(t, home, "config", "get", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "id: llama3")

	out, err = execute(t, home, "config", "unset", "loop.maxAttempts")
	require.NoError(t, err)
	assert.Contains(t, out, "Unset loop.maxAttempts")

	_, err = execute(t, home, "config", "get", "loop.maxAttempts")
	assert.Error(t, err)
}

func TestConfigSetWarnsOnInvalidValue(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, home, "config", "set", "loop.maxAttempts", "-1")
	require.NoError(t, err)
	assert.Contains(t, out, "warning: loop.maxAttempts")
}

func TestConfigValidateCmd(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, home, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")

	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("store:\n  driver: postgres\n"), 0o600))
	out, err = execute(t, home, "config", "validate")
	assert.Error(t, err)
	assert.Contains(t, out, "store.driver")
}

func TestRootRefusesInvalidConfig(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("loop:\n  maxAttempts: -1\n"), 0o600))

	_, err := execute(t, home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestStatusCmd(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Runtime: binary=ollama host=http://localhost:11434")
	assert.Contains(t, out, "switchAt=5")
	assert.Contains(t, out, "Agents:  Scout, Editor, Uploader, Clicker, Transaction")
	assert.NotContains(t, out, "Validation issues")
}

func TestAgentsCmd(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(
		"swarm:\n  agents: [Scout, Editor]\n  personas:\n    Editor: You fix prose.\n"), 0o600))

	out, err := execute(t, home, "agents")
	require.NoError(t, err)
	assert.Contains(t, out, "Scout")
	assert.Contains(t, out, "model=mistral")
	assert.Contains(t, out, "persona=You fix prose.")

	out, err = execute(t, home, "agents", "--quantized")
	require.NoError(t, err)
	assert.Contains(t, out, "model=mistral:Q4_0")
}

func TestHistoryCmd(t *testing.T) {
	home := t.TempDir()

	db, err := store.Open(filepath.Join(home, "data", "history.db"), logging.New(nil, "silent"))
	require.NoError(t, err)
	runs := store.NewSQLiteRunStore(db)
	start := time.Now().Add(-time.Minute)
	require.NoError(t, runs.SaveRun(context.Background(), &domain.Run{
		ID:         "run-42",
		Model:      "mistral",
		Attempt:    1,
		Outcome:    domain.RunSucceeded,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Tasks:      []domain.TaskResult{{Agent: "Scout", Status: domain.TaskOK, Output: "found it"}},
		Transcript: []domain.Message{{Sender: "Scout", Role: "assistant", Content: "found it", Timestamp: start}},
	}))
	require.NoError(t, db.Close())

	out, err := execute(t, home, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "1/1")

	out, err = execute(t, home, "history", "show", "run-42")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome:  succeeded")
	assert.Contains(t, out, "Scout: found it")

	_, err = execute(t, home, "history", "show", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHistoryCmd_Empty(t *testing.T) {
	out, err := execute(t, t.TempDir(), "history")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("FALSE"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "mistral:Q4_0", parseValue("mistral:Q4_0"))
	assert.Equal(t, "5s", parseValue("5s"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "héllo w...", truncate("héllo wörld ünïcode", 10))
	assert.Equal(t, "日本語", truncate("日本語", 3))
	assert.True(t, utf8.ValidString(truncate("ééééééééééééé", 8)))
}
