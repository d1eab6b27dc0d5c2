package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "loop", []string{"loop"}, false},
		{"two segments", "loop.maxAttempts", []string{"loop", "maxAttempts"}, false},
		{"three segments", "models.primary.id", []string{"models", "primary", "id"}, false},
		{"empty", "", nil, true},
		{"empty segment", "loop..maxAttempts", nil, true},
		{"leading dot", ".loop", nil, true},
		{"trailing dot", "loop.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked prototype", "prototype.x", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGetValueAtPath(t *testing.T) {
	root := map[string]any{
		"models": map[string]any{
			"switchAt": 5,
			"primary": map[string]any{
				"id": "mistral",
			},
		},
		"envFile": "/tmp/.env",
	}

	tests := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"nested value", []string{"models", "switchAt"}, 5, true},
		{"deeply nested", []string{"models", "primary", "id"}, "mistral", true},
		{"top level", []string{"envFile"}, "/tmp/.env", true},
		{"missing key", []string{"nonexistent"}, nil, false},
		{"missing nested", []string{"models", "nonexistent"}, nil, false},
		{"non-map intermediate", []string{"envFile", "sub"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := GetValueAtPath(root, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, val)
			}
		})
	}
}

func TestSetValueAtPath_Update(t *testing.T) {
	root := map[string]any{
		"loop": map[string]any{"maxAttempts": 1000},
	}

	SetValueAtPath(root, []string{"loop", "maxAttempts"}, 10)
	val, ok := GetValueAtPath(root, []string{"loop", "maxAttempts"})
	assert.True(t, ok)
	assert.Equal(t, 10, val)
}

func TestSetValueAtPath_CreatesIntermediates(t *testing.T) {
	root := map[string]any{}

	SetValueAtPath(root, []string{"a", "b", "c"}, "deep")
	val, ok := GetValueAtPath(root, []string{"a", "b", "c"})
	assert.True(t, ok)
	assert.Equal(t, "deep", val)
}

func TestSetValueAtPath_OverwritesNonMap(t *testing.T) {
	root := map[string]any{"loop": "string-not-map"}

	SetValueAtPath(root, []string{"loop", "maxAttempts"}, 3)
	val, ok := GetValueAtPath(root, []string{"loop", "maxAttempts"})
	assert.True(t, ok)
	assert.Equal(t, 3, val)
}

func TestUnsetValueAtPath_PreserveSiblings(t *testing.T) {
	root := map[string]any{
		"runtime": map[string]any{
			"binary": "ollama",
			"host":   "http://localhost:11434",
		},
	}

	assert.True(t, UnsetValueAtPath(root, []string{"runtime", "binary"}))

	_, found := GetValueAtPath(root, []string{"runtime", "binary"})
	assert.False(t, found)

	val, found := GetValueAtPath(root, []string{"runtime", "host"})
	assert.True(t, found)
	assert.Equal(t, "http://localhost:11434", val)
}

func TestUnsetValueAtPath_NotFound(t *testing.T) {
	root := map[string]any{"runtime": map[string]any{"binary": "ollama"}}
	assert.False(t, UnsetValueAtPath(root, []string{"runtime", "nonexistent"}))
	assert.False(t, UnsetValueAtPath(map[string]any{}, []string{"a", "b", "c"}))
	assert.False(t, UnsetValueAtPath(map[string]any{"runtime": "x"}, []string{"runtime", "binary"}))
}

func TestResolvePaths_Default(t *testing.T) {
	t.Setenv("HYPERLOOP_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".hyperloop")
	assert.Equal(t, base, paths.Base)
	assert.Equal(t, filepath.Join(base, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(base, ".env"), paths.EnvFile)
	assert.Equal(t, filepath.Join(base, "data"), paths.Data)
	assert.Equal(t, filepath.Join(base, "data", "history.db"), paths.History)
	assert.Equal(t, filepath.Join(base, "logs"), paths.Logs)
}

func TestResolvePaths_CustomHome(t *testing.T) {
	t.Setenv("HYPERLOOP_HOME", "/tmp/hl")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/hl", paths.Base)
	assert.Equal(t, "/tmp/hl/config.yaml", paths.Config)
	assert.Equal(t, "/tmp/hl/data/history.db", paths.History)
}

func TestEnsureDirs(t *testing.T) {
	tmpDir := t.TempDir()
	paths := Paths{
		Base: tmpDir,
		Data: filepath.Join(tmpDir, "data"),
		Logs: filepath.Join(tmpDir, "logs"),
	}

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())

	for _, dir := range []string{paths.Base, paths.Data, paths.Logs} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestBlockedKeys(t *testing.T) {
	assert.True(t, blockedKeys["__proto__"])
	assert.True(t, blockedKeys["prototype"])
	assert.True(t, blockedKeys["constructor"])
	assert.False(t, blockedKeys["loop"])
}
