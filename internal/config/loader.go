package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandReferences resolves ${ENV_VAR} references in fields that commonly
// point at the environment.
func expandReferences(cfg *Config) {
	cfg.EnvFile = expandEnvVars(cfg.EnvFile)
	cfg.Runtime.Host = expandEnvVars(cfg.Runtime.Host)
	cfg.Store.Path = expandEnvVars(cfg.Store.Path)
	cfg.Logging.File = expandEnvVars(cfg.Logging.File)
}

// LoadEnvFiles loads dotenv files into the process environment. Variables
// already set are never overwritten and missing files are skipped.
func LoadEnvFiles(files ...string) ([]string, error) {
	var loaded []string
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return loaded, &ConfigError{Message: "failed to load env file " + f + ": " + err.Error()}
		}
		loaded = append(loaded, f)
	}
	return loaded, nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only. The format is chosen
// by extension: .yaml/.yml (default), .toml or .json.
func Load(path string) (Config, error) {
	cfg := Defaults()
	var set explicitArgs

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else {
		if err := decode(path, data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
		if err := decode(path, data, &set); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
		applyDefaults(&cfg)
	}

	applyEnvOverrides(&cfg)
	resolveModels(&cfg, set)
	expandReferences(&cfg)
	return cfg, nil
}

// explicitArgs captures the model args a config file sets itself.
type explicitArgs struct {
	Models struct {
		Primary  argsOnly `yaml:"primary" toml:"primary" json:"primary"`
		Fallback argsOnly `yaml:"fallback" toml:"fallback" json:"fallback"`
	} `yaml:"models" toml:"models" json:"models"`
}

type argsOnly struct {
	Args []string `yaml:"args" toml:"args" json:"args"`
}

// resolveModels drops default launch args from an entry whose model id was
// changed without args of its own, and derives the install packages from
// the model ids when none are configured.
func resolveModels(cfg *Config, set explicitArgs) {
	def := Defaults()
	if cfg.Models.Primary.ID != def.Models.Primary.ID && set.Models.Primary.Args == nil {
		cfg.Models.Primary.Args = nil
	}
	if cfg.Models.Fallback.ID != def.Models.Fallback.ID && set.Models.Fallback.Args == nil {
		cfg.Models.Fallback.Args = nil
	}
	if len(cfg.Install.Packages) == 0 {
		cfg.Install.Packages = ModelPackages(cfg.Models)
	}
}

// ModelPackages returns the distinct model ids to pull, primary first.
func ModelPackages(m ModelsConfig) []string {
	var out []string
	for _, id := range []string{m.Primary.ID, m.Fallback.ID} {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func decode(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, v)
	case ".json":
		return json.Unmarshal(data, v)
	default:
		return yaml.Unmarshal(data, v)
	}
}

func encode(path string, v any) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Marshal(v)
	case ".json":
		return json.MarshalIndent(v, "", "  ")
	default:
		return yaml.Marshal(v)
	}
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := decode(path, data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to the config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := encode(path, raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Runtime.Binary == "" {
		cfg.Runtime.Binary = def.Runtime.Binary
	}
	if cfg.Runtime.Host == "" {
		cfg.Runtime.Host = def.Runtime.Host
	}
	if cfg.Runtime.CommandTimeout <= 0 {
		cfg.Runtime.CommandTimeout = def.Runtime.CommandTimeout
	}
	if cfg.Models.Primary.ID == "" {
		cfg.Models.Primary = def.Models.Primary
	}
	if cfg.Models.Fallback.ID == "" {
		cfg.Models.Fallback = def.Models.Fallback
	}
	if len(cfg.Install.Command) == 0 {
		cfg.Install.Command = def.Install.Command
	}
	if cfg.Loop.MaxAttempts == 0 {
		cfg.Loop.MaxAttempts = def.Loop.MaxAttempts
	}
	if len(cfg.Swarm.Agents) == 0 {
		cfg.Swarm.Agents = def.Swarm.Agents
	}
	if cfg.Swarm.TaskTemplate == "" {
		cfg.Swarm.TaskTemplate = def.Swarm.TaskTemplate
	}
	if cfg.Swarm.TaskTimeout <= 0 {
		cfg.Swarm.TaskTimeout = def.Swarm.TaskTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
}

// applyEnvOverrides reads HYPERLOOP_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HYPERLOOP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HYPERLOOP_RUNTIME_BIN"); v != "" {
		cfg.Runtime.Binary = v
	}
	if v := os.Getenv("HYPERLOOP_MODEL"); v != "" {
		cfg.Models.Primary.ID = v
	}
	if v := os.Getenv("HYPERLOOP_FALLBACK_MODEL"); v != "" {
		cfg.Models.Fallback.ID = v
	}
	if v := os.Getenv("HYPERLOOP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxAttempts = n
		}
	}
	if v := os.Getenv("HYPERLOOP_STATUS_ADDR"); v != "" {
		cfg.Status.Addr = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		cfg.Runtime.Host = v
	}
}
