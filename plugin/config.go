package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nox-hq/warden/sandbox"
)

// HomeEnv overrides the warden home directory.
const HomeEnv = "WARDEN_HOME"

// Config represents the config.yaml file in the warden home directory.
type Config struct {
	PluginsDir string `yaml:"plugins_dir"`
	StateFile  string `yaml:"state_file"`
	TempRoot   string `yaml:"temp_root"`

	Profile                string `yaml:"profile"`
	AllowUnenforcedSandbox bool   `yaml:"allow_unenforced_sandbox"`

	SpawnTimeoutSeconds     int `yaml:"spawn_timeout_seconds"`
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
	CallTimeoutSeconds      int `yaml:"call_timeout_seconds"`
	MaxConcurrentCalls      int `yaml:"max_concurrent_calls"`
	MaxConcurrentLoads      int `yaml:"max_concurrent_loads"`
	RequestsPerMinute       int `yaml:"requests_per_minute"`
	BandwidthMBPerMinute    int `yaml:"bandwidth_mb_per_minute"`
	StderrLimitKB           int `yaml:"stderr_limit_kb"`

	Runtimes          RuntimesConfig `yaml:"runtimes"`
	ExtraLibraryPaths []string       `yaml:"extra_library_paths"`

	Assist AssistConfig `yaml:"assist"`
}

// AssistConfig selects the chat model that turns free text into tool
// arguments. The API key is read from OPENAI_API_KEY. NoJSONMode is for
// OpenAI-compatible servers that reject response_format.
type AssistConfig struct {
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxTokens      int    `yaml:"max_tokens"`
	NoJSONMode     bool   `yaml:"no_json_mode"`
}

// RuntimesConfig pins interpreter paths instead of searching PATH.
type RuntimesConfig struct {
	Node   string `yaml:"node"`
	Python string `yaml:"python"`
}

// HomeDir returns the warden home directory: $WARDEN_HOME, or ~/.warden.
func HomeDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".warden"), nil
}

// LoadConfig reads a config.yaml file. If the file does not exist, it
// returns a default Config without error. Returns an error only for
// malformed YAML or read failures. Relative paths in the file are
// resolved against base, and unset paths default to locations under base.
func LoadConfig(path, base string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.resolvePaths(base)
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string, def string) {
		switch {
		case *p == "":
			*p = def
		case !filepath.IsAbs(*p):
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.PluginsDir, filepath.Join(base, "plugins"))
	resolve(&c.StateFile, filepath.Join(base, "approvals.json"))
	resolve(&c.TempRoot, filepath.Join(os.TempDir(), "warden"))
}

// ToPolicy converts the config to a runtime Policy: the profile preset,
// overridden by every non-zero field.
func (c *Config) ToPolicy() (Policy, error) {
	profile, err := ProfilePolicy(Profile(c.Profile))
	if err != nil {
		return Policy{}, err
	}
	user := Policy{
		AllowUnenforced:      c.AllowUnenforcedSandbox,
		SpawnTimeout:         time.Duration(c.SpawnTimeoutSeconds) * time.Second,
		HandshakeTimeout:     time.Duration(c.HandshakeTimeoutSeconds) * time.Second,
		CallTimeout:          time.Duration(c.CallTimeoutSeconds) * time.Second,
		MaxConcurrentCalls:   c.MaxConcurrentCalls,
		MaxConcurrentLoads:   c.MaxConcurrentLoads,
		RequestsPerMinute:    c.RequestsPerMinute,
		BandwidthBytesPerMin: int64(c.BandwidthMBPerMinute) * 1024 * 1024,
		StderrLimit:          c.StderrLimitKB * 1024,
	}
	return MergeWithUserPolicy(profile, user), nil
}

// SandboxConfig returns the sandbox settings derived from the config.
func (c *Config) SandboxConfig() sandbox.Config {
	return sandbox.Config{
		AllowUnenforced: c.AllowUnenforcedSandbox,
		NodePath:        c.Runtimes.Node,
		PythonPath:      c.Runtimes.Python,
		ExtraLibraries:  c.ExtraLibraryPaths,
	}
}
