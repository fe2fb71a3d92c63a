// Package config loads the YAML configuration shared by the compile and
// run CLIs, following the teacher's pattern exactly: expand ${VAR}/$VAR
// references with os.ExpandEnv before unmarshalling with yaml.v3, then
// apply zero-value defaults by hand. No mapstructure/viper default-tag
// library appears anywhere in the example pack, so none is introduced here.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape for both CLIs. CLI flags take
// precedence over these values, which take precedence over the defaults
// applied by applyDefaults.
type Config struct {
	Browser struct {
		Headless         bool   `yaml:"Headless"`
		ViewportWidth    int    `yaml:"ViewportWidth"`
		ViewportHeight   int    `yaml:"ViewportHeight"`
		DefaultTimeoutMS int    `yaml:"DefaultTimeoutMS"`
		Screenshots      string `yaml:"Screenshots"` // none | on-failure | all
	} `yaml:"Browser"`

	LLM struct {
		Provider    string  `yaml:"Provider"` // openai | anthropic | ollama
		Model       string  `yaml:"Model"`
		Temperature float64 `yaml:"Temperature"`
		APITimeoutS float64 `yaml:"APITimeoutS"`
		MaxAttempts int     `yaml:"MaxAttempts"`
		APIKey      string  `yaml:"APIKey"`
		BaseURL     string  `yaml:"BaseURL"`
	} `yaml:"LLM"`

	Paths struct {
		OutputRoot   string `yaml:"OutputRoot"`
		PlanRoot     string `yaml:"PlanRoot"`
		SnapshotRoot string `yaml:"SnapshotRoot"`
		ProfilePath  string `yaml:"ProfilePath"`
		SchemaPath   string `yaml:"SchemaPath"`
	} `yaml:"Paths"`

	Snapshot struct {
		MaxDepth    int  `yaml:"MaxDepth"`
		MaxNodes    int  `yaml:"MaxNodes"`
		DebugDump   bool `yaml:"DebugDump"`
		MaxAgeHours int  `yaml:"MaxAgeHours"`
	} `yaml:"Snapshot"`

	Session struct {
		MaxSessions  int `yaml:"MaxSessions"`
		IdleTimeoutS int `yaml:"IdleTimeoutS"`
	} `yaml:"Session"`
}

// LoadFromBytes loads configuration from YAML bytes with environment
// variable expansion.
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Load reads and parses the config file at path. A missing file is not an
// error: defaults alone form a usable configuration.
func Load(path string) (Config, error) {
	if path == "" {
		var c Config
		applyDefaults(&c)
		return c, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		var c Config
		applyDefaults(&c)
		return c, nil
	}
	if err != nil {
		return Config{}, err
	}
	return LoadFromBytes(data)
}

// applyDefaults sets default values for unset config fields.
func applyDefaults(c *Config) {
	if c.Browser.ViewportWidth == 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight == 0 {
		c.Browser.ViewportHeight = 720
	}
	if c.Browser.DefaultTimeoutMS == 0 {
		c.Browser.DefaultTimeoutMS = 10_000
	}
	if c.Browser.Screenshots == "" {
		c.Browser.Screenshots = "on-failure"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.APITimeoutS == 0 {
		c.LLM.APITimeoutS = 60.0
	}
	if c.LLM.MaxAttempts == 0 {
		c.LLM.MaxAttempts = 3
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}

	if c.Paths.OutputRoot == "" {
		c.Paths.OutputRoot = "results"
	}
	if c.Paths.PlanRoot == "" {
		c.Paths.PlanRoot = "plans"
	}
	if c.Paths.SnapshotRoot == "" {
		c.Paths.SnapshotRoot = "snapshots"
	}
	if c.Paths.ProfilePath == "" {
		c.Paths.ProfilePath = "site_profile.json"
	}
	if c.Paths.SchemaPath == "" {
		c.Paths.SchemaPath = "action_plan.schema.json"
	}

	if c.Snapshot.MaxDepth == 0 {
		c.Snapshot.MaxDepth = 8
	}
	if c.Snapshot.MaxNodes == 0 {
		c.Snapshot.MaxNodes = 1000
	}
	if c.Snapshot.MaxAgeHours == 0 {
		c.Snapshot.MaxAgeHours = 168
	}

	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = 4
	}
	if c.Session.IdleTimeoutS == 0 {
		c.Session.IdleTimeoutS = 600
	}
}
