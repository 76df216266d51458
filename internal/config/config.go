// Package config provides configuration loading and management for cordon.
package config

import (
	"fmt"
	"os"

	"github.com/cordon-ai/cordon/internal/policy"
)

// Config is the root configuration.
type Config struct {
	Profile   string          `json:"profile,omitempty"   mapstructure:"profile"`
	Server    ServerConfig    `json:"server,omitempty"    mapstructure:"server"`
	LLM       LLMConfig       `json:"llm,omitempty"       mapstructure:"llm"`
	Replay    ReplayConfig    `json:"replay,omitempty"    mapstructure:"replay"`
	Planner   PlannerConfig   `json:"planner,omitempty"   mapstructure:"planner"`
	Paths     Paths           `json:"paths,omitempty"     mapstructure:"paths"`
	Retention RetentionPolicy `json:"retention,omitempty" mapstructure:"retention"`
}

// ServerConfig describes the HTTP surface.
type ServerConfig struct {
	Host          string `json:"host,omitempty"            mapstructure:"host"`
	Port          int    `json:"port,omitempty"            mapstructure:"port"`
	ChatRateLimit int    `json:"chat_rate_limit,omitempty" mapstructure:"chat_rate_limit"`
	ToolRateLimit int    `json:"tool_rate_limit,omitempty" mapstructure:"tool_rate_limit"`
}

// LLMConfig describes the reasoning backend.
type LLMConfig struct {
	Provider       string  `json:"provider,omitempty"        mapstructure:"provider"`
	Model          string  `json:"model,omitempty"           mapstructure:"model"`
	BaseURL        string  `json:"base_url,omitempty"        mapstructure:"base_url"`
	APIKeyEnv      string  `json:"api_key_env,omitempty"     mapstructure:"api_key_env"`
	Temperature    float64 `json:"temperature,omitempty"     mapstructure:"temperature"`
	MaxTokens      int     `json:"max_tokens,omitempty"      mapstructure:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
}

// ReplayConfig controls tool-call recording and playback. LLMPath is
// the reasoner transcript; empty means llm_replay.jsonl under the
// state dir when recording is on.
type ReplayConfig struct {
	Mode    string `json:"mode,omitempty"     mapstructure:"mode"`
	Path    string `json:"path,omitempty"     mapstructure:"path"`
	LLMPath string `json:"llm_path,omitempty" mapstructure:"llm_path"`
}

// PlannerConfig controls multi-step plan execution.
type PlannerConfig struct {
	Strategy      string `json:"strategy,omitempty"       mapstructure:"strategy"`
	MaxSteps      int    `json:"max_steps,omitempty"      mapstructure:"max_steps"`
	Rollback      bool   `json:"rollback,omitempty"       mapstructure:"rollback"`
	KeepSnapshots int    `json:"keep_snapshots,omitempty" mapstructure:"keep_snapshots"`
}

// Paths groups filesystem locations.
type Paths struct {
	StateDir         string `json:"state_dir,omitempty"         mapstructure:"state_dir"`
	MemoryDB         string `json:"memory_db,omitempty"         mapstructure:"memory_db"`
	WorkingDirectory string `json:"working_directory,omitempty" mapstructure:"working_directory"`
}

// RetentionPolicy bounds how many persisted sessions survive a server
// start, by count and by idle age.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Default returns a configuration that works with no file present.
func Default() Config {
	return Config{
		Profile: "default",
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          8787,
			ChatRateLimit: 20,
			ToolRateLimit: 30,
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			Temperature:    0.7,
			MaxTokens:      4096,
			TimeoutSeconds: 30,
		},
		Replay: ReplayConfig{Mode: "off"},
		Planner: PlannerConfig{
			Strategy:      "auto",
			MaxSteps:      10,
			Rollback:      true,
			KeepSnapshots: 5,
		},
		Paths: Paths{
			StateDir:         ".cordon",
			MemoryDB:         "agent_memory.db",
			WorkingDirectory: "./",
		},
		Retention: RetentionPolicy{KeepLast: 10},
	}
}

// ResolvePolicy maps the configured profile name to a gate policy.
func (c Config) ResolvePolicy() (*policy.Policy, error) {
	switch c.Profile {
	case "", "default":
		return policy.Default(), nil
	case "dev":
		return policy.Dev(), nil
	default:
		return nil, fmt.Errorf("unknown policy profile %q", c.Profile)
	}
}

// DevMode reports whether host-exec capabilities may register: the dev
// profile, or the CORDON_DEV_MODE / CORDON_SHELL_MODE escape hatches.
func (c Config) DevMode() bool {
	if c.Profile == "dev" {
		return true
	}
	return envTruthy("CORDON_DEV_MODE") || envTruthy("CORDON_SHELL_MODE")
}

func envTruthy(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
