package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPath is where Load looks when no --config flag is given.
const DefaultPath = ".cordon/config.json"

// Load reads the config file at path, applies CORDON_* environment
// overrides, validates the result against the schema, and unmarshals
// it. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("CORDON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("profile", def.Profile)
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.chat_rate_limit", def.Server.ChatRateLimit)
	v.SetDefault("server.tool_rate_limit", def.Server.ToolRateLimit)
	v.SetDefault("llm.provider", def.LLM.Provider)
	v.SetDefault("llm.model", def.LLM.Model)
	v.SetDefault("llm.api_key_env", def.LLM.APIKeyEnv)
	v.SetDefault("llm.temperature", def.LLM.Temperature)
	v.SetDefault("llm.max_tokens", def.LLM.MaxTokens)
	v.SetDefault("llm.timeout_seconds", def.LLM.TimeoutSeconds)
	v.SetDefault("replay.mode", def.Replay.Mode)
	v.SetDefault("planner.strategy", def.Planner.Strategy)
	v.SetDefault("planner.max_steps", def.Planner.MaxSteps)
	v.SetDefault("planner.rollback", def.Planner.Rollback)
	v.SetDefault("planner.keep_snapshots", def.Planner.KeepSnapshots)
	v.SetDefault("paths.state_dir", def.Paths.StateDir)
	v.SetDefault("paths.memory_db", def.Paths.MemoryDB)
	v.SetDefault("paths.working_directory", def.Paths.WorkingDirectory)
	v.SetDefault("retention.keep_last", def.Retention.KeepLast)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if _, err := cfg.ResolvePolicy(); err != nil {
		return Config{}, err
	}
	if cfg.Planner.MaxSteps <= 0 {
		return Config{}, fmt.Errorf("planner.max_steps must be > 0")
	}
	return cfg, nil
}
