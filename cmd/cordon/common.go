package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/cordon-ai/cordon/internal/config"
	"github.com/cordon-ai/cordon/internal/db"
	"github.com/cordon-ai/cordon/internal/llm"
	"github.com/cordon-ai/cordon/internal/replay"
	"github.com/cordon-ai/cordon/internal/session"
)

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetString("config"))
}

// stateDir resolves and creates the state directory that holds ledgers,
// the memory database, and replay files.
func stateDir(cfg config.Config) (string, error) {
	dir := cfg.Paths.StateDir
	if dir == "" {
		dir = ".cordon"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// openMemoryDB opens the shared SQLite database under the state dir.
func openMemoryDB(cfg config.Config) (*sql.DB, string, func(), error) {
	dir, err := stateDir(cfg)
	if err != nil {
		return nil, "", func() {}, err
	}
	path := cfg.Paths.MemoryDB
	if path == "" {
		path = "agent_memory.db"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	storeDB, err := db.Open(path)
	if err != nil {
		return nil, "", func() {}, err
	}
	return storeDB, path, func() { _ = storeDB.Close() }, nil
}

// buildClient assembles the reasoning client the config names. In
// record mode the live client is wrapped so every exchange lands in the
// reasoner transcript, signed when CORDON_REPLAY_SECRET is set.
func buildClient(cfg config.Config, demo bool) (llm.Client, error) {
	client, err := baseClient(cfg, demo)
	if err != nil {
		return nil, err
	}
	if cfg.Replay.Mode != "record" {
		return client, nil
	}
	path := cfg.Replay.LLMPath
	if path == "" {
		dir, err := stateDir(cfg)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "llm_replay.jsonl")
	}
	rec, err := replay.NewRecorder(path, os.Getenv("CORDON_REPLAY_SECRET"), true)
	if err != nil {
		return nil, fmt.Errorf("open reasoner transcript: %w", err)
	}
	return llm.NewRecordingClient(client, rec), nil
}

func baseClient(cfg config.Config, demo bool) (llm.Client, error) {
	if demo {
		return llm.DemoClient{}, nil
	}
	switch cfg.LLM.Provider {
	case "demo":
		return llm.DemoClient{}, nil
	case "replay":
		path := cfg.Replay.LLMPath
		if path == "" {
			path = cfg.Replay.Path
		}
		secret := os.Getenv("CORDON_REPLAY_SECRET")
		player, err := replay.NewPlayer(path, replay.PlayerOptions{
			Secret:      secret,
			VerifyHMAC:  secret != "",
			VerifyChain: true,
		})
		if err != nil {
			return nil, fmt.Errorf("open replay transcript: %w", err)
		}
		return llm.NewPlaybackClient(player, cfg.LLM.Model), nil
	case "", "openai":
		lc := llm.ConfigFromEnv()
		if cfg.LLM.Model != "" {
			lc.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			lc.BaseURL = cfg.LLM.BaseURL
		}
		if cfg.LLM.APIKeyEnv != "" {
			if key := os.Getenv(cfg.LLM.APIKeyEnv); key != "" {
				lc.APIKey = key
			}
		}
		if cfg.LLM.Temperature > 0 {
			lc.Temperature = cfg.LLM.Temperature
		}
		if cfg.LLM.MaxTokens > 0 {
			lc.MaxTokens = cfg.LLM.MaxTokens
		}
		if cfg.LLM.TimeoutSeconds > 0 {
			lc.Timeout = time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
		}
		return llm.NewHTTPClient(lc, log.Logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// sessionConfig translates the file config into a session template.
func sessionConfig(cfg config.Config, client llm.Client) (session.Config, error) {
	pol, err := cfg.ResolvePolicy()
	if err != nil {
		return session.Config{}, err
	}
	dir, err := stateDir(cfg)
	if err != nil {
		return session.Config{}, err
	}
	memPath := cfg.Paths.MemoryDB
	if memPath == "" {
		memPath = "agent_memory.db"
	}
	if !filepath.IsAbs(memPath) {
		memPath = filepath.Join(dir, memPath)
	}

	sc := session.Config{
		Policy:           pol,
		Client:           client,
		WorkingDirectory: cfg.Paths.WorkingDirectory,
		MemoryDBPath:     memPath,
		DevMode:          cfg.DevMode(),
		Log:              log.Logger,
	}
	if cfg.Replay.Mode != "" && cfg.Replay.Mode != "off" {
		mode, err := replay.ParseMode(cfg.Replay.Mode)
		if err != nil {
			return session.Config{}, err
		}
		sc.ReplayMode = mode
		sc.ReplayPath = cfg.Replay.Path
		if sc.ReplayPath == "" {
			sc.ReplayPath = filepath.Join(dir, "tool_replay.jsonl")
		}
	}
	return sc, nil
}
