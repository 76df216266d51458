package session

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/agent"
	"github.com/cordon-ai/cordon/internal/db"
	"github.com/cordon-ai/cordon/internal/ledger"
	"github.com/cordon-ai/cordon/internal/llm"
	"github.com/cordon-ai/cordon/internal/memstore"
	"github.com/cordon-ai/cordon/internal/metrics"
	"github.com/cordon-ai/cordon/internal/policy"
	"github.com/cordon-ai/cordon/internal/replay"
	"github.com/cordon-ai/cordon/internal/tools"
)

// Config assembles one session's collaborators and paths.
type Config struct {
	// SessionID pins the session identity; empty means generate one.
	SessionID        string
	Policy           *policy.Policy
	Client           llm.Client
	WorkingDirectory string
	MemoryDBPath     string
	LedgerPath       string
	ReplayMode       replay.Mode
	ReplayPath       string
	AutoGrantTools   []string
	DevMode          bool
	Metrics          *metrics.Registry
	Log              zerolog.Logger
}

// StepResult is what one user input produced.
type StepResult struct {
	Reply           string           `json:"reply"`
	StepsTaken      int              `json:"steps_taken"`
	ActionsAllowed  int              `json:"actions_allowed"`
	ActionsDenied   int              `json:"actions_denied"`
	ActionsReplayed int              `json:"actions_replayed"`
	Errors          []map[string]any `json:"errors,omitempty"`
	LedgerTail      []ledger.Entry   `json:"ledger_tail,omitempty"`
}

// ToolInfo describes one capability for listings.
type ToolInfo struct {
	Name          string `json:"name"`
	Risk          string `json:"risk"`
	RequiresGrant bool   `json:"requires_grant"`
	Granted       bool   `json:"granted"`
}

// Session is a headless agent session: one execution context, one
// ledger, one conversation.
type Session struct {
	ID string

	cfg     Config
	sqlDB   *sql.DB
	loop    *agent.Loop
	ledger  *ledger.Ledger
	ec      *tools.ExecutionContext
	router  *tools.Router
	memory  *memstore.Store
	store   *replay.ToolStore
	history []agent.Turn
	steps   int
	log     zerolog.Logger
}

// New opens a session: database, memory store, router, ledger, loop.
func New(cfg Config) (*Session, error) {
	if cfg.Policy == nil {
		cfg.Policy = policy.Default()
	}
	if cfg.Client == nil {
		cfg.Client = llm.DemoClient{}
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "./"
	}
	if cfg.MemoryDBPath == "" {
		cfg.MemoryDBPath = "agent_memory.db"
	}

	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()[:8]
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = fmt.Sprintf("session_%s.jsonl", id)
	}

	sqlDB, err := db.Open(cfg.MemoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("session: open db: %w", err)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("session: open ledger: %w", err)
	}

	var store *replay.ToolStore
	if cfg.ReplayMode != "" && cfg.ReplayMode != replay.ModeOff {
		store, err = replay.NewToolStore(cfg.ReplayPath, cfg.ReplayMode)
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("session: open replay store: %w", err)
		}
	}

	env := &tools.Env{Memory: memstore.New(sqlDB), DevMode: cfg.DevMode}
	router := tools.NewRouter(tools.NewRegistry(cfg.DevMode), env, store, cfg.Log)

	ec := tools.NewExecutionContext(id)
	ec.WorkingDirectory = cfg.WorkingDirectory
	ec.MemoryDBPath = cfg.MemoryDBPath
	if store != nil {
		ec.ReplayMode = cfg.ReplayMode
	}

	s := &Session{
		ID:     id,
		cfg:    cfg,
		sqlDB:  sqlDB,
		ledger: led,
		ec:     ec,
		router: router,
		memory: env.Memory,
		store:  store,
		log:    cfg.Log,
	}
	s.loop = agent.New(agent.Deps{
		Client:  cfg.Client,
		Router:  router,
		Ledger:  led,
		Policy:  cfg.Policy,
		Memory:  env.Memory,
		Metrics: cfg.Metrics,
		Log:     cfg.Log,
	}, agent.DefaultConfig())

	for _, tool := range cfg.AutoGrantTools {
		ec.Permissions.Grant(tool)
	}
	if cfg.Metrics != nil {
		cfg.Metrics.SessionStarted()
	}
	return s, nil
}

// OnEvent registers a live event sink for the underlying loop.
func (s *Session) OnEvent(fn func(agent.Event)) {
	s.loop.OnEvent = fn
}

func (s *Session) world(userID string) action.WorldSnapshot {
	return action.WorldSnapshot{
		SessionID:   s.ID,
		SystemClean: true,
		Metadata:    map[string]any{"user_id": userID},
	}
}

// Step runs one user input through the agent loop and records the
// exchange.
func (s *Session) Step(ctx context.Context, userInput string) StepResult {
	s.steps++

	history := make([]agent.Turn, len(s.history))
	copy(history, s.history)
	s.history = append(s.history, agent.Turn{Role: "user", Text: userInput})

	res := s.loop.RunTurn(ctx, userInput, history, s.world(s.ec.UserID), s.ec)
	s.history = append(s.history, agent.Turn{Role: "assistant", Text: res.Message})

	tail, err := s.ledger.ReadTail(5)
	if err != nil {
		tail = nil
	}
	return StepResult{
		Reply:           res.Message,
		StepsTaken:      res.StepsTaken,
		ActionsAllowed:  res.ActionsAllowed,
		ActionsDenied:   res.ActionsDenied,
		ActionsReplayed: res.ActionsReplayed,
		LedgerTail:      tail,
	}
}

// GrantTool grants a capability and records the grant as a first-class
// ledger event.
func (s *Session) GrantTool(tool string) {
	s.ec.Permissions.Grant(tool)
	if _, err := s.ledger.AppendInfo(s.world(s.ec.UserID), action.KindEvent,
		map[string]any{"event": "permission_grant", "tool": tool},
		"info:permission_grant", nil); err != nil {
		s.log.Warn().Err(err).Str("tool", tool).Msg("grant event append failed")
	}
}

// RevokeTool revokes a capability and records the revocation.
func (s *Session) RevokeTool(tool string) {
	s.ec.Permissions.Revoke(tool)
	if _, err := s.ledger.AppendInfo(s.world(s.ec.UserID), action.KindEvent,
		map[string]any{"event": "permission_revoke", "tool": tool},
		"info:permission_revoke", nil); err != nil {
		s.log.Warn().Err(err).Str("tool", tool).Msg("revoke event append failed")
	}
}

// ListTools returns the capability catalog with grant status.
func (s *Session) ListTools() []ToolInfo {
	names := s.router.Registry().Names()
	sort.Strings(names)
	out := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		spec, ok := s.router.Registry().Get(name)
		if !ok {
			continue
		}
		out = append(out, ToolInfo{
			Name:          name,
			Risk:          string(spec.Risk),
			RequiresGrant: spec.Permission.RequireExplicitGrant,
			Granted:       s.ec.Permissions.Has(name),
		})
	}
	return out
}

// RunTool invokes one capability directly, bypassing the reasoner but
// not the router's enforcement.
func (s *Session) RunTool(ctx context.Context, name string, args map[string]any) tools.Result {
	return s.router.Route(ctx, name, args, s.ec)
}

// History returns a copy of the conversation so far.
func (s *Session) History() []agent.Turn {
	out := make([]agent.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// RestoreHistory replaces the in-memory conversation, for sessions
// resumed from the store.
func (s *Session) RestoreHistory(history []agent.Turn) {
	s.history = make([]agent.Turn, len(history))
	copy(s.history, history)
}

// Ledger exposes the session ledger for verification surfaces.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Memory exposes the agent memory store for search surfaces.
func (s *Session) Memory() *memstore.Store { return s.memory }

// ReplayStore exposes the tool replay store; nil when replay never ran.
func (s *Session) ReplayStore() *replay.ToolStore { return s.store }

// ReplayMode reports the active replay mode.
func (s *Session) ReplayMode() replay.Mode { return s.ec.ReplayMode }

// SetReplayMode switches replay behavior between turns, opening the
// backing store on first use and recording the change as a ledger event.
func (s *Session) SetReplayMode(mode replay.Mode) error {
	mode, err := replay.ParseMode(string(mode))
	if err != nil {
		return err
	}
	if mode != replay.ModeOff && s.store == nil {
		path := s.cfg.ReplayPath
		if path == "" {
			path = fmt.Sprintf("replay_%s.jsonl", s.ID)
		}
		store, err := replay.NewToolStore(path, mode)
		if err != nil {
			return err
		}
		s.store = store
		s.router.SetReplayStore(store)
	}
	if s.store != nil {
		if err := s.store.SetMode(mode); err != nil {
			return err
		}
	}
	s.ec.ReplayMode = mode
	if _, err := s.ledger.AppendInfo(s.world(s.ec.UserID), action.KindEvent,
		map[string]any{"event": "replay_mode", "mode": string(mode)},
		"info:replay_mode", nil); err != nil {
		s.log.Warn().Err(err).Str("mode", string(mode)).Msg("mode event append failed")
	}
	return nil
}

// Budgets returns per-capability usage for the current turn.
func (s *Session) Budgets() map[string]tools.BudgetUsage {
	return s.ec.Budgets.Snapshot()
}

// World returns the gate-visible world snapshot, with the capability
// catalog and grants filled in.
func (s *Session) World() action.WorldSnapshot {
	w := s.world(s.ec.UserID)
	w.EnabledTools = s.router.Registry().Names()
	sort.Strings(w.EnabledTools)
	w.Permissions = s.ec.Permissions.ListGrants()
	return w
}

// State summarizes the session for status surfaces.
func (s *Session) State() map[string]any {
	return map[string]any{
		"session_id":        s.ID,
		"step_count":        s.steps,
		"history_length":    len(s.history),
		"granted_tools":     s.ec.Permissions.ListGrants(),
		"working_directory": s.ec.WorkingDirectory,
	}
}

// Reset clears conversation state but keeps the session open.
func (s *Session) Reset() {
	s.ec.Budgets.ResetTurn()
	s.history = nil
	s.steps = 0
}

// Close releases the database. The ledger needs no close; it opens the
// file per append.
func (s *Session) Close() error {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionEnded()
	}
	return s.sqlDB.Close()
}
