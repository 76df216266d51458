// Package web exposes the control plane over HTTP: chat, sessions,
// tools, permissions, ledger verification, memory and scoped filesystem
// reads, replay transcripts, budgets, metrics, and a websocket event
// stream.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cordon-ai/cordon/internal/agent"
	"github.com/cordon-ai/cordon/internal/metrics"
	"github.com/cordon-ai/cordon/internal/replay"
	"github.com/cordon-ai/cordon/internal/session"
)

// Config wires the server.
type Config struct {
	// Session is the template for new sessions; per-session identity
	// and ledger paths are derived from it.
	Session session.Config
	// StateDir holds per-session ledger files. Empty means the
	// template's paths are used as-is.
	StateDir string
	Store    *session.Store
	Metrics  *metrics.Registry
	Log      zerolog.Logger
	// ChatRateLimit and ToolRateLimit cap requests per client per
	// minute; zero keeps the defaults.
	ChatRateLimit int
	ToolRateLimit int
}

// Server owns live sessions and the HTTP surface over them.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	hub      *hub
	upgrader websocket.Upgrader

	chatLimiter *RateLimiter
	toolLimiter *RateLimiter

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewServer creates a server. Default rate limits are 20 chat messages
// and 30 manual tool runs per minute per client.
func NewServer(cfg Config) *Server {
	if cfg.ChatRateLimit <= 0 {
		cfg.ChatRateLimit = 20
	}
	if cfg.ToolRateLimit <= 0 {
		cfg.ToolRateLimit = 30
	}
	s := &Server{
		cfg:         cfg,
		log:         cfg.Log,
		hub:         newHub(cfg.Log),
		chatLimiter: NewRateLimiter(cfg.ChatRateLimit, time.Minute),
		toolLimiter: NewRateLimiter(cfg.ToolRateLimit, time.Minute),
		sessions:    map[string]*session.Session{},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s
}

// Routes returns the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/ledger/{id}", s.handleLedgerTail)
	mux.HandleFunc("GET /api/ledger/{id}/verify", s.handleLedgerVerify)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/tools/run", s.handleRunTool)
	mux.HandleFunc("GET /api/perms", s.handleListPerms)
	mux.HandleFunc("POST /api/perms/grant", s.handleGrant)
	mux.HandleFunc("POST /api/perms/revoke", s.handleRevoke)
	mux.HandleFunc("GET /api/memory", s.handleMemorySearch)
	mux.HandleFunc("GET /api/memory/{key}", s.handleMemoryGet)
	mux.HandleFunc("GET /api/fs", s.handleFSList)
	mux.HandleFunc("GET /api/fs/read", s.handleFSRead)
	mux.HandleFunc("GET /api/replay/export", s.handleReplayExport)
	mux.HandleFunc("POST /api/replay/import", s.handleReplayImport)
	mux.HandleFunc("POST /api/replay/clear", s.handleReplayClear)
	mux.HandleFunc("GET /api/mode", s.handleGetMode)
	mux.HandleFunc("POST /api/mode", s.handleSetMode)
	mux.HandleFunc("GET /api/budgets", s.handleBudgets)
	mux.HandleFunc("GET /api/world", s.handleWorld)
	mux.HandleFunc("GET /api/metrics", s.handleMetricsJSON)
	mux.HandleFunc("GET /metrics", s.handleMetricsProm)
	mux.HandleFunc("GET /ws/session/{id}", s.handleWebSocket)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getOrCreate returns the live session for id, creating one (with a
// fresh id when empty) on demand.
func (s *Server) getOrCreate(id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return sess, nil
		}
	} else {
		id = uuid.NewString()[:8]
	}

	cfg := s.cfg.Session
	cfg.SessionID = id
	cfg.Metrics = s.cfg.Metrics
	cfg.Log = s.log
	if s.cfg.StateDir != "" {
		cfg.LedgerPath = filepath.Join(s.cfg.StateDir, "session_"+id+".jsonl")
		if cfg.MemoryDBPath == "" {
			cfg.MemoryDBPath = filepath.Join(s.cfg.StateDir, "agent_memory.db")
		}
		if cfg.ReplayPath == "" {
			cfg.ReplayPath = filepath.Join(s.cfg.StateDir, "replay_"+id+".jsonl")
		}
	}

	sess, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	sessionID := sess.ID
	sess.OnEvent(func(ev agent.Event) {
		event := map[string]any{"type": ev.Type, "ts": time.Now().UTC().Format(time.RFC3339)}
		for k, v := range ev.Data {
			event[k] = v
		}
		s.hub.broadcast(sessionID, event)
	})

	if s.cfg.Store != nil {
		if stored, err := s.cfg.Store.Get(context.Background(), sessionID); err == nil {
			sess.RestoreHistory(stored.ChatHistory)
		} else {
			_, _ = s.cfg.Store.Create(context.Background(), sessionID, cfg.WorkingDirectory, string(cfg.ReplayMode), nil)
		}
	}

	s.sessions[sessionID] = sess
	return sess, nil
}

func (s *Server) lookup(id string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.chatLimiter.Allow(clientID(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess, err := s.getOrCreate(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.broadcast(sess.ID, map[string]any{
		"type":    "user_message",
		"content": req.Message,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})

	res := sess.Step(r.Context(), req.Message)

	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveHistory(r.Context(), sess.ID, sess.History()); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("persist history failed")
		}
	}

	s.hub.broadcast(sess.ID, map[string]any{
		"type":             "agent_message",
		"content":          res.Reply,
		"steps_taken":      res.StepsTaken,
		"actions_allowed":  res.ActionsAllowed,
		"actions_denied":   res.ActionsDenied,
		"actions_replayed": res.ActionsReplayed,
		"ts":               time.Now().UTC().Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"reply":            res.Reply,
		"session_id":       sess.ID,
		"steps_taken":      res.StepsTaken,
		"actions_allowed":  res.ActionsAllowed,
		"actions_denied":   res.ActionsDenied,
		"actions_replayed": res.ActionsReplayed,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := s.cfg.Store.List(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
		return
	}

	s.mu.Lock()
	states := make([]map[string]any, 0, len(s.sessions))
	for _, sess := range s.sessions {
		states = append(states, sess.State())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": states})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		_ = sess.Close()
	}

	if s.cfg.Store != nil {
		if _, err := s.cfg.Store.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleLedgerTail(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 100
	}
	entries, err := sess.Ledger().ReadTail(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	result, err := sess.Ledger().Verify()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	sess, err := s.getOrCreate(r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"tools":      sess.ListTools(),
	})
}

type runToolRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
}

func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	if !s.toolLimiter.Allow(clientID(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req runToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	sess, err := s.getOrCreate(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	result := sess.RunTool(r.Context(), req.Tool, req.Arguments)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"result":     result,
	})
}

type permRequest struct {
	Tool      string `json:"tool"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleListPerms(w http.ResponseWriter, r *http.Request) {
	sess, err := s.getOrCreate(r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handlePerm(w http.ResponseWriter, r *http.Request, grant bool) {
	var req permRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}
	sess, err := s.getOrCreate(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if grant {
		sess.GrantTool(req.Tool)
	} else {
		sess.RevokeTool(req.Tool)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"tool":       req.Tool,
		"granted":    grant,
	})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.handlePerm(w, r, true)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.handlePerm(w, r, false)
}

// sessionFromQuery resolves the session_id query parameter, creating a
// session when absent.
func (s *Server) sessionFromQuery(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.getOrCreate(r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQuery(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 10
	}
	items, err := sess.Memory().Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "items": items})
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQuery(w, r)
	if !ok {
		return
	}
	item, err := sess.Memory().Get(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleFSList and handleFSRead go through the router so workdir scoping
// and budgets apply to browser-driven reads exactly as to agent ones.
func (s *Server) handleFSList(w http.ResponseWriter, r *http.Request) {
	s.runScopedTool(w, r, "list_dir")
}

func (s *Server) handleFSRead(w http.ResponseWriter, r *http.Request) {
	s.runScopedTool(w, r, "read_file")
}

func (s *Server) runScopedTool(w http.ResponseWriter, r *http.Request, tool string) {
	sess, ok := s.sessionFromQuery(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "./"
	}
	result := sess.RunTool(r.Context(), tool, map[string]any{"path": path})
	status := http.StatusOK
	if !result.Success {
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]any{"session_id": sess.ID, "result": result})
}

func (s *Server) handleReplayExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQuery(w, r)
	if !ok {
		return
	}
	store := sess.ReplayStore()
	if store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "records": []replay.ToolRecord{}})
		return
	}
	records, err := store.Records()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "records": records})
}

type replayImportRequest struct {
	Records   []replay.ToolRecord `json:"records"`
	SessionID string              `json:"session_id,omitempty"`
}

func (s *Server) handleReplayImport(w http.ResponseWriter, r *http.Request) {
	var req replayImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}
	sess, err := s.getOrCreate(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	store := sess.ReplayStore()
	if store == nil {
		// Importing implies the caller wants replays available.
		if err := sess.SetReplayMode(replay.ModeReplay); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		store = sess.ReplayStore()
	}
	n, err := store.Import(req.Records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "imported": n})
}

type sessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleReplayClear(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	sess, err := s.getOrCreate(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if store := sess.ReplayStore(); store != nil {
		if err := store.Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "cleared": true})
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"mode":       string(sess.ReplayMode()),
	})
}

type modeRequest struct {
	Mode      string `json:"mode"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}
	mode, err := replay.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.getOrCreate(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sess.SetReplayMode(mode); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"mode":       string(sess.ReplayMode()),
	})
}

func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"budgets":    sess.Budgets(),
	})
}

func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.World())
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Metrics.Export())
}

func (s *Server) handleMetricsProm(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.cfg.Metrics.Prometheus()))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.subscribe(id, conn)
	defer func() {
		s.hub.unsubscribe(id, conn)
		_ = conn.Close()
	}()

	_ = conn.WriteJSON(map[string]any{
		"type":       "connected",
		"session_id": id,
		"ts":         time.Now().UTC().Format(time.RFC3339),
	})

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if t, _ := msg["type"].(string); t == "ping" {
			_ = conn.WriteJSON(map[string]any{"type": "pong"})
		}
	}
}

// Close shuts every live session down.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		_ = sess.Close()
		delete(s.sessions, id)
	}
}
