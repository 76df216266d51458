// Package replay provides the deterministic re-execution stores: a tool
// output store keyed by action id, and an LLM call recorder/player with
// optional HMAC signing and chain hashing.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cordon-ai/cordon/internal/canon"
)

// Mode selects store behavior.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModeRecord, ModeReplay:
		return Mode(s), nil
	case Mode(""):
		return ModeOff, nil
	}
	return "", fmt.Errorf("replay: mode must be off|record|replay, got %q", s)
}

// ToolRecord is one recorded tool execution.
type ToolRecord struct {
	ActionID string         `json:"action_id"`
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args"`
	OK       bool           `json:"ok"`
	Summary  string         `json:"summary"`
	Data     map[string]any `json:"data"`
}

// ToolStore is a JSONL store of tool outputs. In record mode Put appends;
// in replay mode Get serves stored results so execution short-circuits.
type ToolStore struct {
	path string
	mode Mode

	mu    sync.Mutex
	index map[string]ToolRecord
}

// NewToolStore binds a store to path in the given mode.
func NewToolStore(path string, mode Mode) (*ToolStore, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("replay: mkdir: %w", err)
		}
	}
	return &ToolStore{path: path, mode: mode}, nil
}

// Mode returns the store's mode.
func (s *ToolStore) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the store's behavior in place.
func (s *ToolStore) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func (s *ToolStore) loadIndexLocked() error {
	if s.index != nil {
		return nil
	}
	s.index = map[string]ToolRecord{}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("replay: open: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec ToolRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // skip corrupted lines
		}
		s.index[rec.ActionID] = rec
	}
	return sc.Err()
}

// Get returns the stored record for an action id, replay mode only.
func (s *ToolStore) Get(actionID string) (ToolRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeReplay {
		return ToolRecord{}, false
	}
	if err := s.loadIndexLocked(); err != nil {
		return ToolRecord{}, false
	}
	rec, ok := s.index[actionID]
	return rec, ok
}

// Put appends a record, record mode only.
func (s *ToolStore) Put(rec ToolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeRecord {
		return nil
	}
	return s.appendLocked(rec)
}

func (s *ToolStore) appendLocked(rec ToolRecord) error {
	line, err := canon.Marshal(rec)
	if err != nil {
		return fmt.Errorf("replay: encode: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("replay: open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("replay: write: %w", err)
	}
	if s.index != nil {
		s.index[rec.ActionID] = rec
	}
	return nil
}

// Records returns every stored record ordered by action id, for export.
func (s *ToolStore) Records() ([]ToolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadIndexLocked(); err != nil {
		return nil, err
	}
	out := make([]ToolRecord, 0, len(s.index))
	for _, rec := range s.index {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionID < out[j].ActionID })
	return out, nil
}

// Import appends records regardless of mode, for transcript restores.
// Records without an action id are skipped.
func (s *ToolStore) Import(recs []ToolRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadIndexLocked(); err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.ActionID == "" {
			continue
		}
		if err := s.appendLocked(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Clear truncates the store file and drops the in-memory index.
func (s *ToolStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = map[string]ToolRecord{}
	if err := os.Truncate(s.path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replay: truncate: %w", err)
	}
	return nil
}

// Count returns the number of distinct recorded action ids.
func (s *ToolStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadIndexLocked(); err != nil {
		return 0
	}
	return len(s.index)
}
