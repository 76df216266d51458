// Package ledger implements the append-only hash-chained JSONL record of
// every gate decision and kernel event. Entries are canonical JSON lines;
// each carries the hash of its predecessor, so any edit or deletion breaks
// verification from that line onward.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/canon"
)

// GenesisHash is the prev_entry_hash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one ledger line. EntryHash covers the canonical encoding of
// the entry with the entry_hash field removed.
type Entry struct {
	Idx           int            `json:"idx"`
	TsUTC         string         `json:"ts_utc"`
	StateHash     string         `json:"state_hash"`
	ActionHash    string         `json:"action_hash"`
	Decision      string         `json:"decision"`
	PrevEntryHash string         `json:"prev_entry_hash"`
	Payload       map[string]any `json:"payload"`
	EntryHash     string         `json:"entry_hash"`
}

func (e Entry) core() map[string]any {
	return map[string]any{
		"idx":             e.Idx,
		"ts_utc":          e.TsUTC,
		"state_hash":      e.StateHash,
		"action_hash":     e.ActionHash,
		"decision":        e.Decision,
		"prev_entry_hash": e.PrevEntryHash,
		"payload":         e.Payload,
	}
}

// Ledger appends to and reads a single JSONL file. One writer per path;
// readers tolerate a concurrent appender because reads are line-oriented.
type Ledger struct {
	path string

	mu       sync.Mutex
	lastHash string
	count    int
	scanned  bool
}

// Open binds a ledger to path, creating parent directories as needed.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: mkdir: %w", err)
		}
	}
	return &Ledger{path: path}, nil
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// scanLocked walks the existing file once to recover count and last hash.
func (l *Ledger) scanLocked() error {
	if l.scanned {
		return nil
	}
	l.lastHash = GenesisHash
	l.count = 0
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.scanned = true
			return nil
		}
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return fmt.Errorf("ledger: line %d: %w", l.count, err)
		}
		l.lastHash = e.EntryHash
		l.count++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ledger: scan: %w", err)
	}
	l.scanned = true
	return nil
}

// Append records a gate decision for an action against a snapshot. The
// returned entry is the one written, including its hash.
func (l *Ledger) Append(snap action.Snapshot, a action.Proposed, decision string, extra map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.scanLocked(); err != nil {
		return Entry{}, err
	}

	stateHash, err := action.HashSnapshot(snap)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash state: %w", err)
	}
	actionHash, err := a.Hash()
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash action: %w", err)
	}

	payload := map[string]any{
		"state":    snap,
		"action":   a,
		"decision": decision,
	}
	if len(extra) > 0 {
		payload["extra"] = extra
	}

	e := Entry{
		Idx:           l.count,
		TsUTC:         time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		StateHash:     stateHash,
		ActionHash:    actionHash,
		Decision:      decision,
		PrevEntryHash: l.lastHash,
		Payload:       normalizePayload(payload),
	}
	e.EntryHash, err = canon.HashJSON(e.core())
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash entry: %w", err)
	}

	line, err := canon.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: encode entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("ledger: write: %w", err)
	}

	l.lastHash = e.EntryHash
	l.count++
	return e, nil
}

// AppendInfo records a first-class informational event such as a
// permission grant, revoke, or planner rollback.
func (l *Ledger) AppendInfo(snap action.Snapshot, kind action.Kind, payload map[string]any, decision string, extra map[string]any) (Entry, error) {
	if decision == "" {
		decision = "info:event"
	}
	a := action.Proposed{
		Kind:          kind,
		Payload:       payload,
		Justification: fmt.Sprintf("System event: %s", kind),
	}
	return l.Append(snap, a, decision, extra)
}

// normalizePayload round-trips the payload through generic JSON values so
// stored entries unmarshal back to the same shapes they were hashed as.
func normalizePayload(payload map[string]any) map[string]any {
	raw, err := canon.Marshal(payload)
	if err != nil {
		return payload
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return payload
	}
	return out
}

// ReadAll returns every entry in file order.
func (l *Ledger) ReadAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("ledger: line %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan: %w", err)
	}
	return entries, nil
}

// ReadTail returns the last n entries in file order.
func (l *Ledger) ReadTail(n int) ([]Entry, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	OK        bool
	BrokenIdx int // -1 when OK
	Reason    string
	Expected  string
	Actual    string
	Entries   int
}

// Verify walks the chain from genesis checking prev-hash continuity and
// recomputing every entry hash. The first broken line stops the walk.
func (l *Ledger) Verify() (VerifyResult, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return VerifyResult{}, err
	}
	prev := GenesisHash
	for i, e := range entries {
		if e.PrevEntryHash != prev {
			return VerifyResult{
				BrokenIdx: i,
				Reason:    "prev hash mismatch",
				Expected:  prev,
				Actual:    e.PrevEntryHash,
				Entries:   len(entries),
			}, nil
		}
		expected, err := canon.HashJSON(e.core())
		if err != nil {
			return VerifyResult{}, fmt.Errorf("ledger: rehash line %d: %w", i, err)
		}
		if expected != e.EntryHash {
			return VerifyResult{
				BrokenIdx: i,
				Reason:    "entry hash mismatch",
				Expected:  expected,
				Actual:    e.EntryHash,
				Entries:   len(entries),
			}, nil
		}
		prev = e.EntryHash
	}
	log.Debug().Str("path", l.path).Int("entries", len(entries)).Msg("ledger chain verified")
	return VerifyResult{OK: true, BrokenIdx: -1, Reason: "OK", Entries: len(entries)}, nil
}
