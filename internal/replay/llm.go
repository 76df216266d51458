package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cordon-ai/cordon/internal/canon"
)

// ChainGenesis seeds the chain hash of the first recorded LLM call.
const ChainGenesis = "0000000000000000"

// Entry is one recorded LLM call. EntryHMAC and the chain fields are
// present only when the recorder was configured with a secret or chain
// hashing; old files without them still load.
type Entry struct {
	RequestHash string         `json:"request_hash"`
	System      string         `json:"system"`
	User        string         `json:"user"`
	Model       string         `json:"model"`
	Response    string         `json:"response"`
	LatencyMS   float64        `json:"latency_ms"`
	TsUTC       string         `json:"ts_utc"`
	Metadata    map[string]any `json:"metadata"`

	EntryHMAC     string `json:"entry_hmac,omitempty"`
	PrevChainHash string `json:"prev_chain_hash,omitempty"`
	ChainHash     string `json:"chain_hash,omitempty"`
}

func (e Entry) canonicalCore() ([]byte, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return canon.Marshal(map[string]any{
		"request_hash": e.RequestHash,
		"system":       e.System,
		"user":         e.User,
		"model":        e.Model,
		"response":     e.Response,
		"latency_ms":   e.LatencyMS,
		"ts_utc":       e.TsUTC,
		"metadata":     meta,
	})
}

// HashRequest derives the 16-hex matching key for an LLM request.
func HashRequest(system, user, model string) string {
	h := canon.MustHashJSON(map[string]any{
		"system": system,
		"user":   user,
		"model":  model,
	})
	return h[:16]
}

// Recorder appends LLM calls to a JSONL file. A non-empty secret adds an
// HMAC to each entry; enableChain links entries with a truncated hash
// chain so deletions are detectable.
type Recorder struct {
	path        string
	secret      []byte
	enableChain bool

	mu        sync.Mutex
	prevChain string
	count     int
}

// NewRecorder creates a recorder writing to path.
func NewRecorder(path, secret string, enableChain bool) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("replay: mkdir: %w", err)
		}
	}
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Recorder{path: path, secret: key, enableChain: enableChain, prevChain: ChainGenesis}, nil
}

// Record appends one LLM call.
func (r *Recorder) Record(system, user, model, response string, latencyMS float64, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	e := Entry{
		RequestHash: HashRequest(system, user, model),
		System:      system,
		User:        user,
		Model:       model,
		Response:    response,
		LatencyMS:   latencyMS,
		TsUTC:       time.Now().UTC().Format(time.RFC3339),
		Metadata:    metadata,
	}

	core, err := e.canonicalCore()
	if err != nil {
		return fmt.Errorf("replay: encode core: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.secret != nil {
		e.EntryHMAC = canon.HMACSHA256Hex(r.secret, core)[:32]
	}
	if r.enableChain {
		e.PrevChainHash = r.prevChain
		e.ChainHash = canon.SHA256Hex(append([]byte(r.prevChain), core...))[:16]
	}

	line, err := canon.Marshal(e)
	if err != nil {
		return fmt.Errorf("replay: encode entry: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("replay: open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("replay: write: %w", err)
	}

	if r.enableChain {
		r.prevChain = e.ChainHash
	}
	r.count++
	return nil
}

// Count returns the number of calls recorded by this recorder.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// MatchMode selects how a Player pairs requests with recorded entries.
type MatchMode string

const (
	MatchSequential MatchMode = "sequential"
	MatchHash       MatchMode = "hash"
)

// IntegrityError marks a replay file that failed HMAC or chain checks.
type IntegrityError struct {
	Line   int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("replay integrity: line %d: %s", e.Line, e.Reason)
}

// PlayerOptions configure verification on load.
type PlayerOptions struct {
	MatchMode   MatchMode
	Secret      string
	VerifyHMAC  bool
	VerifyChain bool
}

// Player serves recorded LLM responses. Load fails with an
// IntegrityError when verification is requested and the file is broken.
type Player struct {
	matchMode MatchMode

	mu      sync.Mutex
	entries []Entry
	byHash  map[string][]int
	served  map[int]bool
	seqIdx  int
}

// NewPlayer loads a replay file for playback.
func NewPlayer(path string, opts PlayerOptions) (*Player, error) {
	if opts.MatchMode == "" {
		opts.MatchMode = MatchSequential
	}
	p := &Player{matchMode: opts.MatchMode, byHash: map[string][]int{}, served: map[int]bool{}}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("replay: open: %w", err)
	}
	defer f.Close()

	prevChain := ChainGenesis
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}

		core, err := e.canonicalCore()
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		if opts.VerifyHMAC {
			expected := canon.HMACSHA256Hex([]byte(opts.Secret), core)[:32]
			if !canon.EqualHMAC(expected, e.EntryHMAC) {
				return nil, &IntegrityError{Line: lineNo, Reason: "HMAC mismatch"}
			}
		}
		if opts.VerifyChain && e.ChainHash != "" {
			if e.PrevChainHash != prevChain {
				return nil, &IntegrityError{Line: lineNo, Reason: "Chain hash broken: prev mismatch"}
			}
			expected := canon.SHA256Hex(append([]byte(prevChain), core...))[:16]
			if expected != e.ChainHash {
				return nil, &IntegrityError{Line: lineNo, Reason: "Chain hash broken: hash mismatch"}
			}
			prevChain = e.ChainHash
		}

		idx := len(p.entries)
		p.entries = append(p.entries, e)
		p.byHash[e.RequestHash] = append(p.byHash[e.RequestHash], idx)
		lineNo++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: scan: %w", err)
	}
	return p, nil
}

// Get returns the next recorded response, or ok=false when exhausted or
// unmatched. Sequential mode ignores the request arguments.
func (p *Player) Get(system, user, model string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.matchMode == MatchSequential {
		if p.seqIdx >= len(p.entries) {
			return "", false
		}
		e := p.entries[p.seqIdx]
		p.seqIdx++
		return e.Response, true
	}

	reqHash := HashRequest(system, user, model)
	for _, idx := range p.byHash[reqHash] {
		if !p.served[idx] {
			p.served[idx] = true
			return p.entries[idx].Response, true
		}
	}
	return "", false
}

// Count returns the number of loaded entries.
func (p *Player) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Remaining returns how many entries have not been served yet.
func (p *Player) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.matchMode == MatchSequential {
		return len(p.entries) - p.seqIdx
	}
	return len(p.entries) - len(p.served)
}

// Entries returns a copy of all loaded entries in write order.
func (p *Player) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// VerifyFile checks every entry of a replay file and collects all
// integrity problems instead of stopping at the first.
func VerifyFile(path, secret string) (bool, []string) {
	f, err := os.Open(path)
	if err != nil {
		return false, []string{fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	var problems []string
	prevChain := ChainGenesis
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			problems = append(problems, fmt.Sprintf("line %d: invalid JSON: %v", lineNo, err))
			lineNo++
			continue
		}
		core, err := e.canonicalCore()
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", lineNo, err))
			lineNo++
			continue
		}
		if e.EntryHMAC != "" && secret != "" {
			expected := canon.HMACSHA256Hex([]byte(secret), core)[:32]
			if !canon.EqualHMAC(expected, e.EntryHMAC) {
				problems = append(problems, fmt.Sprintf("line %d: HMAC mismatch", lineNo))
			}
		}
		if e.ChainHash != "" {
			if e.PrevChainHash != prevChain {
				problems = append(problems, fmt.Sprintf("line %d: chain prev mismatch", lineNo))
			}
			expected := canon.SHA256Hex(append([]byte(e.PrevChainHash), core...))[:16]
			if expected != e.ChainHash {
				problems = append(problems, fmt.Sprintf("line %d: chain hash mismatch", lineNo))
			}
			prevChain = e.ChainHash
		}
		lineNo++
	}
	if err := sc.Err(); err != nil {
		problems = append(problems, fmt.Sprintf("scan: %v", err))
	}
	return len(problems) == 0, problems
}
