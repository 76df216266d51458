package tools

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cordon-ai/cordon/internal/memstore"
)

// Risk is the coarse blast-radius class of a capability.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Argument kinds accepted by capability schemas.
const (
	KindStr  = "str"
	KindInt  = "int"
	KindBool = "bool"
	KindDict = "dict"
	KindList = "list"
	KindAny  = "any"
)

// Field is one schema entry. Arguments outside the schema are rejected.
type Field struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
}

// Budget bounds what one capability may consume in a single turn.
// Zero means no limit for that dimension.
type Budget struct {
	CallsPerTurn int `json:"calls_per_turn"`
	MaxBytes     int `json:"max_bytes,omitempty"`
	MaxResults   int `json:"max_results,omitempty"`
}

// PermissionRule declares how the router must police a capability.
type PermissionRule struct {
	RestrictPathsToWorkdir bool `json:"restrict_paths_to_workdir"`
	RequireExplicitGrant   bool `json:"require_explicit_grant"`
	DenyInReplay           bool `json:"deny_in_replay"`
	Mutates                bool `json:"mutates"`
}

// Result is the normalized return of every capability handler.
type Result struct {
	Success  bool   `json:"success"`
	Output   any    `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
}

func ok(output any) Result {
	return Result{Success: true, Output: output}
}

func fail(code, format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...), Code: code}
}

// Env carries the process-level collaborators handlers may need. The
// router injects per-session values (working directory, memory locator)
// into arguments before invoking.
type Env struct {
	Memory  *memstore.Store
	Sandbox func(ctx context.Context, args map[string]any) Result
	HTTP    *http.Client
	DevMode bool
}

// Handler executes one capability call with validated arguments.
type Handler func(ctx context.Context, env *Env, args map[string]any) Result

// Spec binds a capability name to its schema, risk, budget, permission
// rule, and handler. The registry is the single source of truth for what
// is callable.
type Spec struct {
	Name        string
	Description string
	Risk        Risk
	Schema      []Field
	Budget      Budget
	Permission  PermissionRule
	Handler     Handler
}

// Registry holds every registered capability for one process.
type Registry struct {
	specs map[string]Spec
}

// Get looks up a capability by name.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns all specs keyed by name.
func (r *Registry) Specs() map[string]Spec {
	out := make(map[string]Spec, len(r.specs))
	for n, s := range r.specs {
		out[n] = s
	}
	return out
}

// NewRegistry builds the capability catalog. Host-exec capabilities are
// registered only in dev mode; otherwise the sandbox is the sole way to
// run anything.
func NewRegistry(devMode bool) *Registry {
	r := &Registry{specs: map[string]Spec{}}

	add := func(s Spec) { r.specs[s.Name] = s }

	add(Spec{
		Name:        "read_file",
		Description: "Read contents of a file.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "path", Kind: KindStr, Required: true},
			{Name: "max_bytes", Kind: KindInt},
		},
		Budget:     Budget{CallsPerTurn: 20, MaxBytes: 200_000},
		Permission: PermissionRule{RestrictPathsToWorkdir: true},
		Handler:    handleReadFile,
	})
	add(Spec{
		Name:        "write_file",
		Description: "Write content to a file.",
		Risk:        RiskHigh,
		Schema: []Field{
			{Name: "path", Kind: KindStr, Required: true},
			{Name: "content", Kind: KindStr, Required: true},
			{Name: "max_bytes", Kind: KindInt},
		},
		Budget: Budget{CallsPerTurn: 10, MaxBytes: 200_000},
		Permission: PermissionRule{
			RestrictPathsToWorkdir: true,
			RequireExplicitGrant:   true,
			DenyInReplay:           true,
			Mutates:                true,
		},
		Handler: handleWriteFile,
	})
	add(Spec{
		Name:        "list_dir",
		Description: "List contents of a directory.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "path", Kind: KindStr, Required: true},
			{Name: "max_items", Kind: KindInt},
		},
		Budget:     Budget{CallsPerTurn: 20, MaxResults: 2000},
		Permission: PermissionRule{RestrictPathsToWorkdir: true},
		Handler:    handleListDir,
	})
	add(Spec{
		Name:        "search_files",
		Description: "Find files matching a glob pattern.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "directory", Kind: KindStr, Required: true},
			{Name: "pattern", Kind: KindStr, Required: true},
			{Name: "max_results", Kind: KindInt},
		},
		Budget:     Budget{CallsPerTurn: 10, MaxResults: 500},
		Permission: PermissionRule{RestrictPathsToWorkdir: true},
		Handler:    handleSearchFiles,
	})

	add(Spec{
		Name:        "memory_store",
		Description: "Store a key/value pair in persistent memory.",
		Risk:        RiskMedium,
		Schema: []Field{
			{Name: "key", Kind: KindStr, Required: true},
			{Name: "value", Kind: KindStr, Required: true},
			{Name: "tags", Kind: KindList},
			{Name: "db_path", Kind: KindStr},
		},
		Budget:     Budget{CallsPerTurn: 30},
		Permission: PermissionRule{Mutates: true},
		Handler:    handleMemoryStore,
	})
	add(Spec{
		Name:        "memory_retrieve",
		Description: "Retrieve a value from persistent memory by key.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "key", Kind: KindStr, Required: true},
			{Name: "db_path", Kind: KindStr},
		},
		Budget:  Budget{CallsPerTurn: 40},
		Handler: handleMemoryRetrieve,
	})
	add(Spec{
		Name:        "memory_search",
		Description: "Search persistent memory by substring.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "query", Kind: KindStr, Required: true},
			{Name: "max_results", Kind: KindInt},
			{Name: "db_path", Kind: KindStr},
		},
		Budget:  Budget{CallsPerTurn: 40, MaxResults: 50},
		Handler: handleMemorySearch,
	})
	add(Spec{
		Name:        "memory_delete",
		Description: "Delete a key from persistent memory.",
		Risk:        RiskHigh,
		Schema: []Field{
			{Name: "key", Kind: KindStr, Required: true},
			{Name: "db_path", Kind: KindStr},
		},
		Budget: Budget{CallsPerTurn: 10},
		Permission: PermissionRule{
			RequireExplicitGrant: true,
			DenyInReplay:         true,
			Mutates:              true,
		},
		Handler: handleMemoryDelete,
	})

	add(Spec{
		Name:        "fetch_url",
		Description: "Fetch content from an HTTP or HTTPS URL.",
		Risk:        RiskMedium,
		Schema: []Field{
			{Name: "url", Kind: KindStr, Required: true},
			{Name: "max_bytes", Kind: KindInt},
			{Name: "timeout", Kind: KindInt},
		},
		Budget:  Budget{CallsPerTurn: 10, MaxBytes: 200_000},
		Handler: handleFetchURL,
	})
	add(Spec{
		Name:        "search_web",
		Description: "Search the web.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "query", Kind: KindStr, Required: true},
			{Name: "max_results", Kind: KindInt},
		},
		Budget:  Budget{CallsPerTurn: 10, MaxResults: 10},
		Handler: handleSearchWeb,
	})

	add(Spec{
		Name:        "sandbox_exec",
		Description: "Run a command inside an isolated container.",
		Risk:        RiskHigh,
		Schema: []Field{
			{Name: "command", Kind: KindStr, Required: true},
			{Name: "workdir", Kind: KindStr},
			{Name: "timeout_seconds", Kind: KindInt},
			{Name: "image", Kind: KindStr},
			{Name: "memory_limit", Kind: KindStr},
			{Name: "cpu_limit", Kind: KindStr},
			{Name: "network_disabled", Kind: KindBool},
			{Name: "env", Kind: KindDict},
			{Name: "max_output", Kind: KindInt},
		},
		Budget: Budget{CallsPerTurn: 8, MaxBytes: 200_000},
		Permission: PermissionRule{
			RestrictPathsToWorkdir: true,
			RequireExplicitGrant:   true,
			DenyInReplay:           true,
			Mutates:                true,
		},
		Handler: handleSandboxExec,
	})

	add(Spec{
		Name:        "grep_files",
		Description: "Search file contents with a regex.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "pattern", Kind: KindStr, Required: true},
			{Name: "directory", Kind: KindStr, Required: true},
			{Name: "file_pattern", Kind: KindStr},
			{Name: "max_results", Kind: KindInt},
			{Name: "context_lines", Kind: KindInt},
		},
		Budget:     Budget{CallsPerTurn: 20, MaxResults: 100},
		Permission: PermissionRule{RestrictPathsToWorkdir: true},
		Handler:    handleGrepFiles,
	})
	add(Spec{
		Name:        "apply_diff",
		Description: "Apply a unified diff to a file.",
		Risk:        RiskHigh,
		Schema: []Field{
			{Name: "file_path", Kind: KindStr, Required: true},
			{Name: "diff", Kind: KindStr, Required: true},
			{Name: "dry_run", Kind: KindBool},
		},
		Budget: Budget{CallsPerTurn: 10},
		Permission: PermissionRule{
			RestrictPathsToWorkdir: true,
			RequireExplicitGrant:   true,
			DenyInReplay:           true,
			Mutates:                true,
		},
		Handler: handleApplyDiff,
	})
	add(Spec{
		Name:        "get_symbols",
		Description: "Extract top-level declarations from a source file.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "file_path", Kind: KindStr, Required: true},
			{Name: "max_symbols", Kind: KindInt},
		},
		Budget:     Budget{CallsPerTurn: 20, MaxResults: 100},
		Permission: PermissionRule{RestrictPathsToWorkdir: true},
		Handler:    handleGetSymbols,
	})

	add(Spec{
		Name:        "think",
		Description: "Record a structured reasoning step. No side effects.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "thought", Kind: KindStr, Required: true},
			{Name: "category", Kind: KindStr},
		},
		Budget:  Budget{CallsPerTurn: 50},
		Handler: handleThink,
	})
	add(Spec{
		Name:        "plan",
		Description: "Create or update a task plan. No side effects.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "goal", Kind: KindStr, Required: true},
			{Name: "steps", Kind: KindList, Required: true},
			{Name: "current_step", Kind: KindInt},
		},
		Budget:  Budget{CallsPerTurn: 10},
		Handler: handlePlan,
	})
	add(Spec{
		Name:        "ask_user",
		Description: "Request clarification from the user.",
		Risk:        RiskLow,
		Schema: []Field{
			{Name: "question", Kind: KindStr, Required: true},
			{Name: "options", Kind: KindList},
			{Name: "context", Kind: KindStr},
		},
		Budget:  Budget{CallsPerTurn: 5},
		Handler: handleAskUser,
	})

	if devMode {
		hostExecPerm := PermissionRule{
			RestrictPathsToWorkdir: true,
			RequireExplicitGrant:   true,
			DenyInReplay:           true,
			Mutates:                true,
		}
		add(Spec{
			Name:        "run_command",
			Description: "Run a shell command directly on the host.",
			Risk:        RiskHigh,
			Schema: []Field{
				{Name: "command", Kind: KindStr, Required: true},
				{Name: "cwd", Kind: KindStr},
				{Name: "timeout", Kind: KindInt},
				{Name: "max_output", Kind: KindInt},
			},
			Budget:     Budget{CallsPerTurn: 12, MaxBytes: 100_000},
			Permission: hostExecPerm,
			Handler:    handleRunCommand,
		})
		add(Spec{
			Name:        "run_python",
			Description: "Run a Python snippet directly on the host.",
			Risk:        RiskHigh,
			Schema: []Field{
				{Name: "code", Kind: KindStr, Required: true},
				{Name: "cwd", Kind: KindStr},
				{Name: "timeout", Kind: KindInt},
				{Name: "max_output", Kind: KindInt},
			},
			Budget:     Budget{CallsPerTurn: 6, MaxBytes: 100_000},
			Permission: hostExecPerm,
			Handler:    handleRunPython,
		})
	}

	return r
}

// hostExecTools are the capabilities rewritten to sandbox_exec when a
// grant is missing.
var hostExecTools = map[string]bool{
	"run_command": true,
	"run_python":  true,
}

func isKind(v any, kind string) bool {
	switch kind {
	case KindStr:
		_, ok := v.(string)
		return ok
	case KindInt:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindDict:
		_, ok := v.(map[string]any)
		return ok
	case KindList:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case KindAny:
		return true
	}
	return false
}

// ValidateArguments checks args against the spec's schema. It rejects
// missing required fields, wrong kinds, and any field outside the schema.
func ValidateArguments(spec Spec, args map[string]any) *StructuredError {
	for _, f := range spec.Schema {
		if _, present := args[f.Name]; f.Required && !present {
			return Errorf(CodeSchemaMissingRequired, "missing required arg %q", f.Name).
				WithDetail("tool", spec.Name).WithDetail("arg", f.Name)
		}
	}
	for _, f := range spec.Schema {
		if v, present := args[f.Name]; present && !isKind(v, f.Kind) {
			return Errorf(CodeSchemaWrongType, "arg %q wrong type (expected %s)", f.Name, f.Kind).
				WithDetail("tool", spec.Name).WithDetail("arg", f.Name).WithDetail("expected", f.Kind)
		}
	}
	allowed := make(map[string]bool, len(spec.Schema))
	for _, f := range spec.Schema {
		allowed[f.Name] = true
	}
	var extras []string
	for k := range args {
		if !allowed[k] {
			extras = append(extras, k)
		}
	}
	if len(extras) > 0 {
		sort.Strings(extras)
		return Errorf(CodeSchemaUnexpectedArg, "unexpected args: %s", strings.Join(extras, ", ")).
			WithDetail("tool", spec.Name).WithDetail("args", extras)
	}
	return nil
}

// ResolveUnderWorkdir resolves path relative to workdir and verifies the
// result stays strictly inside it. Returns the absolute path on success.
func ResolveUnderWorkdir(workdir, path string) (string, *StructuredError) {
	wd, err := filepath.Abs(workdir)
	if err != nil {
		return "", Errorf(CodeDenyPathEscape, "cannot resolve working directory: %v", err)
	}
	if resolved, rerr := filepath.EvalSymlinks(wd); rerr == nil {
		wd = resolved
	}
	p := path
	if strings.HasPrefix(p, "~") {
		home, herr := os.UserHomeDir()
		if herr == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(wd, p)
	}
	p = filepath.Clean(p)
	// Resolve the deepest existing ancestor so symlinked escape routes
	// are judged by their target, not their name.
	if resolved, rerr := filepath.EvalSymlinks(p); rerr == nil {
		p = resolved
	}
	rel, err := filepath.Rel(wd, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", Errorf(CodeDenyPathEscape, "path escapes working directory: %s (wd=%s)", p, wd).
			WithDetail("path", path).WithDetail("workdir", wd)
	}
	return p, nil
}
