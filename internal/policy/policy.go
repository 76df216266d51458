// Package policy holds the immutable rule set the gate evaluates proposals
// against. Policies are data, not code; the gate stays a pure function.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// ToolPolicy narrows the global policy for a single tool.
type ToolPolicy struct {
	Name                string   `yaml:"name"`
	Enabled             bool     `yaml:"enabled"`
	AllowedPathPrefixes []string `yaml:"allowed_path_prefixes"`
	BlockedPathPatterns []string `yaml:"blocked_path_patterns"`
	AllowedDomains      []string `yaml:"allowed_domains"`
	BlockedDomains      []string `yaml:"blocked_domains"`
	MaxPayloadBytes     int      `yaml:"max_payload_bytes"`
	MaxOutputBytes      int      `yaml:"max_output_bytes"`
	MaxCallsPerMinute   int      `yaml:"max_calls_per_minute"`
	RequiresPermission  string   `yaml:"requires_permission"`
}

// Policy is the complete rule set for a session. It is immutable for the
// session's lifetime; different sessions may carry different policies.
type Policy struct {
	AllowedTools map[string]bool
	ToolPolicies map[string]ToolPolicy

	AllowedPathPrefixes []string
	blockedPathPatterns []*regexp.Regexp

	AllowedDomains map[string]bool

	blockedEgressPatterns []*regexp.Regexp

	MaxPayloadBytes       int
	MaxActionsPerSession  int
	MinJustificationChars int

	// ElevationRequiresApproval denies permission_request actions at the
	// gate so a human must grant them out of band.
	ElevationRequiresApproval bool

	// AllowCommands opens the raw command path. Off outside dev mode.
	AllowCommands          bool
	BlockedCommandPrefixes []string
	RequireCleanForPatch   bool
	MaxPatchBytes          int
}

// Blocked path patterns are matched case-insensitively against the start
// of the path, egress patterns anywhere in the content.
var (
	defaultBlockedPathPatterns = []string{
		`.*\.env$`,
		`.*\.ssh/.*`,
		`.*\.aws/.*`,
		`.*/\.git/.*`,
		`.*secrets.*`,
		`.*password.*`,
	}
	defaultBlockedEgressPatterns = []string{
		`sk-[a-zA-Z0-9]{48}`,
		`AKIA[A-Z0-9]{16}`,
		`ghp_[a-zA-Z0-9]{36}`,
		`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	}
	defaultBlockedCommandPrefixes = []string{
		"rm ",
		"sudo ",
		"curl ",
		"wget ",
		"powershell",
		"invoke-",
	}
)

func compilePathPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("policy: path pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileEgressPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("policy: egress pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func mustCompile(patterns []string, f func([]string) ([]*regexp.Regexp, error)) []*regexp.Regexp {
	res, err := f(patterns)
	if err != nil {
		panic(err)
	}
	return res
}

func toSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Default returns the restrictive policy used when nothing else is
// configured: read-mostly tools, paths under ./ and /tmp/, a short domain
// allowlist, no raw commands.
func Default() *Policy {
	return &Policy{
		AllowedTools: toSet(
			"read_file", "list_dir", "search_files",
			"memory_store", "memory_retrieve",
			"message_send",
		),
		ToolPolicies:        map[string]ToolPolicy{},
		AllowedPathPrefixes: []string{"/tmp/", "./"},
		blockedPathPatterns: mustCompile(defaultBlockedPathPatterns, compilePathPatterns),
		AllowedDomains: toSet(
			"api.openai.com", "api.anthropic.com",
			"www.google.com", "github.com",
		),
		blockedEgressPatterns:     mustCompile(defaultBlockedEgressPatterns, compileEgressPatterns),
		MaxPayloadBytes:           100_000,
		MaxActionsPerSession:      1000,
		MinJustificationChars:     5,
		ElevationRequiresApproval: true,
		AllowCommands:             false,
		BlockedCommandPrefixes:    defaultBlockedCommandPrefixes,
		RequireCleanForPatch:      true,
		MaxPatchBytes:             500_000,
	}
}

// Dev returns a permissive policy for local development: write tools,
// shell commands, any domain.
func Dev() *Policy {
	p := Default()
	p.AllowedTools = toSet(
		"read_file", "write_file", "list_dir", "search_files",
		"memory_store", "memory_retrieve", "memory_search",
		"message_send",
		"shell_command",
		"fetch_url",
	)
	p.AllowedPathPrefixes = []string{"./", "/tmp/", "/Users/", "/home/"}
	p.AllowedDomains = nil // empty means allow all
	p.ElevationRequiresApproval = false
	p.AllowCommands = true
	return p
}

// IsToolAllowed reports whether the tool is on the allowlist.
func (p *Policy) IsToolAllowed(tool string) bool {
	return p.AllowedTools[tool]
}

// GetToolPolicy returns the per-tool override, if any.
func (p *Policy) GetToolPolicy(tool string) (ToolPolicy, bool) {
	tp, ok := p.ToolPolicies[tool]
	return tp, ok
}

// CheckPath reports whether a path passes the blocked patterns and the
// allowed prefix list. Blocked patterns win over prefixes.
func (p *Policy) CheckPath(path string) (bool, string) {
	for _, re := range p.blockedPathPatterns {
		if re.MatchString(path) {
			return false, fmt.Sprintf("Path matches blocked pattern: %s", re.String())
		}
	}
	if len(p.AllowedPathPrefixes) > 0 {
		for _, prefix := range p.AllowedPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				return true, "Path allowed"
			}
		}
		return false, fmt.Sprintf("Path not in allowed prefixes: %v", p.AllowedPathPrefixes)
	}
	return true, "Path allowed"
}

// CheckDomain reports whether a hostname passes the domain allowlist. An
// empty allowlist allows everything.
func (p *Policy) CheckDomain(domain string) (bool, string) {
	domain = strings.ToLower(domain)
	if len(p.AllowedDomains) > 0 && !p.AllowedDomains[domain] {
		return false, fmt.Sprintf("Domain not in allowlist: %s", domain)
	}
	return true, "Domain allowed"
}

// CheckEgress scans content for secret and PII patterns.
func (p *Policy) CheckEgress(content string) (bool, string) {
	for _, re := range p.blockedEgressPatterns {
		if re.MatchString(content) {
			return false, "Content matches blocked egress pattern"
		}
	}
	return true, "Content clean"
}

// IsBlockedCommand reports whether cmd starts with a blocked prefix after
// trimming and lowercasing.
func (p *Policy) IsBlockedCommand(cmd string) bool {
	s := strings.ToLower(strings.TrimSpace(cmd))
	for _, prefix := range p.BlockedCommandPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
