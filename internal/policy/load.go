package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk YAML shape of a policy. Absent fields keep the
// default policy's values.
type Document struct {
	Base string `yaml:"base"` // "default" or "dev"

	AllowedTools          []string              `yaml:"allowed_tools"`
	ToolPolicies          map[string]ToolPolicy `yaml:"tool_policies"`
	AllowedPathPrefixes   []string              `yaml:"allowed_path_prefixes"`
	BlockedPathPatterns   []string              `yaml:"blocked_path_patterns"`
	AllowedDomains        []string              `yaml:"allowed_domains"`
	BlockedEgressPatterns []string              `yaml:"blocked_egress_patterns"`

	MaxPayloadBytes       *int  `yaml:"max_payload_bytes"`
	MaxActionsPerSession  *int  `yaml:"max_actions_per_session"`
	MinJustificationChars *int  `yaml:"min_justification_chars"`
	ElevationApproval     *bool `yaml:"elevation_requires_approval"`

	AllowCommands          *bool    `yaml:"allow_commands"`
	BlockedCommandPrefixes []string `yaml:"blocked_command_prefixes"`
	RequireCleanForPatch   *bool    `yaml:"require_clean_for_patch"`
	MaxPatchBytes          *int     `yaml:"max_patch_bytes"`
}

// Load reads a YAML policy document and resolves it against its base.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return doc.Resolve()
}

// Resolve applies the document's overrides on top of its base policy.
func (d Document) Resolve() (*Policy, error) {
	var p *Policy
	switch d.Base {
	case "", "default":
		p = Default()
	case "dev":
		p = Dev()
	default:
		return nil, fmt.Errorf("policy: unknown base %q", d.Base)
	}

	if len(d.AllowedTools) > 0 {
		p.AllowedTools = toSet(d.AllowedTools...)
	}
	if len(d.ToolPolicies) > 0 {
		p.ToolPolicies = d.ToolPolicies
	}
	if len(d.AllowedPathPrefixes) > 0 {
		p.AllowedPathPrefixes = d.AllowedPathPrefixes
	}
	if len(d.BlockedPathPatterns) > 0 {
		res, err := compilePathPatterns(d.BlockedPathPatterns)
		if err != nil {
			return nil, err
		}
		p.blockedPathPatterns = res
	}
	if len(d.AllowedDomains) > 0 {
		p.AllowedDomains = toSet(d.AllowedDomains...)
	}
	if len(d.BlockedEgressPatterns) > 0 {
		res, err := compileEgressPatterns(d.BlockedEgressPatterns)
		if err != nil {
			return nil, err
		}
		p.blockedEgressPatterns = res
	}
	if d.MaxPayloadBytes != nil {
		p.MaxPayloadBytes = *d.MaxPayloadBytes
	}
	if d.MaxActionsPerSession != nil {
		p.MaxActionsPerSession = *d.MaxActionsPerSession
	}
	if d.MinJustificationChars != nil {
		p.MinJustificationChars = *d.MinJustificationChars
	}
	if d.ElevationApproval != nil {
		p.ElevationRequiresApproval = *d.ElevationApproval
	}
	if d.AllowCommands != nil {
		p.AllowCommands = *d.AllowCommands
	}
	if len(d.BlockedCommandPrefixes) > 0 {
		p.BlockedCommandPrefixes = d.BlockedCommandPrefixes
	}
	if d.RequireCleanForPatch != nil {
		p.RequireCleanForPatch = *d.RequireCleanForPatch
	}
	if d.MaxPatchBytes != nil {
		p.MaxPatchBytes = *d.MaxPatchBytes
	}
	return p, nil
}
