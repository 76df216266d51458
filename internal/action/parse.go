package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Proposal is the parsed top-level object a reasoner must return.
type Proposal struct {
	Actions []Proposed
}

// proposalSchema is the envelope contract for reasoner output. Payload
// shapes are checked per kind after envelope validation.
const proposalSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "kind": { "type": "string", "minLength": 1 },
          "payload": {},
          "justification": { "type": "string" },
          "risk_tags": { "type": "array", "items": { "type": "string" } }
        },
        "required": ["kind", "payload"]
      }
    }
  },
  "required": ["actions"]
}`

var proposalSchemaLoader = gojsonschema.NewStringLoader(proposalSchema)

// ParseProposal parses raw reasoner output into a Proposal. Markdown code
// fences around the JSON are tolerated; any other deviation from the
// contract is an error.
func ParseProposal(raw string) (Proposal, error) {
	text := StripFences(raw)

	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&obj); err != nil {
		return Proposal{}, fmt.Errorf("reasoner output is not valid JSON: %w", err)
	}

	result, err := gojsonschema.Validate(proposalSchemaLoader, gojsonschema.NewGoLoader(obj))
	if err != nil {
		return Proposal{}, fmt.Errorf("validate proposal: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return Proposal{}, fmt.Errorf("proposal schema: %s", strings.Join(errs, "; "))
	}

	rawActions := obj["actions"].([]any)
	actions := make([]Proposed, 0, len(rawActions))
	for i, ra := range rawActions {
		m := ra.(map[string]any)
		kind := Kind(m["kind"].(string))

		payload := m["payload"]
		if err := checkPayloadShape(kind, payload); err != nil {
			return Proposal{}, fmt.Errorf("actions[%d]: %w", i, err)
		}

		just, _ := m["justification"].(string)
		if just == "" {
			just = fmt.Sprintf("Auto: %s", kind)
		}

		var tags []string
		if rt, ok := m["risk_tags"].([]any); ok {
			for _, t := range rt {
				if s, ok := t.(string); ok {
					tags = append(tags, s)
				}
			}
		}

		actions = append(actions, Proposed{
			Kind:          kind,
			Payload:       payload,
			Justification: just,
			RiskTags:      tags,
		})
	}

	return Proposal{Actions: actions}, nil
}

func checkPayloadShape(kind Kind, payload any) error {
	switch kind {
	case KindPatch, KindCommand:
		if _, ok := payload.(string); !ok {
			return fmt.Errorf("%s payload must be a string", kind)
		}
	case KindPatchPlan, KindToolCall, KindMessageSend, KindMemoryWrite, KindPermissionRequest:
		if _, ok := payload.(map[string]any); !ok {
			return fmt.Errorf("%s payload must be an object", kind)
		}
	default:
		// Unknown kinds pass envelope parsing and fail closed at the gate.
	}
	return nil
}

// StripFences removes surrounding markdown code fences from reasoner output.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ParseSlashCommand parses chat commands of the form "/tool arg" into a
// tool_call action, bypassing the reasoner. Returns ok=false when text is
// not a slash command. The result still goes through gate and router.
func ParseSlashCommand(text string) (Proposed, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Proposed{}, false
	}

	parts := strings.SplitN(text[1:], " ", 2)
	tool := strings.TrimSpace(parts[0])
	if tool == "" {
		return Proposed{}, false
	}
	rest := ""
	if len(parts) > 1 {
		rest = strings.TrimSpace(parts[1])
	}

	args := map[string]any{}
	switch tool {
	case "read_file":
		args["path"] = rest
	case "list_dir":
		if rest == "" {
			rest = "./"
		}
		args["path"] = rest
	case "memory_store":
		if key, value, ok := strings.Cut(rest, ":"); ok {
			args["key"] = strings.TrimSpace(key)
			args["value"] = strings.TrimSpace(value)
		}
	case "memory_retrieve":
		args["key"] = rest
	case "memory_search":
		args["query"] = rest
	case "search_files":
		fields := strings.SplitN(rest, " ", 2)
		args["directory"] = "./"
		args["pattern"] = "*"
		if len(fields) > 0 && fields[0] != "" {
			args["directory"] = fields[0]
		}
		if len(fields) > 1 {
			args["pattern"] = fields[1]
		}
	case "fetch_url":
		args["url"] = rest
	default:
		if rest != "" {
			args["input"] = rest
		}
	}

	return Proposed{
		Kind:          KindToolCall,
		Payload:       map[string]any{"tool": tool, "args": args},
		Justification: fmt.Sprintf("User command: /%s", tool),
	}, true
}

// flatKindMap translates the loose "action" names some models emit onto
// canonical kinds.
var flatKindMap = map[string]Kind{
	"tool_call":          KindToolCall,
	"tool":               KindToolCall,
	"message":            KindMessageSend,
	"message_send":       KindMessageSend,
	"memory":             KindMemoryWrite,
	"memory_write":       KindMemoryWrite,
	"permission":         KindPermissionRequest,
	"permission_request": KindPermissionRequest,
}

// ParseFlatAction parses the single-action shorthand some models emit:
//
//	{"action": "tool_call", "tool": "read_file", "arguments": {...}, "justification": "..."}
//
// Returns ok=false when raw holds no parseable object.
func ParseFlatAction(raw string) (Proposed, bool) {
	text := StripFences(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return Proposed{}, false
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &data); err != nil {
		return Proposed{}, false
	}

	name, _ := data["action"].(string)
	if name == "" {
		name = "tool_call"
	}
	kind, ok := flatKindMap[name]
	if !ok {
		kind = KindToolCall
	}

	var payload any
	switch kind {
	case KindToolCall:
		tool, _ := data["tool"].(string)
		if tool == "" {
			tool, _ = data["name"].(string)
		}
		args, _ := data["arguments"].(map[string]any)
		if args == nil {
			args, _ = data["args"].(map[string]any)
		}
		if args == nil {
			args = map[string]any{}
		}
		payload = map[string]any{"tool": tool, "arguments": args}
	case KindMessageSend:
		msg, _ := data["message"].(string)
		if msg == "" {
			msg, _ = data["content"].(string)
		}
		payload = map[string]any{"message": msg}
	case KindMemoryWrite:
		key, _ := data["key"].(string)
		value, _ := data["value"].(string)
		payload = map[string]any{"key": key, "value": value}
		if tags, ok := data["tags"]; ok {
			payload.(map[string]any)["tags"] = tags
		}
	default:
		payload = data
	}

	just, _ := data["justification"].(string)
	if just == "" {
		just, _ = data["reason"].(string)
	}
	if just == "" {
		just = "No justification provided"
	}

	var tags []string
	if rt, ok := data["risk_tags"].([]any); ok {
		for _, t := range rt {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	return Proposed{Kind: kind, Payload: payload, Justification: just, RiskTags: tags}, true
}

// ParseResponse parses reasoner output, accepting either the actions
// envelope or the single-action shorthand.
func ParseResponse(raw string) (Proposal, error) {
	p, err := ParseProposal(raw)
	if err == nil {
		return p, nil
	}
	if a, ok := ParseFlatAction(raw); ok {
		return Proposal{Actions: []Proposed{a}}, nil
	}
	return Proposal{}, err
}
