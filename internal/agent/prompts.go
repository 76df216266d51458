// Package agent runs the core turn loop: reason, parse, gate, execute,
// record. The reasoner is untrusted; every proposed action passes the
// gate before anything touches the world.
package agent

// systemPrompt is the action contract the reasoner must follow.
const systemPrompt = `You are an assistant that MUST output a single JSON object and nothing else.

You propose actions. A safety gate will allow/deny each action.
If a tool is denied, continue with other actions or ask for permission.

You MUST follow this schema:

{
  "actions": [
    {
      "kind": "<string>",
      "payload": { ... }
    }
  ]
}

Allowed kinds:
- "message_send": payload {"message": "<string>"}
- "tool_call": payload {"tool": "<string>", "args": {...}}
- "memory_write": payload {"key": "<string>", "value": "<string>", "tags": ["..."]?}
- "permission_request": payload {"request": "<string>", "why": "<string>"}

Rules:
- Usually propose 1-3 actions.
- If you can answer directly, do only "message_send".
- Use "tool_call" only if needed.
- If a tool might be sensitive, do "permission_request" first.
- Never output markdown. JSON only.
`

// userPrompt wraps the user text with its context block.
func userPrompt(userText, contextBlock string) string {
	return "Context:\n" + contextBlock + "\n\nUser:\n" + userText + "\n\nReturn JSON only."
}
