package tools

import "context"

func handleThink(_ context.Context, _ *Env, args map[string]any) Result {
	return ok(map[string]any{
		"category": argString(args, "category", "reasoning"),
		"thought":  argString(args, "thought", ""),
		"recorded": true,
	})
}

func handlePlan(_ context.Context, _ *Env, args map[string]any) Result {
	goal := argString(args, "goal", "")
	steps := argStrings(args, "steps")
	current := argInt(args, "current_step", 0)

	out := make([]map[string]any, 0, len(steps))
	for i, s := range steps {
		status := "pending"
		switch {
		case i < current:
			status = "done"
		case i == current:
			status = "current"
		}
		out = append(out, map[string]any{"index": i, "step": s, "status": status})
	}
	return ok(map[string]any{
		"goal":         goal,
		"steps":        out,
		"current_step": current,
		"total_steps":  len(steps),
	})
}

// ask_user signals that the agent needs input; the chat layer handles the
// actual interaction.
func handleAskUser(_ context.Context, _ *Env, args map[string]any) Result {
	out := map[string]any{
		"type":              "user_question",
		"question":          argString(args, "question", ""),
		"awaiting_response": true,
	}
	if opts := argStrings(args, "options"); len(opts) > 0 {
		out["options"] = opts
	}
	if c := argString(args, "context", ""); c != "" {
		out["context"] = c
	}
	return ok(out)
}
