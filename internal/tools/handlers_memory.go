package tools

import (
	"context"
	"errors"

	"github.com/cordon-ai/cordon/internal/memstore"
)

func handleMemoryStore(ctx context.Context, env *Env, args map[string]any) Result {
	if env == nil || env.Memory == nil {
		return fail(CodeToolInternalError, "memory store not configured")
	}
	key := argString(args, "key", "")
	value := argString(args, "value", "")
	tags := argStrings(args, "tags")

	if err := env.Memory.Put(ctx, key, value, tags); err != nil {
		return fail(CodeToolExternalFailure, "memory store failed: %v", err)
	}
	return ok(map[string]any{"key": key, "stored": true})
}

func handleMemoryRetrieve(ctx context.Context, env *Env, args map[string]any) Result {
	if env == nil || env.Memory == nil {
		return fail(CodeToolInternalError, "memory store not configured")
	}
	key := argString(args, "key", "")

	item, err := env.Memory.Get(ctx, key)
	if err != nil {
		if errors.Is(err, memstore.ErrNotFound) {
			return fail(CodeToolExternalFailure, "key not found: %s", key)
		}
		return fail(CodeToolExternalFailure, "memory retrieve failed: %v", err)
	}
	return ok(map[string]any{
		"key":   item.Key,
		"value": item.Value,
		"tags":  item.Tags,
	})
}

func handleMemorySearch(ctx context.Context, env *Env, args map[string]any) Result {
	if env == nil || env.Memory == nil {
		return fail(CodeToolInternalError, "memory store not configured")
	}
	query := argString(args, "query", "")
	maxResults := argInt(args, "max_results", 10)

	items, err := env.Memory.Search(ctx, query, maxResults)
	if err != nil {
		return fail(CodeToolExternalFailure, "memory search failed: %v", err)
	}
	results := make([]map[string]any, 0, len(items))
	for _, item := range items {
		results = append(results, map[string]any{
			"key":   item.Key,
			"value": item.Value,
			"tags":  item.Tags,
		})
	}
	return ok(map[string]any{"query": query, "results": results})
}

func handleMemoryDelete(ctx context.Context, env *Env, args map[string]any) Result {
	if env == nil || env.Memory == nil {
		return fail(CodeToolInternalError, "memory store not configured")
	}
	key := argString(args, "key", "")

	if err := env.Memory.Delete(ctx, key); err != nil {
		if errors.Is(err, memstore.ErrNotFound) {
			return fail(CodeToolExternalFailure, "key not found: %s", key)
		}
		return fail(CodeToolExternalFailure, "memory delete failed: %v", err)
	}
	return ok(map[string]any{"key": key, "deleted": true})
}
