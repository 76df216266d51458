package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

func argString(args map[string]any, key, def string) string {
	if v, present := args[key].(string); present {
		return v
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, present := args[key].(bool); present {
		return v
	}
	return def
}

func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, isStr := item.(string); isStr {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func handleReadFile(_ context.Context, _ *Env, args map[string]any) Result {
	path := argString(args, "path", "")
	maxBytes := argInt(args, "max_bytes", 100_000)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(CodeToolExternalFailure, "file not found: %s", path)
		}
		return fail(CodeToolExternalFailure, "%v", err)
	}
	if info.IsDir() {
		return fail(CodeToolBadArgs, "not a file: %s", path)
	}
	if info.Size() > int64(maxBytes) {
		return fail(CodeDenyPayloadSize, "file too large: %d > %d", info.Size(), maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fail(CodeToolExternalFailure, "%v", err)
	}
	return ok(string(content))
}

func handleWriteFile(_ context.Context, _ *Env, args map[string]any) Result {
	path := argString(args, "path", "")
	content := argString(args, "content", "")
	maxBytes := argInt(args, "max_bytes", 100_000)

	if len(content) > maxBytes {
		return fail(CodeDenyPayloadSize, "content too large: > %d bytes", maxBytes)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(CodeToolExternalFailure, "%v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fail(CodeToolExternalFailure, "%v", err)
	}
	return ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

func handleListDir(_ context.Context, _ *Env, args map[string]any) Result {
	path := argString(args, "path", "")
	maxItems := argInt(args, "max_items", 1000)

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(CodeToolExternalFailure, "directory not found: %s", path)
		}
		return fail(CodeToolExternalFailure, "%v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]string, 0, len(entries))
	for i, e := range entries {
		if i >= maxItems {
			items = append(items, fmt.Sprintf("... truncated at %d items", maxItems))
			break
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		items = append(items, name)
	}
	return ok(items)
}

func handleSearchFiles(_ context.Context, _ *Env, args map[string]any) Result {
	dir := argString(args, "directory", "")
	pattern := argString(args, "pattern", "")
	maxResults := argInt(args, "max_results", 100)

	if _, err := os.Stat(dir); err != nil {
		return fail(CodeToolExternalFailure, "directory not found: %s", dir)
	}

	var matches []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= maxResults {
			return filepath.SkipAll
		}
		matched, merr := filepath.Match(pattern, d.Name())
		if merr != nil {
			return merr
		}
		if matched && path != dir {
			rel, rerr := filepath.Rel(dir, path)
			if rerr == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return fail(CodeToolBadArgs, "invalid pattern %q: %v", pattern, err)
	}
	return ok(matches)
}
