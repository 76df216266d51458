package tools

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

const fetchUserAgent = "cordon-agent/1.0"

func handleFetchURL(ctx context.Context, env *Env, args map[string]any) Result {
	rawURL := argString(args, "url", "")
	maxBytes := argInt(args, "max_bytes", 100_000)
	timeout := argInt(args, "timeout", 10)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fail(CodeSchemaInvalidFormat, "invalid url: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fail(CodeSchemaInvalidFormat, "invalid scheme: %s", parsed.Scheme)
	}

	client := http.DefaultClient
	if env != nil && env.HTTP != nil {
		client = env.HTTP
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail(CodeToolBadArgs, "%v", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return fail(CodeToolTimeout, "request timed out after %ds", timeout)
		}
		return fail(CodeToolExternalFailure, "fetch failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)))
	if err != nil {
		return fail(CodeToolExternalFailure, "read failed: %v", err)
	}

	return ok(map[string]any{
		"url":          rawURL,
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      string(body),
		"truncated":    len(body) >= maxBytes,
	})
}

// search_web has no backing provider wired in; it reports the gap rather
// than inventing results.
func handleSearchWeb(_ context.Context, _ *Env, args map[string]any) Result {
	query := argString(args, "query", "")
	return ok(map[string]any{
		"query":   query,
		"results": []any{},
		"note":    "web search has no provider configured",
	})
}
