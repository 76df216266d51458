package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cordon-ai/cordon/internal/replay"
	"github.com/cordon-ai/cordon/internal/tools"
)

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func testConfig(url string) Config {
	return Config{BaseURL: url, APIKey: "test-key", Model: "test-model"}
}

func TestHTTPClientChat(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, http.StatusOK, `{
		"model": "test-model-001",
		"choices": [{"message": {"content": "<think>hmm</think>{\"action\":\"message_send\"}"}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 7}
	}`)
	defer srv.Close()

	c := NewHTTPClient(testConfig(srv.URL), zerolog.Nop())
	resp, err := c.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	require.Equal(t, `{"action":"message_send"}`, resp.Content)
	require.Equal(t, "test-model-001", resp.Model)
	require.Equal(t, 12, resp.Usage.PromptTokens)
}

func TestHTTPClientErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		body   string
		code   string
	}{
		{http.StatusTooManyRequests, `{}`, tools.CodeLLMRateLimit},
		{http.StatusInternalServerError, `{}`, tools.CodeLLMProviderError},
		{http.StatusOK, `{"error": {"message": "bad model"}}`, tools.CodeLLMProviderError},
		{http.StatusOK, `{"choices": []}`, tools.CodeLLMEmptyResponse},
		{http.StatusOK, `not json`, tools.CodeLLMParseError},
	}
	for _, tc := range cases {
		srv := chatServer(t, tc.status, tc.body)
		c := NewHTTPClient(testConfig(srv.URL), zerolog.Nop())
		_, err := c.Chat(context.Background(), "sys", "user")
		require.Error(t, err)
		require.Equal(t, tc.code, ErrorCode(err), "status=%d body=%s", tc.status, tc.body)
		srv.Close()
	}
}

func TestErrorCodeFallback(t *testing.T) {
	t.Parallel()
	require.Equal(t, tools.CodeLLMProviderError, ErrorCode(errors.New("plain")))
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://api.openai.com/v1":         "https://api.openai.com/v1",
		"https://api.openai.com/v1/":        "https://api.openai.com/v1",
		"https://host/v1/chat/completions":  "https://host/v1",
		"https://host/v1/chat/completions/": "https://host/v1",
		"":                                  "",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeBaseURL(in), in)
	}
}

func TestStripThinkBlocks(t *testing.T) {
	t.Parallel()

	require.Equal(t, "out", StripThinkBlocks("<think>x</think>out"))
	require.Equal(t, "a b", StripThinkBlocks("a <think>1</think>b<think>2</think>"))
	require.Equal(t, "head", StripThinkBlocks("head<think>never closed"))
	require.Equal(t, "plain", StripThinkBlocks("plain"))
}

func TestDemoClientShapes(t *testing.T) {
	t.Parallel()

	c := DemoClient{}
	resp, err := c.Chat(context.Background(), "sys", "please list the files here")
	require.NoError(t, err)

	var proposal map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Content), &proposal))
	require.Equal(t, "tool_call", proposal["action"])
	require.Equal(t, "list_dir", proposal["tool"])

	resp, err = c.Chat(context.Background(), "sys", "what is the weather")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resp.Content), &proposal))
	require.Equal(t, "message_send", proposal["action"])
	require.NotEmpty(t, proposal["justification"])
}

func TestRecordThenPlayback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "llm_replay.jsonl")
	rec, err := replay.NewRecorder(path, "secret", true)
	require.NoError(t, err)

	live := NewRecordingClient(DemoClient{}, rec)
	first, err := live.Chat(context.Background(), "sys", "list the files")
	require.NoError(t, err)

	player, err := replay.NewPlayer(path, replay.PlayerOptions{
		Secret:      "secret",
		VerifyHMAC:  true,
		VerifyChain: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, player.Count())

	back := NewPlaybackClient(player, "demo")
	resp, err := back.Chat(context.Background(), "sys", "list the files")
	require.NoError(t, err)
	require.Equal(t, first.Content, resp.Content)

	_, err = back.Chat(context.Background(), "sys", "list the files")
	require.Error(t, err)
	require.Equal(t, tools.CodeLLMProviderError, ErrorCode(err))
}
