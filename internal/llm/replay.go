package llm

import (
	"context"
	"time"

	"github.com/cordon-ai/cordon/internal/replay"
	"github.com/cordon-ai/cordon/internal/tools"
)

// RecordingClient wraps a live client and appends every exchange to a
// replay file.
type RecordingClient struct {
	inner    Client
	recorder *replay.Recorder
}

// NewRecordingClient wraps inner with a recorder.
func NewRecordingClient(inner Client, recorder *replay.Recorder) *RecordingClient {
	return &RecordingClient{inner: inner, recorder: recorder}
}

func (c *RecordingClient) Model() string { return c.inner.Model() }

func (c *RecordingClient) Chat(ctx context.Context, system, user string) (Response, error) {
	start := time.Now()
	resp, err := c.inner.Chat(ctx, system, user)
	if err != nil {
		return resp, err
	}
	latencyMS := float64(time.Since(start)) / float64(time.Millisecond)
	meta := map[string]any{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}
	if recErr := c.recorder.Record(system, user, resp.Model, resp.Content, latencyMS, meta); recErr != nil {
		return Response{}, tools.Errorf(tools.CodeLLMProviderError, "record exchange: %v", recErr)
	}
	return resp, nil
}

// PlaybackClient serves recorded responses and never touches the network.
// An unmatched or exhausted request is an error so replays fail loudly
// instead of silently diverging.
type PlaybackClient struct {
	player *replay.Player
	model  string
}

// NewPlaybackClient builds a playback client over a loaded player.
func NewPlaybackClient(player *replay.Player, model string) *PlaybackClient {
	if model == "" {
		model = "replay"
	}
	return &PlaybackClient{player: player, model: model}
}

func (c *PlaybackClient) Model() string { return c.model }

func (c *PlaybackClient) Chat(_ context.Context, system, user string) (Response, error) {
	content, ok := c.player.Get(system, user, c.model)
	if !ok {
		return Response{}, tools.Errorf(tools.CodeLLMProviderError,
			"replay miss: no recorded response (remaining=%d)", c.player.Remaining())
	}
	return Response{Content: content, Model: c.model}, nil
}
