package action

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProposalPlain(t *testing.T) {
	t.Parallel()

	p, err := ParseProposal(`{"actions":[{"kind":"message_send","payload":{"message":"hi"},"justification":"greeting the user"}]}`)
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)
	require.Equal(t, KindMessageSend, p.Actions[0].Kind)
	require.Equal(t, "greeting the user", p.Actions[0].Justification)
}

func TestParseProposalStripsFences(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"actions\":[{\"kind\":\"command\",\"payload\":\"ls -la\",\"justification\":\"inspect workdir\"}]}\n```"
	p, err := ParseProposal(raw)
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)
	s, ok := p.Actions[0].PayloadString()
	require.True(t, ok)
	require.Equal(t, "ls -la", s)
}

func TestParseProposalRejectsEmptyActions(t *testing.T) {
	t.Parallel()

	_, err := ParseProposal(`{"actions":[]}`)
	require.Error(t, err)
}

func TestParseProposalRejectsNonJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseProposal("I think we should read the file first.")
	require.Error(t, err)
}

func TestParseProposalRejectsWrongPayloadShape(t *testing.T) {
	t.Parallel()

	_, err := ParseProposal(`{"actions":[{"kind":"tool_call","payload":"read_file","justification":"call the read tool"}]}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "actions[0]")
}

func TestParseProposalDefaultsJustification(t *testing.T) {
	t.Parallel()

	p, err := ParseProposal(`{"actions":[{"kind":"patch","payload":"--- a\n+++ b\n"}]}`)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(p.Actions[0].Justification, "Auto:"))
}

func TestProposedIDIgnoresJustification(t *testing.T) {
	t.Parallel()

	a := Proposed{Kind: KindCommand, Payload: "ls", Justification: "first reason here"}
	b := Proposed{Kind: KindCommand, Payload: "ls", Justification: "second reason here"}

	idA, err := a.ID()
	require.NoError(t, err)
	idB, err := b.ID()
	require.NoError(t, err)
	require.Equal(t, idA, idB)

	hashA, err := a.Hash()
	require.NoError(t, err)
	hashB, err := b.Hash()
	require.NoError(t, err)
	require.NotEqual(t, hashA, hashB)
}

func TestWorldSnapshotToState(t *testing.T) {
	t.Parallel()

	w := WorldSnapshot{
		SessionID:      "sess-1",
		WorldStateHash: "abc",
		SystemClean:    true,
		Metadata:       map[string]any{"k": "v"},
	}
	s := w.ToState()
	require.Equal(t, "sess-1", s.RepoID)
	require.Equal(t, "abc", s.FSTreeHash)
	require.Equal(t, "agent", s.Toolchain)
	require.True(t, s.TestsPassed)
}

func TestParseSlashCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		tool string
		args map[string]any
	}{
		{"/read_file notes.txt", "read_file", map[string]any{"path": "notes.txt"}},
		{"/list_dir", "list_dir", map[string]any{"path": "./"}},
		{"/memory_store color: blue", "memory_store", map[string]any{"key": "color", "value": "blue"}},
		{"/memory_search preferences", "memory_search", map[string]any{"query": "preferences"}},
		{"/search_files ./src *.go", "search_files", map[string]any{"directory": "./src", "pattern": "*.go"}},
	}
	for _, tc := range cases {
		got, ok := ParseSlashCommand(tc.in)
		require.True(t, ok, tc.in)
		require.Equal(t, KindToolCall, got.Kind)
		payload, _ := got.PayloadMap()
		require.Equal(t, tc.tool, payload["tool"], tc.in)
		require.Equal(t, tc.args, payload["args"], tc.in)
	}

	_, ok := ParseSlashCommand("plain chat text")
	require.False(t, ok)
	_, ok = ParseSlashCommand("/")
	require.False(t, ok)
}

func TestParseFlatAction(t *testing.T) {
	t.Parallel()

	a, ok := ParseFlatAction(`{"action":"tool_call","tool":"read_file","arguments":{"path":"notes.txt"},"justification":"inspect the notes"}`)
	require.True(t, ok)
	require.Equal(t, KindToolCall, a.Kind)
	payload, _ := a.PayloadMap()
	require.Equal(t, "read_file", payload["tool"])
	require.Equal(t, "inspect the notes", a.Justification)

	a, ok = ParseFlatAction(`{"action":"message","content":"done"}`)
	require.True(t, ok)
	require.Equal(t, KindMessageSend, a.Kind)
	payload, _ = a.PayloadMap()
	require.Equal(t, "done", payload["message"])
	require.Equal(t, "No justification provided", a.Justification)

	a, ok = ParseFlatAction("Sure, I'll run it: {\"action\":\"memory\",\"key\":\"color\",\"value\":\"blue\",\"reason\":\"user asked to remember\"}")
	require.True(t, ok)
	require.Equal(t, KindMemoryWrite, a.Kind)
	require.Equal(t, "user asked to remember", a.Justification)

	_, ok = ParseFlatAction("no json here")
	require.False(t, ok)
}

func TestParseResponseAcceptsBothForms(t *testing.T) {
	t.Parallel()

	p, err := ParseResponse(`{"actions":[{"kind":"message_send","payload":{"message":"hi"},"justification":"greeting the user"}]}`)
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)

	p, err = ParseResponse(`{"action":"tool_call","tool":"list_dir","args":{"path":"./"},"justification":"list the workdir"}`)
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)
	require.Equal(t, KindToolCall, p.Actions[0].Kind)

	_, err = ParseResponse("I refuse to answer in JSON.")
	require.Error(t, err)
}
