package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/minutes/internal/agno"
	"github.com/kalambet/minutes/internal/prompt"
)

type stubGenerator struct {
	minutes Minutes
	err     error
	calls   int
}

func (s *stubGenerator) Generate(context.Context, string) (Minutes, error) {
	s.calls++
	return s.minutes, s.err
}

func TestService_RejectsBlankWithoutCallingBackend(t *testing.T) {
	gen := &stubGenerator{}
	svc := NewService(gen)

	_, err := svc.Generate(context.Background(), " \n ")
	assert.ErrorIs(t, err, ErrEmptyConversation)
	assert.Equal(t, 0, gen.calls)

	res := svc.Summarize(context.Background(), "")
	assert.False(t, res.Success)
	assert.Equal(t, ErrEmptyConversation.Error(), res.Content)
}

func TestService_Summarize(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
		want Result
	}{
		{
			name: "success",
			gen:  &stubGenerator{minutes: Minutes{Content: "# Minutes", Reasoning: "r"}},
			want: Result{Success: true, Content: "# Minutes"},
		},
		{
			name: "remote failure folded into result",
			gen:  &stubGenerator{err: &agno.StatusError{Code: 502, Body: "bad gateway"}},
			want: Result{Success: false, Content: "remote request error, status_code: 502, msg: bad gateway"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewService(tt.gen).Summarize(context.Background(), "transcript")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_MinutesKeepsReasoning(t *testing.T) {
	svc := NewService(&stubGenerator{minutes: Minutes{Content: "c", Reasoning: "why"}})
	m, err := svc.Minutes(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, "why", m.Reasoning)
}

type fakeRunner struct {
	agentID string
	req     agno.RunRequest
	resp    agno.RunResponse
	err     error
}

func (f *fakeRunner) RunAgent(_ context.Context, agentID string, req agno.RunRequest) (agno.RunResponse, error) {
	f.agentID = agentID
	f.req = req
	return f.resp, f.err
}

func TestAgentGenerator(t *testing.T) {
	runner := &fakeRunner{resp: agno.RunResponse{Content: "# Minutes", ReasoningContent: "thought"}}
	gen := NewAgentGenerator(runner, "summary-agent")

	m, err := gen.Generate(context.Background(), "Bob: hi")
	require.NoError(t, err)
	assert.Equal(t, Minutes{Content: "# Minutes", Reasoning: "thought"}, m)
	assert.Equal(t, "summary-agent", runner.agentID)
	assert.Equal(t, agno.RunRequest{Message: "Bob: hi"}, runner.req)
}

func TestAgentGenerator_WrapsStatusError(t *testing.T) {
	runner := &fakeRunner{err: &agno.StatusError{Code: 500, Body: "oops"}}
	_, err := NewAgentGenerator(runner, "summary-agent").Generate(context.Background(), "x")
	require.Error(t, err)

	var se *agno.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.Code)
}

func newChatServer(t *testing.T, handler func(body map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		code, payload := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIGenerator_SendsPromptAndReadsReasoning(t *testing.T) {
	var gotBody map[string]any
	srv := newChatServer(t, func(body map[string]any) (int, string) {
		gotBody = body
		return http.StatusOK, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "qwen3-30b-a3b-thinking-2507",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "# Minutes", "reasoning_content": "thinking hard"}
			}]
		}`
	})

	gen := NewOpenAIGenerator(OpenAIConfig{
		BaseURL: srv.URL + "/v1",
		APIKey:  "test-key",
		Prompt:  prompt.Prompt{System: "system prompt"},
	}, option.WithMaxRetries(0))

	m, err := gen.Generate(context.Background(), "Alice: hello")
	require.NoError(t, err)
	assert.Equal(t, "# Minutes", m.Content)
	assert.Equal(t, "thinking hard", m.Reasoning)

	assert.Equal(t, DefaultOpenAIModel, gotBody["model"])
	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "system prompt", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Equal(t, "Alice: hello", msgs[1].(map[string]any)["content"])
}

func TestOpenAIGenerator_NoReasoningField(t *testing.T) {
	srv := newChatServer(t, func(map[string]any) (int, string) {
		return http.StatusOK, `{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"done"}}]}`
	})

	gen := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "m"}, option.WithMaxRetries(0))
	m, err := gen.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Minutes{Content: "done"}, m)
}

func TestOpenAIGenerator_EmptyChoices(t *testing.T) {
	srv := newChatServer(t, func(map[string]any) (int, string) {
		return http.StatusOK, `{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[]}`
	})

	gen := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key"}, option.WithMaxRetries(0))
	m, err := gen.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, m.Content)
}

func TestOpenAIGenerator_APIError(t *testing.T) {
	srv := newChatServer(t, func(map[string]any) (int, string) {
		return http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`
	})

	gen := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key"}, option.WithMaxRetries(0))
	_, err := gen.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api error")
}
