package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/npezzotti/meeting-relay/internal/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", content)
}

func newCompletionServer(t *testing.T, chunks []string, gotReq *openai.ChatCompletionRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if gotReq != nil {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(raw, gotReq))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			io.WriteString(w, c)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func TestService_Stream(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := newCompletionServer(t, []string{chunk("Hel"), chunk(""), chunk("lo")}, &got)
	defer srv.Close()

	svc := NewService(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Temperature: 0.7, MaxTokens: 300}, testutil.TestLogger(t))
	require.True(t, svc.Configured())

	var parts []string
	err := svc.Stream(context.Background(), Request{Message: "Who spoke?"}, func(content string) error {
		parts = append(parts, content)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, parts, "expected empty deltas to be skipped")
	assert.Equal(t, openai.GPT4oMini, got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 300, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 0.001)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[1].Role)
	assert.Equal(t, "Who spoke?", got.Messages[1].Content)
}

func TestService_StreamEmitError(t *testing.T) {
	srv := newCompletionServer(t, []string{chunk("a"), chunk("b")}, nil)
	defer srv.Close()

	svc := NewService(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, testutil.TestLogger(t))
	stop := errors.New("client went away")

	calls := 0
	err := svc.Stream(context.Background(), Request{Message: "x"}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestService_StreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	svc := NewService(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, testutil.TestLogger(t))
	err := svc.Stream(context.Background(), Request{Message: "x"}, func(string) error { return nil })
	assert.Error(t, err)
}

func TestService_NotConfigured(t *testing.T) {
	svc := NewService(Config{}, testutil.TestLogger(t))
	assert.False(t, svc.Configured())

	err := svc.Stream(context.Background(), Request{Message: "x"}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBuildContext(t *testing.T) {
	tests := []struct {
		name        string
		sessions    []SessionSummary
		transcripts []TranscriptSummary
		want        []string
		notWant     []string
	}{
		{
			name: "empty",
		},
		{
			name:     "sessions",
			sessions: []SessionSummary{{Id: "s1", Status: "started", CreatedAt: "2024-01-01T00:00:00Z"}},
			want:     []string{"Session Data:", "- Session ID: s1", "  Status: started", "  Created: 2024-01-01T00:00:00Z"},
			notWant:  []string{"Transcript Data:"},
		},
		{
			name: "transcripts",
			transcripts: []TranscriptSummary{
				{Data: map[string]any{"speaker_name": "Ada", "transcription": map[string]any{"transcript": "hello"}}},
				{Data: map[string]any{"transcript": "flat"}},
				{Data: map[string]any{"speaker_name": "Silent"}},
				{},
			},
			want:    []string{"Transcript Data:", "- Ada: hello", "- Unknown: flat"},
			notWant: []string{"Silent", "Session Data:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildContext(tt.sessions, tt.transcripts)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
			}
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, got, nw)
			}
		})
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages(Request{
		Message: "summarize",
		ChatHistory: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Content: "no role"},
		},
		Transcripts: []TranscriptSummary{{Data: map[string]any{"transcript": "we shipped"}}},
	})

	require.Len(t, msgs, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "You are a helpful assistant analyzing meeting session data"))
	assert.Contains(t, msgs[0].Content, "- Unknown: we shipped")
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[3].Role, "expected a missing role to default to user")
	assert.Equal(t, "summarize", msgs[4].Content)
}
