// Package chat answers questions about meetings by streaming a chat
// completion grounded in the sessions and transcripts the caller supplies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

const systemPromptTemplate = "You are a helpful assistant analyzing meeting session data and transcripts. " +
	"You have access to the following data:%s\n\n" +
	"Use this data to answer questions accurately. If the data doesn't contain information to answer a question, say so politely."

var ErrNotConfigured = errors.New("chat completion API key not configured")

type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	BaseURL string
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SessionSummary struct {
	Id        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type TranscriptSummary struct {
	Data map[string]any `json:"data"`
}

type Request struct {
	Message     string              `json:"message" validate:"required"`
	ChatHistory []Message           `json:"chatHistory"`
	SessionData []SessionSummary    `json:"sessionData"`
	Transcripts []TranscriptSummary `json:"transcripts"`
}

type Service struct {
	log         zerolog.Logger
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewService returns a service whose Stream fails with ErrNotConfigured when
// no API key is set.
func NewService(cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		log:         logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if s.model == "" {
		s.model = openai.GPT4oMini
	}

	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		s.client = openai.NewClientWithConfig(oc)
	}
	return s
}

func (s *Service) Configured() bool {
	return s.client != nil
}

// BuildContext renders the session and transcript data appended to the
// system prompt. Transcript entries without text are skipped.
func BuildContext(sessions []SessionSummary, transcripts []TranscriptSummary) string {
	var sb strings.Builder

	if len(sessions) > 0 {
		sb.WriteString("\n\nSession Data:\n")
		for _, sess := range sessions {
			fmt.Fprintf(&sb, "- Session ID: %s\n", sess.Id)
			fmt.Fprintf(&sb, "  Status: %s\n", sess.Status)
			fmt.Fprintf(&sb, "  Created: %s\n", sess.CreatedAt)
		}
	}

	if len(transcripts) > 0 {
		sb.WriteString("\n\nTranscript Data:\n")
		for _, tr := range transcripts {
			if tr.Data == nil {
				continue
			}
			entry := types.TranscriptEntry{Data: tr.Data}
			if text := entry.Text(); text != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", entry.Speaker(), text)
			}
		}
	}

	return sb.String()
}

func BuildMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.ChatHistory)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(systemPromptTemplate, BuildContext(req.SessionData, req.Transcripts)),
	})

	for _, m := range req.ChatHistory {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})
	return msgs
}

// Stream sends req to the completion API and calls emit with every non-empty
// content delta, in order. It returns when the completion ends, emit fails,
// or ctx is done.
func (s *Service) Stream(ctx context.Context, req Request, emit func(content string) error) error {
	if s.client == nil {
		return ErrNotConfigured
	}

	messages := BuildMessages(req)
	s.log.Debug().Int("messages", len(messages)).Str("model", s.model).Msg("starting chat completion")

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Stream:      true,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive completion: %w", err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			if err := emit(content); err != nil {
				return err
			}
		}
	}
}
