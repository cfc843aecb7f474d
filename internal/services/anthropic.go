package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for chat. It handles streaming chat completions
// using Claude models.
type Anthropic struct {
	model        string
	systemPrompt string
	maxTokens    int
	baseURL      string

	keys KeySource

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	// AnthropicAPIEndpoint is the default Anthropic API base URL.
	AnthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified model name and maximum token limit.
// baseURL defaults to AnthropicAPIEndpoint when empty.
func NewAnthropic(model, systemPrompt, baseURL string, maxTokens int, keys KeySource, logger *slog.Logger) Anthropic {
	if baseURL == "" {
		baseURL = AnthropicAPIEndpoint
	}
	return Anthropic{
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		baseURL:      baseURL,
		keys:         keys,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "anthropic")),
	}
}

func anthropicMessages(history []models.Turn, message string) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(history)+1)
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		role := "user"
		if turn.Role == models.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, anthropicMessage{
			Role:    role,
			Content: turn.Text,
		})
	}
	return append(msgs, anthropicMessage{
		Role:    "user",
		Content: message,
	})
}

// Chat streams responses from the Anthropic API for the given history and new message. The context can be
// used to cancel ongoing requests.
func (a Anthropic) Chat(ctx context.Context, history []models.Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		key := a.keys.Key()
		if key == "" {
			yield("", HandleError(errNoKey))
			return
		}

		reqBody := anthropicChatRequest{
			Model:     a.model,
			Messages:  anthropicMessages(history, message),
			Stream:    true,
			System:    a.systemPrompt,
			MaxTokens: a.maxTokens,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.baseURL+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", HandleError(fmt.Errorf("error sending request: %w", err)))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield("", HandleError(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield("", HandleError(fmt.Errorf("error reading response: %w", err)))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield("", fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield("", HandleError(fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message)))
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield("", fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				if res.Delta.Text == "" {
					continue
				}
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				a.logger.Debug("Skipping event", slog.String("type", ev.Type))
			}
		}
	}
}
