package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides chat and image generation backed by the OpenAI API.
type OpenAI struct {
	chatModel    string
	imageModel   string
	systemPrompt string
	baseURL      string

	params LLMParameters

	keys KeySource

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance. baseURL overrides the API endpoint and may be empty.
func NewOpenAI(
	chatModel, imageModel, systemPrompt, baseURL string,
	params LLMParameters,
	keys KeySource,
	logger *slog.Logger,
) OpenAI {
	if imageModel == "" {
		imageModel = goopenai.CreateImageModelDallE3
	}
	return OpenAI{
		chatModel:    chatModel,
		imageModel:   imageModel,
		systemPrompt: systemPrompt,
		baseURL:      baseURL,
		params:       params,
		keys:         keys,
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func (o OpenAI) client() (*goopenai.Client, error) {
	key := o.keys.Key()
	if key == "" {
		return nil, errNoKey
	}
	cfg := goopenai.DefaultConfig(key)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return goopenai.NewClientWithConfig(cfg), nil
}

func openAIMessages(history []models.Turn, message string) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		role := goopenai.ChatMessageRoleUser
		if turn.Role == models.RoleModel {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Text,
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: message,
	})
}

// Chat is a wrapper around the OpenAI streaming chat completion API.
func (o OpenAI) Chat(ctx context.Context, history []models.Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := o.client()
		if err != nil {
			yield("", HandleError(err))
			return
		}

		msgs := openAIMessages(history, message)
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: o.systemPrompt,
			})
		}

		req := o.chatRequest(msgs)

		reqJSON, err := json.Marshal(req)
		if err == nil {
			o.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		stream, err := client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", HandleError(fmt.Errorf("error sending request: %w", err)))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", HandleError(fmt.Errorf("error receiving response: %w", err)))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if content := response.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	}
}

// GenerateImage is a wrapper around the OpenAI image API. The API offers no square size above 1024x1024, so
// every ImageSize is requested at that resolution.
func (o OpenAI) GenerateImage(
	ctx context.Context,
	prompt string,
	size models.ImageSize,
) (*models.GeneratedImage, error) {
	client, err := o.client()
	if err != nil {
		return nil, HandleError(err)
	}

	resp, err := client.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         prompt,
		Model:          o.imageModel,
		N:              1,
		Size:           goopenai.CreateImageSize1024x1024,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		o.logger.Error("Image generation failed",
			slog.String("model", o.imageModel),
			slog.String(errLoggerKey, err.Error()))
		return nil, HandleError(fmt.Errorf("error sending request: %w", err))
	}

	for _, data := range resp.Data {
		if data.B64JSON == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(data.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("error decoding image: %w", err)
		}
		return &models.GeneratedImage{
			URL:       models.DataURI(defaultImageMIMEType, raw),
			Prompt:    prompt,
			Size:      size,
			CreatedAt: time.Now(),
		}, nil
	}

	o.logger.Warn("Response has no image", slog.String("model", o.imageModel))
	return nil, nil
}

func (o OpenAI) chatRequest(messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.chatModel,
		Messages: messages,
		Stream:   true,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}

	return req
}
