package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/models"
	"google.golang.org/genai"
)

// Gemini provides chat and image generation backed by the Gemini API. It holds no client: a new genai client
// is built for every call so a key selected in the meantime is always picked up.
type Gemini struct {
	chatModel    string
	imageModel   string
	systemPrompt string
	baseURL      string

	keys KeySource

	logger *slog.Logger
}

// KeySource supplies the API key for the next provider call.
type KeySource interface {
	Key() string
}

const (
	// DefaultGeminiChatModel is used for chat when no model is configured.
	DefaultGeminiChatModel = "gemini-3-pro-preview"
	// DefaultGeminiImageModel is used for images when no model is configured.
	DefaultGeminiImageModel = "gemini-3-pro-image-preview"

	defaultImageMIMEType = "image/png"
)

// NewGemini creates a Gemini provider. Empty model names fall back to the defaults. baseURL overrides the
// API endpoint and may be empty.
func NewGemini(chatModel, imageModel, systemPrompt, baseURL string, keys KeySource, logger *slog.Logger) Gemini {
	if chatModel == "" {
		chatModel = DefaultGeminiChatModel
	}
	if imageModel == "" {
		imageModel = DefaultGeminiImageModel
	}
	return Gemini{
		chatModel:    chatModel,
		imageModel:   imageModel,
		systemPrompt: systemPrompt,
		baseURL:      baseURL,
		keys:         keys,
		logger:       logger.With(slog.String("module", "gemini")),
	}
}

func (g Gemini) client(ctx context.Context) (*genai.Client, error) {
	key := g.keys.Key()
	if key == "" {
		return nil, errNoKey
	}
	cfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating client: %w", err)
	}
	return client, nil
}

// Chat opens a chat session seeded with history, sends message and yields the text of every streamed
// response chunk.
func (g Gemini) Chat(ctx context.Context, history []models.Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := g.client(ctx)
		if err != nil {
			yield("", HandleError(err))
			return
		}

		var cfg *genai.GenerateContentConfig
		if g.systemPrompt != "" {
			cfg = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(g.systemPrompt, genai.RoleUser),
			}
		}

		session, err := client.Chats.Create(ctx, g.chatModel, cfg, geminiHistory(history))
		if err != nil {
			yield("", HandleError(fmt.Errorf("error creating chat: %w", err)))
			return
		}

		g.logger.Debug("Sending message",
			slog.String("model", g.chatModel),
			slog.Int("history", len(history)))

		for res, err := range session.SendMessageStream(ctx, genai.Part{Text: message}) {
			if err != nil {
				yield("", HandleError(fmt.Errorf("error receiving response: %w", err)))
				return
			}
			text := res.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// GenerateImage requests one square image of the given size. It returns nil without error when the
// response carries no inline image data.
func (g Gemini) GenerateImage(
	ctx context.Context,
	prompt string,
	size models.ImageSize,
) (*models.GeneratedImage, error) {
	client, err := g.client(ctx)
	if err != nil {
		return nil, HandleError(err)
	}

	res, err := client.Models.GenerateContent(ctx, g.imageModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{
			ImageSize:   string(size),
			AspectRatio: models.AspectRatio,
		},
	})
	if err != nil {
		g.logger.Error("Image generation failed",
			slog.String("model", g.imageModel),
			slog.String(errLoggerKey, err.Error()))
		return nil, HandleError(err)
	}

	img := geminiImage(res)
	if img == nil {
		g.logger.Warn("Response has no image", slog.String("model", g.imageModel))
		return nil, nil
	}
	img.Prompt = prompt
	img.Size = size
	img.CreatedAt = time.Now()
	return img, nil
}

func geminiHistory(turns []models.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		// The API refuses empty parts, which a reply that failed before its first fragment leaves behind.
		if turn.Text == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(turn.Role)))
	}
	return contents
}

func geminiImage(res *genai.GenerateContentResponse) *models.GeneratedImage {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range res.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mimeType := part.InlineData.MIMEType
		if mimeType == "" {
			mimeType = defaultImageMIMEType
		}
		return &models.GeneratedImage{URL: models.DataURI(mimeType, part.InlineData.Data)}
	}
	return nil
}
