package handlers

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/models"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	Streaming bool
}

type imageView struct {
	Request models.ImageRequest
	Image   *models.GeneratedImage
	Sizes   []models.ImageSize

	// Src is Image.URL, marked safe for the img tag. Data URIs are otherwise rewritten by html/template.
	Src template.URL

	// Busy disables the generate control.
	Busy bool
}

type homePageData struct {
	Mode           string
	ConversationID string
	Messages       []message

	Image imageView
}

const (
	modeChat  = "chat"
	modeImage = "image"
)

func newMessage(msg models.Message) (message, error) {
	var content template.HTML
	switch msg.Role {
	case models.RoleUser:
		// User text is shown as typed.
		content = template.HTML(template.HTMLEscapeString(msg.Text))
	default:
		rendered, err := models.RenderMarkdown(msg.Text)
		if err != nil {
			return message{}, err
		}
		content = template.HTML(rendered)
	}
	return message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   content,
		Timestamp: msg.Timestamp,
		Streaming: msg.IsStreaming,
	}, nil
}

func newMessages(msgs []models.Message) ([]message, error) {
	views := make([]message, len(msgs))
	for i, msg := range msgs {
		v, err := newMessage(msg)
		if err != nil {
			return nil, err
		}
		views[i] = v
	}
	return views, nil
}

func (m Main) renderMessage(msg models.Message) (string, error) {
	v, err := newMessage(msg)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message", v); err != nil {
		return "", fmt.Errorf("failed to execute message template: %w", err)
	}
	return sb.String(), nil
}

func (m Main) imageView() imageView {
	req, img := m.images.Snapshot()
	v := imageView{
		Request: req,
		Image:   img,
		Sizes:   models.ImageSizes,
		Busy: req.Status == models.ImageStatusCheckingCredential ||
			req.Status == models.ImageStatusPending,
	}
	if img != nil {
		// The URL is a data URI built by the provider clients, never user input.
		v.Src = template.URL(img.URL)
	}
	return v
}
