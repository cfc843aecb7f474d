package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/imaging"
	"github.com/MegaGrindStone/xai-studio/internal/models"
)

// HandleImages runs one image request through HTTP POST with the "prompt" and "size" form fields and renders
// the resulting image panel. A provider failure still renders the panel, carrying the error banner.
//
// It responds with 400 for an empty prompt or unknown size and 409 while another image is being generated.
func (m Main) HandleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	size, err := models.ParseImageSize(r.FormValue("size"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	// Once started, a request runs to completion even if the browser goes away.
	req, err := m.images.Generate(context.WithoutCancel(r.Context()), r.FormValue("prompt"), size)
	if err != nil {
		switch {
		case errors.Is(err, imaging.ErrEmptyPrompt):
			http.Error(w, "Prompt is required", http.StatusBadRequest)
		case errors.Is(err, imaging.ErrPending):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			m.logger.Error("Failed to generate image", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	m.metrics.RecordImageRequest(string(req.Status), time.Since(start))
	if req.Status == models.ImageStatusFailure {
		m.logger.Warn("Image request failed",
			slog.String("size", string(req.Size)),
			slog.String("error", req.Error))
	}

	if err := m.templates.ExecuteTemplate(w, "image_panel", m.imageView()); err != nil {
		m.logger.Error("Failed to render image panel", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleImageDownload serves the image on display as a PNG attachment named xai-visual-<unix millis>.png.
func (m Main) HandleImageDownload(w http.ResponseWriter, _ *http.Request) {
	_, img := m.images.Snapshot()
	if img == nil {
		http.Error(w, "No image generated yet", http.StatusNotFound)
		return
	}

	mimeType, data, err := models.ParseDataURI(img.URL)
	if err != nil {
		m.logger.Error("Failed to decode image", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", downloadFilename(time.Now())))
	if _, err := w.Write(data); err != nil {
		m.logger.Error("Failed to write image", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleKeys selects the API key posted in the "key" form field for subsequent image requests.
func (m Main) HandleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.keys == nil {
		http.Error(w, "Key selection is not available", http.StatusNotImplemented)
		return
	}

	m.keys.SetKey(r.FormValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func downloadFilename(t time.Time) string {
	return fmt.Sprintf("xai-visual-%d.png", t.UnixMilli())
}
