package imaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/xai-studio/internal/models"
)

// Generator produces one square image for a prompt. A nil image with a nil error means the provider
// answered without image content.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string, size models.ImageSize) (*models.GeneratedImage, error)
}

// KeyGate reports whether a billable credential is configured and can ask the host to select one.
type KeyGate interface {
	HasSelectedKey(ctx context.Context) (bool, error)
	// OpenSelectKey runs the host's key selection flow. It may change the answer of HasSelectedKey.
	OpenSelectKey(ctx context.Context) error
}

// Observer is notified of every status change of the tracked request. It runs with the Machine's lock held
// and must not call back into the Machine.
type Observer func(req models.ImageRequest)

// Machine tracks the single image request the studio allows at a time, along with the image currently on
// display.
type Machine struct {
	generator Generator
	gate      KeyGate
	observer  Observer

	mu      sync.Mutex
	request models.ImageRequest
	current *models.GeneratedImage
}

const (
	// BillingRequiredText is reported when no credential could be selected.
	BillingRequiredText = "Billing required: Please select a paid API key Project to use high-fidelity visualization."
	// NoImageText is reported when the provider answered without an image.
	NoImageText = "No image generated. Please try a different prompt."

	generationFailedPrefix = "Generation failed. "
	unknownErrorText       = "Unknown error"
)

var (
	// ErrEmptyPrompt is returned by Generate for an empty or whitespace-only prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrPending is returned by Generate while another request is in flight.
	ErrPending = errors.New("an image is already being generated")
)

// NewMachine creates an idle Machine. observer may be nil.
func NewMachine(generator Generator, gate KeyGate, observer Observer) *Machine {
	return &Machine{
		generator: generator,
		gate:      gate,
		observer:  observer,
		request:   models.ImageRequest{Status: models.ImageStatusIdle},
	}
}

// Generate runs one request to completion and returns its terminal state. Provider failures are not
// returned as errors: they end in ImageStatusFailure with a message fit for display. Errors are returned
// only when the request is refused before it starts.
func (m *Machine) Generate(ctx context.Context, prompt string, size models.ImageSize) (models.ImageRequest, error) {
	if strings.TrimSpace(prompt) == "" {
		return models.ImageRequest{}, ErrEmptyPrompt
	}

	m.mu.Lock()
	if m.busy() {
		m.mu.Unlock()
		return models.ImageRequest{}, ErrPending
	}
	m.setLocked(models.ImageRequest{
		Prompt: prompt,
		Size:   size,
		Status: models.ImageStatusCheckingCredential,
	})
	m.mu.Unlock()

	hasKey, err := m.ensureKey(ctx)
	if err != nil {
		return m.fail(generationFailed(err)), nil
	}
	if !hasKey {
		return m.fail(BillingRequiredText), nil
	}

	m.setStatus(models.ImageStatusPending)

	img, err := m.generator.GenerateImage(ctx, prompt, size)
	if err != nil {
		return m.fail(generationFailed(err)), nil
	}
	if img == nil {
		return m.fail(NoImageText), nil
	}

	if img.Prompt == "" {
		img.Prompt = prompt
	}
	if img.Size == "" {
		img.Size = size
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = img
	req := m.request
	req.Status = models.ImageStatusSuccess
	m.setLocked(req)
	return req, nil
}

// Snapshot returns the tracked request and the image on display, which is nil until the first success.
func (m *Machine) Snapshot() (models.ImageRequest, *models.GeneratedImage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return m.request, nil
	}
	img := *m.current
	return m.request, &img
}

func (m *Machine) ensureKey(ctx context.Context) (bool, error) {
	hasKey, err := m.gate.HasSelectedKey(ctx)
	if err != nil {
		return false, err
	}
	if hasKey {
		return true, nil
	}
	if err := m.gate.OpenSelectKey(ctx); err != nil {
		return false, nil
	}
	return m.gate.HasSelectedKey(ctx)
}

func (m *Machine) busy() bool {
	return m.request.Status == models.ImageStatusCheckingCredential ||
		m.request.Status == models.ImageStatusPending
}

func (m *Machine) setStatus(status models.ImageStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := m.request
	req.Status = status
	m.setLocked(req)
}

func (m *Machine) fail(message string) models.ImageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := m.request
	req.Status = models.ImageStatusFailure
	req.Error = message
	m.setLocked(req)
	return req
}

func (m *Machine) setLocked(req models.ImageRequest) {
	m.request = req
	if m.observer != nil {
		m.observer(req)
	}
}

func generationFailed(err error) string {
	detail := err.Error()
	if detail == "" {
		detail = unknownErrorText
	}
	return generationFailedPrefix + detail
}
