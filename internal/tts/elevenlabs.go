package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hearthline/hearth-core/internal/infrastructure/config"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	defaultElevenLabsModel   = "eleven_multilingual_v2"
	defaultSynthesisTimeout  = 30 * time.Second

	// errorBodyLimit caps how much of a provider error response ends up
	// in logs and error messages.
	errorBodyLimit = 500
)

// ElevenLabs synthesizes speech through the ElevenLabs HTTP API.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	baseURL string
	client  *http.Client
}

// NewElevenLabs creates an ElevenLabs synthesizer from configuration.
func NewElevenLabs(cfg config.TTSConfig) *ElevenLabs {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}
	timeout := defaultSynthesisTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	}
	return &ElevenLabs{
		apiKey:  cfg.APIKey,
		voiceID: cfg.VoiceID,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize requests an MP3 rendering of text.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Audio, error) {
	if text == "" {
		return Audio{}, ErrEmptyText
	}

	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: defaultElevenLabsModel})
	if err != nil {
		return Audio{}, fmt.Errorf("tts: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return Audio{}, fmt.Errorf("%w: status %d: %s", ErrProviderFailure, resp.StatusCode, snippet)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: read audio: %w", ErrProviderFailure, err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("%w: empty audio response", ErrProviderFailure)
	}

	return Audio{Data: data, ContentType: "audio/mpeg", Ext: "mp3"}, nil
}
