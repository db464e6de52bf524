package tts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hearthline/hearth-core/internal/infrastructure/config"
)

func TestElevenLabsSynthesize(t *testing.T) {
	var gotPath, gotKey, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3 bytes"))
	}))
	defer server.Close()

	e := NewElevenLabs(config.TTSConfig{
		APIKey:  "key-123",
		VoiceID: "voice-9",
		BaseURL: server.URL,
	})

	audio, err := e.Synthesize(context.Background(), "dinner is ready")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "mp3 bytes" {
		t.Errorf("audio data = %q", audio.Data)
	}
	if audio.ContentType != "audio/mpeg" || audio.Ext != "mp3" {
		t.Errorf("audio meta = %q/%q, want audio/mpeg and mp3", audio.ContentType, audio.Ext)
	}
	if gotPath != "/v1/text-to-speech/voice-9" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotKey != "key-123" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if !strings.Contains(gotBody, `"dinner is ready"`) {
		t.Errorf("request body = %q, missing text", gotBody)
	}
	if !strings.Contains(gotBody, "eleven_multilingual_v2") {
		t.Errorf("request body = %q, missing model id", gotBody)
	}
}

func TestElevenLabsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer server.Close()

	e := NewElevenLabs(config.TTSConfig{BaseURL: server.URL, VoiceID: "v"})
	_, err := e.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("Synthesize() error = %v, want ErrProviderFailure", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error %q should carry the provider detail", err)
	}
}

func TestElevenLabsEmptyText(t *testing.T) {
	e := NewElevenLabs(config.TTSConfig{})
	if _, err := e.Synthesize(context.Background(), ""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Synthesize(\"\") error = %v, want ErrEmptyText", err)
	}
}

func TestStubSynthesize(t *testing.T) {
	audio, err := Stub{}.Synthesize(context.Background(), "test")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(audio.Data) == 0 || audio.Ext != "mp3" {
		t.Errorf("stub audio = %+v", audio)
	}
}
