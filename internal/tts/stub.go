package tts

import (
	"context"
	"fmt"
)

// Stub produces a tiny placeholder clip instead of calling a provider.
// Useful for development and for deployments that only ever play
// pre-rendered audio.
type Stub struct{}

func (Stub) Synthesize(_ context.Context, text string) (Audio, error) {
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	return Audio{
		Data:        []byte(fmt.Sprintf("stub audio for: %s", text)),
		ContentType: "audio/mpeg",
		Ext:         "mp3",
	}, nil
}
