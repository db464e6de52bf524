// Package tts turns announcement text into audio clips.
package tts

import (
	"context"
	"errors"
)

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("tts: text is empty")

	// ErrProviderFailure is returned when the synthesis provider
	// rejects the request or returns a non-audio response.
	ErrProviderFailure = errors.New("tts: provider failure")
)

// Audio is a synthesized clip ready for hosting.
type Audio struct {
	Data        []byte
	ContentType string

	// Ext is the file extension matching the encoding, without the dot.
	Ext string
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}
