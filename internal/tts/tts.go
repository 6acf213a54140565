// Package tts defines the text-to-speech provider contract. The audio
// engine only depends on this interface; concrete providers live in
// subpackages.
package tts

import (
	"context"
	"fmt"
)

// Synthesizer converts text into a playable audio clip.
type Synthesizer interface {
	// Synthesize renders the given text as audio bytes (MP3). The context
	// bounds the provider call; implementations must respect cancellation.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SynthesisError wraps a provider failure (HTTP error, timeout, rate limit)
// so callers can distinguish it from resolution misses.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed (%s): %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
