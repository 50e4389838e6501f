package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"github.com/echonote/echonote/pkg/config"
)

// AssemblyAIClient transcribes audio chunks through the official AssemblyAI SDK
type AssemblyAIClient struct {
	sdk *aai.Client
}

// NewAssemblyAIClient creates an AssemblyAI client using the provided config.
// If cfg is nil, falls back to environment variables.
func NewAssemblyAIClient(cfg *config.AssemblyAIConfig) *AssemblyAIClient {
	var apiKey string
	if cfg != nil {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		apiKey = os.Getenv("ASSEMBLYAI_API_KEY")
	}
	return &AssemblyAIClient{
		sdk: aai.NewClient(apiKey),
	}
}

// Transcribe uploads the chunk, waits for the transcript and returns its text
func (c *AssemblyAIClient) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	params := &aai.TranscriptOptionalParams{}
	if language != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(language)
	}

	transcript, err := c.sdk.Transcripts.TranscribeFromReader(ctx, bytes.NewReader(audio), params)
	if err != nil {
		return "", fmt.Errorf("assemblyai transcription: %w", err)
	}
	return transcriptText(transcript)
}

// transcriptText extracts the text of a finished transcript
func transcriptText(t aai.Transcript) (string, error) {
	switch t.Status {
	case aai.TranscriptStatusCompleted:
		if t.Text == nil {
			return "", nil
		}
		return strings.TrimSpace(*t.Text), nil
	case aai.TranscriptStatusError:
		msg := "AssemblyAI transcription failed"
		if t.Error != nil {
			msg = fmt.Sprintf("AssemblyAI error: %s", *t.Error)
		}
		return "", errors.New(msg)
	default:
		return "", fmt.Errorf("assemblyai transcript not finished: %s", t.Status)
	}
}
