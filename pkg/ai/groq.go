package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/echonote/echonote/pkg/config"
)

// ErrEmptyAudio is returned when a transcription is requested for no bytes
var ErrEmptyAudio = errors.New("audio bytes input is empty")

// GroqClient is a minimal client for the Groq API: Whisper transcription
// and chat-completion based translation
type GroqClient struct {
	apiKey           string
	baseURL          string
	whisperModel     string
	translationModel string
	client           *http.Client
}

// NewGroqClient creates a Groq client using values from the provided config.
// Pass a nil config to fall back to environment variables.
func NewGroqClient(cfg *config.GroqConfig) *GroqClient {
	g := &GroqClient{
		baseURL:          "https://api.groq.com",
		whisperModel:     "whisper-large-v3-turbo",
		translationModel: "llama-3.1-8b-instant",
		client:           &http.Client{Timeout: 30 * time.Second},
	}

	if cfg != nil {
		g.apiKey = cfg.APIKey
		if cfg.BaseURL != "" {
			g.baseURL = cfg.BaseURL
		}
		if cfg.WhisperModel != "" {
			g.whisperModel = cfg.WhisperModel
		}
		if cfg.TranslationModel != "" {
			g.translationModel = cfg.TranslationModel
		}
		if cfg.Timeout > 0 {
			g.client.Timeout = cfg.Timeout
		}
	}
	if g.apiKey == "" {
		g.apiKey = os.Getenv("GROQ_API_KEY")
	}
	if base := os.Getenv("GROQ_API_URL"); cfg == nil && base != "" {
		g.baseURL = base
	}
	g.baseURL = strings.TrimRight(g.baseURL, "/")

	return g
}

// ChatMessage is one message of a chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the shape for chat completion requests
type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse is a minimal response shape
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// TranscriptionResponse is the Whisper endpoint response
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe sends one audio chunk to Groq Whisper and returns the trimmed text
func (g *GroqClient) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "chunk.flac")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	_ = w.WriteField("model", g.whisperModel)
	if language != "" {
		_ = w.WriteField("language", language)
	}
	_ = w.WriteField("response_format", "json")
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/openai/v1/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	var tr TranscriptionResponse
	if err := g.do(req, &tr); err != nil {
		return "", fmt.Errorf("groq transcription: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}

// Translate translates text from source to target language. When both
// languages match or the text is blank the input is returned unchanged.
// On failure the original text is returned together with the error.
func (g *GroqClient) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" || strings.EqualFold(source, target) {
		return text, nil
	}

	prompt := fmt.Sprintf(
		"Translate the following text from %s to %s. Reply with the translation only, no quotes or commentary.\n\n%s",
		source, target, text,
	)
	reqBody := ChatRequest{
		Model:       g.translationModel,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.1,
		MaxTokens:   1024,
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return text, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/openai/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return text, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var cr ChatResponse
	if err := g.do(req, &cr); err != nil {
		return text, fmt.Errorf("groq translation: %w", err)
	}
	if len(cr.Choices) == 0 {
		return text, fmt.Errorf("empty response from groq")
	}

	translated := strings.TrimSpace(cr.Choices[0].Message.Content)
	if translated == "" {
		return text, nil
	}
	return translated, nil
}

func (g *GroqClient) do(req *http.Request, out interface{}) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("groq returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
