package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"civicbrief/internal/models"
)

// TTSClient calls the speech-synthesis collaborator. One call renders one
// chunk of dialogue; the service rejects inputs past its character
// ceiling, which is why chunking happens upstream.
type TTSClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewTTSClient creates a speech synthesis client.
func NewTTSClient(baseURL, apiKey string, timeout time.Duration) *TTSClient {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &TTSClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type ttsRequest struct {
	Lines []models.DialogueLine `json:"lines"`
}

// Synthesize renders one chunk to raw audio bytes. Implements
// audio.Synthesizer.
func (c *TTSClient) Synthesize(ctx context.Context, chunk models.AudioChunk) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{Lines: chunk.Lines})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts error (status %d): %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned empty audio for chunk %d", chunk.Ordinal)
	}
	return audio, nil
}
