package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScriptClient generates the two-host dialogue script through an
// OpenAI-compatible chat completion endpoint.
type ScriptClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewScriptClient creates a script generation client.
func NewScriptClient(baseURL, apiKey, model string) *ScriptClient {
	return &ScriptClient{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const scriptSystemPrompt = `You are writing a short, conversational two-host audio news brief. ` +
	`Host A is measured and factual; Host B asks sharp follow-up questions. ` +
	`Respond with JSON only: {"lines":[{"speaker":"hostA"|"hostB","text":"..."}]}. ` +
	`Alternate speakers naturally and keep each line under two sentences.`

// GenerateScript produces the raw model output for the given source
// material. Parsing into dialogue lines happens in the dialogue package.
func (c *ScriptClient) GenerateScript(ctx context.Context, material string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: scriptSystemPrompt},
			{Role: "user", Content: material},
		},
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal script request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build script request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("script request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read script response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("script API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("unmarshal script response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("script response has no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}
