package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

// ClientConfig configures the chat-completions client. Any OpenAI-compatible
// provider works.
type ClientConfig struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     int // seconds
}

func (c ClientConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// Client is a minimal chat-completions client. Thread-safe for concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	baseURL    string
}

func NewClient(config ClientConfig) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60
	}
	return &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one system+user exchange and returns the assistant reply.
// Failures are classified so the dispatcher knows whether to retry: rate
// limits, 5xx and transport errors are transient; other API rejections are
// fatal.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	request := chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", pipeline.Fatal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", pipeline.Fatal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pipeline.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pipeline.Transient(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", pipeline.Transient(fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(responseBody)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", pipeline.Fatal(fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(responseBody)))
	}

	var response chatResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", pipeline.Transient(fmt.Errorf("parse response: %w", err))
	}
	if response.Error != nil && response.Error.Message != "" {
		return "", pipeline.Fatal(fmt.Errorf("API error: %s", response.Error.Message))
	}
	if len(response.Choices) == 0 {
		return "", pipeline.Transient(fmt.Errorf("no choices in response"))
	}
	return response.Choices[0].Message.Content, nil
}
