package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatClient calls any OpenAI-compatible /v1/chat/completions
// endpoint. Works with vLLM, LiteLLM, OpenRouter, Deepseek, self-hosted
// models, etc.
type OpenAICompatClient struct {
	baseURL      string
	apiKey       string
	defaultModel string
	systemPrompt string
	httpClient   *http.Client
}

// NewOpenAICompatClient builds an OpenAI-compatible generator.
// baseURL should include the /v1 prefix, e.g. "https://api.openai.com/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatClient(baseURL, apiKey, defaultModel string) *OpenAICompatClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatClient{
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(apiKey),
		defaultModel: strings.TrimSpace(defaultModel),
		systemPrompt: DefaultSystemPrompt,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Chat implements TextGenerator using the chat completions API.
func (c *OpenAICompatClient) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := c.do(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}

// StreamChat implements StreamingTextGenerator. Chunks are forwarded to emit
// as they arrive on the provider's SSE stream.
func (c *OpenAICompatClient) StreamChat(ctx context.Context, messages []Message, opts Options, emit func(string) error) error {
	resp, err := c.do(ctx, messages, opts, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var event oaiStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return fmt.Errorf("openai-compat stream decode: %w", err)
		}
		if len(event.Choices) == 0 {
			continue
		}
		chunk := event.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("openai-compat stream read: %w", err)
	}
	return nil
}

func (c *OpenAICompatClient) do(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	opts = opts.withDefaults(c.defaultModel)
	if opts.Model == "" {
		return nil, fmt.Errorf("openai-compat generation model required")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages required")
	}

	reqBody := oaiChatRequest{
		Model:       opts.Model,
		Messages:    withSystemPrompt(c.systemPrompt, messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai-compat request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("openai-compat api error: %s", resp.Status)
	}
	return resp, nil
}

// OpenAI-compatible request/response types.

type oaiChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type oaiStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
