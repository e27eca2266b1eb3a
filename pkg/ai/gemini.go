package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Google AI Studio (Gemini) API. It implements the
// buffered TextGenerator only; streaming callers use the OpenAI-compatible
// provider.
type GeminiClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	systemPrompt string
	httpClient   *http.Client
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(apiKey, defaultModel string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	return &GeminiClient{
		apiKey:       apiKey,
		baseURL:      defaultGeminiBaseURL,
		defaultModel: strings.TrimSpace(defaultModel),
		systemPrompt: DefaultSystemPrompt,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Chat implements TextGenerator using generateContent.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	opts = opts.withDefaults(c.defaultModel)
	if opts.Model == "" {
		return "", fmt.Errorf("gemini generation model required")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("messages required")
	}

	reqBody := geminiGenerateRequest{
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		},
	}
	// Gemini carries system text out of band; fold caller system messages in
	// after the fixed prompt, in order.
	systemParts := []geminiPart{{Text: c.systemPrompt}}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: msg.Content})
		case RoleAssistant:
			reqBody.Contents = append(reqBody.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			reqBody.Contents = append(reqBody.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	reqBody.SystemInstruction = &geminiContent{Parts: systemParts}
	if len(reqBody.Contents) == 0 {
		return "", fmt.Errorf("at least one user or assistant message required")
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeGeminiModel(opts.Model), c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp geminiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("gemini api error: %s", resp.Status)
	}

	var genResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("gemini decode: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	text := strings.TrimSpace(genResp.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}

func normalizeGeminiModel(model string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, "models/")
}

// Gemini request/response types.

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
