package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/compliai/auditplanner/internal/ports"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaGateway implements LLMGateway against a local Ollama server
type OllamaGateway struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewOllamaGateway creates a new Ollama gateway
func NewOllamaGateway(config ports.AIConfig) *OllamaGateway {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if config.Model == "" {
		config.Model = "llama3"
	}

	return &OllamaGateway{
		baseURL:     baseURL,
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient:  newHTTPClient(config.TimeoutMs),
	}
}

func (g *OllamaGateway) Provider() string {
	return "ollama"
}

// IsHealthy checks that the Ollama server answers /api/tags
func (g *OllamaGateway) IsHealthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Ollama health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama returned status: %d", resp.StatusCode)
	}
	return nil
}

// Generate calls /api/generate without streaming
func (g *OllamaGateway) Generate(ctx context.Context, prompt string) (string, error) {
	options := map[string]interface{}{
		"temperature": g.temperature,
	}
	if g.maxTokens > 0 {
		options["num_predict"] = g.maxTokens
	}

	jsonBody, err := json.Marshal(map[string]interface{}{
		"model":   g.model,
		"prompt":  prompt,
		"stream":  false,
		"options": options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call Ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("Ollama API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var response struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}
