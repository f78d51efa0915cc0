package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/compliai/auditplanner/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGateway_Generate(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"policy text"}}]}`))
	}))
	defer server.Close()

	gw := NewOpenAIGateway(ports.AIConfig{APIKey: "sk-test", BaseURL: server.URL + "/", Model: "gpt-4o", Temperature: 0.2})
	out, err := gw.Generate(context.Background(), "write a policy")
	require.NoError(t, err)
	assert.Equal(t, "policy text", out)
	assert.Equal(t, "openai", gw.Provider())

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, float64(2048), got["max_tokens"])
	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "write a policy", messages[1].(map[string]interface{})["content"])
}

func TestOpenAIGateway_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"non-200", http.StatusTooManyRequests, `{"error":"rate limited"}`, `OpenAI API error: 429 - {"error":"rate limited"}`},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices in response"},
		{"bad json", http.StatusOK, `not json`, "failed to decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewOpenAIGateway(ports.AIConfig{BaseURL: server.URL}).Generate(context.Background(), "p")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestOpenAIGateway_RespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewOpenAIGateway(ports.AIConfig{BaseURL: server.URL}).Generate(ctx, "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIGateway_IsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, NewOpenAIGateway(ports.AIConfig{BaseURL: server.URL}).IsHealthy(context.Background()))
	assert.Error(t, NewOpenAIGateway(ports.AIConfig{BaseURL: server.URL + "/v2"}).IsHealthy(context.Background()))
}

func TestOllamaGateway_Generate(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"model":"llama3","response":"local policy","done":true}`))
	}))
	defer server.Close()

	gw := NewOllamaGateway(ports.AIConfig{BaseURL: server.URL, MaxTokens: 512})
	out, err := gw.Generate(context.Background(), "write a policy")
	require.NoError(t, err)
	assert.Equal(t, "local policy", out)
	assert.Equal(t, "ollama", gw.Provider())

	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, float64(512), got["options"].(map[string]interface{})["num_predict"])
}

func TestOllamaGateway_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	_, err := NewOllamaGateway(ports.AIConfig{BaseURL: server.URL}).Generate(context.Background(), "p")
	assert.EqualError(t, err, "Ollama API error: model not found")

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	_, err = NewOllamaGateway(ports.AIConfig{BaseURL: failing.URL}).Generate(context.Background(), "p")
	assert.EqualError(t, err, "Ollama API error: 500 - boom")
}

func TestOllamaGateway_IsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	assert.NoError(t, NewOllamaGateway(ports.AIConfig{BaseURL: server.URL}).IsHealthy(context.Background()))
	assert.Error(t, NewOllamaGateway(ports.AIConfig{BaseURL: server.URL + "/proxy"}).IsHealthy(context.Background()))
}

func TestMockGateway_Policy(t *testing.T) {
	gw := NewMockGateway(ports.AIConfig{})
	prompt := "Title: Acme Policy\n" +
		"3. Include explicit framework citations in the format: \"Framework Alignment: This section satisfies ISO 27001: [Control ID] - [Control Title]\"\n"

	out, err := gw.Generate(context.Background(), prompt)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# Acme Policy\n"))
	assert.Contains(t, out, "Framework Alignment: This section satisfies ISO 27001: Section 1 - Information security policy")
	assert.Greater(t, len(strings.Fields(out)), 100)

	again, err := gw.Generate(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestMockGateway_Extraction(t *testing.T) {
	gw := NewMockGateway(ports.AIConfig{})
	prompt := "Frameworks: ISO27001\n" +
		"ISO27001 controls: A.5.1.1, A.5.1.2\n" +
		`{"extracted_statement": "<verbatim quote>"}` +
		"\n\nDocument excerpt:\nAll laptops use full disk encryption. Keys are escrowed."

	out, err := gw.Generate(context.Background(), prompt)
	require.NoError(t, err)

	var parsed struct {
		ExtractedStatement string `json:"extracted_statement"`
		Mappings           []struct {
			Framework string `json:"framework"`
			ControlID string `json:"control_id"`
		} `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "All laptops use full disk encryption.", parsed.ExtractedStatement)
	require.Len(t, parsed.Mappings, 1)
	assert.Equal(t, "ISO27001", parsed.Mappings[0].Framework)
	assert.Equal(t, "A.5.1.1", parsed.Mappings[0].ControlID)
}

func TestMockGateway_LatencyHonoursContext(t *testing.T) {
	gw := NewMockGateway(ports.AIConfig{LatencyMs: 5000})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := gw.Generate(ctx, "Title: x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type memoryCache struct {
	mu      sync.Mutex
	values  map[string]string
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.values[key] = value
	c.lastTTL = ttl
	return nil
}

type countingGateway struct {
	calls int
	err   error
}

func (g *countingGateway) Provider() string { return "counting" }

func (g *countingGateway) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "answer to " + prompt, nil
}

func TestCachedGateway_ServesRepeatedPrompts(t *testing.T) {
	inner := &countingGateway{}
	cache := &memoryCache{values: map[string]string{}}
	gw := NewCachedGateway(inner, cache, time.Hour, nil)

	first, err := gw.Generate(context.Background(), "p1")
	require.NoError(t, err)
	second, err := gw.Generate(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, "answer to p1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, time.Hour, cache.lastTTL)
	assert.Contains(t, cache.values, CacheKey("counting", "p1"))
	assert.Equal(t, "counting", gw.Provider())
}

func TestCachedGateway_CacheFailuresAreIgnored(t *testing.T) {
	inner := &countingGateway{}
	cache := &memoryCache{values: map[string]string{}, getErr: errors.New("redis down"), setErr: errors.New("redis down")}
	gw := NewCachedGateway(inner, cache, time.Minute, nil)

	out, err := gw.Generate(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "answer to p1", out)

	inner.err = errors.New("model offline")
	_, err = gw.Generate(context.Background(), "p1")
	assert.EqualError(t, err, "model offline")
}

func TestCachedGateway_IsHealthyDelegates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cache := &memoryCache{values: map[string]string{}}
	wrapped := NewCachedGateway(NewOpenAIGateway(ports.AIConfig{BaseURL: server.URL}), cache, time.Minute, nil)
	assert.ErrorContains(t, wrapped.IsHealthy(context.Background()), "503")

	plain := NewCachedGateway(&countingGateway{}, cache, time.Minute, nil)
	assert.NoError(t, plain.IsHealthy(context.Background()))
}

func TestCacheKey(t *testing.T) {
	key := CacheKey("openai", "hello")
	assert.Equal(t, "llm:openai:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", key)
	assert.NotEqual(t, key, CacheKey("ollama", "hello"))
}
