package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
)

// Config configures the retrieval service client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPRetriever implements DocumentRetriever against the document retrieval service
type HTTPRetriever struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPRetriever creates a retrieval client
func NewHTTPRetriever(config Config) *HTTPRetriever {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &HTTPRetriever{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// New returns an HTTP retriever, or the unavailable retriever when no base URL is configured
func New(config Config) ports.DocumentRetriever {
	if strings.TrimSpace(config.BaseURL) == "" {
		return UnavailableRetriever{}
	}
	return NewHTTPRetriever(config)
}

// Query asks question against one document
func (r *HTTPRetriever) Query(ctx context.Context, documentID, question string) (ports.RetrievalAnswer, error) {
	jsonBody, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return ports.RetrievalAnswer{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := r.newRequest(ctx, http.MethodPost, "/documents/"+url.PathEscape(documentID)+"/query", bytes.NewBuffer(jsonBody))
	if err != nil {
		return ports.RetrievalAnswer{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var response struct {
		Answer          string `json:"answer"`
		SourceDocuments []struct {
			Content string `json:"content"`
		} `json:"source_documents"`
	}
	if err := r.do(req, &response); err != nil {
		return ports.RetrievalAnswer{}, err
	}

	answer := ports.RetrievalAnswer{Answer: response.Answer}
	for _, src := range response.SourceDocuments {
		answer.SourcePassages = append(answer.SourcePassages, src.Content)
	}
	return answer, nil
}

// Chunks returns the document's chunks ordered by index
func (r *HTTPRetriever) Chunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	req, err := r.newRequest(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID)+"/chunks", nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Chunks []struct {
			Index   int    `json:"index"`
			Content string `json:"content"`
		} `json:"chunks"`
	}
	if err := r.do(req, &response); err != nil {
		return nil, err
	}

	chunks := make([]domain.DocumentChunk, 0, len(response.Chunks))
	for _, c := range response.Chunks {
		chunks = append(chunks, domain.DocumentChunk{Index: c.Index, Text: c.Content})
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

func (r *HTTPRetriever) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	return req, nil
}

func (r *HTTPRetriever) do(req *http.Request, out interface{}) error {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call retrieval service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("document not found in retrieval service: %w", ports.ErrServiceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("retrieval service error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// UnavailableRetriever is used when no retrieval service is configured
type UnavailableRetriever struct{}

func (UnavailableRetriever) Query(ctx context.Context, documentID, question string) (ports.RetrievalAnswer, error) {
	return ports.RetrievalAnswer{}, fmt.Errorf("retrieval service not configured: %w", ports.ErrServiceUnavailable)
}

func (UnavailableRetriever) Chunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	return nil, fmt.Errorf("retrieval service not configured: %w", ports.ErrServiceUnavailable)
}
