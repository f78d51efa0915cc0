package ports

import (
	"context"
	"errors"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
)

// ErrServiceUnavailable is returned by collaborators that are disabled or not configured
var ErrServiceUnavailable = errors.New("service unavailable")

// LLMGateway defines the interface for text generation.
// Callers bound every call with a context deadline.
type LLMGateway interface {
	// Generate returns the model's completion for prompt
	Generate(ctx context.Context, prompt string) (string, error)

	// Provider returns the provider name
	Provider() string
}

// DocumentRetriever defines the interface for the document retrieval service
type DocumentRetriever interface {
	// Query asks a question against one document
	Query(ctx context.Context, documentID, question string) (RetrievalAnswer, error)

	// Chunks returns the document's ordered chunks
	Chunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error)
}

// RetrievalAnswer is the answer to a document query
type RetrievalAnswer struct {
	Answer         string   `json:"answer"`
	SourcePassages []string `json:"source_passages"`
}

// KnowledgeBase defines the interface for the framework control catalog
type KnowledgeBase interface {
	// GetCatalog returns the catalog of a framework
	GetCatalog(framework string) (*domain.ControlCatalog, bool)

	// FrameworkNames returns every framework key with a catalog
	FrameworkNames() []string

	// Frameworks returns descriptive information for supported frameworks
	Frameworks() []domain.FrameworkInfo

	// Supports reports whether a framework has a catalog
	Supports(framework string) bool

	// SearchControls finds controls whose title, description or category contain query
	SearchControls(query, framework string) []domain.ControlMatch

	// MappedControls returns equivalent controls in another framework
	MappedControls(fromFramework, controlID, toFramework string) []string
}

// HealthChecker is implemented by collaborators that can check their upstream
type HealthChecker interface {
	IsHealthy(ctx context.Context) error
}

// ResponseCache defines the interface for caching generated text
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Locker defines the interface for a lease shared between replicas
type Locker interface {
	// TryAcquire takes the lease if free; release must be called when ok is true
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// TaskRunner runs detached background work
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context))
}

// PolicyRenderer renders a project's policy into a downloadable document
type PolicyRenderer interface {
	Format() string
	ContentType() string
	Render(ctx context.Context, doc ExportDocument) ([]byte, error)
}

// ExportDocument is the stable data shape handed to renderers
type ExportDocument struct {
	Title             string
	Framework         string
	Policy            domain.GeneratedPolicy
	AuditTrail        []domain.AuditTrailEntry
	ComplianceScore   *int
	IncludeCitations  bool
	IncludeAuditTrail bool
}

// AIConfig represents AI gateway configuration
type AIConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutMs   int     `json:"timeout_ms"`
	EnableCache bool    `json:"enable_cache"`
	CacheTTLMin int     `json:"cache_ttl_min"`
	LatencyMs   int     `json:"latency_ms"`
}

// DefaultAIConfig returns the default AI configuration
func DefaultAIConfig() AIConfig {
	return AIConfig{
		Provider:    "mock",
		Model:       "gpt-3.5-turbo",
		Temperature: 0.2,
		MaxTokens:   2048,
		TimeoutMs:   600000,
		EnableCache: false,
		CacheTTLMin: 60,
	}
}
