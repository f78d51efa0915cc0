package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/pkg/logger"
)

// CachedGateway serves repeated prompts from a ResponseCache.
// Cache failures are logged and never fail generation.
type CachedGateway struct {
	inner  ports.LLMGateway
	cache  ports.ResponseCache
	ttl    time.Duration
	logger logger.Logger
}

// NewCachedGateway wraps inner with cache
func NewCachedGateway(inner ports.LLMGateway, cache ports.ResponseCache, ttl time.Duration, log logger.Logger) *CachedGateway {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &CachedGateway{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: log,
	}
}

func (g *CachedGateway) Provider() string {
	return g.inner.Provider()
}

// IsHealthy delegates to the wrapped gateway when it can check its upstream
func (g *CachedGateway) IsHealthy(ctx context.Context) error {
	if checker, ok := g.inner.(ports.HealthChecker); ok {
		return checker.IsHealthy(ctx)
	}
	return nil
}

// Generate returns the cached completion for prompt or calls the wrapped gateway
func (g *CachedGateway) Generate(ctx context.Context, prompt string) (string, error) {
	key := CacheKey(g.inner.Provider(), prompt)

	cached, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn(ctx, "LLM cache read failed", map[string]interface{}{
			"provider": g.inner.Provider(),
			"error":    err.Error(),
		})
	} else if ok {
		g.logger.Debug(ctx, "LLM cache hit", map[string]interface{}{"provider": g.inner.Provider()})
		return cached, nil
	}

	response, err := g.inner.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if err := g.cache.Set(ctx, key, response, g.ttl); err != nil {
		g.logger.Warn(ctx, "LLM cache write failed", map[string]interface{}{
			"provider": g.inner.Provider(),
			"error":    err.Error(),
		})
	}
	return response, nil
}

// CacheKey returns llm:<provider>:<sha256 of prompt>
func CacheKey(provider, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "llm:" + provider + ":" + hex.EncodeToString(sum[:])
}
