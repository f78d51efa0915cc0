package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/parser"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const dedupKeyLength = 100

// ExtractionConfig bounds the per-chunk work of the control extractor
type ExtractionConfig struct {
	MinChunkChars   int
	WindowThreshold int
	WindowSize      int
	WindowOverlap   int
	MaxConcurrency  int
	ChunkTimeout    time.Duration
}

// DefaultExtractionConfig returns the default extraction configuration
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		MinChunkChars:   100,
		WindowThreshold: 20000,
		WindowSize:      4000,
		WindowOverlap:   1000,
		MaxConcurrency:  4,
		ChunkTimeout:    2 * time.Minute,
	}
}

// frameworkAliases maps names models commonly answer with to catalog keys
var frameworkAliases = map[string]string{
	"NIST":      "NIST_CSF",
	"ISO_27001": "ISO27001",
	"SOC_2":     "SOC2",
	"PCI":       "PCI_DSS",
	"PCI_DSS_4": "PCI_DSS",
}

// ControlExtractor identifies controls in document chunks with the LLM gateway
// and merges them into a deduplicated result with per-framework gaps.
type ControlExtractor struct {
	llm    ports.LLMGateway
	kb     ports.KnowledgeBase
	config ExtractionConfig
	logger logger.Logger
}

// NewControlExtractor creates a new control extractor
func NewControlExtractor(llm ports.LLMGateway, kb ports.KnowledgeBase, config ExtractionConfig, log logger.Logger) *ControlExtractor {
	defaults := DefaultExtractionConfig()
	if config.MinChunkChars <= 0 {
		config.MinChunkChars = defaults.MinChunkChars
	}
	if config.WindowSize <= 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.WindowOverlap < 0 || config.WindowOverlap >= config.WindowSize {
		config.WindowOverlap = config.WindowSize / 4
	}
	if config.WindowThreshold <= 0 {
		config.WindowThreshold = defaults.WindowThreshold
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = defaults.ChunkTimeout
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ControlExtractor{llm: llm, kb: kb, config: config, logger: log}
}

// chunkResponse is the object requested from the model for a single chunk.
// Some models wrap several findings in "controls".
type chunkResponse struct {
	ExtractedStatement string                  `json:"extracted_statement"`
	AIControlSummary   string                  `json:"ai_control_summary"`
	Mappings           []domain.ControlMapping `json:"mappings"`
	Controls           []chunkResponse         `json:"controls"`
}

// Extract runs extraction over chunks for the given frameworks. It never fails:
// chunks whose responses cannot be used contribute nothing.
func (e *ControlExtractor) Extract(ctx context.Context, chunks []domain.DocumentChunk, frameworks []string) *domain.ExtractionResult {
	start := time.Now()
	targets := normalizeFrameworks(frameworks)
	result := domain.NewExtractionResult(targets)
	if len(chunks) == 0 {
		return result
	}

	ordered := append([]domain.DocumentChunk{}, chunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	texts := make([]string, 0, len(ordered))
	for _, c := range ordered {
		texts = append(texts, c.Text)
	}
	fullText := strings.Join(texts, "\n\n")
	result.AnalysisSummary.CharacterCount = utf8.RuneCountInString(fullText)

	work := ordered
	if utf8.RuneCountInString(fullText) > e.config.WindowThreshold {
		work = splitWindows(fullText, e.config.WindowSize, e.config.WindowOverlap)
	}

	var eligible []domain.DocumentChunk
	for _, c := range work {
		if utf8.RuneCountInString(strings.TrimSpace(c.Text)) < e.config.MinChunkChars {
			continue
		}
		eligible = append(eligible, c)
	}
	result.AnalysisSummary.ChunksProcessed = len(eligible)

	perChunk := make([][]domain.ExtractedControlCandidate, len(eligible))
	if e.llm != nil {
		var g errgroup.Group
		g.SetLimit(e.config.MaxConcurrency)
		for i, chunk := range eligible {
			g.Go(func() error {
				perChunk[i] = e.extractChunk(ctx, chunk, targets)
				return nil
			})
		}
		_ = g.Wait()
	}

	result.MappedControls = mergeCandidates(perChunk)
	result.AnalysisSummary.IdentifiedControlsCount = len(result.MappedControls)
	result.GapAnalysis = e.gaps(result, targets)

	logger.LogPerformance(ctx, e.logger, "control_extraction", time.Since(start), map[string]interface{}{
		"chunks_processed":    result.AnalysisSummary.ChunksProcessed,
		"identified_controls": result.AnalysisSummary.IdentifiedControlsCount,
		"frameworks":          targets,
	})
	return result
}

func (e *ControlExtractor) extractChunk(ctx context.Context, chunk domain.DocumentChunk, frameworks []string) (candidates []domain.ExtractedControlCandidate) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn(ctx, "Chunk extraction panicked", map[string]interface{}{
				"chunk_index": chunk.Index,
				"panic":       fmt.Sprint(r),
			})
			candidates = nil
		}
	}()

	chunkCtx, cancel := context.WithTimeout(ctx, e.config.ChunkTimeout)
	defer cancel()

	response, err := e.llm.Generate(chunkCtx, e.chunkPrompt(chunk.Text, frameworks))
	if err != nil {
		e.logger.Debug(ctx, "Chunk extraction failed", map[string]interface{}{
			"chunk_index": chunk.Index,
			"error":       err.Error(),
		})
		return nil
	}

	var parsed chunkResponse
	if err := parser.DecodeObject(response, &parsed); err != nil {
		e.logger.Debug(ctx, "Chunk response is not usable JSON", map[string]interface{}{
			"chunk_index": chunk.Index,
			"error":       err.Error(),
		})
		return nil
	}

	items := parsed.Controls
	if len(items) == 0 {
		items = []chunkResponse{parsed}
	}

	allowed := make(map[string]bool, len(frameworks))
	for _, fw := range frameworks {
		allowed[fw] = true
	}

	for _, item := range items {
		statement := strings.TrimSpace(item.ExtractedStatement)
		summary := strings.TrimSpace(item.AIControlSummary)
		if statement == "" && summary == "" {
			continue
		}
		candidates = append(candidates, domain.ExtractedControlCandidate{
			ExtractedStatement: statement,
			AIControlSummary:   summary,
			Mappings:           e.cleanMappings(item.Mappings, allowed),
			ChunkIndex:         chunk.Index,
		})
	}
	return candidates
}

func (e *ControlExtractor) cleanMappings(mappings []domain.ControlMapping, allowed map[string]bool) []domain.ControlMapping {
	cleaned := []domain.ControlMapping{}
	for _, m := range mappings {
		m.Framework = canonicalFramework(m.Framework)
		m.ControlID = strings.TrimSpace(m.ControlID)
		if m.ControlID == "" {
			continue
		}
		if len(allowed) > 0 && !allowed[m.Framework] {
			continue
		}
		if m.Confidence < 0 {
			m.Confidence = 0
		}
		if m.Confidence > 1 {
			m.Confidence = 1
		}
		if m.ControlTitle == "" && e.kb != nil {
			if catalog, ok := e.kb.GetCatalog(m.Framework); ok {
				if ctrl, ok := catalog.Control(m.ControlID); ok {
					m.ControlTitle = ctrl.Title
				}
			}
		}
		cleaned = append(cleaned, m)
	}
	return cleaned
}

func (e *ControlExtractor) chunkPrompt(text string, frameworks []string) string {
	var b strings.Builder
	b.WriteString("Identify the security controls and policies described in the document excerpt below ")
	b.WriteString("and map each one to the listed compliance frameworks.\n\n")
	fmt.Fprintf(&b, "Frameworks: %s\n", strings.Join(frameworks, ", "))
	if e.kb != nil {
		for _, fw := range frameworks {
			if catalog, ok := e.kb.GetCatalog(fw); ok {
				fmt.Fprintf(&b, "%s controls: %s\n", fw, strings.Join(catalog.ControlIDs(), ", "))
			}
		}
	}
	b.WriteString("\nRespond with a single JSON object with these keys:\n")
	b.WriteString(`{"extracted_statement": "<verbatim quote>", "ai_control_summary": "<one sentence>", `)
	b.WriteString(`"mappings": [{"framework": "<framework>", "control_id": "<id>", "control_title": "<title>", `)
	b.WriteString(`"confidence": <0.0-1.0>, "rationale": "<why>"}]}`)
	b.WriteString("\n\nDocument excerpt:\n")
	b.WriteString(text)
	return b.String()
}

func (e *ControlExtractor) gaps(result *domain.ExtractionResult, frameworks []string) map[string][]domain.ControlGap {
	gaps := make(map[string][]domain.ControlGap, len(frameworks))
	for _, fw := range frameworks {
		list := []domain.ControlGap{}
		if e.kb != nil {
			if catalog, ok := e.kb.GetCatalog(fw); ok {
				mapped := make(map[string]bool)
				for _, id := range result.MappedControlIDs(fw) {
					mapped[id] = true
				}
				seen := make(map[string]bool)
				for _, ctrl := range catalog.Controls {
					if mapped[ctrl.ID] || seen[ctrl.ID] {
						continue
					}
					seen[ctrl.ID] = true
					list = append(list, domain.ControlGap{ControlID: ctrl.ID, ControlTitle: ctrl.Title})
				}
			}
		}
		gaps[fw] = list
	}
	return gaps
}

// mergeCandidates flattens per-chunk results in chunk order, keeping the first
// occurrence of each statement/summary pair.
func mergeCandidates(perChunk [][]domain.ExtractedControlCandidate) []domain.ExtractedControlCandidate {
	merged := []domain.ExtractedControlCandidate{}
	seen := make(map[string]bool)
	for _, candidates := range perChunk {
		for _, c := range candidates {
			key := dedupKey(c.ExtractedStatement, c.AIControlSummary)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, c)
		}
	}
	return merged
}

func dedupKey(statement, summary string) string {
	key := strings.Join(strings.Fields(strings.ToLower(statement+" "+summary)), " ")
	runes := []rune(key)
	if len(runes) > dedupKeyLength {
		runes = runes[:dedupKeyLength]
	}
	return string(runes)
}

// splitWindows re-splits text into fixed-size windows that overlap by overlap runes
func splitWindows(text string, size, overlap int) []domain.DocumentChunk {
	runes := []rune(text)
	step := size - overlap
	var windows []domain.DocumentChunk
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, domain.DocumentChunk{Index: len(windows), Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return windows
}

func canonicalFramework(framework string) string {
	key := domain.NormalizeFramework(framework)
	if alias, ok := frameworkAliases[key]; ok {
		return alias
	}
	return key
}

func normalizeFrameworks(frameworks []string) []string {
	seen := make(map[string]bool, len(frameworks))
	out := []string{}
	for _, fw := range frameworks {
		key := canonicalFramework(fw)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
