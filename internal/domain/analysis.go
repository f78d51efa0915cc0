package domain

// AnalysisSource records which layer of the analysis chain produced a result
type AnalysisSource string

const (
	AnalysisSourceDocument  AnalysisSource = "document"
	AnalysisSourceHeuristic AnalysisSource = "heuristic"
	AnalysisSourceStatic    AnalysisSource = "static"
	AnalysisSourceGeneric   AnalysisSource = "generic"
	AnalysisSourceDefault   AnalysisSource = "default"
)

// GapAnalysisResult is the outcome of comparing a document against a framework
type GapAnalysisResult struct {
	ComplianceScore   int            `json:"compliance_score"`
	CoveredControls   []string       `json:"covered_controls"`
	MissingControls   []string       `json:"missing_controls"`
	Gaps              []string       `json:"gaps"`
	FrameworkControls []string       `json:"framework_controls"`
	Source            AnalysisSource `json:"source"`
}

// DocumentChunk is an ordered slice of source document text
type DocumentChunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ControlMapping links an extracted statement to a framework control
type ControlMapping struct {
	Framework    string  `json:"framework"`
	ControlID    string  `json:"control_id"`
	ControlTitle string  `json:"control_title"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale"`
}

// ExtractedControlCandidate is a control found in one chunk of a document
type ExtractedControlCandidate struct {
	ExtractedStatement string           `json:"extracted_statement"`
	AIControlSummary   string           `json:"ai_control_summary"`
	Mappings           []ControlMapping `json:"mappings"`
	ChunkIndex         int              `json:"chunk_index"`
}

// ControlGap describes a catalog control with no supporting evidence
type ControlGap struct {
	ControlID    string `json:"control_id"`
	ControlTitle string `json:"control_title"`
}

// ExtractionSummary carries the counters of one extraction run
type ExtractionSummary struct {
	CharacterCount          int      `json:"character_count"`
	IdentifiedControlsCount int      `json:"identified_controls_count"`
	FrameworksAnalyzed      []string `json:"frameworks_analyzed"`
	ChunksProcessed         int      `json:"chunks_processed"`
}

// ExtractionResult is the merged, deduplicated output of chunked extraction
type ExtractionResult struct {
	AnalysisSummary ExtractionSummary           `json:"analysis_summary"`
	MappedControls  []ExtractedControlCandidate `json:"mapped_controls"`
	GapAnalysis     map[string][]ControlGap     `json:"gap_analysis"`
}

// NewExtractionResult returns an empty, non-nil result
func NewExtractionResult(frameworks []string) *ExtractionResult {
	return &ExtractionResult{
		AnalysisSummary: ExtractionSummary{
			FrameworksAnalyzed: copyStrings(frameworks),
		},
		MappedControls: []ExtractedControlCandidate{},
		GapAnalysis:    map[string][]ControlGap{},
	}
}

// MappedControlIDs returns the distinct control ids mapped to a framework, in discovery order
func (r *ExtractionResult) MappedControlIDs(framework string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, candidate := range r.MappedControls {
		for _, m := range candidate.Mappings {
			if NormalizeFramework(m.Framework) != framework || m.ControlID == "" || seen[m.ControlID] {
				continue
			}
			seen[m.ControlID] = true
			ids = append(ids, m.ControlID)
		}
	}
	return ids
}
