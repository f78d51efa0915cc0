package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compliai/auditplanner/internal/adapter/persistence"
	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/knowledge"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/internal/worker"
	"github.com/stretchr/testify/require"
)

// scriptedLLM answers every prompt with respond
type scriptedLLM struct {
	respond func(ctx context.Context, prompt string) (string, error)
	calls   atomic.Int32
}

func (l *scriptedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	l.calls.Add(1)
	return l.respond(ctx, prompt)
}

func (l *scriptedLLM) Provider() string { return "scripted" }

var alignmentTarget = regexp.MustCompile(`satisfies ([^:]+):`)

// policyEchoLLM writes a long policy citing whichever framework the prompt names
func policyEchoLLM() *scriptedLLM {
	return &scriptedLLM{respond: func(ctx context.Context, prompt string) (string, error) {
		name := "Unknown"
		if m := alignmentTarget.FindStringSubmatch(prompt); m != nil {
			name = m[1]
		}
		return longPolicy(name), nil
	}}
}

func failingLLM(err error) *scriptedLLM {
	return &scriptedLLM{respond: func(ctx context.Context, prompt string) (string, error) {
		return "", err
	}}
}

func longPolicy(frameworkName string) string {
	var b strings.Builder
	b.WriteString("# Information Security Policy\n\n")
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(&b, "## Section %d\n", i)
		b.WriteString("The organization maintains documented controls that are reviewed by management, ")
		b.WriteString("communicated to every employee and contractor, and measured against agreed objectives. ")
		b.WriteString("Owners are assigned for each control and evidence of operation is retained for audit.\n\n")
		fmt.Fprintf(&b, "Framework Alignment: This section satisfies %s: Control-%d - Policy requirement\n\n", frameworkName, i)
	}
	return b.String()
}

// fakeRetriever serves a fixed answer and chunk list
type fakeRetriever struct {
	answer    string
	queryErr  error
	chunks    []domain.DocumentChunk
	chunksErr error
	delay     time.Duration

	mu        sync.Mutex
	questions []string
}

func (r *fakeRetriever) Query(ctx context.Context, documentID, question string) (ports.RetrievalAnswer, error) {
	r.mu.Lock()
	r.questions = append(r.questions, question)
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ports.RetrievalAnswer{}, ctx.Err()
		}
	}
	if r.queryErr != nil {
		return ports.RetrievalAnswer{}, r.queryErr
	}
	return ports.RetrievalAnswer{Answer: r.answer}, nil
}

func (r *fakeRetriever) Chunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	if r.chunksErr != nil {
		return nil, r.chunksErr
	}
	return r.chunks, nil
}

func (r *fakeRetriever) lastQuestion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.questions) == 0 {
		return ""
	}
	return r.questions[len(r.questions)-1]
}

// failingRepository wraps a working repository and fails selected writes
type failingRepository struct {
	ports.ProjectRepository
	completeErr error
	appendErr   error
}

func (r *failingRepository) Complete(ctx context.Context, id string, result domain.GapAnalysisResult, policy domain.GeneratedPolicy, at time.Time) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	return r.ProjectRepository.Complete(ctx, id, result, policy, at)
}

func (r *failingRepository) AppendTrailEntry(ctx context.Context, id string, entry domain.AuditTrailEntry) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	return r.ProjectRepository.AppendTrailEntry(ctx, id, entry)
}

// interleavingRepository runs afterFind once, right after the first FindByID returns,
// so a concurrent write lands between a caller's read and its write
type interleavingRepository struct {
	ports.ProjectRepository
	once      sync.Once
	afterFind func()
}

func (r *interleavingRepository) FindByID(ctx context.Context, id, ownerID string) (*domain.AuditProject, error) {
	project, err := r.ProjectRepository.FindByID(ctx, id, ownerID)
	r.once.Do(r.afterFind)
	return project, err
}

// blockingAnalyzer waits for release (or cancellation) before delegating
type blockingAnalyzer struct {
	inner   GapAnalysisEngine
	release chan struct{}
}

func (a *blockingAnalyzer) Analyze(ctx context.Context, framework string, documentID *string) domain.GapAnalysisResult {
	select {
	case <-a.release:
	case <-ctx.Done():
	}
	return a.inner.Analyze(ctx, framework, documentID)
}

// panickingSynthesizer blows up on the primary path but keeps the real fallback
type panickingSynthesizer struct {
	*PolicySynthesizer
}

func (s panickingSynthesizer) Synthesize(ctx context.Context, analysis domain.GapAnalysisResult, title, framework string) PolicyDraft {
	panic("synthesizer exploded")
}

// hangingLLM blocks until the caller gives up
func hangingLLM() *scriptedLLM {
	return &scriptedLLM{respond: func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
}

var errUpstream = errors.New("upstream unavailable")

func newTestKB(t *testing.T) *knowledge.KnowledgeBase {
	t.Helper()
	kb, err := knowledge.NewKnowledgeBase("")
	require.NoError(t, err)
	return kb
}

type plannerFixture struct {
	uc     *AuditPlannerUseCase
	repo   ports.ProjectRepository
	runner *worker.Runner
	kb     *knowledge.KnowledgeBase
}

func newPlannerFixture(t *testing.T, llm ports.LLMGateway, retriever ports.DocumentRetriever, config WorkflowConfig) *plannerFixture {
	t.Helper()
	kb := newTestKB(t)
	repo := persistence.NewMemoryProjectRepository()
	runner := worker.NewRunner(nil)

	var extractor *ControlExtractor
	if llm != nil {
		extractor = NewControlExtractor(llm, kb, DefaultExtractionConfig(), nil)
	}
	analyzer := NewGapAnalyzer(kb, retriever, extractor, time.Second, nil)
	synthesizer := NewPolicySynthesizer(llm, kb, nil)

	return &plannerFixture{
		uc:     NewAuditPlannerUseCase(repo, kb, analyzer, synthesizer, runner, config, nil),
		repo:   repo,
		runner: runner,
		kb:     kb,
	}
}

func trailActions(p *domain.AuditProject) []string {
	actions := make([]string, 0, len(p.AuditTrail))
	for _, e := range p.AuditTrail {
		actions = append(actions, e.Action)
	}
	return actions
}

func strPtr(s string) *string { return &s }
