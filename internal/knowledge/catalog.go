// Package knowledge holds the read-only catalog of compliance frameworks,
// their controls and the cross-framework control mappings.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/compliai/auditplanner/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed frameworks.yaml
var builtinCatalog []byte

type catalogFile struct {
	Frameworks []frameworkEntry `yaml:"frameworks"`
	Mappings   []mappingEntry   `yaml:"mappings"`
}

type frameworkEntry struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	FullName    string           `yaml:"full_name"`
	Description string           `yaml:"description"`
	Version     string           `yaml:"version"`
	Category    string           `yaml:"category"`
	Controls    []domain.Control `yaml:"controls"`
}

type mappingEntry struct {
	From     string              `yaml:"from"`
	To       string              `yaml:"to"`
	Controls map[string][]string `yaml:"controls"`
}

// KnowledgeBase is an immutable, concurrency-safe framework catalog
type KnowledgeBase struct {
	order      []string
	frameworks map[string]frameworkEntry
	// from framework -> to framework -> control id -> mapped ids
	mappings map[string]map[string]map[string][]string
}

// NewKnowledgeBase loads the built-in catalog, then merges the YAML file at
// overridePath over it when one is given. Frameworks in the override replace
// built-in frameworks with the same id.
func NewKnowledgeBase(overridePath string) (*KnowledgeBase, error) {
	docs := [][]byte{builtinCatalog}
	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", overridePath, err)
		}
		docs = append(docs, data)
	}
	return FromYAML(docs...)
}

// FromYAML builds a knowledge base from one or more catalog documents, later documents winning
func FromYAML(docs ...[]byte) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{
		frameworks: make(map[string]frameworkEntry),
		mappings:   make(map[string]map[string]map[string][]string),
	}

	for i, doc := range docs {
		var file catalogFile
		if err := yaml.Unmarshal(doc, &file); err != nil {
			return nil, fmt.Errorf("failed to parse catalog document %d: %w", i, err)
		}
		for _, fw := range file.Frameworks {
			if err := kb.addFramework(fw); err != nil {
				return nil, err
			}
		}
		for _, m := range file.Mappings {
			kb.addMapping(m)
		}
	}

	return kb, nil
}

func (kb *KnowledgeBase) addFramework(fw frameworkEntry) error {
	fw.ID = domain.NormalizeFramework(fw.ID)
	if fw.ID == "" {
		return fmt.Errorf("framework id is required")
	}

	seen := make(map[string]bool, len(fw.Controls))
	for _, ctrl := range fw.Controls {
		if strings.TrimSpace(ctrl.ID) == "" {
			return fmt.Errorf("framework %s has a control without id", fw.ID)
		}
		if seen[ctrl.ID] {
			return fmt.Errorf("framework %s has duplicate control %s", fw.ID, ctrl.ID)
		}
		seen[ctrl.ID] = true
	}

	if fw.Name == "" {
		fw.Name = fw.ID
	}
	if fw.FullName == "" {
		fw.FullName = fw.Name
	}

	if _, exists := kb.frameworks[fw.ID]; !exists {
		kb.order = append(kb.order, fw.ID)
	}
	kb.frameworks[fw.ID] = fw
	return nil
}

func (kb *KnowledgeBase) addMapping(m mappingEntry) {
	from := domain.NormalizeFramework(m.From)
	to := domain.NormalizeFramework(m.To)
	if from == "" || to == "" {
		return
	}
	if kb.mappings[from] == nil {
		kb.mappings[from] = make(map[string]map[string][]string)
	}
	if kb.mappings[from][to] == nil {
		kb.mappings[from][to] = make(map[string][]string)
	}
	for id, targets := range m.Controls {
		kb.mappings[from][to][id] = append([]string{}, targets...)
	}
}

// GetCatalog returns a copy of a framework's catalog. Frameworks listed
// without controls report false.
func (kb *KnowledgeBase) GetCatalog(framework string) (*domain.ControlCatalog, bool) {
	fw, ok := kb.frameworks[domain.NormalizeFramework(framework)]
	if !ok || len(fw.Controls) == 0 {
		return nil, false
	}

	controls := make([]domain.Control, len(fw.Controls))
	for i, ctrl := range fw.Controls {
		ctrl.ImplementationGuidance = append([]string{}, ctrl.ImplementationGuidance...)
		controls[i] = ctrl
	}

	return &domain.ControlCatalog{
		Framework:   fw.ID,
		Name:        fw.FullName,
		Version:     fw.Version,
		Description: fw.Description,
		Category:    fw.Category,
		Controls:    controls,
	}, true
}

// FrameworkNames returns the ids of frameworks that have a control catalog
func (kb *KnowledgeBase) FrameworkNames() []string {
	names := []string{}
	for _, id := range kb.order {
		if len(kb.frameworks[id].Controls) > 0 {
			names = append(names, id)
		}
	}
	return names
}

// Frameworks returns every framework a project may target
func (kb *KnowledgeBase) Frameworks() []domain.FrameworkInfo {
	infos := make([]domain.FrameworkInfo, 0, len(kb.order))
	for _, id := range kb.order {
		fw := kb.frameworks[id]
		infos = append(infos, domain.FrameworkInfo{
			ID:          fw.ID,
			Name:        fw.Name,
			Description: fw.Description,
			Version:     fw.Version,
			Category:    fw.Category,
		})
	}
	return infos
}

// Supports reports whether framework is listed in the catalog
func (kb *KnowledgeBase) Supports(framework string) bool {
	_, ok := kb.frameworks[domain.NormalizeFramework(framework)]
	return ok
}

// SearchControls does a case-insensitive substring search over control
// titles, descriptions and categories. An empty framework searches all.
func (kb *KnowledgeBase) SearchControls(query, framework string) []domain.ControlMatch {
	query = strings.ToLower(strings.TrimSpace(query))
	matches := []domain.ControlMatch{}
	if query == "" {
		return matches
	}

	targets := kb.order
	if framework != "" {
		targets = []string{domain.NormalizeFramework(framework)}
	}

	for _, id := range targets {
		fw, ok := kb.frameworks[id]
		if !ok {
			continue
		}
		for _, ctrl := range fw.Controls {
			if strings.Contains(strings.ToLower(ctrl.Title), query) ||
				strings.Contains(strings.ToLower(ctrl.Description), query) ||
				strings.Contains(strings.ToLower(ctrl.Category), query) {
				matches = append(matches, domain.ControlMatch{
					Framework:   fw.ID,
					ControlID:   ctrl.ID,
					Title:       ctrl.Title,
					Description: ctrl.Description,
					Category:    ctrl.Category,
				})
			}
		}
	}
	return matches
}

// MappedControls returns controls in toFramework equivalent to controlID.
// Mappings are looked up in both directions.
func (kb *KnowledgeBase) MappedControls(fromFramework, controlID, toFramework string) []string {
	from := domain.NormalizeFramework(fromFramework)
	to := domain.NormalizeFramework(toFramework)

	if targets, ok := kb.mappings[from][to][controlID]; ok {
		return append([]string{}, targets...)
	}

	var reverse []string
	for source, targets := range kb.mappings[to][from] {
		for _, target := range targets {
			if target == controlID {
				reverse = append(reverse, source)
				break
			}
		}
	}
	sort.Strings(reverse)
	if reverse == nil {
		return []string{}
	}
	return reverse
}
