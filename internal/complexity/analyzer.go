// Package complexity provides a concrete, heuristic implementation of
// orchestrator.ComplexityAnalyzer (spec §1 explicit non-goal: the core
// itself never computes decomposition intelligence). This is the
// composition root's choice of collaborator, not part of the core's
// contract — grounded in the same keyword-driven heuristics the teacher
// uses for risk/shard classification (objective.riskAssessment,
// cmd/nerd's shard profile selection).
package complexity

import (
	"context"
	"strings"

	"zmcptools/internal/orchestrator"
)

// keywordSpecializations maps objective-description keywords to the
// specialization they imply, mirroring process.typeAbbreviations' agent
// type vocabulary (spec §4.3).
var keywordSpecializations = []struct {
	keyword        string
	specialization string
}{
	{"ui", "frontend"},
	{"frontend", "frontend"},
	{"component", "frontend"},
	{"api", "backend"},
	{"backend", "backend"},
	{"database", "backend"},
	{"server", "backend"},
	{"test", "testing"},
	{"qa", "testing"},
	{"doc", "documentation"},
	{"readme", "documentation"},
	{"deploy", "devops"},
	{"ci/cd", "devops"},
	{"infra", "devops"},
	{"research", "researcher"},
	{"investigate", "researcher"},
	{"review", "reviewer"},
	{"audit", "reviewer"},
}

// HeuristicAnalyzer implements orchestrator.ComplexityAnalyzer by matching
// keywords in the objective description against a fixed specialization
// vocabulary, falling back to a general-purpose implementer when nothing
// matches.
type HeuristicAnalyzer struct {
	// DefaultModel is the model recommended for every analysis; keyword
	// rules only select specializations.
	DefaultModel string
}

// NewHeuristicAnalyzer constructs an analyzer defaulting every plan to model.
func NewHeuristicAnalyzer(model string) *HeuristicAnalyzer {
	if model == "" {
		model = "claude-sonnet-4"
	}
	return &HeuristicAnalyzer{DefaultModel: model}
}

// Analyze implements orchestrator.ComplexityAnalyzer.
func (h *HeuristicAnalyzer) Analyze(_ context.Context, objectiveDescription string) (orchestrator.ComplexityAnalysis, error) {
	lower := strings.ToLower(objectiveDescription)

	seen := make(map[string]bool)
	var specializations []string
	for _, rule := range keywordSpecializations {
		if strings.Contains(lower, rule.keyword) && !seen[rule.specialization] {
			seen[rule.specialization] = true
			specializations = append(specializations, rule.specialization)
		}
	}
	if len(specializations) == 0 {
		specializations = []string{"implementer"}
	}

	return orchestrator.ComplexityAnalysis{
		RequiredSpecializations: specializations,
		RecommendedModel:        h.DefaultModel,
	}, nil
}
