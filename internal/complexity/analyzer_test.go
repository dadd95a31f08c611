package complexity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeMatchesKeywordsInOrder(t *testing.T) {
	a := NewHeuristicAnalyzer("")
	result, err := a.Analyze(context.Background(), "Add a new UI component for the login API")
	require.NoError(t, err)
	assert.Equal(t, []string{"frontend", "backend"}, result.RequiredSpecializations)
	assert.Equal(t, "claude-sonnet-4", result.RecommendedModel)
}

func TestAnalyzeDeduplicatesSpecializations(t *testing.T) {
	a := NewHeuristicAnalyzer("")
	result, err := a.Analyze(context.Background(), "Refactor the backend server and the API layer")
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, result.RequiredSpecializations)
}

func TestAnalyzeFallsBackToImplementer(t *testing.T) {
	a := NewHeuristicAnalyzer("")
	result, err := a.Analyze(context.Background(), "Improve internal numeric precision")
	require.NoError(t, err)
	assert.Equal(t, []string{"implementer"}, result.RequiredSpecializations)
}

func TestNewHeuristicAnalyzerDefaultsModel(t *testing.T) {
	a := NewHeuristicAnalyzer("")
	assert.Equal(t, "claude-sonnet-4", a.DefaultModel)

	custom := NewHeuristicAnalyzer("claude-opus-4")
	assert.Equal(t, "claude-opus-4", custom.DefaultModel)
}
