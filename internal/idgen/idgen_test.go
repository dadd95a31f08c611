package idgen

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLength(t *testing.T) {
	id := New()
	assert.Len(t, id, 26)
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}
}

func TestNewSortsInGenerationOrder(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = New()
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("orch")
	assert.Regexp(t, `^orch_[0-9A-Z]{26}$`, id)
}

func TestNewFallbackIsUUID(t *testing.T) {
	id := NewFallback()
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}
