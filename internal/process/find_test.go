package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAliveForCurrentProcess(t *testing.T) {
	assert.True(t, IsAlive(os.Getpid()))
}

func TestIsAliveForImplausiblePID(t *testing.T) {
	assert.False(t, IsAlive(1<<30))
}

func TestFindByTitleNoMatch(t *testing.T) {
	_, ok := FindByTitle("zmcp-does-not-exist-anywhere-xyz")
	assert.False(t, ok)
}
