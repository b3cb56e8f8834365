package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("ak_")
	assert.True(t, strings.HasPrefix(id, "ak_"))
	assert.Len(t, id, len("ak_")+24)
}

func TestEventUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Event()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestHexLength(t *testing.T) {
	assert.Len(t, Hex(32), 64)
}
