package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerator_Next_Monotonic(t *testing.T) {
	g := New()

	ids := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		id, err := g.Next()
		assert.NoError(t, err)
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i], "ids must be strictly increasing lexically")
	}
}

func TestGenerator_Next_Concurrent(t *testing.T) {
	g := New()
	const n = 200

	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			id, err := g.Next()
			assert.NoError(t, err)
			results <- id
		}()
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := <-results
		assert.False(t, seen[id], "duplicate id generated")
		seen[id] = true
	}
}

func TestTime_ParsesGeneratedID(t *testing.T) {
	g := New()
	id, err := g.Next()
	assert.NoError(t, err)

	_, err = Time(id)
	assert.NoError(t, err)
}
