package handoff

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageThenTake(t *testing.T) {
	c := NewCache()

	require.NoError(t, c.Stage("pop_a", 1.0, 2.0))
	require.NoError(t, c.Stage("pop_a", 3.0))
	assert.Equal(t, 1, c.Len())

	q, err := c.TakeOrCreate("pop_a")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len(), "take must remove the staged entry")

	for want := 1.0; want <= 3.0; want++ {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got, "staged samples must survive handoff in order")
	}
}

func TestTakeWithoutStage(t *testing.T) {
	c := NewCache()

	q, err := c.TakeOrCreate("never_staged")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 0, q.Len())
}

func TestTakeIsExactlyOnce(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Stage("pop_b", 7.0))

	q1, err := c.TakeOrCreate("pop_b")
	require.NoError(t, err)
	q2, err := c.TakeOrCreate("pop_b")
	require.NoError(t, err)

	assert.Equal(t, 1, q1.Len())
	assert.Equal(t, 0, q2.Len(), "second take must get a fresh queue")
}

func TestStagedNames(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Stage("zeta", 1))
	require.NoError(t, c.Stage("alpha", 2))

	assert.Equal(t, []string{"alpha", "zeta"}, c.StagedNames())
}

func TestConcurrentStageAndTake(t *testing.T) {
	c := NewCache()

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = c.Stage("shared", float64(w*perWriter+i))
			}
		}(w)
	}
	wg.Wait()

	q, err := c.TakeOrCreate("shared")
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, q.Len(), "no staged sample may be lost")
}
