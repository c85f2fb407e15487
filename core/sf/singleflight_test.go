package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_Dedup(t *testing.T) {
	var (
		g       Group[string]
		calls   atomic.Int32
		release = make(chan struct{})
		started = make(chan struct{})
		wg      sync.WaitGroup
		results = make([]string, 5)
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = g.Do("k", func() (string, error) {
			close(started)
			calls.Add(1)
			<-release
			return "v", nil
		})
	}()
	<-started

	// later callers join the running call
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, _ = g.Do("k", func() (string, error) {
				calls.Add(1)
				return "other", nil
			})
		}()
	}
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.NotEmpty(t, r)
	}
	assert.Equal(t, "v", results[0])
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestGroup_Error(t *testing.T) {
	var g Group[int]
	boom := errors.New("boom")

	v, _, err := g.Do("k", func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, v)

	// a finished call is not remembered
	v, shared, err := g.Do("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, shared)
}
