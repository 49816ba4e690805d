package query

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textual(best float64) Evidence {
	return Evidence{Textual: &TextualEvidence{BestDistance: best}}
}

func TestGate_Evaluate(t *testing.T) {
	g, err := NewGate(0.65)
	require.NoError(t, err)

	tests := []struct {
		name     string
		ev       Evidence
		accepted bool
	}{
		{"close match", textual(0.20), true},
		{"boundary is accepted", textual(0.65), true},
		{"too far", textual(0.80), false},
		{"empty corpus sentinel", textual(2.0), false},
		{"numeric always accepted", Evidence{Numeric: &NumericEvidence{Status: StatusNoData}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.accepted, g.Evaluate(tt.ev).Accepted)
		})
	}
}

func TestGate_SetThreshold(t *testing.T) {
	g, err := NewGate(0.65)
	require.NoError(t, err)

	require.NoError(t, g.SetThreshold(0.9))
	assert.Equal(t, 0.9, g.Threshold())
	assert.True(t, g.Evaluate(textual(0.80)).Accepted)

	assert.Error(t, g.SetThreshold(0))
	assert.Error(t, g.SetThreshold(2.5))
	assert.Equal(t, 0.9, g.Threshold(), "rejected values leave the threshold unchanged")

	_, err = NewGate(-1)
	assert.Error(t, err)
}

func TestGate_ConcurrentAccess(t *testing.T) {
	g, err := NewGate(0.5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = g.SetThreshold(0.3 + float64(i)/100)
			} else {
				g.Evaluate(textual(0.4))
			}
		}()
	}
	wg.Wait()
	assert.Greater(t, g.Threshold(), 0.0)
}
