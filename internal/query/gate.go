package query

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/vector"
)

const DefaultDistanceThreshold = 0.65

// Gate accepts textual evidence whose best distance is within the threshold.
// Numeric evidence is always accepted. The threshold can change at runtime.
type Gate struct {
	threshold atomic.Uint64
}

func NewGate(threshold float64) (*Gate, error) {
	g := &Gate{}
	if err := g.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gate) Threshold() float64 {
	return math.Float64frombits(g.threshold.Load())
}

func (g *Gate) SetThreshold(t float64) error {
	if math.IsNaN(t) || t <= 0 || t > vector.MaxCosineDistance {
		return fmt.Errorf("threshold must be in (0, %.1f], got %v", vector.MaxCosineDistance, t)
	}
	g.threshold.Store(math.Float64bits(t))
	metrics.DistanceThreshold.Set(t)
	return nil
}

func (g *Gate) Evaluate(ev Evidence) Verdict {
	if ev.IsNumeric() || ev.Textual == nil {
		return Verdict{Accepted: true}
	}
	best := ev.Textual.BestDistance
	return Verdict{Accepted: best <= g.Threshold(), BestScore: best}
}
