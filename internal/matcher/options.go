package matcher

import (
	"fmt"
	"math"

	"github.com/example/fingerprint-match/internal/imaging"
)

// Policy selects how an embedding distance becomes a similarity score.
type Policy string

const (
	// PolicyDecay scores exp(-k * d^2).
	PolicyDecay Policy = "decay"
	// PolicyMargin scores 1 - d^2/margin, clamped to [0,1].
	PolicyMargin Policy = "margin"
)

// Options are the tunables of a deployment.
type Options struct {
	Policy Policy `yaml:"policy"`
	// Steepness is k in the decay policy.
	Steepness float64 `yaml:"steepness"`
	// Margin is the squared distance at which the margin policy reaches zero.
	Margin float64 `yaml:"margin"`
	// Threshold is exclusive: a candidate must score strictly above it.
	Threshold      float64       `yaml:"threshold"`
	TopK           int           `yaml:"top_k"`
	RotationAngles []float64     `yaml:"rotation_angles"`
	Shape          imaging.Shape `yaml:"input_shape"`
}

// DefaultOptions returns decay scoring with k=10, a 0.1 threshold, three
// results and a +-10 degree query rotation search.
func DefaultOptions() Options {
	return Options{
		Policy:         PolicyDecay,
		Steepness:      10,
		Margin:         0.4,
		Threshold:      0.1,
		TopK:           3,
		RotationAngles: []float64{-10, 0, 10},
		Shape:          imaging.DefaultShape,
	}
}

// Validate checks the options for internal consistency.
func (o Options) Validate() error {
	for name, v := range map[string]float64{"steepness": o.Steepness, "margin": o.Margin, "threshold": o.Threshold} {
		if !finite(v) {
			return fmt.Errorf("%s must be finite, got %v", name, v)
		}
	}
	for _, deg := range o.RotationAngles {
		if !finite(deg) {
			return fmt.Errorf("rotation angles must be finite, got %v", deg)
		}
	}
	switch o.Policy {
	case PolicyDecay:
		if o.Steepness <= 0 {
			return fmt.Errorf("steepness must be positive, got %v", o.Steepness)
		}
	case PolicyMargin:
		if o.Margin <= 0 {
			return fmt.Errorf("margin must be positive, got %v", o.Margin)
		}
	default:
		return fmt.Errorf("unknown score policy %q", o.Policy)
	}
	if o.Threshold < 0 || o.Threshold >= 1 {
		return fmt.Errorf("threshold must be in [0,1), got %v", o.Threshold)
	}
	if o.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", o.TopK)
	}
	return o.Shape.Validate()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ScoreDistance converts an embedding distance into a score in [0,1].
func (o Options) ScoreDistance(d float64) float64 {
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	sq := d * d
	var score float64
	switch o.Policy {
	case PolicyMargin:
		score = 1 - sq/o.Margin
	default:
		score = math.Exp(-o.Steepness * sq)
	}
	return clamp01(score)
}

func (o Options) angles() []float64 {
	if len(o.RotationAngles) == 0 {
		return []float64{0}
	}
	return o.RotationAngles
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return v
	}
}
