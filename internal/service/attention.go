package service

import (
	"fmt"
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
)

// AttentionGenerator synthesizes "where the model looked" for a class
type AttentionGenerator struct {
	policies map[models.ClassLabel]config.AttentionPolicy
	maxCells int
}

// NewAttentionGenerator creates a generator over the configured policies
func NewAttentionGenerator(cfg config.AttentionConfig) *AttentionGenerator {
	maxCells := cfg.MaxCells
	if maxCells <= 0 {
		maxCells = config.DefaultMaxCells
	}
	return &AttentionGenerator{policies: cfg.Policies, maxCells: maxCells}
}

// Generate builds a width x height grid for class. Anchors and radii are
// fractions of the frame, so the shape does not depend on resolution. Cells
// are visited in row-major order, which fixes the order of RNG draws.
func (ag *AttentionGenerator) Generate(class models.ClassLabel, width, height int, rng RandomSource) (models.AttentionGrid, error) {
	if width <= 0 || height <= 0 {
		return models.AttentionGrid{}, &InvalidGridDimensionsError{Width: width, Height: height}
	}
	// compare by division so width*height cannot overflow
	if width > ag.maxCells/height {
		return models.AttentionGrid{}, &InvalidGridDimensionsError{Width: width, Height: height, MaxCells: ag.maxCells}
	}
	policy, ok := ag.policies[class]
	if !ok {
		return models.AttentionGrid{}, fmt.Errorf("no attention policy for class %s: %w", class, ErrInvalidInput)
	}

	w, h := float64(width), float64(height)
	minDim := math.Min(w, h)

	bumps := make([]anchoredBump, len(policy.Bumps))
	for i, b := range policy.Bumps {
		bumps[i] = anchoredBump{
			x:      b.X * w,
			y:      b.Y * h,
			radius: b.Radius * minDim,
			peak:   b.Peak,
			jitter: b.Jitter,
		}
	}

	// Disc around the center covering RadialArea of the frame
	radialR := 0.0
	if policy.Radial {
		radialR = math.Sqrt(policy.RadialArea * w * h / math.Pi)
	}
	cx, cy := w/2, h/2

	values := make([]float64, width*height)
	for y := 0; y < height; y++ {
		// sample at cell centers
		py := float64(y) + 0.5
		for x := 0; x < width; x++ {
			px := float64(x) + 0.5

			v := policy.BaseNoise.Lerp(rng.Float64())

			if policy.Radial {
				d := math.Hypot(px-cx, py-cy)
				if d < radialR {
					v += policy.RadialPeak - (policy.RadialPeak-policy.RadialEdge)*(d/radialR)
				} else {
					v += policy.OuterNoise.Lerp(rng.Float64())
				}
			}

			for _, b := range bumps {
				v += b.at(px, py, rng)
			}

			values[y*width+x] = v
		}
	}

	return models.NewAttentionGrid(width, height, values), nil
}

type anchoredBump struct {
	x, y, radius float64
	peak, jitter float64
}

// at is the bump's contribution to a point: a Gaussian-like falloff plus
// noise inside the radius, nothing outside.
func (b anchoredBump) at(px, py float64, rng RandomSource) float64 {
	if b.radius <= 0 {
		return 0
	}
	d := math.Hypot(px-b.x, py-b.y)
	if d >= b.radius {
		return 0
	}
	r := d / b.radius
	return b.peak*math.Exp(-2*r*r) + b.jitter*rng.Float64()
}
