package service

import (
	"errors"
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSynthesizer() *ProbabilitySynthesizer {
	return NewProbabilitySynthesizer(config.Default().Probability)
}

func classPtr(c models.ClassLabel) *models.ClassLabel { return &c }

func TestNormalize(t *testing.T) {
	t.Run("clamps negatives and NaN", func(t *testing.T) {
		p, err := Normalize([4]float64{-0.5, math.NaN(), 1, 3})
		require.NoError(t, err)
		assert.Equal(t, models.ProbabilityVector{0, 0, 0.25, 0.75}, p)
	})

	t.Run("rejects all non-positive", func(t *testing.T) {
		_, err := Normalize([4]float64{-1, 0, -0.1, math.NaN()})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDistribution))

		var distErr *InvalidDistributionError
		require.True(t, errors.As(err, &distErr))
		assert.Equal(t, 0.0, distErr.Sum)
	})
}

func TestSynthesizeIsADistribution(t *testing.T) {
	ps := newTestSynthesizer()
	for _, class := range models.AllClasses {
		for _, acc := range []float64{0, 0.3, 0.92, 1} {
			rng := NewRandomSource(int64(class)*100 + int64(acc*10))
			for i := 0; i < 200; i++ {
				pred, err := ps.Synthesize(models.ModalityImaging, models.InputDescriptor{IntendedClass: classPtr(class)}, acc, rng)
				require.NoError(t, err)
				assert.InDelta(t, 1.0, pred.Probabilities.Sum(), 1e-6)
				for _, v := range pred.Probabilities {
					assert.GreaterOrEqual(t, v, 0.0)
				}
				assert.Equal(t, pred.Probabilities[pred.PredictedClass], pred.Confidence)
			}
		}
	}
}

func TestSynthesizeEmpiricalAccuracy(t *testing.T) {
	ps := newTestSynthesizer()
	const trials = 2000
	for _, acc := range []float64{0.5, 0.8, 0.92} {
		rng := NewRandomSource(7)
		hits := 0
		for i := 0; i < trials; i++ {
			pred, err := ps.Synthesize(models.ModalityImaging, models.InputDescriptor{IntendedClass: classPtr(models.ClassMCI)}, acc, rng)
			require.NoError(t, err)
			if pred.PredictedClass == models.ClassMCI {
				hits++
			}
		}
		assert.InDelta(t, acc, float64(hits)/trials, 0.05, "target accuracy %.2f", acc)
	}
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	ps := newTestSynthesizer()
	hint := models.InputDescriptor{Filename: "scans/verymild_042.png"}

	a, err := ps.Synthesize(models.ModalityImaging, hint, 0.9, NewRandomSource(42))
	require.NoError(t, err)
	b, err := ps.Synthesize(models.ModalityImaging, hint, 0.9, NewRandomSource(42))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSynthesizeMissLandsOnNeighbor(t *testing.T) {
	ps := newTestSynthesizer()
	rng := NewRandomSource(3)
	for _, class := range models.AllClasses {
		for i := 0; i < 100; i++ {
			pred, err := ps.Synthesize(models.ModalityClinical, models.InputDescriptor{IntendedClass: classPtr(class)}, 0, rng)
			require.NoError(t, err)
			assert.NotEqual(t, class, pred.PredictedClass)
			assert.Equal(t, 1, pred.PredictedClass.Distance(class))
			assert.False(t, pred.Correct)
		}
	}
}

func TestSynthesizeHitFavorsAdjacentClasses(t *testing.T) {
	ps := newTestSynthesizer()
	rng := NewRandomSource(11)
	for i := 0; i < 100; i++ {
		pred, err := ps.Synthesize(models.ModalityImaging, models.InputDescriptor{IntendedClass: classPtr(models.ClassMCI)}, 1, rng)
		require.NoError(t, err)
		p := pred.Probabilities
		assert.Equal(t, models.ClassMCI, pred.PredictedClass)
		assert.True(t, pred.Correct)
		assert.GreaterOrEqual(t, p[models.ClassMCI], 0.70-1e-9)
		assert.LessOrEqual(t, p[models.ClassMCI], 0.90+1e-9)
		assert.Greater(t, p[models.ClassNormal], p[models.ClassModerateStage])
		assert.Greater(t, p[models.ClassMildStage], p[models.ClassModerateStage])
	}
}

func TestSynthesizeRejectsNonFiniteInputs(t *testing.T) {
	ps := newTestSynthesizer()
	_, err := ps.Synthesize(models.ModalityImaging, models.InputDescriptor{}, math.NaN(), NewRandomSource(1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	inf := math.Inf(1)
	_, err = ps.Synthesize(models.ModalityImaging, models.InputDescriptor{RiskScore: &inf}, 0.9, NewRandomSource(1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIntendedClass(t *testing.T) {
	ps := newTestSynthesizer()
	tests := []struct {
		name string
		hint models.InputDescriptor
		want models.ClassLabel
	}{
		{"explicit wins over filename", models.InputDescriptor{IntendedClass: classPtr(models.ClassNormal), Filename: "moderate.png"}, models.ClassNormal},
		{"moderate token", models.InputDescriptor{Filename: "ModerateDemented/moderate_12.jpg"}, models.ClassModerateStage},
		{"very mild is MCI", models.InputDescriptor{Filename: "VeryMildDemented_3.jpg"}, models.ClassMCI},
		{"mci token", models.InputDescriptor{Filename: "patient-MCI-7.png"}, models.ClassMCI},
		{"mild token", models.InputDescriptor{Filename: "mild_demented_1.png"}, models.ClassMildStage},
		{"dataset folder", models.InputDescriptor{Filename: "NonDemented/26.jpg"}, models.ClassNormal},
		{"risk normal bucket", models.InputDescriptor{RiskScore: models.Float(24.9)}, models.ClassNormal},
		{"risk MCI bucket", models.InputDescriptor{RiskScore: models.Float(25)}, models.ClassMCI},
		{"risk mild bucket", models.InputDescriptor{RiskScore: models.Float(60)}, models.ClassMildStage},
		{"risk clamped above 100", models.InputDescriptor{RiskScore: models.Float(140)}, models.ClassModerateStage},
		{"filename beats risk", models.InputDescriptor{Filename: "healthy.png", RiskScore: models.Float(90)}, models.ClassNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ps.IntendedClass(tt.hint, NewRandomSource(1))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("no hint draws from rng", func(t *testing.T) {
		a, err := ps.IntendedClass(models.InputDescriptor{Filename: "scan.png"}, NewRandomSource(5))
		require.NoError(t, err)
		b, err := ps.IntendedClass(models.InputDescriptor{Filename: "scan.png"}, NewRandomSource(5))
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.True(t, a.Valid())
	})

	t.Run("invalid explicit class", func(t *testing.T) {
		_, err := ps.IntendedClass(models.InputDescriptor{IntendedClass: classPtr(models.ClassLabel(9))}, NewRandomSource(1))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestDeriveSeedSeparatesModalities(t *testing.T) {
	assert.NotEqual(t, DeriveSeed(1, models.ModalityImaging), DeriveSeed(1, models.ModalityClinical))
	assert.Equal(t, DeriveSeed(9, models.ModalityGenomic), DeriveSeed(9, models.ModalityGenomic))
}
