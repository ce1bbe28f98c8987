package service

import (
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
	"strings"
)

// ProbabilitySynthesizer produces class distributions biased toward a target
// accuracy. It holds only calibration; all randomness comes from the caller.
type ProbabilitySynthesizer struct {
	cfg config.ProbabilityConfig
}

// NewProbabilitySynthesizer creates a new synthesizer
func NewProbabilitySynthesizer(cfg config.ProbabilityConfig) *ProbabilitySynthesizer {
	return &ProbabilitySynthesizer{cfg: cfg}
}

// Synthesize draws whether this call is "correct" with probability
// targetAccuracy and builds a distribution whose argmax is the intended class
// on a hit, or an ordinal neighbor of it on a miss.
func (ps *ProbabilitySynthesizer) Synthesize(modality models.Modality, hint models.InputDescriptor, targetAccuracy float64, rng RandomSource) (models.Prediction, error) {
	if !finite(targetAccuracy) {
		return models.Prediction{}, &InvalidInputError{Field: "target_accuracy", Value: targetAccuracy}
	}
	targetAccuracy = clamp(targetAccuracy, 0, 1)

	intended, err := ps.IntendedClass(hint, rng)
	if err != nil {
		return models.Prediction{}, err
	}

	correct := rng.Float64() < targetAccuracy

	var raw [models.NumClasses]float64
	if correct {
		raw = ps.hit(intended, rng)
	} else {
		raw = ps.miss(intended, rng)
	}

	probs, err := Normalize(raw)
	if err != nil {
		return models.Prediction{}, err
	}

	predicted := probs.Argmax()
	return models.Prediction{
		Modality:       modality,
		PredictedClass: predicted,
		IntendedClass:  intended,
		Confidence:     probs[predicted],
		Probabilities:  probs,
		Correct:        predicted == intended,
	}, nil
}

// hit gives the intended class a peak and spreads the rest by adjacency
func (ps *ProbabilitySynthesizer) hit(intended models.ClassLabel, rng RandomSource) [models.NumClasses]float64 {
	var raw [models.NumClasses]float64
	peak := ps.cfg.CorrectPeak.Lerp(rng.Float64())
	raw[intended] = peak
	ps.spread(&raw, intended, 1-peak, func(c models.ClassLabel) bool { return c != intended }, rng)
	return raw
}

// miss moves the peak to a neighbor of the intended class. The intended class
// keeps a share of the remainder that is always below the neighbor's peak.
func (ps *ProbabilitySynthesizer) miss(intended models.ClassLabel, rng RandomSource) [models.NumClasses]float64 {
	var raw [models.NumClasses]float64
	neighbors := intended.Neighbors()
	wrong := neighbors[rng.Intn(len(neighbors))]

	peak := ps.cfg.WrongPeak.Lerp(rng.Float64())
	rest := 1 - peak
	share := rest * ps.cfg.IntendedShareWhenWrong.Lerp(rng.Float64())

	raw[wrong] = peak
	raw[intended] = share
	ps.spread(&raw, wrong, rest-share, func(c models.ClassLabel) bool { return c != wrong && c != intended }, rng)
	return raw
}

// spread distributes mass over the classes accepted by include, weighting each
// by 1/distance from anchor times a jitter factor.
func (ps *ProbabilitySynthesizer) spread(raw *[models.NumClasses]float64, anchor models.ClassLabel, mass float64, include func(models.ClassLabel) bool, rng RandomSource) {
	var weights [models.NumClasses]float64
	total := 0.0
	for _, c := range models.AllClasses {
		if !include(c) {
			continue
		}
		w := ps.cfg.Jitter.Lerp(rng.Float64()) / float64(c.Distance(anchor))
		weights[c] = w
		total += w
	}
	if total == 0 {
		return
	}
	for _, c := range models.AllClasses {
		raw[c] += mass * weights[c] / total
	}
}

// Normalize clamps negative and NaN entries to zero and rescales to sum 1
func Normalize(raw [models.NumClasses]float64) (models.ProbabilityVector, error) {
	var out models.ProbabilityVector
	sum := 0.0
	for i, v := range raw {
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		if math.IsInf(v, 1) {
			return out, &InvalidDistributionError{Raw: raw, Sum: v}
		}
		out[i] = v
		sum += v
	}
	if sum <= 0 {
		return models.ProbabilityVector{}, &InvalidDistributionError{Raw: raw, Sum: sum}
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

// IntendedClass resolves the class the synthetic model should aim for: an
// explicit class, then a filename token, then a bucketed risk score, then a
// uniform draw.
func (ps *ProbabilitySynthesizer) IntendedClass(hint models.InputDescriptor, rng RandomSource) (models.ClassLabel, error) {
	if hint.IntendedClass != nil {
		if !hint.IntendedClass.Valid() {
			return 0, &InvalidInputError{Field: "intended_class", Value: float64(*hint.IntendedClass)}
		}
		return *hint.IntendedClass, nil
	}
	if c, ok := ClassFromFilename(hint.Filename); ok {
		return c, nil
	}
	if hint.RiskScore != nil {
		score, err := bounded("risk_score", *hint.RiskScore, 0, 100)
		if err != nil {
			return 0, err
		}
		return BucketRisk(score, ps.cfg.BucketThresholds), nil
	}
	return models.AllClasses[rng.Intn(models.NumClasses)], nil
}

// BucketRisk maps a 0-100 score to a class given ascending lower bounds for
// MCI, MildStage and ModerateStage.
func BucketRisk(score float64, thresholds [3]float64) models.ClassLabel {
	switch {
	case score >= thresholds[2]:
		return models.ClassModerateStage
	case score >= thresholds[1]:
		return models.ClassMildStage
	case score >= thresholds[0]:
		return models.ClassMCI
	}
	return models.ClassNormal
}

// ClassFromFilename looks for a stage token anywhere in the path, so dataset
// folders like "NonDemented/26.jpg" count. The more specific tokens are
// checked first since "verymild" contains "mild".
func ClassFromFilename(name string) (models.ClassLabel, bool) {
	if name == "" {
		return 0, false
	}
	base := strings.ToLower(name)
	base = strings.NewReplacer("_", "", "-", "", " ", "").Replace(base)
	switch {
	case strings.Contains(base, "moderate"):
		return models.ClassModerateStage, true
	case strings.Contains(base, "verymild"), strings.Contains(base, "mci"):
		return models.ClassMCI, true
	case strings.Contains(base, "mild"):
		return models.ClassMildStage, true
	case strings.Contains(base, "nondemented"), strings.Contains(base, "normal"),
		strings.Contains(base, "healthy"), strings.Contains(base, "control"):
		return models.ClassNormal, true
	}
	return 0, false
}
