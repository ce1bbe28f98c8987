package service

import (
	"fmt"
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
)

// Stage2Input is the advanced-diagnostic panel. Both parts are required.
type Stage2Input struct {
	Biomarkers *models.BiomarkerPanel     `json:"biomarkers"`
	Imaging    *models.ImagingVolumetrics `json:"imaging"`
}

// EnsembleEngine fuses screening and advanced scores into one assessment.
// Every call is a fresh computation over its inputs.
type EnsembleEngine struct {
	cfg config.FusionConfig
}

// NewEnsembleEngine creates an engine with the given fusion rules
func NewEnsembleEngine(cfg config.FusionConfig) *EnsembleEngine {
	return &EnsembleEngine{cfg: cfg}
}

// Stage1 scores the screening tier from clinical scalars and handwriting tasks
func (e *EnsembleEngine) Stage1(rec models.ClinicalRecord) (models.Stage1Result, error) {
	clinical, err := e.ClinicalRisk(rec)
	if err != nil {
		return models.Stage1Result{}, err
	}
	handwriting, err := e.HandwritingRisk(rec.Handwriting)
	if err != nil {
		return models.Stage1Result{}, err
	}

	score := clamp((clinical*e.cfg.ClinicalShare+handwriting*e.cfg.HandwritingShare)*100, 0, 100)
	level := e.Level(score)
	return models.Stage1Result{
		ClinicalRisk:    clinical,
		HandwritingRisk: handwriting,
		Score:           score,
		Level:           level,
		ProceedToStage2: level != models.RiskLow,
	}, nil
}

// ClinicalRisk is (30-mmse)/30*0.4 + cdr*0.3 + ageRisk*0.3 with the default weights
func (e *EnsembleEngine) ClinicalRisk(rec models.ClinicalRecord) (float64, error) {
	if rec.Cognitive == nil {
		return 0, &MissingModalityInputError{Modality: config.GroupCognitive, Field: "mmse"}
	}
	mmse, err := required(config.GroupCognitive, "mmse", rec.Cognitive.MMSE, 0, e.cfg.MMSEMax)
	if err != nil {
		return 0, err
	}
	cdr, err := required(config.GroupCognitive, "cdr", rec.Cognitive.CDR, 0, 3)
	if err != nil {
		return 0, err
	}
	age, err := required("demographics", "age", rec.Age, 0, 130)
	if err != nil {
		return 0, err
	}
	ageRisk := math.Max(0, age-e.cfg.AgeOnset) * e.cfg.AgePerYear

	return (e.cfg.MMSEMax-mmse)/e.cfg.MMSEMax*e.cfg.MMSEWeight +
		cdr*e.cfg.CDRWeight +
		ageRisk*e.cfg.AgeWeight, nil
}

// HandwritingRisk is the mean over tasks of (1-velocity)*0.3 + tremor*0.4 + (1-fluency)*0.3
func (e *EnsembleEngine) HandwritingRisk(tasks []models.HandwritingTask) (float64, error) {
	if len(tasks) == 0 {
		return 0, &MissingModalityInputError{Modality: config.GroupHandwriting, Field: "tasks"}
	}
	velocity, tremor, fluency, err := meanKinematics(tasks)
	if err != nil {
		return 0, err
	}
	// the formula is linear, so the mean of per-task risks equals the risk of the means
	return (1-velocity)*e.cfg.VelocityWeight + tremor*e.cfg.TremorWeight + (1-fluency)*e.cfg.FluencyWeight, nil
}

// Level buckets a stage-1 score
func (e *EnsembleEngine) Level(score float64) models.RiskLevel {
	switch {
	case score >= e.cfg.HighThreshold:
		return models.RiskHigh
	case score >= e.cfg.ModerateThreshold:
		return models.RiskModerate
	}
	return models.RiskLow
}

// BiomarkerRisk adds fixed points per threshold breach, capped at 100
func (e *EnsembleEngine) BiomarkerRisk(b *models.BiomarkerPanel) (float64, error) {
	if b == nil {
		return 0, &MissingModalityInputError{Modality: config.GroupBiomarker, Field: "panel"}
	}
	ratio, err := required(config.GroupBiomarker, "abeta42_40", b.AbetaRatio, 0, 1)
	if err != nil {
		return 0, err
	}
	ptau, err := required(config.GroupBiomarker, "ptau181", b.PTau181, 0, math.MaxFloat64)
	if err != nil {
		return 0, err
	}
	nfl, err := required(config.GroupBiomarker, "nfl", b.NfL, 0, math.MaxFloat64)
	if err != nil {
		return 0, err
	}
	if b.APOE4 == nil {
		return 0, &MissingModalityInputError{Modality: config.GroupBiomarker, Field: "apoe4"}
	}

	risk := stepBelow(ratio, e.cfg.AbetaSteps) +
		stepAbove(ptau, e.cfg.PTauSteps) +
		stepAbove(nfl, e.cfg.NfLSteps)
	if *b.APOE4 {
		risk += e.cfg.APOE4Points
	}
	return math.Min(100, risk), nil
}

// MRIRisk weights atrophy and lesion measures, capped at 100
func (e *EnsembleEngine) MRIRisk(v *models.ImagingVolumetrics) (float64, error) {
	if v == nil {
		return 0, &MissingModalityInputError{Modality: config.GroupImaging, Field: "volumetrics"}
	}
	hippo, cortex, ventricles, lesions, err := volumetrics(v)
	if err != nil {
		return 0, err
	}
	risk := (1-hippo)*e.cfg.HippocampalWeight +
		(1-cortex)*e.cfg.CorticalWeight +
		ventricles*e.cfg.VentricularWeight +
		lesions*e.cfg.LesionWeight
	return clamp(risk, 0, 100), nil
}

// Stage2 fuses an advancing stage-1 result with the advanced panel
func (e *EnsembleEngine) Stage2(s1 models.Stage1Result, in Stage2Input) (models.EnsembleResult, error) {
	if !finite(s1.Score) || s1.Score < 0 || s1.Score > 100 {
		return models.EnsembleResult{}, &IncoherentFusionInputError{Reason: "stage 1 score is missing or out of [0,100]"}
	}
	if s1.Level == "" {
		return models.EnsembleResult{}, &IncoherentFusionInputError{Reason: "stage 1 has not been scored"}
	}
	if s1.Level != e.Level(s1.Score) {
		return models.EnsembleResult{}, &IncoherentFusionInputError{Reason: fmt.Sprintf("stage 1 level %q does not match score %.2f", s1.Level, s1.Score)}
	}
	if !s1.ProceedToStage2 || s1.Level == models.RiskLow {
		return models.EnsembleResult{}, &IncoherentFusionInputError{Reason: "stage 1 did not advance to stage 2"}
	}

	bio, err := e.BiomarkerRisk(in.Biomarkers)
	if err != nil {
		return models.EnsembleResult{}, err
	}
	mri, err := e.MRIRisk(in.Imaging)
	if err != nil {
		return models.EnsembleResult{}, err
	}

	stage2 := s1.Score*e.cfg.Stage1Share + bio*e.cfg.BiomarkerShare + mri*e.cfg.MRIShare
	overall := math.Min(100, stage2)

	res := e.stage1Result(s1)
	res.Stage2Score = &stage2
	res.BiomarkerRisk = &bio
	res.MRIRisk = &mri
	res.OverallRisk = overall
	res.Diagnosis = e.Diagnose(overall)
	res.Confidence = e.Confidence(s1.Score, bio, mri)
	res.Components = append(res.Components,
		models.ModalityRiskScore{Stage: 2, Modality: models.ModalityBiomarker, Score: bio},
		models.ModalityRiskScore{Stage: 2, Modality: models.ModalityImaging, Score: mri},
	)
	return res, nil
}

// Assess runs stage 1 and, when it advances and the panel is present, stage 2.
// An advancing case without a panel comes back non-terminal with no stage-2 score.
func (e *EnsembleEngine) Assess(rec models.ClinicalRecord, imaging *models.ImagingVolumetrics) (models.EnsembleResult, error) {
	s1, err := e.Stage1(rec)
	if err != nil {
		return models.EnsembleResult{}, err
	}
	if !s1.ProceedToStage2 || rec.Biomarkers == nil || imaging == nil {
		return e.stage1Result(s1), nil
	}
	return e.Stage2(s1, Stage2Input{Biomarkers: rec.Biomarkers, Imaging: imaging})
}

// stage1Result reports a screening-only assessment
func (e *EnsembleEngine) stage1Result(s1 models.Stage1Result) models.EnsembleResult {
	return models.EnsembleResult{
		Stage1Score:     s1.Score,
		OverallRisk:     s1.Score,
		Confidence:      e.Confidence(s1.ClinicalRisk*100, s1.HandwritingRisk*100),
		Diagnosis:       e.Diagnose(s1.Score),
		RiskLevel:       s1.Level,
		ProceedToStage2: s1.ProceedToStage2,
		Stage1:          s1,
		Components: []models.ModalityRiskScore{
			{Stage: 1, Modality: models.ModalityClinical, Score: clamp(s1.ClinicalRisk*100, 0, 100)},
			{Stage: 1, Modality: models.ModalityHandwriting, Score: clamp(s1.HandwritingRisk*100, 0, 100)},
		},
	}
}

// Diagnose maps overall risk to a stage using half-open buckets [lo, hi)
func (e *EnsembleEngine) Diagnose(overallRisk float64) models.ClassLabel {
	return BucketRisk(overallRisk, e.cfg.DiagnosisThresholds)
}

// Confidence is high when the component scores agree: the ceiling minus a
// multiple of their spread, held within [floor, ceiling].
func (e *EnsembleEngine) Confidence(scores ...float64) float64 {
	clamped := make([]float64, len(scores))
	for i, s := range scores {
		clamped[i] = clamp(s, 0, 100)
	}
	c := e.cfg.ConfidenceCeiling - e.cfg.ConfidenceSpread*populationStdDev(clamped)
	return clamp(c, e.cfg.ConfidenceFloor, e.cfg.ConfidenceCeiling)
}

// stepBelow returns the points of the first step whose limit v falls under
func stepBelow(v float64, steps []config.Step) float64 {
	for _, s := range steps {
		if v < s.Limit {
			return s.Points
		}
	}
	return 0
}

// stepAbove returns the points of the first step whose limit v exceeds
func stepAbove(v float64, steps []config.Step) float64 {
	for _, s := range steps {
		if v > s.Limit {
			return s.Points
		}
	}
	return 0
}
