package service

import (
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnsemble() *EnsembleEngine {
	return NewEnsembleEngine(config.Default().Fusion)
}

func screeningRecord(age, mmse, cdr, velocity, tremor, fluency float64) models.ClinicalRecord {
	return models.ClinicalRecord{
		Age:       models.Float(age),
		Cognitive: &models.CognitiveScores{MMSE: models.Float(mmse), CDR: models.Float(cdr)},
		Handwriting: []models.HandwritingTask{
			{Task: "spiral", Velocity: models.Float(velocity), Tremor: models.Float(tremor), Fluency: models.Float(fluency)},
		},
	}
}

func moderatePanel() Stage2Input {
	return Stage2Input{
		Biomarkers: &models.BiomarkerPanel{
			AbetaRatio: models.Float(0.07),
			PTau181:    models.Float(22),
			NfL:        models.Float(16),
			APOE4:      models.Bool(true),
		},
		Imaging: &models.ImagingVolumetrics{
			HippocampalVolume:  models.Float(0.7),
			CorticalThickness:  models.Float(0.8),
			VentricularSize:    models.Float(0.4),
			WhiteMatterLesions: models.Float(0.25),
		},
	}
}

func TestStage1(t *testing.T) {
	e := newTestEnsemble()
	tests := []struct {
		name    string
		rec     models.ClinicalRecord
		score   float64
		level   models.RiskLevel
		proceed bool
	}{
		{"healthy", screeningRecord(60, 30, 0, 1, 0, 1), 0, models.RiskLow, false},
		{"moderate", screeningRecord(75, 20, 1, 0.7, 0.2, 0.8), 38.8, models.RiskModerate, true},
		{"saturated", screeningRecord(100, 0, 3, 0, 1, 0), 100, models.RiskHigh, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s1, err := e.Stage1(tt.rec)
			require.NoError(t, err)
			assert.InDelta(t, tt.score, s1.Score, 1e-9)
			assert.Equal(t, tt.level, s1.Level)
			assert.Equal(t, tt.proceed, s1.ProceedToStage2)
		})
	}
}

func TestAssessLowRiskIsTerminal(t *testing.T) {
	res, err := newTestEnsemble().Assess(screeningRecord(60, 30, 0, 1, 0, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.OverallRisk)
	assert.Equal(t, models.ClassNormal, res.Diagnosis)
	assert.Equal(t, models.RiskLow, res.RiskLevel)
	assert.True(t, res.Terminal())
	assert.Nil(t, res.Stage2Score)
	assert.Equal(t, 95.0, res.Confidence)
}

func TestAssessAdvancingWithoutPanel(t *testing.T) {
	res, err := newTestEnsemble().Assess(screeningRecord(75, 20, 1, 0.7, 0.2, 0.8), nil)
	require.NoError(t, err)
	assert.True(t, res.ProceedToStage2)
	assert.False(t, res.Terminal())
	assert.Nil(t, res.Stage2Score)
	assert.InDelta(t, 38.8, res.OverallRisk, 1e-9)
}

func TestStage2Fusion(t *testing.T) {
	e := newTestEnsemble()
	s1, err := e.Stage1(screeningRecord(75, 20, 1, 0.7, 0.2, 0.8))
	require.NoError(t, err)

	res, err := e.Stage2(s1, moderatePanel())
	require.NoError(t, err)

	require.NotNil(t, res.BiomarkerRisk)
	require.NotNil(t, res.MRIRisk)
	require.NotNil(t, res.Stage2Score)
	assert.InDelta(t, 77, *res.BiomarkerRisk, 1e-9)
	assert.InDelta(t, 29, *res.MRIRisk, 1e-9)
	assert.InDelta(t, 48.74, *res.Stage2Score, 1e-9)
	assert.InDelta(t, 48.74, res.OverallRisk, 1e-9)
	assert.Equal(t, models.ClassMCI, res.Diagnosis)
	assert.InDelta(t, 84.646, res.Confidence, 0.01)
	assert.True(t, res.Terminal())

	bio, ok := res.Component(models.ModalityBiomarker)
	require.True(t, ok)
	assert.InDelta(t, 77, bio, 1e-9)
	assert.Len(t, res.Components, 4)
}

func TestAssessRunsStage2WhenPanelPresent(t *testing.T) {
	rec := screeningRecord(75, 20, 1, 0.7, 0.2, 0.8)
	panel := moderatePanel()
	rec.Biomarkers = panel.Biomarkers

	res, err := newTestEnsemble().Assess(rec, panel.Imaging)
	require.NoError(t, err)
	require.NotNil(t, res.Stage2Score)
	assert.InDelta(t, 48.74, *res.Stage2Score, 1e-9)
}

func TestStage2RejectsIncoherentStage1(t *testing.T) {
	e := newTestEnsemble()
	low, err := e.Stage1(screeningRecord(60, 30, 0, 1, 0, 1))
	require.NoError(t, err)

	tests := []struct {
		name string
		s1   models.Stage1Result
	}{
		{"did not advance", low},
		{"zero value", models.Stage1Result{}},
		{"nan score", models.Stage1Result{Score: math.NaN(), Level: models.RiskHigh, ProceedToStage2: true}},
		{"out of range", models.Stage1Result{Score: 140, Level: models.RiskHigh, ProceedToStage2: true}},
		{"claims to advance with a low score", models.Stage1Result{Score: 10, Level: models.RiskModerate, ProceedToStage2: true}},
		{"level below its score", models.Stage1Result{Score: 50, Level: models.RiskLow, ProceedToStage2: true}},
		{"level above its score", models.Stage1Result{Score: 35, Level: models.RiskHigh, ProceedToStage2: true}},
		{"unknown level", models.Stage1Result{Score: 70, Level: "critical", ProceedToStage2: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Stage2(tt.s1, moderatePanel())
			assert.ErrorIs(t, err, ErrIncoherentFusionInput)
		})
	}
}

func TestStage2RequiresPanel(t *testing.T) {
	e := newTestEnsemble()
	s1, err := e.Stage1(screeningRecord(75, 20, 1, 0.7, 0.2, 0.8))
	require.NoError(t, err)

	_, err = e.Stage2(s1, Stage2Input{Imaging: moderatePanel().Imaging})
	assert.ErrorIs(t, err, ErrMissingModalityInput)

	_, err = e.Stage2(s1, Stage2Input{Biomarkers: moderatePanel().Biomarkers})
	assert.ErrorIs(t, err, ErrMissingModalityInput)
}

func TestStage1Errors(t *testing.T) {
	e := newTestEnsemble()

	rec := screeningRecord(75, 20, 1, 0.7, 0.2, 0.8)
	rec.Age = nil
	_, err := e.Stage1(rec)
	assert.ErrorIs(t, err, ErrMissingModalityInput)

	rec = screeningRecord(75, 20, 1, 0.7, 0.2, 0.8)
	rec.Handwriting = nil
	_, err = e.Stage1(rec)
	assert.ErrorIs(t, err, ErrMissingModalityInput)

	rec = screeningRecord(75, math.Inf(1), 1, 0.7, 0.2, 0.8)
	_, err = e.Stage1(rec)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDiagnoseBoundaries(t *testing.T) {
	e := newTestEnsemble()
	tests := []struct {
		risk float64
		want models.ClassLabel
	}{
		{0, models.ClassNormal},
		{24.999, models.ClassNormal},
		{25, models.ClassMCI},
		{49.999, models.ClassMCI},
		{50, models.ClassMildStage},
		{74.999, models.ClassMildStage},
		{75, models.ClassModerateStage},
		{100, models.ClassModerateStage},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Diagnose(tt.risk), "risk %v", tt.risk)
	}
}

func TestConfidence(t *testing.T) {
	e := newTestEnsemble()
	assert.Equal(t, 95.0, e.Confidence(50, 50, 50))
	assert.InDelta(t, 71.43, e.Confidence(0, 100, 0), 0.01)
	assert.Equal(t, 70.0, e.Confidence(0, 100))
	assert.Equal(t, 95.0, e.Confidence(42))
}

func TestComponentRiskCaps(t *testing.T) {
	e := newTestEnsemble()

	bio, err := e.BiomarkerRisk(&models.BiomarkerPanel{
		AbetaRatio: models.Float(0),
		PTau181:    models.Float(100),
		NfL:        models.Float(100),
		APOE4:      models.Bool(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, bio)

	mri, err := e.MRIRisk(&models.ImagingVolumetrics{
		HippocampalVolume:  models.Float(0),
		CorticalThickness:  models.Float(0),
		VentricularSize:    models.Float(1),
		WhiteMatterLesions: models.Float(1),
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, mri)

	// only the most severe breached step counts
	bio, err = e.BiomarkerRisk(&models.BiomarkerPanel{
		AbetaRatio: models.Float(0.09),
		PTau181:    models.Float(30),
		NfL:        models.Float(10),
		APOE4:      models.Bool(false),
	})
	require.NoError(t, err)
	assert.Equal(t, 40.0, bio)
}
