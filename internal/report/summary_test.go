package report

import (
	"neuroscreen-go/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatting(t *testing.T) {
	assert.Equal(t, "25.0", Score(24.95))
	assert.Equal(t, "48.7", Score(48.74))
	assert.Equal(t, "0.0", Score(0))
	assert.Equal(t, "87.5%", Percent(0.875))
	assert.Equal(t, "+0.120", Signed(0.12))
	assert.Equal(t, "-0.050", Signed(-0.05))
	assert.Equal(t, "0.000", Signed(0))
}

func TestEnsembleSummary(t *testing.T) {
	stage2 := 48.74
	bio, mri := 77.0, 29.0

	tests := []struct {
		name string
		res  models.EnsembleResult
		want []string
	}{
		{
			name: "screening only",
			res:  models.EnsembleResult{RiskLevel: models.RiskLow, Confidence: 95, Diagnosis: models.ClassNormal},
			want: []string{"Stage 1 score: 0.0 (low risk)", "Stage 2: not indicated", "Diagnosis: Normal (confidence 95.0)"},
		},
		{
			name: "awaiting panel",
			res:  models.EnsembleResult{Stage1Score: 38.8, OverallRisk: 38.8, RiskLevel: models.RiskModerate, ProceedToStage2: true, Diagnosis: models.ClassMCI},
			want: []string{"Stage 2: pending advanced panel", "Overall risk: 38.8"},
		},
		{
			name: "fused",
			res: models.EnsembleResult{
				Stage1Score: 38.8, Stage2Score: &stage2, BiomarkerRisk: &bio, MRIRisk: &mri,
				OverallRisk: stage2, RiskLevel: models.RiskModerate, ProceedToStage2: true, Diagnosis: models.ClassMCI,
			},
			want: []string{"Stage 2 score: 48.7", "biomarker risk: 77.0, MRI risk: 29.0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Ensemble(tt.res)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestCaseSummaryHonorsTopN(t *testing.T) {
	r := &models.Report{
		CaseID: "case-9",
		Seed:   3,
		Predictions: map[models.Modality]models.Prediction{
			models.ModalityImaging: {Modality: models.ModalityImaging, PredictedClass: models.ClassMCI, Confidence: 0.8},
		},
		Attributions: []models.AttributionFeature{
			{Name: "MMSE Score", Value: 0.12, Impact: models.ImpactRisk},
			{Name: "CDR Rating", Value: 0.075, Impact: models.ImpactRisk},
			{Name: "Education", Value: -0.03, Impact: models.ImpactProtective},
		},
	}
	out := Case(r, 2)
	assert.Contains(t, out, "Case case-9 (seed 3)")
	assert.Contains(t, out, "80.0%")
	assert.Contains(t, out, "+0.120")
	assert.NotContains(t, out, "Education")
}
