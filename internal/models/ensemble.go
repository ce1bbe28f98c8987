package models

// RiskLevel is the stage-1 screening bucket
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// ModalityRiskScore is one component score on a 0-100 scale
type ModalityRiskScore struct {
	Stage    int      `json:"stage"`
	Modality Modality `json:"modality"`
	Score    float64  `json:"score"`
}

// Stage1Result is the screening outcome. Stage 2 requires one of these.
type Stage1Result struct {
	ClinicalRisk    float64   `json:"clinical_risk"`
	HandwritingRisk float64   `json:"handwriting_risk"`
	Score           float64   `json:"score"`
	Level           RiskLevel `json:"level"`
	ProceedToStage2 bool      `json:"proceed_to_stage2"`
}

// EnsembleResult is the fused assessment for one case
type EnsembleResult struct {
	Stage1Score     float64             `json:"stage1_score"`
	Stage2Score     *float64            `json:"stage2_score,omitempty"`
	BiomarkerRisk   *float64            `json:"biomarker_risk,omitempty"`
	MRIRisk         *float64            `json:"mri_risk,omitempty"`
	OverallRisk     float64             `json:"overall_risk"`
	Confidence      float64             `json:"confidence"`
	Diagnosis       ClassLabel          `json:"diagnosis"`
	RiskLevel       RiskLevel           `json:"risk_level"`
	ProceedToStage2 bool                `json:"proceed_to_stage2"`
	Components      []ModalityRiskScore `json:"components"`
	Stage1          Stage1Result        `json:"stage1"`
}

// Terminal reports whether no further stage is pending
func (r EnsembleResult) Terminal() bool {
	return !r.ProceedToStage2 || r.Stage2Score != nil
}

// Component returns the score recorded for modality, if any
func (r EnsembleResult) Component(m Modality) (float64, bool) {
	for _, c := range r.Components {
		if c.Modality == m {
			return c.Score, true
		}
	}
	return 0, false
}
