package models

// Optional numeric fields are pointers so an absent value can be told apart
// from a zero reading.

// ClinicalRecord is the structured, already-validated clinical input for one case
type ClinicalRecord struct {
	Age            *float64          `json:"age,omitempty" yaml:"age,omitempty"`
	Gender         string            `json:"gender,omitempty" yaml:"gender,omitempty"`
	EducationYears *float64          `json:"education_years,omitempty" yaml:"education_years,omitempty"`
	Cognitive      *CognitiveScores  `json:"cognitive,omitempty" yaml:"cognitive,omitempty"`
	Handwriting    []HandwritingTask `json:"handwriting,omitempty" yaml:"handwriting,omitempty"`
	Biomarkers     *BiomarkerPanel   `json:"biomarkers,omitempty" yaml:"biomarkers,omitempty"`
}

// CognitiveScores holds the bedside screening scores
type CognitiveScores struct {
	MMSE *float64 `json:"mmse,omitempty" yaml:"mmse,omitempty"`
	CDR  *float64 `json:"cdr,omitempty" yaml:"cdr,omitempty"`
}

// HandwritingTask holds normalized kinematics for one drawing/writing task.
// Velocity and fluency are 1 when healthy, tremor is 0 when healthy.
type HandwritingTask struct {
	Task     string   `json:"task,omitempty" yaml:"task,omitempty"`
	Velocity *float64 `json:"velocity,omitempty" yaml:"velocity,omitempty"`
	Tremor   *float64 `json:"tremor,omitempty" yaml:"tremor,omitempty"`
	Fluency  *float64 `json:"fluency,omitempty" yaml:"fluency,omitempty"`
}

// BiomarkerPanel holds fluid biomarker levels
type BiomarkerPanel struct {
	AbetaRatio *float64 `json:"abeta42_40,omitempty" yaml:"abeta42_40,omitempty"`
	PTau181    *float64 `json:"ptau181,omitempty" yaml:"ptau181,omitempty"`
	NfL        *float64 `json:"nfl,omitempty" yaml:"nfl,omitempty"`
	APOE4      *bool    `json:"apoe4,omitempty" yaml:"apoe4,omitempty"`
}

// ImagingVolumetrics holds normalized MRI measurements. Volume and thickness
// are 1 when healthy, ventricular size and lesion load are 0 when healthy.
type ImagingVolumetrics struct {
	HippocampalVolume  *float64 `json:"hippocampal_volume,omitempty" yaml:"hippocampal_volume,omitempty"`
	CorticalThickness  *float64 `json:"cortical_thickness,omitempty" yaml:"cortical_thickness,omitempty"`
	VentricularSize    *float64 `json:"ventricular_size,omitempty" yaml:"ventricular_size,omitempty"`
	WhiteMatterLesions *float64 `json:"white_matter_lesions,omitempty" yaml:"white_matter_lesions,omitempty"`
}

// Float returns a pointer to v, for building records in code
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v
func Bool(v bool) *bool { return &v }
