package models

// Modality names a data source or sub-model
type Modality string

const (
	ModalityImaging     Modality = "imaging"
	ModalityGenomic     Modality = "genomic"
	ModalityClinical    Modality = "clinical"
	ModalityHandwriting Modality = "handwriting"
	ModalityBiomarker   Modality = "biomarker"
)

// InputDescriptor carries whatever hints the caller has about the intended class
type InputDescriptor struct {
	Filename      string      `json:"filename,omitempty"`
	SizeBytes     int64       `json:"size_bytes,omitempty"`
	MIMEType      string      `json:"mime_type,omitempty"`
	RiskScore     *float64    `json:"risk_score,omitempty"`
	IntendedClass *ClassLabel `json:"intended_class,omitempty"`
}

// Prediction is the output of one synthesis call. Treat it as read-only.
type Prediction struct {
	Modality       Modality          `json:"modality"`
	PredictedClass ClassLabel        `json:"predicted_class"`
	IntendedClass  ClassLabel        `json:"intended_class"`
	Confidence     float64           `json:"confidence"`
	Probabilities  ProbabilityVector `json:"probabilities"`
	Correct        bool              `json:"correct"`
}
