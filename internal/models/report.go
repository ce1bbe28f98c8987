package models

import "image"

// Report is everything one case analysis produced. The overlay is a raw
// buffer; encoding it is up to the caller.
type Report struct {
	CaseID       string                  `json:"case_id"`
	Seed         int64                   `json:"seed"`
	Predictions  map[Modality]Prediction `json:"predictions"`
	Attention    *AttentionGrid          `json:"attention,omitempty"`
	AttentionFor *ClassLabel             `json:"attention_class,omitempty"`
	Overlay      *image.NRGBA            `json:"-"`
	Attributions []AttributionFeature    `json:"attributions,omitempty"`
	Ensemble     *EnsembleResult         `json:"ensemble,omitempty"`
}
