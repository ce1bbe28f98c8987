package models

// Impact is the direction a feature pushes the prediction
type Impact string

const (
	ImpactRisk       Impact = "risk"
	ImpactProtective Impact = "protective"
)

// ImpactOf derives impact from the sign of value. Zero counts as protective.
func ImpactOf(value float64) Impact {
	if value > 0 {
		return ImpactRisk
	}
	return ImpactProtective
}

// AttributionFeature is one signed contribution explaining a prediction
type AttributionFeature struct {
	Name        string  `json:"name"`
	Group       string  `json:"group"`
	Value       float64 `json:"value"`
	Impact      Impact  `json:"impact"`
	Description string  `json:"description"`
}
