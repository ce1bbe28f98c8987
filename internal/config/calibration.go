package config

import (
	"fmt"
	"math"
	"neuroscreen-go/internal/models"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Calibration gathers every tunable constant of the pipeline. Default returns
// the reference calibration; tests and deployments may load alternates.
type Calibration struct {
	TargetAccuracy  map[models.Modality]float64 `json:"target_accuracy" yaml:"target_accuracy"`
	Probability     ProbabilityConfig           `json:"probability" yaml:"probability"`
	Overlay         OverlayConfig               `json:"overlay" yaml:"overlay"`
	Attention       AttentionConfig             `json:"attention" yaml:"attention"`
	Attribution     AttributionConfig           `json:"attribution" yaml:"attribution"`
	Fusion          FusionConfig                `json:"fusion" yaml:"fusion"`
	ProcessingDelay time.Duration               `json:"processing_delay" yaml:"processing_delay"`
}

// Range is a closed interval used for uniform draws
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Lerp maps u in [0,1) onto the range
func (r Range) Lerp(u float64) float64 {
	return r.Min + u*(r.Max-r.Min)
}

func (r Range) valid() bool {
	return !math.IsNaN(r.Min) && !math.IsNaN(r.Max) && r.Min <= r.Max
}

// ProbabilityConfig shapes the synthetic class distributions
type ProbabilityConfig struct {
	CorrectPeak            Range      `json:"correct_peak" yaml:"correct_peak"`
	WrongPeak              Range      `json:"wrong_peak" yaml:"wrong_peak"`
	IntendedShareWhenWrong Range      `json:"intended_share_when_wrong" yaml:"intended_share_when_wrong"`
	Jitter                 Range      `json:"jitter" yaml:"jitter"`
	BucketThresholds       [3]float64 `json:"bucket_thresholds" yaml:"bucket_thresholds"`
}

// OverlayConfig holds the compositor defaults
type OverlayConfig struct {
	Alpha     float64 `json:"alpha" yaml:"alpha"`
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// GridSize is the attention resolution used by the pipeline before the
	// compositor resamples it. Zero means the image resolution.
	GridSize int `json:"grid_size" yaml:"grid_size"`
}

// Bump is a localized region of elevated attention. Positions are fractions
// of width and height, the radius a fraction of min(width, height).
type Bump struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Radius float64 `json:"radius" yaml:"radius"`
	Peak   float64 `json:"peak" yaml:"peak"`
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// AttentionPolicy describes the map for one class
type AttentionPolicy struct {
	BaseNoise Range  `json:"base_noise" yaml:"base_noise"`
	Bumps     []Bump `json:"bumps,omitempty" yaml:"bumps,omitempty"`

	// Radial, when set, paints a disc at the frame center covering
	// RadialArea of the frame. Inside intensity falls from RadialPeak at the
	// center to RadialEdge at the rim; outside the disc OuterNoise applies.
	Radial     bool    `json:"radial,omitempty" yaml:"radial,omitempty"`
	RadialArea float64 `json:"radial_area,omitempty" yaml:"radial_area,omitempty"`
	RadialPeak float64 `json:"radial_peak,omitempty" yaml:"radial_peak,omitempty"`
	RadialEdge float64 `json:"radial_edge,omitempty" yaml:"radial_edge,omitempty"`
	OuterNoise Range   `json:"outer_noise,omitempty" yaml:"outer_noise,omitempty"`
}

// AttentionConfig maps each class to its policy
type AttentionConfig struct {
	Policies map[models.ClassLabel]AttentionPolicy `json:"policies" yaml:"policies"`

	// MaxCells caps width*height of a generated grid
	MaxCells int `json:"max_cells" yaml:"max_cells"`
}

// DefaultMaxCells allows a 4096x4096 grid
const DefaultMaxCells = 1 << 24

// UnmarshalYAML decodes each listed policy over the one already present, so a
// file that only changes the bumps of one class keeps that class's noise bands.
func (c *AttentionConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("attention: expected a mapping, got line %d", node.Line)
	}
	if c.Policies == nil {
		c.Policies = make(map[models.ClassLabel]AttentionPolicy)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "max_cells":
			if err := value.Decode(&c.MaxCells); err != nil {
				return err
			}
		case "policies":
			if value.Kind != yaml.MappingNode {
				return fmt.Errorf("attention.policies: expected a mapping, got line %d", value.Line)
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				class, err := models.ParseClassLabel(value.Content[j].Value)
				if err != nil {
					return fmt.Errorf("attention.policies: %w", err)
				}
				policy := c.Policies[class]
				if err := value.Content[j+1].Decode(&policy); err != nil {
					return fmt.Errorf("attention.policies.%s: %w", class, err)
				}
				c.Policies[class] = policy
			}
		}
	}
	return nil
}

// FeatureWeight is one row of the attribution weight table.
// value = (raw - Reference) * Weight * Direction
type FeatureWeight struct {
	Name      string  `json:"name" yaml:"name"`
	Group     string  `json:"group" yaml:"group"`
	Reference float64 `json:"reference" yaml:"reference"`
	Weight    float64 `json:"weight" yaml:"weight"`
	Direction float64 `json:"direction" yaml:"direction"`
}

// Baseline is a fixed feature appended to every attribution set
type Baseline struct {
	Name        string  `json:"name" yaml:"name"`
	Value       float64 `json:"value" yaml:"value"`
	Description string  `json:"description" yaml:"description"`
}

// AttributionConfig is the per-feature weight table
type AttributionConfig struct {
	Features  map[string]FeatureWeight `json:"features" yaml:"features"`
	Baselines []Baseline               `json:"baselines" yaml:"baselines"`

	// APOE4Present and APOE4Absent are the fixed values for the genotype flag
	APOE4Present float64 `json:"apoe4_present" yaml:"apoe4_present"`
	APOE4Absent  float64 `json:"apoe4_absent" yaml:"apoe4_absent"`
}

// Step adds Points when the reading is beyond Limit
type Step struct {
	Limit  float64 `json:"limit" yaml:"limit"`
	Points float64 `json:"points" yaml:"points"`
}

// FusionConfig holds the two-stage scoring rules
type FusionConfig struct {
	// clinicalRisk = (MMSEMax-mmse)/MMSEMax*MMSEWeight + cdr*CDRWeight + ageRisk*AgeWeight
	MMSEMax    float64 `json:"mmse_max" yaml:"mmse_max"`
	MMSEWeight float64 `json:"mmse_weight" yaml:"mmse_weight"`
	CDRWeight  float64 `json:"cdr_weight" yaml:"cdr_weight"`
	AgeWeight  float64 `json:"age_weight" yaml:"age_weight"`
	AgeOnset   float64 `json:"age_onset" yaml:"age_onset"`
	AgePerYear float64 `json:"age_per_year" yaml:"age_per_year"`

	VelocityWeight   float64 `json:"velocity_weight" yaml:"velocity_weight"`
	TremorWeight     float64 `json:"tremor_weight" yaml:"tremor_weight"`
	FluencyWeight    float64 `json:"fluency_weight" yaml:"fluency_weight"`
	ClinicalShare    float64 `json:"clinical_share" yaml:"clinical_share"`
	HandwritingShare float64 `json:"handwriting_share" yaml:"handwriting_share"`

	ModerateThreshold float64 `json:"moderate_threshold" yaml:"moderate_threshold"`
	HighThreshold     float64 `json:"high_threshold" yaml:"high_threshold"`

	// Steps are checked most severe first; only the first breach counts
	AbetaSteps  []Step  `json:"abeta_steps" yaml:"abeta_steps"`
	PTauSteps   []Step  `json:"ptau_steps" yaml:"ptau_steps"`
	NfLSteps    []Step  `json:"nfl_steps" yaml:"nfl_steps"`
	APOE4Points float64 `json:"apoe4_points" yaml:"apoe4_points"`

	HippocampalWeight float64 `json:"hippocampal_weight" yaml:"hippocampal_weight"`
	CorticalWeight    float64 `json:"cortical_weight" yaml:"cortical_weight"`
	VentricularWeight float64 `json:"ventricular_weight" yaml:"ventricular_weight"`
	LesionWeight      float64 `json:"lesion_weight" yaml:"lesion_weight"`

	Stage1Share    float64 `json:"stage1_share" yaml:"stage1_share"`
	BiomarkerShare float64 `json:"biomarker_share" yaml:"biomarker_share"`
	MRIShare       float64 `json:"mri_share" yaml:"mri_share"`

	// DiagnosisThresholds are the lower bounds of MCI, MildStage and ModerateStage
	DiagnosisThresholds [3]float64 `json:"diagnosis_thresholds" yaml:"diagnosis_thresholds"`

	ConfidenceFloor   float64 `json:"confidence_floor" yaml:"confidence_floor"`
	ConfidenceCeiling float64 `json:"confidence_ceiling" yaml:"confidence_ceiling"`
	ConfidenceSpread  float64 `json:"confidence_spread" yaml:"confidence_spread"`
}

// Default returns the reference calibration
func Default() Calibration {
	return Calibration{
		TargetAccuracy: map[models.Modality]float64{
			models.ModalityImaging:     0.92,
			models.ModalityGenomic:     0.85,
			models.ModalityClinical:    0.88,
			models.ModalityHandwriting: 0.82,
			models.ModalityBiomarker:   0.90,
		},
		Probability: ProbabilityConfig{
			CorrectPeak:            Range{Min: 0.70, Max: 0.90},
			WrongPeak:              Range{Min: 0.50, Max: 0.70},
			IntendedShareWhenWrong: Range{Min: 0.50, Max: 0.80},
			Jitter:                 Range{Min: 0.80, Max: 1.20},
			BucketThresholds:       [3]float64{25, 50, 75},
		},
		Overlay: OverlayConfig{
			Alpha:     0.7,
			Threshold: 0.1,
			GridSize:  64,
		},
		Attention: AttentionConfig{
			MaxCells: DefaultMaxCells,
			Policies: map[models.ClassLabel]AttentionPolicy{
				models.ClassNormal: {
					BaseNoise: Range{Min: 0.1, Max: 0.3},
				},
				models.ClassMCI: {
					BaseNoise: Range{Min: 0.1, Max: 0.3},
					Bumps: []Bump{
						{X: 0.5, Y: 0.65, Radius: 0.15, Peak: 0.6, Jitter: 0.1},
					},
				},
				models.ClassMildStage: {
					BaseNoise: Range{Min: 0.1, Max: 0.3},
					Bumps: []Bump{
						{X: 0.5, Y: 0.65, Radius: 0.15, Peak: 0.65, Jitter: 0.1},
						{X: 0.3, Y: 0.65, Radius: 0.12, Peak: 0.5, Jitter: 0.1},
						{X: 0.7, Y: 0.65, Radius: 0.12, Peak: 0.5, Jitter: 0.1},
					},
				},
				models.ClassModerateStage: {
					BaseNoise:  Range{Min: 0.0, Max: 0.1},
					Radial:     true,
					RadialArea: 0.40,
					RadialPeak: 0.95,
					RadialEdge: 0.7,
					OuterNoise: Range{Min: 0.3, Max: 0.5},
				},
			},
		},
		Attribution: AttributionConfig{
			Features: map[string]FeatureWeight{
				"mmse":                 {Name: "MMSE Score", Group: GroupCognitive, Reference: 30, Weight: 0.02, Direction: -1},
				"cdr":                  {Name: "CDR Rating", Group: GroupCognitive, Reference: 0, Weight: 0.15, Direction: 1},
				"velocity":             {Name: "Writing Velocity", Group: GroupHandwriting, Reference: 1, Weight: 0.12, Direction: -1},
				"tremor":               {Name: "Tremor Amplitude", Group: GroupHandwriting, Reference: 0, Weight: 0.14, Direction: 1},
				"fluency":              {Name: "Stroke Fluency", Group: GroupHandwriting, Reference: 1, Weight: 0.10, Direction: -1},
				"abeta_ratio":          {Name: "Aβ42/40 Ratio", Group: GroupBiomarker, Reference: 1, Weight: 0.18, Direction: -1},
				"ptau181":              {Name: "p-tau181", Group: GroupBiomarker, Reference: 20, Weight: 0.01, Direction: 1},
				"nfl":                  {Name: "Neurofilament Light", Group: GroupBiomarker, Reference: 15, Weight: 0.008, Direction: 1},
				"hippocampal_volume":   {Name: "Hippocampal Volume", Group: GroupImaging, Reference: 1, Weight: 0.20, Direction: -1},
				"cortical_thickness":   {Name: "Cortical Thickness", Group: GroupImaging, Reference: 1, Weight: 0.15, Direction: -1},
				"ventricular_size":     {Name: "Ventricular Enlargement", Group: GroupImaging, Reference: 0, Weight: 0.12, Direction: 1},
				"white_matter_lesions": {Name: "White Matter Lesions", Group: GroupImaging, Reference: 0, Weight: 0.10, Direction: 1},
			},
			Baselines: []Baseline{
				{Name: "Cognitive Reserve (age-adjusted)", Value: -0.05, Description: "Age-adjusted cognitive reserve offsets part of the measured risk"},
				{Name: "Education", Value: -0.03, Description: "Years of formal education are associated with delayed symptom onset"},
			},
			APOE4Present: 0.12,
			APOE4Absent:  -0.04,
		},
		Fusion: FusionConfig{
			MMSEMax:          30,
			MMSEWeight:       0.4,
			CDRWeight:        0.3,
			AgeWeight:        0.3,
			AgeOnset:         65,
			AgePerYear:       0.02,
			VelocityWeight:   0.3,
			TremorWeight:     0.4,
			FluencyWeight:    0.3,
			ClinicalShare:    0.6,
			HandwritingShare: 0.4,

			ModerateThreshold: 30,
			HighThreshold:     60,

			AbetaSteps:  []Step{{Limit: 0.08, Points: 30}, {Limit: 0.10, Points: 15}},
			PTauSteps:   []Step{{Limit: 25, Points: 25}, {Limit: 20, Points: 12}},
			NfLSteps:    []Step{{Limit: 20, Points: 20}, {Limit: 15, Points: 10}},
			APOE4Points: 25,

			HippocampalWeight: 30,
			CorticalWeight:    25,
			VentricularWeight: 25,
			LesionWeight:      20,

			Stage1Share:    0.3,
			BiomarkerShare: 0.35,
			MRIShare:       0.35,

			DiagnosisThresholds: [3]float64{25, 50, 75},

			ConfidenceFloor:   70,
			ConfidenceCeiling: 95,
			ConfidenceSpread:  0.5,
		},
	}
}

// Attribution group names
const (
	GroupCognitive   = "cognitive"
	GroupHandwriting = "handwriting"
	GroupBiomarker   = "biomarker"
	GroupImaging     = "imaging"
	GroupBaseline    = "baseline"
)

// Load reads a YAML calibration file over the defaults. Keys missing from the
// file keep their default values.
func Load(path string) (Calibration, error) {
	cal := Default()
	if path == "" {
		return cal, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cal, fmt.Errorf("read calibration %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return cal, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if err := cal.Validate(); err != nil {
		return cal, fmt.Errorf("calibration %s: %w", path, err)
	}
	return cal, nil
}

// Accuracy returns the target accuracy for m, falling back to 0.85
func (c Calibration) Accuracy(m models.Modality) float64 {
	if v, ok := c.TargetAccuracy[m]; ok {
		return v
	}
	return 0.85
}

// Validate checks ranges that would otherwise produce nonsense downstream
func (c Calibration) Validate() error {
	for m, acc := range c.TargetAccuracy {
		if math.IsNaN(acc) || acc < 0 || acc > 1 {
			return fmt.Errorf("target accuracy for %s out of [0,1]: %v", m, acc)
		}
	}
	p := c.Probability
	for name, r := range map[string]Range{
		"correct_peak":              p.CorrectPeak,
		"wrong_peak":                p.WrongPeak,
		"intended_share_when_wrong": p.IntendedShareWhenWrong,
		"jitter":                    p.Jitter,
	} {
		if !r.valid() {
			return fmt.Errorf("probability.%s is not a valid range", name)
		}
	}
	if p.CorrectPeak.Min <= 0.5 {
		return fmt.Errorf("probability.correct_peak.min must exceed 0.5 so the intended class wins")
	}
	// the intended class must stay below the wrong peak on a miss
	if p.WrongPeak.Min <= (1-p.WrongPeak.Min)*p.IntendedShareWhenWrong.Max {
		return fmt.Errorf("probability.wrong_peak too low for intended_share_when_wrong")
	}
	if math.IsNaN(c.Overlay.Alpha) || c.Overlay.Alpha < 0 || c.Overlay.Alpha > 1 {
		return fmt.Errorf("overlay.alpha out of [0,1]: %v", c.Overlay.Alpha)
	}
	if math.IsNaN(c.Overlay.Threshold) || c.Overlay.Threshold < 0 || c.Overlay.Threshold > 1 {
		return fmt.Errorf("overlay.threshold out of [0,1]: %v", c.Overlay.Threshold)
	}
	if c.Overlay.GridSize < 0 {
		return fmt.Errorf("overlay.grid_size must be >= 0")
	}
	if c.Attention.MaxCells < 0 {
		return fmt.Errorf("attention.max_cells must be >= 0")
	}
	for _, class := range models.AllClasses {
		policy, ok := c.Attention.Policies[class]
		if !ok {
			return fmt.Errorf("attention policy missing for %s", class)
		}
		if !policy.BaseNoise.valid() || policy.BaseNoise.Max <= 0 {
			return fmt.Errorf("attention.policies.%s.base_noise must be a range with max > 0", class)
		}
	}
	f := c.Fusion
	if f.MMSEMax <= 0 {
		return fmt.Errorf("fusion.mmse_max must be positive")
	}
	if f.ModerateThreshold > f.HighThreshold {
		return fmt.Errorf("fusion.moderate_threshold above high_threshold")
	}
	t := f.DiagnosisThresholds
	if !(t[0] <= t[1] && t[1] <= t[2]) {
		return fmt.Errorf("fusion.diagnosis_thresholds must be ascending")
	}
	if f.ConfidenceFloor > f.ConfidenceCeiling {
		return fmt.Errorf("fusion.confidence_floor above ceiling")
	}
	return nil
}
