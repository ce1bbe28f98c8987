package service

import (
	"fmt"
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
	"sort"
)

// AttributionSynthesizer explains a case as signed per-feature contributions.
// A feature's value is its deviation from the normal reference scaled by a
// fixed weight; the sign alone decides whether it is a risk or protective.
type AttributionSynthesizer struct {
	cfg config.AttributionConfig
}

// NewAttributionSynthesizer creates a synthesizer over the weight table
func NewAttributionSynthesizer(cfg config.AttributionConfig) *AttributionSynthesizer {
	return &AttributionSynthesizer{cfg: cfg}
}

// Synthesize scores every modality group that has data. Groups without data
// are skipped; a group that is present but incomplete is an error. The result
// is sorted by descending |value|, stable on group order.
func (as *AttributionSynthesizer) Synthesize(clinical models.ClinicalRecord, imaging *models.ImagingVolumetrics) ([]models.AttributionFeature, error) {
	var features []models.AttributionFeature

	groups := []func() ([]models.AttributionFeature, error){
		func() ([]models.AttributionFeature, error) { return as.cognitive(clinical.Cognitive) },
		func() ([]models.AttributionFeature, error) { return as.handwriting(clinical.Handwriting) },
		func() ([]models.AttributionFeature, error) { return as.biomarkers(clinical.Biomarkers) },
		func() ([]models.AttributionFeature, error) { return as.imaging(imaging) },
	}
	for _, group := range groups {
		fs, err := group()
		if err != nil {
			return nil, err
		}
		features = append(features, fs...)
	}

	for _, b := range as.cfg.Baselines {
		features = append(features, models.AttributionFeature{
			Name:        b.Name,
			Group:       config.GroupBaseline,
			Value:       b.Value,
			Impact:      models.ImpactOf(b.Value),
			Description: b.Description,
		})
	}

	SortAttributions(features)
	return features, nil
}

// SortAttributions orders features by descending absolute value in place
func SortAttributions(features []models.AttributionFeature) {
	sort.SliceStable(features, func(i, j int) bool {
		return math.Abs(features[i].Value) > math.Abs(features[j].Value)
	})
}

func (as *AttributionSynthesizer) cognitive(c *models.CognitiveScores) ([]models.AttributionFeature, error) {
	if c == nil {
		return nil, nil
	}
	scale := as.mmseMax()
	mmse, err := required(config.GroupCognitive, "mmse", c.MMSE, 0, scale)
	if err != nil {
		return nil, err
	}
	cdr, err := required(config.GroupCognitive, "cdr", c.CDR, 0, 3)
	if err != nil {
		return nil, err
	}
	return []models.AttributionFeature{
		as.feature("mmse", mmse, fmt.Sprintf("MMSE %%.0f/%.0f", scale)),
		as.feature("cdr", cdr, "CDR global rating %.1f"),
	}, nil
}

func (as *AttributionSynthesizer) handwriting(tasks []models.HandwritingTask) ([]models.AttributionFeature, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	velocity, tremor, fluency, err := meanKinematics(tasks)
	if err != nil {
		return nil, err
	}
	return []models.AttributionFeature{
		as.feature("velocity", velocity, "Mean writing velocity %.2f across tasks"),
		as.feature("tremor", tremor, "Mean tremor amplitude %.2f across tasks"),
		as.feature("fluency", fluency, "Mean stroke fluency %.2f across tasks"),
	}, nil
}

func (as *AttributionSynthesizer) biomarkers(b *models.BiomarkerPanel) ([]models.AttributionFeature, error) {
	if b == nil {
		return nil, nil
	}
	ratio, err := required(config.GroupBiomarker, "abeta42_40", b.AbetaRatio, 0, 1)
	if err != nil {
		return nil, err
	}
	ptau, err := required(config.GroupBiomarker, "ptau181", b.PTau181, 0, math.MaxFloat64)
	if err != nil {
		return nil, err
	}
	nfl, err := required(config.GroupBiomarker, "nfl", b.NfL, 0, math.MaxFloat64)
	if err != nil {
		return nil, err
	}
	if b.APOE4 == nil {
		return nil, &MissingModalityInputError{Modality: config.GroupBiomarker, Field: "apoe4"}
	}

	apoe := models.AttributionFeature{Name: "APOE ε4", Group: config.GroupBiomarker}
	if *b.APOE4 {
		apoe.Value = as.cfg.APOE4Present
		apoe.Description = "APOE ε4 allele present"
	} else {
		apoe.Value = as.cfg.APOE4Absent
		apoe.Description = "No APOE ε4 allele"
	}
	apoe.Impact = models.ImpactOf(apoe.Value)

	return []models.AttributionFeature{
		as.feature("abeta_ratio", ratio, "Plasma Aβ42/40 ratio %.3f"),
		as.feature("ptau181", ptau, "p-tau181 at %.1f pg/mL"),
		as.feature("nfl", nfl, "NfL at %.1f pg/mL"),
		apoe,
	}, nil
}

func (as *AttributionSynthesizer) imaging(v *models.ImagingVolumetrics) ([]models.AttributionFeature, error) {
	if v == nil {
		return nil, nil
	}
	hippo, cortex, ventricles, lesions, err := volumetrics(v)
	if err != nil {
		return nil, err
	}
	return []models.AttributionFeature{
		as.feature("hippocampal_volume", hippo, "Normalized hippocampal volume %.2f"),
		as.feature("cortical_thickness", cortex, "Normalized cortical thickness %.2f"),
		as.feature("ventricular_size", ventricles, "Ventricular enlargement index %.2f"),
		as.feature("white_matter_lesions", lesions, "White matter lesion load %.2f"),
	}, nil
}

// mmseMax is the top of the MMSE scale, which is also the normal reference
func (as *AttributionSynthesizer) mmseMax() float64 {
	if w, ok := as.cfg.Features["mmse"]; ok && w.Reference > 0 {
		return w.Reference
	}
	return 30
}

// feature looks key up in the weight table and scores raw against it
func (as *AttributionSynthesizer) feature(key string, raw float64, format string) models.AttributionFeature {
	w, ok := as.cfg.Features[key]
	if !ok {
		w = config.FeatureWeight{Name: key}
	}
	value := (raw - w.Reference) * w.Weight * w.Direction
	// avoid reporting -0 for readings exactly at the reference
	if value == 0 {
		value = 0
	}
	return models.AttributionFeature{
		Name:        w.Name,
		Group:       w.Group,
		Value:       value,
		Impact:      models.ImpactOf(value),
		Description: fmt.Sprintf(format, raw),
	}
}

// meanKinematics averages the per-task readings. Every task must be complete.
func meanKinematics(tasks []models.HandwritingTask) (velocity, tremor, fluency float64, err error) {
	for i, t := range tasks {
		group := fmt.Sprintf("%s[%d]", config.GroupHandwriting, i)
		v, err := required(group, "velocity", t.Velocity, 0, 1)
		if err != nil {
			return 0, 0, 0, err
		}
		tr, err := required(group, "tremor", t.Tremor, 0, 1)
		if err != nil {
			return 0, 0, 0, err
		}
		f, err := required(group, "fluency", t.Fluency, 0, 1)
		if err != nil {
			return 0, 0, 0, err
		}
		velocity += v
		tremor += tr
		fluency += f
	}
	n := float64(len(tasks))
	return velocity / n, tremor / n, fluency / n, nil
}

func volumetrics(v *models.ImagingVolumetrics) (hippo, cortex, ventricles, lesions float64, err error) {
	if hippo, err = required(config.GroupImaging, "hippocampal_volume", v.HippocampalVolume, 0, 1); err != nil {
		return
	}
	if cortex, err = required(config.GroupImaging, "cortical_thickness", v.CorticalThickness, 0, 1); err != nil {
		return
	}
	if ventricles, err = required(config.GroupImaging, "ventricular_size", v.VentricularSize, 0, 1); err != nil {
		return
	}
	lesions, err = required(config.GroupImaging, "white_matter_lesions", v.WhiteMatterLesions, 0, 1)
	return
}
