// Package report renders assessments as plain text for terminals and logs.
package report

import (
	"fmt"
	"neuroscreen-go/internal/models"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Score renders a 0-100 score rounded half away from zero to one decimal
func Score(v float64) string {
	return decimal.NewFromFloat(v).Round(1).StringFixed(1)
}

// Percent renders a probability in [0,1] as a one-decimal percentage
func Percent(p float64) string {
	return decimal.NewFromFloat(p).Mul(decimal.NewFromInt(100)).Round(1).StringFixed(1) + "%"
}

// Signed renders an attribution value with an explicit sign and three decimals
func Signed(v float64) string {
	d := decimal.NewFromFloat(v).Round(3)
	if d.IsPositive() {
		return "+" + d.StringFixed(3)
	}
	return d.StringFixed(3)
}

// Ensemble summarizes a fused result
func Ensemble(r models.EnsembleResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stage 1 score: %s (%s risk)\n", Score(r.Stage1Score), r.RiskLevel)
	switch {
	case r.Stage2Score != nil:
		fmt.Fprintf(&b, "Stage 2 score: %s\n", Score(*r.Stage2Score))
		if r.BiomarkerRisk != nil && r.MRIRisk != nil {
			fmt.Fprintf(&b, "  biomarker risk: %s, MRI risk: %s\n", Score(*r.BiomarkerRisk), Score(*r.MRIRisk))
		}
	case r.ProceedToStage2:
		b.WriteString("Stage 2: pending advanced panel\n")
	default:
		b.WriteString("Stage 2: not indicated\n")
	}
	fmt.Fprintf(&b, "Overall risk: %s\n", Score(r.OverallRisk))
	fmt.Fprintf(&b, "Diagnosis: %s (confidence %s)\n", r.Diagnosis, Score(r.Confidence))
	return b.String()
}

// Case summarizes a whole report: predictions, fusion and top attributions
func Case(r *models.Report, topN int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case %s (seed %d)\n", r.CaseID, r.Seed)

	modalities := make([]string, 0, len(r.Predictions))
	for m := range r.Predictions {
		modalities = append(modalities, string(m))
	}
	sort.Strings(modalities)
	for _, m := range modalities {
		p := r.Predictions[models.Modality(m)]
		fmt.Fprintf(&b, "  %-12s %-14s %s\n", m, p.PredictedClass, Percent(p.Confidence))
	}

	if r.Ensemble != nil {
		b.WriteString(Ensemble(*r.Ensemble))
	}

	if len(r.Attributions) > 0 {
		b.WriteString("Top contributing features:\n")
		for i, f := range r.Attributions {
			if topN > 0 && i >= topN {
				break
			}
			fmt.Fprintf(&b, "  %-34s %s  %s\n", f.Name, Signed(f.Value), f.Impact)
		}
	}
	return b.String()
}
