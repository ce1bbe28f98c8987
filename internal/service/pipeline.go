package service

import (
	"context"
	"fmt"
	"image"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/logging"
	"neuroscreen-go/internal/models"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AnalyzeRequest is one case's decoded inputs
type AnalyzeRequest struct {
	Image      image.Image
	ImageInfo  models.InputDescriptor
	Record     *models.ClinicalRecord
	Imaging    *models.ImagingVolumetrics
	Modalities []models.Modality
	Overlay    *OverlayOptions
}

// CaseRequest pairs a request with its case context for batch runs
type CaseRequest struct {
	Case    models.CaseContext
	Request AnalyzeRequest
}

// CaseOutcome is the result of one case in a batch. Err is set instead of
// Report when that case failed; other cases are unaffected.
type CaseOutcome struct {
	CaseID string
	Report *models.Report
	Err    error
}

// Pipeline wires the synthesizers together for a whole case
type Pipeline struct {
	Probability *ProbabilitySynthesizer
	Attention   *AttentionGenerator
	Compositor  *Compositor
	Attribution *AttributionSynthesizer
	Ensemble    *EnsembleEngine

	cal config.Calibration
	log zerolog.Logger
}

// NewPipeline builds every component from one calibration
func NewPipeline(cal config.Calibration) *Pipeline {
	return &Pipeline{
		Probability: NewProbabilitySynthesizer(cal.Probability),
		Attention:   NewAttentionGenerator(cal.Attention),
		Compositor:  NewCompositor(),
		Attribution: NewAttributionSynthesizer(cal.Attribution),
		Ensemble:    NewEnsembleEngine(cal.Fusion),
		cal:         cal,
		log:         logging.Component("pipeline"),
	}
}

// Calibration returns the calibration the pipeline was built with
func (p *Pipeline) Calibration() config.Calibration {
	return p.cal
}

// Analyze runs fusion, per-modality synthesis, attention, overlay and
// attribution for one case. All randomness derives from cc.Seed, so equal
// inputs and seeds give equal reports.
func (p *Pipeline) Analyze(ctx context.Context, cc models.CaseContext, req AnalyzeRequest) (*models.Report, error) {
	if req.Image == nil && req.Record == nil && req.Imaging == nil {
		return nil, &MissingModalityInputError{Modality: "case", Field: "image or clinical record"}
	}
	started := time.Now()

	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	report := &models.Report{
		CaseID:      cc.CaseID,
		Seed:        cc.Seed,
		Predictions: make(map[models.Modality]models.Prediction),
	}

	if req.Record != nil && (req.Record.Cognitive != nil || len(req.Record.Handwriting) > 0) {
		res, err := p.Ensemble.Assess(*req.Record, req.Imaging)
		if err != nil {
			return nil, fmt.Errorf("fusion: %w", err)
		}
		report.Ensemble = &res
	}

	modalities := req.Modalities
	if len(modalities) == 0 {
		modalities = defaultModalities(req)
	}
	preds, err := p.predictAll(ctx, cc, req, report.Ensemble, modalities)
	if err != nil {
		return nil, err
	}
	for _, pred := range preds {
		report.Predictions[pred.Modality] = pred
	}

	class, ok := attentionClass(report)
	if ok {
		report.AttentionFor = &class
		width, height := p.gridSize(req.Image)
		rng := NewRandomSource(DeriveSeed(cc.Seed, "attention"))
		grid, err := p.Attention.Generate(class, width, height, rng)
		if err != nil {
			return nil, fmt.Errorf("attention: %w", err)
		}
		report.Attention = &grid

		if req.Image != nil {
			opts := DefaultOverlayOptions(p.cal.Overlay)
			if req.Overlay != nil {
				opts = *req.Overlay
			}
			overlay, err := p.Compositor.CompositeContext(ctx, req.Image, grid, opts)
			if err != nil {
				return nil, fmt.Errorf("overlay: %w", err)
			}
			report.Overlay = overlay
		}
	}

	if req.Record != nil || req.Imaging != nil {
		var rec models.ClinicalRecord
		if req.Record != nil {
			rec = *req.Record
		}
		features, err := p.Attribution.Synthesize(rec, req.Imaging)
		if err != nil {
			return nil, fmt.Errorf("attribution: %w", err)
		}
		report.Attributions = features
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.log.Debug().
		Str("case_id", cc.CaseID).
		Int("modalities", len(preds)).
		Bool("overlay", report.Overlay != nil).
		Dur("elapsed", time.Since(started)).
		Msg("case analyzed")
	return report, nil
}

// predictAll runs one synthesizer per modality concurrently. Each gets its own
// RNG stream so the result does not depend on scheduling.
func (p *Pipeline) predictAll(ctx context.Context, cc models.CaseContext, req AnalyzeRequest, ensemble *models.EnsembleResult, modalities []models.Modality) ([]models.Prediction, error) {
	preds := make([]models.Prediction, len(modalities))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range modalities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hint := modalityHint(m, req, ensemble)
			rng := NewRandomSource(DeriveSeed(cc.Seed, m))
			pred, err := p.Probability.Synthesize(m, hint, p.cal.Accuracy(m), rng)
			if err != nil {
				return fmt.Errorf("%s prediction: %w", m, err)
			}
			preds[i] = pred
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return preds, nil
}

// AnalyzeBatch analyzes independent cases with at most workers in flight.
// Outcomes keep the input order.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, cases []CaseRequest, workers int) []CaseOutcome {
	if workers <= 0 {
		workers = 1
	}
	outcomes := make([]CaseOutcome, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range cases {
		g.Go(func() error {
			report, err := p.Analyze(gctx, c.Case, c.Request)
			outcomes[i] = CaseOutcome{CaseID: c.Case.CaseID, Report: report, Err: err}
			if err != nil {
				p.log.Warn().Str("case_id", c.Case.CaseID).Err(err).Msg("case failed")
			}
			// a failed case must not cancel its neighbours
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// wait simulates model latency and returns early on cancellation
func (p *Pipeline) wait(ctx context.Context) error {
	if p.cal.ProcessingDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.cal.ProcessingDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// gridSize picks the attention resolution; the compositor resamples it
func (p *Pipeline) gridSize(img image.Image) (int, int) {
	size := p.cal.Overlay.GridSize
	if img == nil {
		if size <= 0 {
			size = 64
		}
		return size, size
	}
	b := img.Bounds()
	if size <= 0 {
		return b.Dx(), b.Dy()
	}
	// keep the aspect ratio with the long side at size
	w, h := b.Dx(), b.Dy()
	if w >= h {
		return size, max(1, size*h/w)
	}
	return max(1, size*w/h), size
}

func defaultModalities(req AnalyzeRequest) []models.Modality {
	var out []models.Modality
	if req.Image != nil {
		out = append(out, models.ModalityImaging)
	}
	if rec := req.Record; rec != nil {
		if rec.Cognitive != nil {
			out = append(out, models.ModalityClinical)
		}
		if len(rec.Handwriting) > 0 {
			out = append(out, models.ModalityHandwriting)
		}
		if rec.Biomarkers != nil {
			out = append(out, models.ModalityBiomarker)
		}
	}
	return out
}

// modalityHint steers each synthetic sub-model toward the fused evidence for
// that modality when there is any.
func modalityHint(m models.Modality, req AnalyzeRequest, ensemble *models.EnsembleResult) models.InputDescriptor {
	var hint models.InputDescriptor
	if m == models.ModalityImaging {
		hint = req.ImageInfo
	}
	if hint.RiskScore != nil || ensemble == nil {
		return hint
	}
	if score, ok := ensemble.Component(m); ok {
		hint.RiskScore = &score
		return hint
	}
	overall := ensemble.OverallRisk
	hint.RiskScore = &overall
	return hint
}

func attentionClass(r *models.Report) (models.ClassLabel, bool) {
	if pred, ok := r.Predictions[models.ModalityImaging]; ok {
		return pred.PredictedClass, true
	}
	if r.Ensemble != nil {
		return r.Ensemble.Diagnosis, true
	}
	return 0, false
}
