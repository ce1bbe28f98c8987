package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/imageio"
	"neuroscreen-go/internal/logging"
	"neuroscreen-go/internal/models"
	"neuroscreen-go/internal/service"
	"neuroscreen-go/internal/state"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler exposes the pipeline over HTTP
type Handler struct {
	Pipeline *service.Pipeline
	Cases    *state.Registry
	Limits   imageio.Limits
	Workers  int

	log zerolog.Logger
}

func NewHandler(p *service.Pipeline, cases *state.Registry, settings config.Settings) *Handler {
	return &Handler{
		Pipeline: p,
		Cases:    cases,
		Limits: imageio.Limits{
			MaxBytes:     settings.MaxUploadBytes,
			MaxPixels:    settings.MaxImagePixels,
			MinGrayscale: settings.MinGrayscale,
		},
		Workers: settings.Workers,
		log:     logging.Component("api"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HealthCheck)
	r.Get("/api/config", h.GetConfig)

	r.Post("/api/predict", h.Predict)
	r.Post("/api/attention", h.Attention)
	r.Post("/api/overlay", h.Overlay)
	r.Post("/api/attribution", h.Attribution)
	r.Post("/api/assess", h.Assess)
	r.Post("/api/assess/stage2", h.AssessStage2)

	r.Post("/api/cases/batch", h.AnalyzeBatch)
	r.Post("/api/cases/{caseID}/analyze", h.AnalyzeCase)
}

// ============================================================================
// Health
// ============================================================================

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// GetConfig returns the active calibration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Pipeline.Calibration())
}

// ============================================================================
// Single components
// ============================================================================

// PredictRequest asks for one synthetic modality prediction
type PredictRequest struct {
	Modality       models.Modality        `json:"modality"`
	Descriptor     models.InputDescriptor `json:"descriptor"`
	TargetAccuracy *float64               `json:"target_accuracy,omitempty"`
	Seed           *int64                 `json:"seed,omitempty"`
}

// Predict runs the probability synthesizer for one modality
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Modality == "" {
		req.Modality = models.ModalityImaging
	}
	acc := h.Pipeline.Calibration().Accuracy(req.Modality)
	if req.TargetAccuracy != nil {
		acc = *req.TargetAccuracy
	}
	rng := service.NewRandomSource(service.DeriveSeed(seedOrNow(req.Seed), req.Modality))

	pred, err := h.Pipeline.Probability.Synthesize(req.Modality, req.Descriptor, acc, rng)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// AttentionRequest asks for a raw attention grid
type AttentionRequest struct {
	Class  models.ClassLabel `json:"class"`
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Seed   *int64            `json:"seed,omitempty"`
}

// Attention returns the synthesized grid for a class
func (h *Handler) Attention(w http.ResponseWriter, r *http.Request) {
	var req AttentionRequest
	if !decode(w, r, &req) {
		return
	}
	rng := service.NewRandomSource(service.DeriveSeed(seedOrNow(req.Seed), "attention"))
	grid, err := h.Pipeline.Attention.Generate(req.Class, req.Width, req.Height, rng)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

// OverlayRequest carries a base64 image and the class to render attention for
type OverlayRequest struct {
	Image     string            `json:"image"`
	Class     models.ClassLabel `json:"class"`
	Alpha     *float64          `json:"alpha,omitempty"`
	Threshold *float64          `json:"threshold,omitempty"`
	Seed      *int64            `json:"seed,omitempty"`
}

// OverlayResponse holds the rendered PNG as a data URL
type OverlayResponse struct {
	Overlay string `json:"overlay"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Overlay composites a class attention map onto the uploaded image
func (h *Handler) Overlay(w http.ResponseWriter, r *http.Request) {
	var req OverlayRequest
	if !decode(w, r, &req) {
		return
	}
	img, err := imageio.DecodeBase64(req.Image, h.Limits)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b := img.Image.Bounds()
	rng := service.NewRandomSource(service.DeriveSeed(seedOrNow(req.Seed), "attention"))
	grid, err := h.Pipeline.Attention.Generate(req.Class, b.Dx(), b.Dy(), rng)
	if err != nil {
		h.writeError(w, err)
		return
	}

	opts := service.DefaultOverlayOptions(h.Pipeline.Calibration().Overlay)
	if req.Alpha != nil {
		opts.Alpha = *req.Alpha
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	overlay, err := h.Pipeline.Compositor.CompositeContext(r.Context(), img.Image, grid, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	url, err := imageio.EncodePNGDataURL(overlay)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OverlayResponse{Overlay: url, Width: b.Dx(), Height: b.Dy()})
}

// AttributionRequest holds the record to explain
type AttributionRequest struct {
	Clinical models.ClinicalRecord      `json:"clinical"`
	Imaging  *models.ImagingVolumetrics `json:"imaging,omitempty"`
}

// Attribution returns the ranked feature contributions
func (h *Handler) Attribution(w http.ResponseWriter, r *http.Request) {
	var req AttributionRequest
	if !decode(w, r, &req) {
		return
	}
	features, err := h.Pipeline.Attribution.Synthesize(req.Clinical, req.Imaging)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"features": features})
}

// Assess runs stage 1 and, when indicated and possible, stage 2
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AttributionRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Pipeline.Ensemble.Assess(req.Clinical, req.Imaging)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Stage2Request continues an assessment that stage 1 advanced
type Stage2Request struct {
	Stage1 models.Stage1Result `json:"stage1"`
	service.Stage2Input
}

// AssessStage2 fuses a prior stage-1 result with the advanced panel
func (h *Handler) AssessStage2(w http.ResponseWriter, r *http.Request) {
	var req Stage2Request
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Pipeline.Ensemble.Stage2(req.Stage1, req.Stage2Input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ============================================================================
// Whole cases
// ============================================================================

// CaseRequest is the body of a full analysis
type CaseRequest struct {
	CaseID     string                     `json:"case_id,omitempty"`
	Seed       *int64                     `json:"seed,omitempty"`
	Image      string                     `json:"image,omitempty"`
	Filename   string                     `json:"filename,omitempty"`
	Clinical   *models.ClinicalRecord     `json:"clinical,omitempty"`
	Imaging    *models.ImagingVolumetrics `json:"imaging,omitempty"`
	Modalities []models.Modality          `json:"modalities,omitempty"`
	Alpha      *float64                   `json:"alpha,omitempty"`
	Threshold  *float64                   `json:"threshold,omitempty"`
}

// CaseResponse is a report plus the encoded overlay
type CaseResponse struct {
	*models.Report
	Overlay string `json:"overlay,omitempty"`
}

// AnalyzeCase runs the whole pipeline for one case. A newer request for the
// same case cancels this one, which then answers 409.
func (h *Handler) AnalyzeCase(w http.ResponseWriter, r *http.Request) {
	var req CaseRequest
	if !decode(w, r, &req) {
		return
	}
	req.CaseID = chi.URLParam(r, "caseID")

	cc, areq, err := h.buildCase(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, ticket := h.Cases.Begin(r.Context(), cc.CaseID)
	defer ticket.Done()

	report, err := h.Pipeline.Analyze(ctx, cc, areq)
	if !ticket.Current() {
		h.log.Info().Str("case_id", cc.CaseID).Uint64("generation", ticket.Generation).Msg("superseded by newer request")
		http.Error(w, "superseded by a newer request for this case", http.StatusConflict)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := caseResponse(report)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// BatchRequest lists independent cases
type BatchRequest struct {
	Cases []CaseRequest `json:"cases"`
}

// BatchItem is one case's outcome in a batch
type BatchItem struct {
	CaseID string        `json:"case_id"`
	Result *CaseResponse `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// AnalyzeBatch runs independent cases concurrently. A failing case reports
// its error without affecting the others.
func (h *Handler) AnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Cases) == 0 {
		http.Error(w, "no cases", http.StatusBadRequest)
		return
	}

	items := make([]BatchItem, len(req.Cases))
	var runnable []service.CaseRequest
	var slots []int
	for i, c := range req.Cases {
		cc, areq, err := h.buildCase(c)
		items[i].CaseID = cc.CaseID
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		runnable = append(runnable, service.CaseRequest{Case: cc, Request: areq})
		slots = append(slots, i)
	}

	for j, out := range h.Pipeline.AnalyzeBatch(r.Context(), runnable, h.Workers) {
		i := slots[j]
		if out.Err != nil {
			items[i].Error = out.Err.Error()
			continue
		}
		resp, err := caseResponse(out.Report)
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		items[i].Result = resp
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": items})
}

func (h *Handler) buildCase(req CaseRequest) (models.CaseContext, service.AnalyzeRequest, error) {
	if req.CaseID == "" {
		req.CaseID = uuid.NewString()
	}
	cc := models.NewCaseContext(req.CaseID, seedOrNow(req.Seed))
	areq := service.AnalyzeRequest{
		Record:     req.Clinical,
		Imaging:    req.Imaging,
		Modalities: req.Modalities,
		ImageInfo:  models.InputDescriptor{Filename: req.Filename},
	}
	if req.Image != "" {
		img, err := imageio.DecodeBase64(req.Image, h.Limits)
		if err != nil {
			return cc, areq, err
		}
		areq.Image = img.Image
		areq.ImageInfo.MIMEType = img.MIMEType
		areq.ImageInfo.SizeBytes = img.SizeBytes
	}
	if req.Alpha != nil || req.Threshold != nil {
		opts := service.DefaultOverlayOptions(h.Pipeline.Calibration().Overlay)
		if req.Alpha != nil {
			opts.Alpha = *req.Alpha
		}
		if req.Threshold != nil {
			opts.Threshold = *req.Threshold
		}
		areq.Overlay = &opts
	}
	return cc, areq, nil
}

func caseResponse(report *models.Report) (*CaseResponse, error) {
	resp := &CaseResponse{Report: report}
	if report.Overlay != nil {
		url, err := imageio.EncodePNGDataURL(report.Overlay)
		if err != nil {
			return nil, err
		}
		resp.Overlay = url
	}
	return resp, nil
}

// ============================================================================
// Helpers
// ============================================================================

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps typed pipeline errors to 4xx and everything else to 500
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrMissingModalityInput),
		errors.Is(err, service.ErrIncoherentFusionInput):
		status = http.StatusUnprocessableEntity
	case service.IsUserError(err):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// seedOrNow uses the caller's seed when given so results are reproducible
func seedOrNow(seed *int64) int64 {
	if seed != nil {
		return *seed
	}
	return time.Now().UnixNano()
}
