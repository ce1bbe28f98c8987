package service

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() AnalyzeRequest {
	rec := screeningRecord(75, 20, 1, 0.7, 0.2, 0.8)
	return AnalyzeRequest{
		Image:     patternImage(24, 16),
		ImageInfo: models.InputDescriptor{Filename: "VeryMildDemented/31.png", MIMEType: "image/png"},
		Record:    &rec,
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	p := NewPipeline(config.Default())
	req := testRequest()

	a, err := p.Analyze(context.Background(), models.NewCaseContext("case-1", 42), req)
	require.NoError(t, err)
	b, err := p.Analyze(context.Background(), models.NewCaseContext("case-1", 42), req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.NotNil(t, a.Overlay)
	assert.Equal(t, a.Overlay.Pix, b.Overlay.Pix)
}

func TestAnalyzeFullCase(t *testing.T) {
	p := NewPipeline(config.Default())
	req := testRequest()
	src := req.Image.(*image.RGBA)
	before := append([]byte(nil), src.Pix...)

	rep, err := p.Analyze(context.Background(), models.NewCaseContext("case-2", 7), req)
	require.NoError(t, err)

	assert.Equal(t, "case-2", rep.CaseID)
	assert.Equal(t, before, src.Pix, "source image must not change")

	require.NotNil(t, rep.Overlay)
	assert.Equal(t, src.Bounds().Size(), rep.Overlay.Bounds().Size())

	// long side of a 24x16 image scales to the 64-cell grid
	require.NotNil(t, rep.Attention)
	assert.Equal(t, 64, rep.Attention.Width)
	assert.Equal(t, 42, rep.Attention.Height)

	imaging, ok := rep.Predictions[models.ModalityImaging]
	require.True(t, ok)
	assert.Equal(t, models.ClassMCI, imaging.IntendedClass)
	require.NotNil(t, rep.AttentionFor)
	assert.Equal(t, imaging.PredictedClass, *rep.AttentionFor)
	assert.Contains(t, rep.Predictions, models.ModalityClinical)
	assert.Contains(t, rep.Predictions, models.ModalityHandwriting)

	require.NotNil(t, rep.Ensemble)
	assert.InDelta(t, 38.8, rep.Ensemble.Stage1Score, 1e-9)
	assert.NotEmpty(t, rep.Attributions)
}

func TestAnalyzeWithoutImage(t *testing.T) {
	p := NewPipeline(config.Default())
	rec := screeningRecord(60, 30, 0, 1, 0, 1)

	rep, err := p.Analyze(context.Background(), models.NewCaseContext("case-3", 1), AnalyzeRequest{Record: &rec})
	require.NoError(t, err)
	assert.Nil(t, rep.Overlay)
	assert.NotContains(t, rep.Predictions, models.ModalityImaging)
	require.NotNil(t, rep.Attention)
	require.NotNil(t, rep.AttentionFor)
	assert.Equal(t, rep.Ensemble.Diagnosis, *rep.AttentionFor)
	assert.Equal(t, 64, rep.Attention.Width)
}

func TestAnalyzeWithoutAttention(t *testing.T) {
	p := NewPipeline(config.Default())
	imaging := &models.ImagingVolumetrics{
		HippocampalVolume:  models.Float(0.9),
		CorticalThickness:  models.Float(0.9),
		VentricularSize:    models.Float(0.1),
		WhiteMatterLesions: models.Float(0.1),
	}

	rep, err := p.Analyze(context.Background(), models.NewCaseContext("volumes", 2), AnalyzeRequest{Imaging: imaging})
	require.NoError(t, err)
	assert.Nil(t, rep.Attention)
	assert.Nil(t, rep.AttentionFor)
	assert.NotEmpty(t, rep.Attributions)

	data, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "attention_class")
}

func TestAnalyzeRespectsGridSize(t *testing.T) {
	cal := config.Default()
	p := NewPipeline(cal)
	req := AnalyzeRequest{Image: patternImage(200, 100)}

	rep, err := p.Analyze(context.Background(), models.NewCaseContext("wide", 3), req)
	require.NoError(t, err)
	assert.Equal(t, 64, rep.Attention.Width)
	assert.Equal(t, 32, rep.Attention.Height)

	cal.Overlay.GridSize = 0
	rep, err = NewPipeline(cal).Analyze(context.Background(), models.NewCaseContext("wide", 3), req)
	require.NoError(t, err)
	assert.Equal(t, 200, rep.Attention.Width)
	assert.Equal(t, 100, rep.Attention.Height)
}

func TestAnalyzeOverlayOverride(t *testing.T) {
	p := NewPipeline(config.Default())
	req := AnalyzeRequest{Image: patternImage(8, 8), Overlay: &OverlayOptions{Alpha: 0, Threshold: 0}}

	rep, err := p.Analyze(context.Background(), models.NewCaseContext("plain", 5), req)
	require.NoError(t, err)
	src := req.Image.(*image.RGBA)
	assert.Equal(t, src.Pix, rep.Overlay.Pix)

	req.Overlay = &OverlayOptions{Alpha: 2, Threshold: 0.1}
	_, err = p.Analyze(context.Background(), models.NewCaseContext("plain", 5), req)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnalyzeRequiresInput(t *testing.T) {
	_, err := NewPipeline(config.Default()).Analyze(context.Background(), models.NewCaseContext("empty", 1), AnalyzeRequest{})
	assert.ErrorIs(t, err, ErrMissingModalityInput)
}

func TestAnalyzeCancellation(t *testing.T) {
	t.Run("already canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewPipeline(config.Default()).Analyze(ctx, models.NewCaseContext("c", 1), testRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("canceled during processing delay", func(t *testing.T) {
		cal := config.Default()
		cal.ProcessingDelay = time.Hour
		p := NewPipeline(cal)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		started := time.Now()
		_, err := p.Analyze(ctx, models.NewCaseContext("c", 1), testRequest())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(started), 5*time.Second)
	})
}

func TestAnalyzeBatchIsolatesFailures(t *testing.T) {
	p := NewPipeline(config.Default())

	bad := screeningRecord(70, math.NaN(), 0.5, 0.8, 0.1, 0.9)
	cases := []CaseRequest{
		{Case: models.NewCaseContext("a", 1), Request: testRequest()},
		{Case: models.NewCaseContext("b", 2), Request: AnalyzeRequest{Record: &bad}},
		{Case: models.NewCaseContext("c", 3), Request: testRequest()},
		{Case: models.NewCaseContext("d", 4), Request: AnalyzeRequest{Image: patternImage(10, 10)}},
	}

	outcomes := p.AnalyzeBatch(context.Background(), cases, 2)
	require.Len(t, outcomes, len(cases))
	for i, o := range outcomes {
		assert.Equal(t, cases[i].Case.CaseID, o.CaseID)
	}

	assert.ErrorIs(t, outcomes[1].Err, ErrInvalidInput)
	assert.Nil(t, outcomes[1].Report)
	for _, i := range []int{0, 2, 3} {
		assert.NoError(t, outcomes[i].Err)
		assert.NotNil(t, outcomes[i].Report)
	}

	// batch results match the single-case path
	single, err := p.Analyze(context.Background(), cases[2].Case, cases[2].Request)
	require.NoError(t, err)
	assert.Equal(t, single, outcomes[2].Report)
}
