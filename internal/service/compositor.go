package service

import (
	"context"
	"image"
	"image/color"
	"math"
	"neuroscreen-go/internal/config"
	"neuroscreen-go/internal/models"
)

// OverlayOptions controls one composite call
type OverlayOptions struct {
	Alpha     float64 `json:"alpha"`
	Threshold float64 `json:"threshold"`
}

// DefaultOverlayOptions takes the calibration defaults (alpha 0.7, threshold 0.1)
func DefaultOverlayOptions(cfg config.OverlayConfig) OverlayOptions {
	return OverlayOptions{Alpha: cfg.Alpha, Threshold: cfg.Threshold}
}

func (o OverlayOptions) validate() error {
	if !finite(o.Alpha) || o.Alpha < 0 || o.Alpha > 1 {
		return &InvalidInputError{Field: "alpha", Value: o.Alpha}
	}
	if !finite(o.Threshold) || o.Threshold < 0 || o.Threshold > 1 {
		return &InvalidInputError{Field: "threshold", Value: o.Threshold}
	}
	return nil
}

// Compositor blends a colormapped attention grid over a source image
type Compositor struct{}

// NewCompositor creates a new compositor
func NewCompositor() *Compositor {
	return &Compositor{}
}

// Composite renders the overlay into a freshly allocated buffer. src is only
// read, so the same image can be re-rendered with other options.
func (c *Compositor) Composite(src image.Image, grid models.AttentionGrid, opts OverlayOptions) (*image.NRGBA, error) {
	return c.CompositeContext(context.Background(), src, grid, opts)
}

// CompositeContext is Composite with cancellation checked once per row
func (c *Compositor) CompositeContext(ctx context.Context, src image.Image, grid models.AttentionGrid, opts OverlayOptions) (*image.NRGBA, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, &InvalidInputError{Field: "source_image", Value: 0}
	}
	if grid.Empty() {
		return nil, &InvalidGridDimensionsError{Width: grid.Width, Height: grid.Height}
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, &InvalidGridDimensionsError{Width: width, Height: height}
	}

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	sampler := newGridSampler(grid, width, height)

	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < width; x++ {
			sc := color.NRGBAModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			v := sampler.at(x, y)
			if v >= opts.Threshold {
				cm := Jet(v)
				sc.R = blend(cm.R, sc.R, opts.Alpha)
				sc.G = blend(cm.G, sc.G, opts.Alpha)
				sc.B = blend(cm.B, sc.B, opts.Alpha)
			}
			out.SetNRGBA(x, y, sc)
		}
	}
	return out, nil
}

// blend computes overlay*alpha + base*(1-alpha), rounded and clamped to a byte
func blend(overlay, base uint8, alpha float64) uint8 {
	v := float64(overlay)*alpha + float64(base)*(1-alpha)
	return uint8(clamp(math.Round(v), 0, 255))
}

// Jet maps v in [0,1] through the 4-segment blue-cyan-yellow-red colormap.
// Values outside the range are clamped.
func Jet(v float64) color.RGBA {
	v = models.Clamp01(v)
	var r, g, b float64
	switch {
	case v < 0.25:
		r, g, b = 0, 4*v, 1
	case v < 0.5:
		r, g, b = 0, 1, 1-4*(v-0.25)
	case v < 0.75:
		r, g, b = 4*(v-0.5), 1, 0
	default:
		r, g, b = 1, 1-4*(v-0.75), 0
	}
	return color.RGBA{R: channel(r), G: channel(g), B: channel(b), A: 255}
}

func channel(f float64) uint8 {
	return uint8(clamp(math.Round(f*255), 0, 255))
}

// gridSampler resamples a grid to image coordinates bilinearly, sampling at
// pixel centers. When sizes match every lookup lands exactly on a cell.
type gridSampler struct {
	grid           models.AttentionGrid
	scaleX, scaleY float64
	identity       bool
}

func newGridSampler(grid models.AttentionGrid, width, height int) gridSampler {
	return gridSampler{
		grid:     grid,
		scaleX:   float64(grid.Width) / float64(width),
		scaleY:   float64(grid.Height) / float64(height),
		identity: grid.Width == width && grid.Height == height,
	}
}

func (s gridSampler) at(x, y int) float64 {
	if s.identity {
		return s.grid.At(x, y)
	}
	gx := (float64(x)+0.5)*s.scaleX - 0.5
	gy := (float64(y)+0.5)*s.scaleY - 0.5
	gx = clamp(gx, 0, float64(s.grid.Width-1))
	gy = clamp(gy, 0, float64(s.grid.Height-1))

	x0, y0 := int(math.Floor(gx)), int(math.Floor(gy))
	fx, fy := gx-float64(x0), gy-float64(y0)

	top := lerp(s.grid.At(x0, y0), s.grid.At(x0+1, y0), fx)
	bottom := lerp(s.grid.At(x0, y0+1), s.grid.At(x0+1, y0+1), fx)
	return lerp(top, bottom, fy)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
