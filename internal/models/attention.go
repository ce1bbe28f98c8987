package models

import "encoding/json"

// AttentionGrid is a row-major scalar field with values in [0,1]. It is never
// mutated after construction.
type AttentionGrid struct {
	Width  int
	Height int
	values []float64
}

// NewAttentionGrid takes ownership of values, which must hold width*height entries.
// Entries are clamped to [0,1].
func NewAttentionGrid(width, height int, values []float64) AttentionGrid {
	for i, v := range values {
		values[i] = Clamp01(v)
	}
	return AttentionGrid{Width: width, Height: height, values: values}
}

// At returns the value at (x, y). Out-of-range coordinates are clamped to the edge.
func (g AttentionGrid) At(x, y int) float64 {
	if len(g.values) == 0 {
		return 0
	}
	if x < 0 {
		x = 0
	} else if x >= g.Width {
		x = g.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= g.Height {
		y = g.Height - 1
	}
	return g.values[y*g.Width+x]
}

// Values returns a copy of the row-major data
func (g AttentionGrid) Values() []float64 {
	out := make([]float64, len(g.values))
	copy(out, g.values)
	return out
}

// Empty reports whether the grid has no cells
func (g AttentionGrid) Empty() bool {
	return len(g.values) == 0
}

// Mean attention over the grid
func (g AttentionGrid) Mean() float64 {
	if len(g.values) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range g.values {
		s += v
	}
	return s / float64(len(g.values))
}

type attentionGridJSON struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Rows   [][]float64 `json:"rows"`
}

func (g AttentionGrid) MarshalJSON() ([]byte, error) {
	rows := make([][]float64, g.Height)
	for y := 0; y < g.Height; y++ {
		rows[y] = g.values[y*g.Width : (y+1)*g.Width]
	}
	return json.Marshal(attentionGridJSON{Width: g.Width, Height: g.Height, Rows: rows})
}

// Clamp01 clamps v to [0,1]; NaN becomes 0
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
