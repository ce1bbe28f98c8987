package service

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Each typed error below unwraps to one of them.
var (
	ErrInvalidDistribution   = errors.New("invalid probability distribution")
	ErrInvalidGridDimensions = errors.New("invalid attention grid dimensions")
	ErrMissingModalityInput  = errors.New("missing modality input")
	ErrIncoherentFusionInput = errors.New("incoherent fusion input")
	ErrInvalidInput          = errors.New("invalid input")
)

// InvalidDistributionError is returned when a probability vector has no
// positive mass left after clamping.
type InvalidDistributionError struct {
	Raw [4]float64
	Sum float64
}

func (e *InvalidDistributionError) Error() string {
	return fmt.Sprintf("%v: clamped sum %.6f from %v", ErrInvalidDistribution, e.Sum, e.Raw)
}

func (e *InvalidDistributionError) Unwrap() error { return ErrInvalidDistribution }

// InvalidGridDimensionsError is returned for non-positive width or height, or
// a grid with more than MaxCells cells
type InvalidGridDimensionsError struct {
	Width, Height int
	MaxCells      int
}

func (e *InvalidGridDimensionsError) Error() string {
	if e.MaxCells > 0 {
		return fmt.Sprintf("%v: %dx%d exceeds %d cells", ErrInvalidGridDimensions, e.Width, e.Height, e.MaxCells)
	}
	return fmt.Sprintf("%v: %dx%d", ErrInvalidGridDimensions, e.Width, e.Height)
}

func (e *InvalidGridDimensionsError) Unwrap() error { return ErrInvalidGridDimensions }

// MissingModalityInputError names the group and the field it lacked
type MissingModalityInputError struct {
	Modality string
	Field    string
}

func (e *MissingModalityInputError) Error() string {
	return fmt.Sprintf("%v: %s requires %s", ErrMissingModalityInput, e.Modality, e.Field)
}

func (e *MissingModalityInputError) Unwrap() error { return ErrMissingModalityInput }

// IncoherentFusionInputError is returned when stage 2 is requested without a
// usable stage-1 result.
type IncoherentFusionInputError struct {
	Reason string
}

func (e *IncoherentFusionInputError) Error() string {
	return fmt.Sprintf("%v: %s", ErrIncoherentFusionInput, e.Reason)
}

func (e *IncoherentFusionInputError) Unwrap() error { return ErrIncoherentFusionInput }

// InvalidInputError flags a non-finite or otherwise unusable numeric input
type InvalidInputError struct {
	Field string
	Value float64
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%v: %s = %v", ErrInvalidInput, e.Field, e.Value)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// IsUserError reports whether err came from bad caller input rather than a
// failure inside the service.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidDistribution) ||
		errors.Is(err, ErrInvalidGridDimensions) ||
		errors.Is(err, ErrMissingModalityInput) ||
		errors.Is(err, ErrIncoherentFusionInput) ||
		errors.Is(err, ErrInvalidInput)
}
