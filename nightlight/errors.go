package nightlight

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable reports that a requested year has no source data.
	// It is never replaced by a default value.
	ErrDataUnavailable = errors.New("nightlight: data unavailable")
	// ErrInsufficientSamples reports a regression without enough usable rows.
	ErrInsufficientSamples = errors.New("nightlight: insufficient calibration samples")
)

type DataUnavailableError struct {
	Collection string
	Year       int
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("nightlight: no source data for %s in %d", e.Collection, e.Year)
}

func (e *DataUnavailableError) Unwrap() error {
	return ErrDataUnavailable
}
