package models

import "errors"

// Sentinel errors for graph construction and diffusion model assignment.
var (
	// ErrNoModel is returned when sampling or simulation is requested on a
	// graph whose diffusion model has not been assigned (or was cleared by a
	// later edge insertion).
	ErrNoModel = errors.New("models: diffusion model not set")

	// ErrInvalidHorizon is returned when the delayed model is assigned with a
	// non-positive horizon.
	ErrInvalidHorizon = errors.New("models: delayed model requires a positive horizon")

	// ErrNodeOutOfRange indicates a negative or out-of-range node index.
	ErrNodeOutOfRange = errors.New("models: node index out of range")

	// ErrInvalidProbability indicates a probability outside [0, 1].
	ErrInvalidProbability = errors.New("models: probability must be within [0, 1]")

	// ErrUnknownModel is returned when a model name cannot be parsed.
	ErrUnknownModel = errors.New("models: unknown diffusion model")
)
