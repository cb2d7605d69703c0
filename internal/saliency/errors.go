package saliency

import (
	"fmt"
	"strings"
)

// ShapeMismatchError means the spatial token count is not a perfect square.
type ShapeMismatchError struct {
	Tokens int
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s (%d spatial tokens)", e.Reason, e.Tokens)
}

// LayerNotFoundError means the requested target layer does not exist.
type LayerNotFoundError struct {
	Layer     string
	Available []string
}

func (e *LayerNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("layer %q not found", e.Layer)
	}
	return fmt.Sprintf("layer %q not found (available: %s)", e.Layer, strings.Join(e.Available, ", "))
}

// GradientComputationError means no usable gradient reached the target layer.
type GradientComputationError struct {
	Layer  string
	Reason string
	Err    error
}

func (e *GradientComputationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gradient for layer %q: %s: %v", e.Layer, e.Reason, e.Err)
	}
	return fmt.Sprintf("gradient for layer %q: %s", e.Layer, e.Reason)
}

func (e *GradientComputationError) Unwrap() error { return e.Err }
