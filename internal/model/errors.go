package model

import (
	"errors"
	"fmt"
)

// ErrUnknownLayer is returned by graphs asked to tap a layer they do not have.
var ErrUnknownLayer = errors.New("unknown layer")

// ModelLoadError means weights or model artifacts could not be obtained.
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model load failed: %v", e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// PreprocessError means an image could not be turned into the model's input tensor.
type PreprocessError struct {
	Reason string
	Err    error
}

func (e *PreprocessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("preprocess: %s: %v", e.Reason, e.Err)
	}
	return "preprocess: " + e.Reason
}

func (e *PreprocessError) Unwrap() error { return e.Err }
