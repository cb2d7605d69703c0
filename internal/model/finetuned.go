package model

import (
	"context"
	"fmt"
	"image"
)

// FineTuned classifies with a trained head whose outputs are already in
// label-index order.
type FineTuned struct {
	pre    *Preprocessor
	head   HeadScorer
	labels Labels
}

func NewFineTuned(pre *Preprocessor, head HeadScorer, labels Labels) *FineTuned {
	return &FineTuned{pre: pre, head: head, labels: labels}
}

func (f *FineTuned) Labels() Labels { return f.labels }

// AuxInputs is empty: the head graph only needs pixels.
func (f *FineTuned) AuxInputs(context.Context) ([][]float64, error) { return nil, nil }

func (f *FineTuned) ClassifyTensor(ctx context.Context, x *ImageTensor) (Probabilities, error) {
	logits, err := f.head.Logits(ctx, x)
	if err != nil {
		return Probabilities{}, fmt.Errorf("classification head: %w", err)
	}
	return probabilitiesFromLogits(logits)
}

func (f *FineTuned) Classify(ctx context.Context, img image.Image) (Probabilities, error) {
	x, err := f.pre.Preprocess(img)
	if err != nil {
		return Probabilities{}, err
	}
	return f.ClassifyTensor(ctx, x)
}
