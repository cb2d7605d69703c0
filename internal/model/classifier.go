package model

import (
	"context"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Classifier scores an image against the two labels.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Probabilities, error)
	ClassifyTensor(ctx context.Context, x *ImageTensor) (Probabilities, error)
	Labels() Labels
}

// ImageEncoder maps a preprocessed image to its embedding.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, x *ImageTensor) ([]float64, error)
}

// TextEncoder maps prompts to embeddings in the same space as ImageEncoder.
type TextEncoder interface {
	EncodeText(ctx context.Context, prompts []string) ([][]float64, error)
}

// HeadScorer returns one logit per label from a trained classification head.
type HeadScorer interface {
	Logits(ctx context.Context, x *ImageTensor) ([]float64, error)
}

// AuxSource provides the non-image inputs a classifier's graph needs.
type AuxSource interface {
	AuxInputs(ctx context.Context) ([][]float64, error)
}

// Softmax turns logits into a probability distribution.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	m := floats.Max(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// CosineLogits scores an image embedding against each text embedding as
// scale * cos(image, text). A zero-length vector has zero similarity.
func CosineLogits(img []float64, texts [][]float64, scale float64) ([]float64, error) {
	imgNorm := floats.Norm(img, 2)
	logits := make([]float64, len(texts))
	for i, t := range texts {
		if len(t) != len(img) {
			return nil, fmt.Errorf("text embedding %d has dimension %d, image embedding has %d", i, len(t), len(img))
		}
		tNorm := floats.Norm(t, 2)
		if imgNorm == 0 || tNorm == 0 {
			continue
		}
		logits[i] = scale * floats.Dot(img, t) / (imgNorm * tNorm)
	}
	return logits, nil
}

func probabilitiesFromLogits(logits []float64) (Probabilities, error) {
	if len(logits) != NumLabels {
		return Probabilities{}, fmt.Errorf("expected %d logits, got %d", NumLabels, len(logits))
	}
	for _, v := range logits {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Probabilities{}, fmt.Errorf("non-finite logit %v", v)
		}
	}
	p := Softmax(logits)
	return Probabilities{Real: p[RealIndex], AIGenerated: p[AIGeneratedIndex]}, nil
}
