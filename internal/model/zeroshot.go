package model

import (
	"context"
	"fmt"
	"image"
)

// DefaultLogitScale is exp(logit_scale) of the released CLIP checkpoints.
const DefaultLogitScale = 100.0

// ZeroShot classifies by cosine similarity between the image embedding and
// the embeddings of the two label prompts.
type ZeroShot struct {
	pre    *Preprocessor
	images ImageEncoder
	texts  TextEncoder
	labels Labels
	scale  float64

	textEmbeds lazy[[][]float64]
}

func NewZeroShot(pre *Preprocessor, images ImageEncoder, texts TextEncoder, labels Labels, logitScale float64) *ZeroShot {
	if logitScale <= 0 {
		logitScale = DefaultLogitScale
	}
	return &ZeroShot{
		pre:    pre,
		images: images,
		texts:  texts,
		labels: labels,
		scale:  logitScale,
	}
}

func (z *ZeroShot) Labels() Labels { return z.labels }

// LogitScale is the temperature applied to the cosine similarities.
func (z *ZeroShot) LogitScale() float64 { return z.scale }

// TextEmbeddings returns the prompt embeddings in label order. They are
// computed on first use and shared afterwards; callers must not modify them.
func (z *ZeroShot) TextEmbeddings(ctx context.Context) ([][]float64, error) {
	return z.textEmbeds.get(func() ([][]float64, error) {
		emb, err := z.texts.EncodeText(ctx, z.labels[:])
		if err != nil {
			return nil, fmt.Errorf("encode label prompts: %w", err)
		}
		if len(emb) != NumLabels {
			return nil, fmt.Errorf("text encoder returned %d embeddings for %d prompts", len(emb), NumLabels)
		}
		out := make([][]float64, len(emb))
		for i, e := range emb {
			out[i] = append([]float64(nil), e...)
		}
		return out, nil
	})
}

// AuxInputs hands the prompt embeddings to the explanation graph.
func (z *ZeroShot) AuxInputs(ctx context.Context) ([][]float64, error) {
	return z.TextEmbeddings(ctx)
}

// Logits returns the temperature-scaled similarities in label order.
func (z *ZeroShot) Logits(ctx context.Context, x *ImageTensor) ([]float64, error) {
	texts, err := z.TextEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	img, err := z.images.EncodeImage(ctx, x)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return CosineLogits(img, texts, z.scale)
}

func (z *ZeroShot) ClassifyTensor(ctx context.Context, x *ImageTensor) (Probabilities, error) {
	logits, err := z.Logits(ctx, x)
	if err != nil {
		return Probabilities{}, err
	}
	return probabilitiesFromLogits(logits)
}

func (z *ZeroShot) Classify(ctx context.Context, img image.Image) (Probabilities, error) {
	x, err := z.pre.Preprocess(img)
	if err != nil {
		return Probabilities{}, err
	}
	return z.ClassifyTensor(ctx, x)
}
