package model

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Label indices. The order of the two prompts is fixed for the lifetime of
// the process.
const (
	RealIndex        = 0
	AIGeneratedIndex = 1
	NumLabels        = 2
)

// Labels holds the two natural-language prompts in label-index order.
type Labels [NumLabels]string

// DefaultLabels are the prompts used when nothing is configured.
var DefaultLabels = Labels{"a real photo", "an ai generated image"}

// Strategy selects the classifier implementation.
type Strategy string

const (
	StrategyZeroShot  Strategy = "zero_shot"
	StrategyFineTuned Strategy = "fine_tuned"
)

// Metadata describes an exported model directory. It is read from
// model_metadata.json next to the ONNX files.
type Metadata struct {
	ImageSize     int         `json:"image_size"`
	Mean          [3]float32  `json:"mean"`
	Std           [3]float32  `json:"std"`
	EmbeddingDim  int         `json:"embedding_dim"`
	LogitScale    float64     `json:"logit_scale"`
	ContextLength int         `json:"context_length"`
	PadTokenID    int64       `json:"pad_token_id"`
	VisionModel   string      `json:"vision_model"`
	TextModel     string      `json:"text_model"`
	Tokenizer     string      `json:"tokenizer"`
	HeadModel     string      `json:"head_model"`
	ExplainModel  string      `json:"explain_model"`
	Classes       []string    `json:"classes"`
	Layers        []LayerSpec `json:"layers"`
}

// LayerSpec names the explanation graph outputs that expose one layer.
type LayerSpec struct {
	Name             string `json:"name"`
	ActivationOutput string `json:"activation_output"`
	GradientOutput   string `json:"gradient_output"`
	Tokens           int    `json:"tokens"`
	Channels         int    `json:"channels"`
}

// LayerInfo is what a graph reports about one of its tap points.
type LayerInfo struct {
	Name string
	// Differentiable is false when the layer sits outside the path from the
	// pixels to the class scores.
	Differentiable bool
}

// Probabilities is the softmax over the two labels.
type Probabilities struct {
	Real        float64 `json:"real"`
	AIGenerated float64 `json:"ai_generated"`
}

// ImageTensor is a preprocessed image in CHW order.
type ImageTensor struct {
	Width  int
	Height int
	Data   []float32
	// Source is the resized and cropped RGB image the tensor was built from.
	Source *image.RGBA
}

// Shape returns the tensor shape with a leading batch dimension.
func (t *ImageTensor) Shape() []int64 {
	return []int64{1, 3, int64(t.Height), int64(t.Width)}
}

// Tap asks a graph to capture one layer during a forward pass and
// back-propagate the score of Class to it.
type Tap struct {
	Layer string
	Class int
}

// Pass is the result of a single forward (and optionally backward) pass.
type Pass struct {
	Scores []float64
	// Activation and Gradient are tokens x channels. Gradient is nil when no
	// gradient reached the tapped layer.
	Activation *mat.Dense
	Gradient   *mat.Dense
}
