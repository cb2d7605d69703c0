// Package saliency computes Grad-CAM maps for transformer image encoders.
package saliency

import (
	"context"
	"errors"
	"math"

	"github.com/Brownie44l1/aigen-detector/internal/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Explainable is a single-input model that can capture one layer's
// activation and the gradient of a class score with respect to it.
// *model.Adapter implements it.
type Explainable interface {
	Layers() []model.LayerInfo
	Layer(name string) (model.LayerInfo, bool)
	ForwardBackward(ctx context.Context, x *model.ImageTensor, layer string, class int) (*model.Pass, error)
}

// Map is a row-major saliency map with values in [0, 1].
type Map struct {
	Width  int
	Height int
	Values []float64
}

func (m *Map) At(x, y int) float64 { return m.Values[y*m.Width+x] }

// CheckLayer reports whether layer can be explained on adapter.
func CheckLayer(adapter Explainable, layer string) error {
	if adapter == nil {
		return &LayerNotFoundError{Layer: layer}
	}
	if _, ok := adapter.Layer(layer); !ok {
		return notFound(adapter, layer)
	}
	return nil
}

func notFound(adapter Explainable, layer string) *LayerNotFoundError {
	e := &LayerNotFoundError{Layer: layer}
	for _, l := range adapter.Layers() {
		e.Available = append(e.Available, l.Name)
	}
	return e
}

// Generate computes the Grad-CAM map of class at layer for x, upsampled to
// the tensor's resolution.
func Generate(ctx context.Context, adapter Explainable, layer string, class int, x *model.ImageTensor) (*Map, error) {
	if err := CheckLayer(adapter, layer); err != nil {
		return nil, err
	}
	if info, _ := adapter.Layer(layer); !info.Differentiable {
		return nil, &GradientComputationError{Layer: layer, Reason: "layer is outside the differentiable graph"}
	}

	pass, err := adapter.ForwardBackward(ctx, x, layer, class)
	if err != nil {
		if errors.Is(err, model.ErrUnknownLayer) {
			return nil, notFound(adapter, layer)
		}
		return nil, &GradientComputationError{Layer: layer, Reason: "forward/backward pass failed", Err: err}
	}
	if pass.Activation == nil {
		return nil, &GradientComputationError{Layer: layer, Reason: "no activation captured"}
	}
	if pass.Gradient == nil {
		return nil, &GradientComputationError{Layer: layer, Reason: "no gradient reached the layer"}
	}
	ar, ac := pass.Activation.Dims()
	gr, gc := pass.Gradient.Dims()
	if ar != gr || ac != gc {
		return nil, &GradientComputationError{Layer: layer, Reason: "gradient shape differs from activation"}
	}
	if !allFinite(pass.Gradient) {
		return nil, &GradientComputationError{Layer: layer, Reason: "gradient is not finite"}
	}

	acts, err := ReshapeTokens(pass.Activation)
	if err != nil {
		return nil, err
	}
	grads, err := ReshapeTokens(pass.Gradient)
	if err != nil {
		return nil, err
	}

	cam := weightedSum(acts, channelWeights(grads))
	for i, v := range cam {
		if v < 0 || math.IsNaN(v) {
			cam[i] = 0
		}
	}

	values := resizeBilinear(cam, acts.Side, acts.Side, x.Width, x.Height)
	normalize(values)
	return &Map{Width: x.Width, Height: x.Height, Values: values}, nil
}

// channelWeights averages each channel's gradient over the grid.
func channelWeights(grads *Spatial) []float64 {
	c, _ := grads.Channels.Dims()
	w := make([]float64, c)
	for i := range w {
		w[i] = stat.Mean(grads.Channels.RawRowView(i), nil)
	}
	return w
}

// weightedSum collapses the channels of acts into a single grid.
func weightedSum(acts *Spatial, weights []float64) []float64 {
	_, p := acts.Channels.Dims()
	var cam mat.VecDense
	cam.MulVec(acts.Channels.T(), mat.NewVecDense(len(weights), weights))
	out := make([]float64, p)
	for i := range out {
		out[i] = cam.AtVec(i)
	}
	return out
}

// flatTolerance is the relative spread below which a map counts as constant;
// interpolating a constant grid only perturbs it by rounding.
const flatTolerance = 1e-9

// normalize rescales v to [0, 1] in place. A constant input becomes all zeros.
func normalize(v []float64) {
	if len(v) == 0 {
		return
	}
	lo, hi := floats.Min(v), floats.Max(v)
	span := hi - lo
	if !(span > flatTolerance*math.Max(math.Abs(lo), math.Abs(hi))) || math.IsInf(span, 0) {
		for i := range v {
			v[i] = 0
		}
		return
	}
	for i, x := range v {
		n := (x - lo) / span
		v[i] = math.Min(1, math.Max(0, n))
	}
}

func allFinite(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
