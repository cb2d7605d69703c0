package model

import (
	"context"
	"fmt"
)

// Graph is the differentiable computation behind a classifier. Evaluate runs
// a forward pass and, when tap is set, captures the tapped layer and
// back-propagates the tapped class score to it.
type Graph interface {
	Layers() []LayerInfo
	Evaluate(ctx context.Context, x *ImageTensor, aux [][]float64, tap *Tap) (*Pass, error)
}

// Adapter presents a Graph as a function of the image alone. Auxiliary
// inputs are resolved once on first use and reused for every later call.
type Adapter struct {
	graph Graph
	aux   AuxSource
	cache lazy[[][]float64]
}

// NewAdapter wraps graph. aux may be nil when the graph takes pixels only.
func NewAdapter(graph Graph, aux AuxSource) *Adapter {
	return &Adapter{graph: graph, aux: aux}
}

func (a *Adapter) auxInputs(ctx context.Context) ([][]float64, error) {
	if a.aux == nil {
		return nil, nil
	}
	return a.cache.get(func() ([][]float64, error) {
		in, err := a.aux.AuxInputs(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve auxiliary inputs: %w", err)
		}
		return in, nil
	})
}

// Forward returns the per-class scores for x.
func (a *Adapter) Forward(ctx context.Context, x *ImageTensor) ([]float64, error) {
	aux, err := a.auxInputs(ctx)
	if err != nil {
		return nil, err
	}
	pass, err := a.graph.Evaluate(ctx, x, aux, nil)
	if err != nil {
		return nil, err
	}
	return pass.Scores, nil
}

// ForwardBackward runs the graph capturing layer and the gradient of the
// score at class with respect to it.
func (a *Adapter) ForwardBackward(ctx context.Context, x *ImageTensor, layer string, class int) (*Pass, error) {
	if class < 0 || class >= NumLabels {
		return nil, fmt.Errorf("class index %d out of range", class)
	}
	aux, err := a.auxInputs(ctx)
	if err != nil {
		return nil, err
	}
	return a.graph.Evaluate(ctx, x, aux, &Tap{Layer: layer, Class: class})
}

func (a *Adapter) Layers() []LayerInfo { return a.graph.Layers() }

// Layer looks up a tap point by name.
func (a *Adapter) Layer(name string) (LayerInfo, bool) {
	for _, l := range a.graph.Layers() {
		if l.Name == name {
			return l, true
		}
	}
	return LayerInfo{}, false
}
