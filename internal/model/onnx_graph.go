package model

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

// onnxGraph runs an explanation graph exported with its backward pass baked
// in: given the pixels, the one-hot target class and (for zero-shot models)
// the prompt embeddings, it returns the logits plus the activation and the
// gradient of every exposed layer.
type onnxGraph struct {
	forward  *ort.DynamicAdvancedSession
	taps     map[string]*layerSession
	layers   []LayerInfo
	inputs   []string
	zeroShot bool
	dim      int
}

type layerSession struct {
	spec    LayerSpec
	session *ort.DynamicAdvancedSession
}

func newONNXGraph(path string, meta *Metadata, zeroShot bool, opts *ort.SessionOptions) (g *onnxGraph, err error) {
	inputs := []string{"pixel_values", "target"}
	if zeroShot {
		inputs = []string{"pixel_values", "text_embeds", "target"}
	}
	if err := checkGraphOutputs(path, meta.Layers); err != nil {
		return nil, err
	}

	g = &onnxGraph{
		taps:     make(map[string]*layerSession, len(meta.Layers)),
		inputs:   inputs,
		zeroShot: zeroShot,
		dim:      meta.EmbeddingDim,
	}
	defer func() {
		if err != nil {
			_ = g.Close()
		}
	}()

	g.forward, err = ort.NewDynamicAdvancedSession(path, inputs, []string{"logits"}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", path, err)
	}

	for _, spec := range meta.Layers {
		outputs := []string{"logits", spec.ActivationOutput}
		if spec.GradientOutput != "" {
			outputs = append(outputs, spec.GradientOutput)
		}
		session, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create ONNX session for layer %s: %w", spec.Name, err)
		}
		g.taps[spec.Name] = &layerSession{spec: spec, session: session}
		g.layers = append(g.layers, LayerInfo{Name: spec.Name, Differentiable: spec.GradientOutput != ""})
	}
	return g, nil
}

// checkGraphOutputs fails when the metadata names outputs the graph lacks.
func checkGraphOutputs(path string, layers []LayerSpec) error {
	_, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	have := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		have[o.Name] = true
	}
	if !have["logits"] {
		return fmt.Errorf("%s has no logits output", path)
	}
	for _, l := range layers {
		if l.Tokens <= 0 || l.Channels <= 0 {
			return fmt.Errorf("layer %s: invalid shape %dx%d", l.Name, l.Tokens, l.Channels)
		}
		if !have[l.ActivationOutput] {
			return fmt.Errorf("layer %s: output %q not in graph", l.Name, l.ActivationOutput)
		}
		if l.GradientOutput != "" && !have[l.GradientOutput] {
			return fmt.Errorf("layer %s: output %q not in graph", l.Name, l.GradientOutput)
		}
	}
	return nil
}

func (g *onnxGraph) Layers() []LayerInfo { return g.layers }

func (g *onnxGraph) Evaluate(ctx context.Context, x *ImageTensor, aux [][]float64, tap *Tap) (*Pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session := g.forward
	var spec LayerSpec
	class := 0
	if tap != nil {
		ls, ok := g.taps[tap.Layer]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, tap.Layer)
		}
		session, spec, class = ls.session, ls.spec, tap.Class
	}

	var values []ort.ArbitraryTensor
	destroy := func() {
		for _, v := range values {
			v.Destroy()
		}
	}
	defer destroy()

	pixels, err := ort.NewTensor(ort.NewShape(x.Shape()...), x.Data)
	if err != nil {
		return nil, fmt.Errorf("allocate pixel tensor: %w", err)
	}
	values = append(values, pixels)
	in := []ort.ArbitraryTensor{pixels}

	if g.zeroShot {
		texts, err := g.textTensor(aux)
		if err != nil {
			return nil, err
		}
		values = append(values, texts)
		in = append(in, texts)
	}

	oneHot := make([]float32, NumLabels)
	oneHot[class] = 1
	target, err := ort.NewTensor(ort.NewShape(1, NumLabels), oneHot)
	if err != nil {
		return nil, fmt.Errorf("allocate target tensor: %w", err)
	}
	values = append(values, target)
	in = append(in, target)

	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, NumLabels))
	if err != nil {
		return nil, fmt.Errorf("allocate logits tensor: %w", err)
	}
	values = append(values, logits)
	out := []ort.ArbitraryTensor{logits}

	var act, grad *ort.Tensor[float32]
	if tap != nil {
		layerShape := ort.NewShape(1, int64(spec.Tokens), int64(spec.Channels))
		act, err = ort.NewEmptyTensor[float32](layerShape)
		if err != nil {
			return nil, fmt.Errorf("allocate activation tensor: %w", err)
		}
		values = append(values, act)
		out = append(out, act)
		if spec.GradientOutput != "" {
			grad, err = ort.NewEmptyTensor[float32](layerShape)
			if err != nil {
				return nil, fmt.Errorf("allocate gradient tensor: %w", err)
			}
			values = append(values, grad)
			out = append(out, grad)
		}
	}

	if err := session.Run(in, out); err != nil {
		return nil, fmt.Errorf("explanation graph failed: %w", err)
	}

	pass := &Pass{Scores: toFloat64(logits.GetData())}
	if act != nil {
		pass.Activation = mat.NewDense(spec.Tokens, spec.Channels, toFloat64(act.GetData()))
	}
	if grad != nil {
		pass.Gradient = mat.NewDense(spec.Tokens, spec.Channels, toFloat64(grad.GetData()))
	}
	return pass, nil
}

func (g *onnxGraph) textTensor(aux [][]float64) (*ort.Tensor[float32], error) {
	if len(aux) != NumLabels {
		return nil, fmt.Errorf("expected %d text embeddings, got %d", NumLabels, len(aux))
	}
	flat := make([]float32, 0, NumLabels*g.dim)
	for i, e := range aux {
		if len(e) != g.dim {
			return nil, fmt.Errorf("text embedding %d has dimension %d, want %d", i, len(e), g.dim)
		}
		for _, v := range e {
			flat = append(flat, float32(v))
		}
	}
	t, err := ort.NewTensor(ort.NewShape(NumLabels, int64(g.dim)), flat)
	if err != nil {
		return nil, fmt.Errorf("allocate text_embeds tensor: %w", err)
	}
	return t, nil
}

func (g *onnxGraph) Close() error {
	var errs []error
	if g.forward != nil {
		errs = append(errs, g.forward.Destroy())
		g.forward = nil
	}
	for name, ls := range g.taps {
		errs = append(errs, ls.session.Destroy())
		delete(g.taps, name)
	}
	return errors.Join(errs...)
}
