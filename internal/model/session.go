package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeMu   sync.Mutex
	runtimeRefs int
)

// acquireRuntime initialises the process-wide onnxruntime environment on
// first use. Every successful call must be paired with releaseRuntime.
func acquireRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if runtimeRefs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	runtimeRefs++
	return nil
}

func releaseRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if runtimeRefs == 0 {
		return nil
	}
	runtimeRefs--
	if runtimeRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// SessionOptions tunes onnxruntime threading.
type SessionOptions struct {
	IntraOpThreads int
	InterOpThreads int
}

func newSessionOptions(o SessionOptions) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if o.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(o.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set intra threads: %w", err)
		}
	}
	if o.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(o.InterOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set inter threads: %w", err)
		}
	}
	return opts, nil
}

// sessionSlot is a session bound to its own input and output tensors.
type sessionSlot struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newSessionSlot(modelPath, inputName, outputName string, inputShape, outputShape ort.Shape, opts *ort.SessionOptions) (*sessionSlot, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		opts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &sessionSlot{session: session, input: inputTensor, output: outputTensor}, nil
}

func (s *sessionSlot) destroy() error {
	return errors.Join(s.session.Destroy(), s.input.Destroy(), s.output.Destroy())
}

// sessionPool hands out slots so concurrent requests never share tensors.
type sessionPool struct {
	slots chan *sessionSlot
	all   []*sessionSlot
}

func newSessionPool(modelPath, inputName, outputName string, inputShape, outputShape ort.Shape, size int, opts *ort.SessionOptions) (*sessionPool, error) {
	if size <= 0 {
		size = 1
	}
	p := &sessionPool{slots: make(chan *sessionSlot, size)}
	for i := 0; i < size; i++ {
		slot, err := newSessionSlot(modelPath, inputName, outputName, inputShape, outputShape, opts)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("session %d/%d for %s: %w", i+1, size, modelPath, err)
		}
		p.all = append(p.all, slot)
		p.slots <- slot
	}
	return p, nil
}

// run copies input into a free slot, runs it and returns a copy of the output.
func (p *sessionPool) run(ctx context.Context, input []float32) ([]float32, error) {
	var slot *sessionSlot
	select {
	case slot = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.slots <- slot }()

	dst := slot.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if err := slot.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return append([]float32(nil), slot.output.GetData()...), nil
}

func (p *sessionPool) Close() error {
	var errs []error
	for _, slot := range p.all {
		errs = append(errs, slot.destroy())
	}
	p.all = nil
	return errors.Join(errs...)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
