// Package detector runs classification and, isolated from it, the Grad-CAM
// explanation of a single image.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Brownie44l1/aigen-detector/internal/heatmap"
	"github.com/Brownie44l1/aigen-detector/internal/logger"
	"github.com/Brownie44l1/aigen-detector/internal/metrics"
	"github.com/Brownie44l1/aigen-detector/internal/model"
	"github.com/Brownie44l1/aigen-detector/internal/saliency"
	"github.com/sirupsen/logrus"
)

// Models hands out the loaded model. *model.Loader implements it.
type Models interface {
	Get(ctx context.Context) (*model.Bundle, error)
	Loaded() bool
}

type Options struct {
	Saliency    bool
	TargetLayer string
	TargetClass int
	JPEGQuality int
	ImageWeight float64
}

// Result is the outcome of one detection. Heatmap is nil when saliency is
// disabled or failed; HeatmapErr then says why.
type Result struct {
	Probabilities model.Probabilities
	Heatmap       []byte
	HeatmapErr    error
}

// errNoExplainer means the loaded model cannot produce gradients at all.
var errNoExplainer = errors.New("model has no explanation graph")

type Detector struct {
	models     Models
	opts       Options
	compositor *heatmap.Compositor
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
}

func New(models Models, opts Options, log logrus.FieldLogger, m *metrics.Metrics) (*Detector, error) {
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = heatmap.DefaultJPEGQuality
	}
	compositor, err := heatmap.NewCompositor(opts.ImageWeight)
	if err != nil {
		return nil, err
	}
	if opts.TargetClass < 0 || opts.TargetClass >= model.NumLabels {
		return nil, fmt.Errorf("target class %d out of range", opts.TargetClass)
	}
	return &Detector{
		models:     models,
		opts:       opts,
		compositor: compositor,
		log:        log,
		metrics:    m,
	}, nil
}

// Ready loads the model and checks that the target layer exists. A model
// without an explanation graph is accepted and only logged.
func (d *Detector) Ready(ctx context.Context) error {
	b, err := d.models.Get(ctx)
	if err != nil {
		return err
	}
	if !d.opts.Saliency {
		return nil
	}
	if b.Adapter == nil {
		d.log.Warn("saliency enabled but the model cannot be explained")
		return nil
	}
	return saliency.CheckLayer(b.Adapter, d.opts.TargetLayer)
}

// Loaded reports whether the model is in memory.
func (d *Detector) Loaded() bool { return d.models.Loaded() }

// Detect classifies img and renders its heatmap. Only model and
// preprocessing failures are returned as errors.
func (d *Detector) Detect(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()
	log := logger.FromContext(ctx, d.log)

	b, err := d.models.Get(ctx)
	if err != nil {
		return nil, err
	}

	t := time.Now()
	x, err := b.Preprocessor.Preprocess(img)
	if err != nil {
		return nil, err
	}
	d.metrics.ObserveStage(metrics.StagePreprocess, time.Since(t))

	t = time.Now()
	probs, err := b.Classifier.ClassifyTensor(ctx, x)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	d.metrics.ObserveStage(metrics.StageClassify, time.Since(t))

	res := &Result{Probabilities: probs}
	if d.opts.Saliency {
		res.Heatmap, res.HeatmapErr = d.explain(ctx, b, x)
		if res.HeatmapErr != nil {
			reason := failureReason(res.HeatmapErr)
			d.metrics.HeatmapFailure(reason)
			log.WithError(res.HeatmapErr).WithField("reason", reason).Warn("heatmap unavailable")
		}
	}

	d.metrics.ObserveStage(metrics.StageTotal, time.Since(start))
	log.WithFields(logrus.Fields{
		"real":         probs.Real,
		"ai_generated": probs.AIGenerated,
		"heatmap":      res.Heatmap != nil,
	}).Debug("detection complete")
	return res, nil
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("heatmap generation panicked: %v", e.value) }

func (d *Detector) explain(ctx context.Context, b *model.Bundle, x *model.ImageTensor) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &panicError{value: r}
		}
	}()
	if b.Adapter == nil {
		return nil, errNoExplainer
	}
	if x.Source == nil {
		return nil, errors.New("preprocessed tensor has no source image")
	}

	t := time.Now()
	m, err := saliency.Generate(ctx, b.Adapter, d.opts.TargetLayer, d.opts.TargetClass, x)
	if err != nil {
		return nil, err
	}
	d.metrics.ObserveStage(metrics.StageSaliency, time.Since(t))

	t = time.Now()
	overlay, err := d.compositor.Composite(x.Source, m)
	if err != nil {
		return nil, err
	}
	out, err = heatmap.EncodeJPEG(overlay, d.opts.JPEGQuality)
	if err != nil {
		return nil, err
	}
	d.metrics.ObserveStage(metrics.StageComposite, time.Since(t))
	return out, nil
}

func failureReason(err error) string {
	var (
		shape    *saliency.ShapeMismatchError
		notFound *saliency.LayerNotFoundError
		gradient *saliency.GradientComputationError
		panicked *panicError
	)
	switch {
	case errors.As(err, &notFound):
		return "layer_not_found"
	case errors.As(err, &shape):
		return "shape_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &gradient):
		return "gradient"
	case errors.As(err, &panicked):
		return "panic"
	case errors.Is(err, errNoExplainer):
		return "unavailable"
	default:
		return "render"
	}
}
