package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultMetadataFile is the metadata file name inside a model directory.
const DefaultMetadataFile = "model_metadata.json"

// ONNXOptions locates an exported model directory and tunes its sessions.
type ONNXOptions struct {
	Dir               string
	MetadataFile      string
	SharedLibraryPath string
	Strategy          Strategy
	Labels            Labels
	PoolSize          int
	Session           SessionOptions
}

// LoadMetadata reads and validates a model_metadata.json file.
func LoadMetadata(path string) (*Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.ImageSize <= 0 {
		metadata.ImageSize = DefaultImageSize
	}
	if metadata.LogitScale <= 0 {
		metadata.LogitScale = DefaultLogitScale
	}
	if metadata.EmbeddingDim <= 0 && metadata.VisionModel != "" {
		return nil, errors.New("metadata: embedding_dim is required for zero-shot models")
	}
	if len(metadata.Classes) > 0 && len(metadata.Classes) != NumLabels {
		return nil, fmt.Errorf("metadata: expected %d classes, got %d", NumLabels, len(metadata.Classes))
	}
	return &metadata, nil
}

// NewONNXFactory returns a Factory that loads the model directory described
// by opts. Nothing is touched until the factory runs.
func NewONNXFactory(opts ONNXOptions, log logrus.FieldLogger) Factory {
	return func(ctx context.Context) (*Bundle, error) {
		b, err := loadONNX(ctx, opts, log)
		if err != nil {
			return nil, &ModelLoadError{Err: err}
		}
		return b, nil
	}
}

func loadONNX(ctx context.Context, opts ONNXOptions, log logrus.FieldLogger) (b *Bundle, err error) {
	metaName := opts.MetadataFile
	if metaName == "" {
		metaName = DefaultMetadataFile
	}
	meta, err := LoadMetadata(filepath.Join(opts.Dir, metaName))
	if err != nil {
		return nil, err
	}
	path := func(name string) string { return filepath.Join(opts.Dir, name) }

	switch opts.Strategy {
	case StrategyZeroShot:
		if meta.VisionModel == "" || meta.TextModel == "" || meta.Tokenizer == "" {
			return nil, errors.New("zero-shot strategy needs vision_model, text_model and tokenizer in metadata")
		}
	case StrategyFineTuned:
		if meta.HeadModel == "" {
			return nil, errors.New("fine-tuned strategy needs head_model in metadata")
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", opts.Strategy)
	}
	if len(meta.Classes) == NumLabels {
		log.WithField("classes", meta.Classes).Debug("model classes")
	}

	if err := acquireRuntime(opts.SharedLibraryPath); err != nil {
		return nil, err
	}
	closers := []func() error{releaseRuntime}
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	sessOpts, err := newSessionOptions(opts.Session)
	if err != nil {
		return nil, err
	}
	closers = append(closers, sessOpts.Destroy)

	var (
		images *onnxImageEncoder
		texts  *onnxTextEncoder
		head   *onnxHead
		graph  *onnxGraph
	)
	var g errgroup.Group
	switch opts.Strategy {
	case StrategyZeroShot:
		g.Go(func() error {
			var err error
			images, err = newONNXImageEncoder(path(meta.VisionModel), meta.ImageSize, meta.EmbeddingDim, opts.PoolSize, sessOpts)
			return err
		})
		g.Go(func() error {
			tok, err := loadTokenizer(path(meta.Tokenizer))
			if err != nil {
				return err
			}
			texts, err = newONNXTextEncoder(path(meta.TextModel), tok, meta, sessOpts)
			return err
		})
	case StrategyFineTuned:
		g.Go(func() error {
			var err error
			head, err = newONNXHead(path(meta.HeadModel), meta.ImageSize, opts.PoolSize, sessOpts)
			return err
		})
	}
	if meta.ExplainModel != "" {
		g.Go(func() error {
			var err error
			graph, err = newONNXGraph(path(meta.ExplainModel), meta, opts.Strategy == StrategyZeroShot, sessOpts)
			return err
		})
	}
	waitErr := g.Wait()
	if images != nil {
		closers = append(closers, images.Close)
	}
	if texts != nil {
		closers = append(closers, texts.Close)
	}
	if head != nil {
		closers = append(closers, head.Close)
	}
	if graph != nil {
		closers = append(closers, graph.Close)
	}
	if waitErr != nil {
		return nil, waitErr
	}

	pre := NewPreprocessor(meta.ImageSize, meta.Mean, meta.Std)
	var (
		classifier Classifier
		aux        AuxSource
	)
	if opts.Strategy == StrategyZeroShot {
		zs := NewZeroShot(pre, images, texts, opts.Labels, meta.LogitScale)
		// Embed the prompts now so a broken text tower fails the load.
		if _, err := zs.TextEmbeddings(ctx); err != nil {
			return nil, err
		}
		classifier, aux = zs, zs
	} else {
		ft := NewFineTuned(pre, head, opts.Labels)
		classifier, aux = ft, ft
	}

	var adapter *Adapter
	if graph != nil {
		adapter = NewAdapter(graph, aux)
	} else {
		log.Warn("model has no explanation graph, heatmaps are disabled")
	}

	log.WithFields(logrus.Fields{
		"strategy":   opts.Strategy,
		"dir":        opts.Dir,
		"image_size": meta.ImageSize,
		"layers":     len(meta.Layers),
	}).Info("onnx model ready")

	return NewBundle(pre, classifier, adapter, closers...), nil
}
