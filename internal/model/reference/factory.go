package reference

import (
	"context"

	"github.com/Brownie44l1/aigen-detector/internal/model"
)

// Factory builds a model.Factory backed by a Model. The zero-shot
// strategy scores against labels; the fine-tuned one uses the linear head.
func Factory(cfg Config, strategy model.Strategy, labels model.Labels) model.Factory {
	return func(ctx context.Context) (*model.Bundle, error) {
		cfg.Head = strategy == model.StrategyFineTuned
		ref := New(cfg)
		pre := model.NewPreprocessor(model.DefaultImageSize, [3]float32{}, [3]float32{})

		if cfg.Head {
			ft := model.NewFineTuned(pre, ref, labels)
			return model.NewBundle(pre, ft, model.NewAdapter(ref, ft)), nil
		}
		zs := model.NewZeroShot(pre, ref, ref, labels, ref.LogitScale())
		if _, err := zs.TextEmbeddings(ctx); err != nil {
			return nil, err
		}
		return model.NewBundle(pre, zs, model.NewAdapter(ref, zs)), nil
	}
}
