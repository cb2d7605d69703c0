package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

// Session run lists take any tensor type through ort.ArbitraryTensor.
var _ ort.ArbitraryTensor = (*ort.Tensor[float32])(nil)
var _ ort.ArbitraryTensor = (*ort.Tensor[int64])(nil)

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultMetadataFile), []byte(body), 0o600))
	return dir
}

func TestLoadMetadata_Defaults(t *testing.T) {
	dir := writeMetadata(t, `{"head_model": "head.onnx"}`)

	meta, err := LoadMetadata(filepath.Join(dir, DefaultMetadataFile))
	require.NoError(t, err)
	assert.Equal(t, DefaultImageSize, meta.ImageSize)
	assert.Equal(t, DefaultLogitScale, meta.LogitScale)
	assert.Equal(t, "head.onnx", meta.HeadModel)
}

func TestLoadMetadata_Rejects(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"head_model":`,
		"embedding dim": `{"vision_model": "v.onnx"}`,
		"classes":       `{"head_model": "h.onnx", "classes": ["real", "fake", "other"]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := writeMetadata(t, body)
			_, err := LoadMetadata(filepath.Join(dir, DefaultMetadataFile))
			assert.Error(t, err)
		})
	}

	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestONNXFactory_FailsBeforeRuntime(t *testing.T) {
	log, _ := test.NewNullLogger()

	cases := []struct {
		name     string
		body     string
		strategy Strategy
	}{
		{"zero-shot without encoders", `{"head_model": "h.onnx"}`, StrategyZeroShot},
		{"fine-tuned without head", `{"vision_model": "v.onnx", "embedding_dim": 4}`, StrategyFineTuned},
		{"unknown strategy", `{"head_model": "h.onnx"}`, Strategy("ensemble")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			factory := NewONNXFactory(ONNXOptions{Dir: writeMetadata(t, tc.body), Strategy: tc.strategy}, log)

			_, err := factory(context.Background())
			var loadErr *ModelLoadError
			require.True(t, errors.As(err, &loadErr))
			assert.NotNil(t, loadErr.Err)
		})
	}
}
