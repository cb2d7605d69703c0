package model

import (
	"context"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// onnxImageEncoder runs the vision tower with its projection.
type onnxImageEncoder struct {
	pool *sessionPool
}

func newONNXImageEncoder(path string, size, dim, poolSize int, opts *ort.SessionOptions) (*onnxImageEncoder, error) {
	pool, err := newSessionPool(path, "pixel_values", "image_embeds",
		ort.NewShape(1, 3, int64(size), int64(size)), ort.NewShape(1, int64(dim)),
		poolSize, opts)
	if err != nil {
		return nil, err
	}
	return &onnxImageEncoder{pool: pool}, nil
}

func (e *onnxImageEncoder) EncodeImage(ctx context.Context, x *ImageTensor) ([]float64, error) {
	out, err := e.pool.run(ctx, x.Data)
	if err != nil {
		return nil, err
	}
	return toFloat64(out), nil
}

func (e *onnxImageEncoder) Close() error { return e.pool.Close() }

// onnxHead runs a fine-tuned image classifier.
type onnxHead struct {
	pool *sessionPool
}

func newONNXHead(path string, size, poolSize int, opts *ort.SessionOptions) (*onnxHead, error) {
	pool, err := newSessionPool(path, "pixel_values", "logits",
		ort.NewShape(1, 3, int64(size), int64(size)), ort.NewShape(1, NumLabels),
		poolSize, opts)
	if err != nil {
		return nil, err
	}
	return &onnxHead{pool: pool}, nil
}

func (h *onnxHead) Logits(ctx context.Context, x *ImageTensor) ([]float64, error) {
	out, err := h.pool.run(ctx, x.Data)
	if err != nil {
		return nil, err
	}
	return toFloat64(out), nil
}

func (h *onnxHead) Close() error { return h.pool.Close() }

// promptTokenizer turns a prompt into token ids including special tokens.
type promptTokenizer interface {
	Encode(text string) ([]int64, error)
}

type hfTokenizer struct {
	tk *tokenizer.Tokenizer
}

func loadTokenizer(path string) (*hfTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &hfTokenizer{tk: tk}, nil
}

func (t *hfTokenizer) Encode(text string) ([]int64, error) {
	enc, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(enc.Ids))
	for i, id := range enc.Ids {
		ids[i] = int64(id)
	}
	return ids, nil
}

// onnxTextEncoder runs the text tower. It is used once per process to embed
// the label prompts, so it allocates tensors per call.
type onnxTextEncoder struct {
	session       *ort.DynamicAdvancedSession
	tok           promptTokenizer
	contextLength int
	padID         int64
	dim           int
}

func newONNXTextEncoder(path string, tok promptTokenizer, meta *Metadata, opts *ort.SessionOptions) (*onnxTextEncoder, error) {
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"input_ids", "attention_mask"}, []string{"text_embeds"}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", path, err)
	}
	return &onnxTextEncoder{
		session:       session,
		tok:           tok,
		contextLength: meta.ContextLength,
		padID:         meta.PadTokenID,
		dim:           meta.EmbeddingDim,
	}, nil
}

// batchTokens pads (or truncates, keeping the final end-of-text token) every
// prompt to a common length and builds the attention mask.
func batchTokens(tok promptTokenizer, prompts []string, contextLength int, padID int64) (ids, mask []int64, length int, err error) {
	encoded := make([][]int64, len(prompts))
	for i, p := range prompts {
		e, err := tok.Encode(p)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("tokenize %q: %w", p, err)
		}
		if len(e) == 0 {
			return nil, nil, 0, fmt.Errorf("tokenize %q: no tokens", p)
		}
		if contextLength > 0 && len(e) > contextLength {
			last := e[len(e)-1]
			e = e[:contextLength]
			e[contextLength-1] = last
		}
		encoded[i] = e
		length = max(length, len(e))
	}

	ids = make([]int64, len(prompts)*length)
	mask = make([]int64, len(prompts)*length)
	for i, e := range encoded {
		row := i * length
		for j := 0; j < length; j++ {
			if j < len(e) {
				ids[row+j] = e[j]
				mask[row+j] = 1
			} else {
				ids[row+j] = padID
			}
		}
	}
	return ids, mask, length, nil
}

func (e *onnxTextEncoder) EncodeText(ctx context.Context, prompts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask, length, err := batchTokens(e.tok, prompts, e.contextLength, e.padID)
	if err != nil {
		return nil, err
	}

	shape := ort.NewShape(int64(len(prompts)), int64(length))
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(len(prompts)), int64(e.dim)))
	if err != nil {
		return nil, fmt.Errorf("allocate text_embeds tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.ArbitraryTensor{idsTensor, maskTensor}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}

	flat := output.GetData()
	out := make([][]float64, len(prompts))
	for i := range out {
		out[i] = toFloat64(flat[i*e.dim : (i+1)*e.dim])
	}
	return out, nil
}

func (e *onnxTextEncoder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
