// Package reference provides a small deterministic patch-token encoder with
// exact backpropagation. It stands in for the ONNX graphs in tests and lets
// the server run without exported weights.
package reference

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/Brownie44l1/aigen-detector/internal/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tap points exposed by Model.
const (
	// LayerPatchEmbed is the token sequence before the non-linearity.
	LayerPatchEmbed = "embeddings.patch_embedding"
	// LayerBlock is the token sequence after the non-linearity.
	LayerBlock = "encoder.layers.0.mlp"
	// LayerDetached is computed from the tokens but never reaches the scores.
	LayerDetached = "auxiliary.token_norm"
)

// Config shapes a Model. Zero values select the defaults.
type Config struct {
	PatchSize    int
	Channels     int
	EmbeddingDim int
	// Registers appends extra non-spatial tokens after the patch tokens.
	Registers  int
	LogitScale float64
	Seed       int64
	// Head switches from prompt similarity to a linear classification head.
	Head bool
}

func (c Config) withDefaults() Config {
	if c.PatchSize <= 0 {
		c.PatchSize = 32
	}
	if c.Channels <= 0 {
		c.Channels = 16
	}
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = 8
	}
	if c.LogitScale <= 0 {
		c.LogitScale = 10
	}
	if c.Seed == 0 {
		c.Seed = 7
	}
	return c
}

// Model computes
//
//	X0 = [cls; patches*We; registers]   (tokens x channels)
//	H  = tanh(X0)
//	e  = mean_rows(H) * Wp
//	s_k = scale * cos(e, t_k)           or  s = e * Wh with Head set
type Model struct {
	cfg Config
	cls []float64
	we  *mat.Dense
	wp  *mat.Dense
	wh  *mat.Dense
	reg *mat.Dense

	textCalls atomic.Int64
}

// New builds a Model with weights drawn from cfg.Seed.
func New(cfg Config) *Model {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	k := 3 * cfg.PatchSize * cfg.PatchSize

	r := &Model{cfg: cfg}
	r.cls = randVec(rng, cfg.Channels, 0.5)
	r.we = randDense(rng, k, cfg.Channels, 1/math.Sqrt(float64(k)))
	r.wp = randDense(rng, cfg.Channels, cfg.EmbeddingDim, 1/math.Sqrt(float64(cfg.Channels)))
	r.wh = randDense(rng, cfg.EmbeddingDim, model.NumLabels, 1)
	if cfg.Registers > 0 {
		r.reg = randDense(rng, cfg.Registers, cfg.Channels, 0.5)
	}
	return r
}

func randVec(rng *rand.Rand, n int, scale float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64() * scale
	}
	return v
}

func randDense(rng *rand.Rand, r, c int, scale float64) *mat.Dense {
	return mat.NewDense(r, c, randVec(rng, r*c, scale))
}

// LogitScale is the temperature of the similarity scores.
func (r *Model) LogitScale() float64 { return r.cfg.LogitScale }

// TextCalls counts EncodeText invocations.
func (r *Model) TextCalls() int64 { return r.textCalls.Load() }

func (r *Model) Layers() []model.LayerInfo {
	return []model.LayerInfo{
		{Name: LayerPatchEmbed, Differentiable: true},
		{Name: LayerBlock, Differentiable: true},
		{Name: LayerDetached, Differentiable: false},
	}
}

// tokens builds X0 for x.
func (r *Model) tokens(x *model.ImageTensor) (*mat.Dense, error) {
	p := r.cfg.PatchSize
	if x == nil || x.Width%p != 0 || x.Height%p != 0 || x.Width == 0 || x.Height == 0 {
		return nil, fmt.Errorf("input must be a non-empty multiple of the %d pixel patch", p)
	}
	if len(x.Data) != 3*x.Width*x.Height {
		return nil, fmt.Errorf("tensor has %d values for %dx%d", len(x.Data), x.Width, x.Height)
	}
	gw, gh := x.Width/p, x.Height/p
	np := gw * gh
	k := 3 * p * p
	plane := x.Width * x.Height

	patches := mat.NewDense(np, k, nil)
	for py := 0; py < gh; py++ {
		for px := 0; px < gw; px++ {
			row := patches.RawRowView(py*gw + px)
			i := 0
			for c := 0; c < 3; c++ {
				for dy := 0; dy < p; dy++ {
					base := c*plane + (py*p+dy)*x.Width + px*p
					for dx := 0; dx < p; dx++ {
						row[i] = float64(x.Data[base+dx])
						i++
					}
				}
			}
		}
	}
	var emb mat.Dense
	emb.Mul(patches, r.we)

	t := 1 + np + r.cfg.Registers
	x0 := mat.NewDense(t, r.cfg.Channels, nil)
	x0.SetRow(0, r.cls)
	x0.Slice(1, 1+np, 0, r.cfg.Channels).(*mat.Dense).Copy(&emb)
	if r.reg != nil {
		x0.Slice(1+np, t, 0, r.cfg.Channels).(*mat.Dense).Copy(r.reg)
	}
	return x0, nil
}

// state holds the forward intermediates needed by the backward pass.
type state struct {
	h      *mat.Dense
	e      []float64
	scores []float64
}

func (r *Model) forwardFrom(x0 *mat.Dense, aux [][]float64) (*state, error) {
	t, c := x0.Dims()
	h := mat.NewDense(t, c, nil)
	h.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x0)

	pooled := make([]float64, c)
	for i := 0; i < t; i++ {
		floats.Add(pooled, h.RawRowView(i))
	}
	floats.Scale(1/float64(t), pooled)

	ev := mat.NewVecDense(r.cfg.EmbeddingDim, nil)
	ev.MulVec(r.wp.T(), mat.NewVecDense(c, pooled))
	e := ev.RawVector().Data

	var scores []float64
	if r.cfg.Head {
		sv := mat.NewVecDense(model.NumLabels, nil)
		sv.MulVec(r.wh.T(), ev)
		scores = sv.RawVector().Data
	} else {
		if len(aux) != model.NumLabels {
			return nil, fmt.Errorf("expected %d text embeddings, got %d", model.NumLabels, len(aux))
		}
		var err error
		scores, err = model.CosineLogits(e, aux, r.cfg.LogitScale)
		if err != nil {
			return nil, err
		}
	}
	return &state{h: h, e: e, scores: scores}, nil
}

// gradBlock returns d(score[class])/dH.
func (r *Model) gradBlock(s *state, aux [][]float64, class int) *mat.Dense {
	d := r.cfg.EmbeddingDim
	de := make([]float64, d)
	if r.cfg.Head {
		mat.Col(de, class, r.wh)
	} else {
		n := floats.Norm(s.e, 2)
		tn := floats.Norm(aux[class], 2)
		if n > 0 && tn > 0 {
			u := make([]float64, d)
			floats.ScaleTo(u, 1/n, s.e)
			v := make([]float64, d)
			floats.ScaleTo(v, 1/tn, aux[class])
			cos := floats.Dot(u, v)
			// d/de [scale * u.v] = scale/|e| * (v - (u.v) u)
			floats.AddScaledTo(de, v, -cos, u)
			floats.Scale(r.cfg.LogitScale/n, de)
		}
	}

	t, c := s.h.Dims()
	dpooled := mat.NewVecDense(c, nil)
	dpooled.MulVec(r.wp, mat.NewVecDense(d, de))
	row := dpooled.RawVector().Data
	floats.Scale(1/float64(t), row)

	dh := mat.NewDense(t, c, nil)
	for i := 0; i < t; i++ {
		dh.SetRow(i, row)
	}
	return dh
}

func (r *Model) Evaluate(ctx context.Context, x *model.ImageTensor, aux [][]float64, tap *model.Tap) (*model.Pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x0, err := r.tokens(x)
	if err != nil {
		return nil, err
	}
	s, err := r.forwardFrom(x0, aux)
	if err != nil {
		return nil, err
	}
	pass := &model.Pass{Scores: s.scores}
	if tap == nil {
		return pass, nil
	}
	if tap.Class < 0 || tap.Class >= model.NumLabels {
		return nil, fmt.Errorf("class %d out of range", tap.Class)
	}

	switch tap.Layer {
	case LayerBlock:
		pass.Activation = s.h
		pass.Gradient = r.gradBlock(s, aux, tap.Class)
	case LayerPatchEmbed:
		dh := r.gradBlock(s, aux, tap.Class)
		dx := mat.NewDense(dh.RawMatrix().Rows, dh.RawMatrix().Cols, nil)
		dx.Apply(func(i, j int, v float64) float64 {
			h := s.h.At(i, j)
			return v * (1 - h*h)
		}, dh)
		pass.Activation = x0
		pass.Gradient = dx
	case LayerDetached:
		var z mat.Dense
		z.Scale(0.5, x0)
		pass.Activation = &z
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownLayer, tap.Layer)
	}
	return pass, nil
}

// EncodeImage returns the image embedding e.
func (r *Model) EncodeImage(ctx context.Context, x *model.ImageTensor) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x0, err := r.tokens(x)
	if err != nil {
		return nil, err
	}
	// The head path never reads aux, so score with placeholder prompts.
	s, err := r.forwardFrom(x0, r.placeholderPrompts())
	if err != nil {
		return nil, err
	}
	return s.e, nil
}

func (r *Model) placeholderPrompts() [][]float64 {
	texts := make([][]float64, model.NumLabels)
	for i := range texts {
		texts[i] = make([]float64, r.cfg.EmbeddingDim)
	}
	return texts
}

// EncodeText maps each prompt to a fixed pseudo-random embedding.
func (r *Model) EncodeText(ctx context.Context, prompts []string) ([][]float64, error) {
	r.textCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(prompts))
	for i, p := range prompts {
		if p == "" {
			return nil, errors.New("empty prompt")
		}
		h := fnv.New64a()
		h.Write([]byte(p))
		rng := rand.New(rand.NewSource(int64(h.Sum64()) ^ r.cfg.Seed))
		out[i] = randVec(rng, r.cfg.EmbeddingDim, 1)
	}
	return out, nil
}

// Logits scores x with the classification head.
func (r *Model) Logits(ctx context.Context, x *model.ImageTensor) ([]float64, error) {
	if !r.cfg.Head {
		return nil, errors.New("reference model has no classification head")
	}
	pass, err := r.Evaluate(ctx, x, nil, nil)
	if err != nil {
		return nil, err
	}
	return pass.Scores, nil
}
