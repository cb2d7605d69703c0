package model

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Bundle is everything a request needs once the model is loaded. It is
// immutable and safe for concurrent use.
type Bundle struct {
	Preprocessor *Preprocessor
	Classifier   Classifier
	// Adapter is nil when the model ships without an explanation graph.
	Adapter *Adapter

	closers []func() error
}

// NewBundle assembles a bundle. closers run in reverse order on Close.
func NewBundle(pre *Preprocessor, classifier Classifier, adapter *Adapter, closers ...func() error) *Bundle {
	return &Bundle{
		Preprocessor: pre,
		Classifier:   classifier,
		Adapter:      adapter,
		closers:      closers,
	}
}

func (b *Bundle) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Factory builds a bundle. It is called by Loader at most once per
// successful load.
type Factory func(ctx context.Context) (*Bundle, error)

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoadObserver reports how long a successful load took.
func WithLoadObserver(fn func(time.Duration)) LoaderOption {
	return func(l *Loader) { l.observe = fn }
}

// Loader owns the process-wide model. The first Get performs the load while
// concurrent callers wait for it; a failed load is reported to every waiter
// and leaves nothing behind, so a later Get retries.
type Loader struct {
	factory Factory
	log     logrus.FieldLogger
	observe func(time.Duration)

	group  singleflight.Group
	mu     sync.RWMutex
	bundle *Bundle
	closed bool
}

func NewLoader(factory Factory, log logrus.FieldLogger, opts ...LoaderOption) *Loader {
	l := &Loader{factory: factory, log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) current() (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bundle, l.closed
}

// Get returns the loaded bundle, loading it if necessary. Errors are
// *ModelLoadError, or the context error when ctx ends while waiting.
func (l *Loader) Get(ctx context.Context) (*Bundle, error) {
	if b, closed := l.current(); b != nil || closed {
		if closed {
			return nil, &ModelLoadError{Err: errors.New("loader is closed")}
		}
		return b, nil
	}

	ch := l.group.DoChan("model", func() (interface{}, error) {
		if b, _ := l.current(); b != nil {
			return b, nil
		}
		// One caller giving up must not fail the load for everyone else.
		return l.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context) (*Bundle, error) {
	start := time.Now()
	l.log.Info("loading model")

	b, err := l.factory(ctx)
	if err == nil && b == nil {
		err = errors.New("factory returned no model")
	}
	if err != nil {
		var loadErr *ModelLoadError
		if !errors.As(err, &loadErr) {
			loadErr = &ModelLoadError{Err: err}
		}
		l.log.WithError(loadErr).Error("model load failed")
		return nil, loadErr
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = b.Close()
		return nil, &ModelLoadError{Err: errors.New("loader is closed")}
	}
	l.bundle = b
	l.mu.Unlock()

	elapsed := time.Since(start)
	l.log.WithField("duration", elapsed.String()).Info("model loaded")
	if l.observe != nil {
		l.observe(elapsed)
	}
	return b, nil
}

// Loaded reports whether a bundle is available without loading.
func (l *Loader) Loaded() bool {
	b, _ := l.current()
	return b != nil
}

// Close releases the model. Later calls to Get fail.
func (l *Loader) Close() error {
	l.mu.Lock()
	b := l.bundle
	l.bundle = nil
	l.closed = true
	l.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}
