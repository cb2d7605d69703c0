package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Brownie44l1/aigen-detector/internal/config"
	"github.com/Brownie44l1/aigen-detector/internal/detector"
	"github.com/Brownie44l1/aigen-detector/internal/handlers"
	"github.com/Brownie44l1/aigen-detector/internal/logger"
	"github.com/Brownie44l1/aigen-detector/internal/metrics"
	"github.com/Brownie44l1/aigen-detector/internal/model"
	"github.com/Brownie44l1/aigen-detector/internal/model/reference"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

// projectRoot returns the working directory, or the repository root when
// started from cmd/server.
func projectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	return wd, nil
}

func run() error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(filepath.Join(root, "config"))
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()

	m := metrics.New()
	loader := model.NewLoader(newFactory(cfg, root, log), log, model.WithLoadObserver(m.ModelLoaded))
	defer func() {
		if err := loader.Close(); err != nil {
			log.WithError(err).Warn("failed to release model")
		}
	}()

	d, err := detector.New(loader, detector.Options{
		Saliency:    cfg.Saliency.Enabled,
		TargetLayer: cfg.Saliency.TargetLayer,
		TargetClass: cfg.Saliency.TargetClass,
		JPEGQuality: cfg.Saliency.JPEGQuality,
		ImageWeight: cfg.Saliency.ImageWeight,
	}, log, m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Model.EagerLoad {
		if err := d.Ready(ctx); err != nil {
			return fmt.Errorf("failed to initialize model: %w", err)
		}
	}

	h := handlers.NewHandler(d, handlers.Options{
		MaxUploadBytes:    cfg.Server.MaxUploadBytes(),
		MaxPixels:         cfg.Server.MaxPixels,
		AllowedExtensions: cfg.Server.AllowedExtensions,
	}, log, m)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.WithFields(logrus.Fields{
		"port":     cfg.Server.Port,
		"backend":  cfg.Model.Backend,
		"strategy": cfg.Model.Strategy,
		"saliency": cfg.Saliency.Enabled,
		"layer":    cfg.Saliency.TargetLayer,
	}).Info("server starting")
	log.Info("endpoints: GET / | GET /health | POST /predict (multipart field 'file') | GET /metrics")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	grace := cfg.Server.ShutdownTimeout
	if grace <= 0 {
		grace = shutdownGrace
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newFactory(cfg *config.Config, root string, log logrus.FieldLogger) model.Factory {
	strategy := model.Strategy(cfg.Model.Strategy)
	labels := model.Labels{cfg.Model.Labels[0], cfg.Model.Labels[1]}

	if cfg.Model.Backend == "reference" {
		log.Warn("using the built-in reference encoder, predictions are not meaningful")
		return reference.Factory(reference.Config{}, strategy, labels)
	}

	dir := cfg.Model.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return model.NewONNXFactory(model.ONNXOptions{
		Dir:               dir,
		MetadataFile:      cfg.Model.MetadataFile,
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
		Strategy:          strategy,
		Labels:            labels,
		PoolSize:          cfg.Model.PoolSize,
		Session: model.SessionOptions{
			IntraOpThreads: cfg.Model.IntraOpThreads,
			InterOpThreads: cfg.Model.InterOpThreads,
		},
	}, log.WithField("component", "model"))
}

// shutdownGrace bounds how long in-flight requests may run after a signal
// when no timeout is configured.
const shutdownGrace = 10 * time.Second
