package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/emotion-api/internal/config"
	"github.com/Brownie44l1/emotion-api/internal/handlers"
	"github.com/Brownie44l1/emotion-api/internal/logging"
	"github.com/Brownie44l1/emotion-api/internal/metrics"
	"github.com/Brownie44l1/emotion-api/internal/model"
	"github.com/Brownie44l1/emotion-api/internal/preprocess"
	"github.com/Brownie44l1/emotion-api/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logFile, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logFile.Close()

	gin.SetMode(cfg.Server.Mode)

	// The listener is not opened until the model is fully loaded, so every
	// request that reaches a handler sees a ready model.
	topology, err := model.LoadTopology(cfg.Model.TopologyPath)
	if err != nil {
		logger.Fatalf("load topology: %v", err)
	}

	logger.Infof("Loading %s weights for %s from %s", cfg.Model.Backend, topology.ID(), cfg.Model.WeightsPath)
	predictor, err := model.Open(cfg.Model.Backend, cfg.Model.WeightsPath, topology, cfg.Model.ONNXLibrary)
	if err != nil {
		logger.Fatalf("load model: %v", err)
	}
	if n, ok := predictor.(*model.Network); ok {
		if ignored := n.Ignored(); len(ignored) > 0 {
			logger.Warnf("Ignoring %d unused weight tensors: %v", len(ignored), ignored)
		}
	}
	classifier := model.NewClassifier(predictor, topology.Classes)
	defer classifier.Close()
	logger.Infof("Model loaded. Classes: %v", topology.Classes)

	interp, err := preprocess.ParseInterpolation(cfg.Image.Interpolation)
	if err != nil {
		logger.Fatalf("image config: %v", err)
	}
	preprocessor := preprocess.New(topology.Input.Width, topology.Input.Height, interp,
		preprocess.WithMaxPixels(cfg.Image.MaxPixels))

	opts := server.Options{
		Logger:       logger,
		TemplatesDir: cfg.Assets.TemplatesDir,
		StaticDir:    cfg.Assets.StaticDir,
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		opts.Gatherer = reg
	}

	opts.Handler = handlers.NewHandler(classifier, preprocessor, m, logger,
		handlers.WithMaxUploadBytes(cfg.Upload.MaxBytes))

	router, err := server.NewRouter(opts)
	if err != nil {
		logger.Fatalf("build router: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		logger.Infof("Server starting on %s", srv.Addr)
		logger.Info("Endpoints: GET / | POST /predict | GET /health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("server forced shutdown: %v", err)
	}

	logger.Info("server stopped")
}
