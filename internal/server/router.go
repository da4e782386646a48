// Package server assembles the HTTP surface of the service.
package server

import (
	"fmt"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/emotion-api/internal/handlers"
	"github.com/Brownie44l1/emotion-api/internal/middleware"
)

type Options struct {
	Handler      *handlers.Handler
	Logger       log.FieldLogger
	TemplatesDir string
	StaticDir    string
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the routes. It fails if the landing page template is missing.
func NewRouter(opts Options) (*gin.Engine, error) {
	index := filepath.Join(opts.TemplatesDir, "index.html")
	if matches, err := filepath.Glob(index); err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("template %s not found", index)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logging(opts.Logger),
		middleware.Recovery(opts.Logger),
		middleware.CORS(),
	)

	router.LoadHTMLGlob(filepath.Join(opts.TemplatesDir, "*.html"))
	router.Static("/static", opts.StaticDir)

	h := opts.Handler
	router.GET("/", h.Index)
	router.POST("/predict", h.Predict)
	router.GET("/health", h.Health)

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return router, nil
}
