package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/emotion-api/internal/metrics"
	"github.com/Brownie44l1/emotion-api/internal/middleware"
	"github.com/Brownie44l1/emotion-api/internal/model"
	"github.com/Brownie44l1/emotion-api/internal/preprocess"
)

// FormField is the multipart field carrying the uploaded image.
const FormField = "file"

// Handler serves the landing page, inference and health endpoints. It is
// only constructed once the model has loaded.
type Handler struct {
	classifier     *model.Classifier
	preprocessor   *preprocess.Preprocessor
	metrics        *metrics.Metrics
	logger         log.FieldLogger
	now            func() time.Time
	maxUploadBytes int64
}

type Option func(*Handler)

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithMaxUploadBytes caps the request body size; zero disables the cap.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) { h.maxUploadBytes = n }
}

func NewHandler(classifier *model.Classifier, preprocessor *preprocess.Preprocessor, m *metrics.Metrics, logger log.FieldLogger, opts ...Option) *Handler {
	h := &Handler{
		classifier:   classifier,
		preprocessor: preprocessor,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title":    "Emotion Recognition",
		"emotions": h.classifier.Classes(),
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.classifier != nil,
	})
}

func (h *Handler) Predict(c *gin.Context) {
	logger := h.logger.WithField("request_id", c.GetString(middleware.KeyRequestID))

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fileHeader, err := c.FormFile(FormField)
	if err != nil {
		if isTooLarge(err) {
			logger.Warnf("Upload rejected: %v", err)
			h.metrics.ObserveFailure(metrics.ReasonTooLarge)
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Detail: MsgFileTooLarge})
			return
		}
		logger.Warnf("Missing upload: %v", err)
		h.metrics.ObserveFailure(metrics.ReasonMissingFile)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Detail: MsgFileRequired})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if err := preprocess.ValidateContentType(contentType); err != nil {
		logger.Warnf("Invalid file type: %s", contentType)
		h.metrics.ObserveFailure(metrics.ReasonInvalidContentType)
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: MsgOnlyImages})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.fail(c, logger, metrics.ReasonDecode, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(c, logger, metrics.ReasonDecode, err)
		return
	}

	tensor, err := h.preprocessor.Preprocess(data, contentType)
	if err != nil {
		h.fail(c, logger, metrics.ReasonDecode, err)
		return
	}

	start := time.Now()
	prediction, err := h.classifier.Classify(tensor)
	if err != nil {
		h.fail(c, logger, metrics.ReasonInference, err)
		return
	}
	h.metrics.ObservePrediction(prediction.Emotion, time.Since(start))

	logger.Infof("Prediction: %s with confidence %v", prediction.Emotion, prediction.Confidence)
	c.JSON(http.StatusOK, PredictionResponse{
		Emotion:    prediction.Emotion,
		Confidence: prediction.Confidence,
		Timestamp:  h.now().Format(TimestampLayout),
	})
}

func (h *Handler) fail(c *gin.Context, logger log.FieldLogger, reason string, err error) {
	logger.Errorf("Prediction failed: %v", err)
	h.metrics.ObserveFailure(reason)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: MsgPredictionError})
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
