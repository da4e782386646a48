package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/emotion-api/internal/metrics"
	"github.com/Brownie44l1/emotion-api/internal/model"
	"github.com/Brownie44l1/emotion-api/internal/preprocess"
)

var emotions = []string{"Surprise", "Fear", "Disgust", "Happiness", "Sadness", "Anger", "Neutral"}

var fixedNow = time.Date(2024, 5, 17, 10, 30, 0, 123456000, time.FixedZone("CEST", 2*60*60))

type stubPredictor struct {
	probs []float64
	err   error
	calls int
}

func (s *stubPredictor) Predict(in *model.Tensor) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.probs, nil
}

func (s *stubPredictor) Close() error { return nil }

type fixture struct {
	router    *gin.Engine
	predictor *stubPredictor
	hook      *test.Hook
	registry  *prometheus.Registry
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return setupWith(t, preprocess.New(4, 4, resize.Bilinear), opts...)
}

func setupWith(t *testing.T, p *preprocess.Preprocessor, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, hook := test.NewNullLogger()
	predictor := &stubPredictor{probs: []float64{0.05, 0.05, 0.05, 0.7, 0.05, 0.05, 0.05}}
	reg := prometheus.NewRegistry()

	h := NewHandler(
		model.NewClassifier(predictor, emotions),
		p,
		metrics.New(reg),
		logger,
		append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...,
	)

	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.New("index.html").Parse(
		`<h1>{{.title}}</h1>{{range .emotions}}<li>{{.}}</li>{{end}}`)))
	r.GET("/", h.Index)
	r.POST("/predict", h.Predict)
	r.GET("/health", h.Health)

	return &fixture{router: r, predictor: predictor, hook: hook, registry: reg}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="` + field + `"; filename="face.png"`},
		"Content-Type":        {contentType},
	})
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest("POST", "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) entries(level log.Level) []*log.Entry {
	var out []*log.Entry
	for _, e := range f.hook.AllEntries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func TestPredict(t *testing.T) {
	f := setup(t)

	w := f.do(uploadRequest(t, "file", "image/png", pngBytes(t, 20, 20)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Happiness", resp.Emotion)
	assert.Equal(t, 0.7, resp.Confidence)
	assert.Equal(t, "2024-05-17T10:30:00.123456+02:00", resp.Timestamp)

	ts, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
	require.NoError(t, err)
	assert.True(t, ts.Equal(fixedNow))

	infos := f.entries(log.InfoLevel)
	require.Len(t, infos, 1)
	assert.Equal(t, "Prediction: Happiness with confidence 0.7", infos[0].Message)

	expected := `
# HELP emotion_api_predictions_total Successful predictions by emotion label.
# TYPE emotion_api_predictions_total counter
emotion_api_predictions_total{emotion="Happiness"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "emotion_api_predictions_total"))
}

func TestPredictIsDeterministic(t *testing.T) {
	f := setup(t)
	data := pngBytes(t, 30, 30)

	first := f.do(uploadRequest(t, "file", "image/png", data))
	second := f.do(uploadRequest(t, "file", "image/png", data))

	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestPredictRejectsNonImage(t *testing.T) {
	for _, payload := range [][]byte{[]byte("hello"), {}, nil} {
		f := setup(t)

		w := f.do(uploadRequest(t, "file", "text/plain", payload))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"detail": "Only image files allowed"}`, w.Body.String())
		assert.Zero(t, f.predictor.calls)

		warnings := f.entries(log.WarnLevel)
		require.Len(t, warnings, 1)
		assert.Equal(t, "Invalid file type: text/plain", warnings[0].Message)
	}
}

func TestPredictRejectsValidImageWithWrongType(t *testing.T) {
	f := setup(t)

	w := f.do(uploadRequest(t, "file", "application/octet-stream", pngBytes(t, 4, 4)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail": "Only image files allowed"}`, w.Body.String())
}

func TestPredictCorruptImage(t *testing.T) {
	f := setup(t)

	w := f.do(uploadRequest(t, "file", "image/jpeg", []byte("\xff\xd8 not really a jpeg")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail": "Prediction error"}`, w.Body.String())
	assert.Zero(t, f.predictor.calls)

	errs := f.entries(log.ErrorLevel)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0].Message, "Prediction failed: decode image:"), errs[0].Message)
}

func TestPredictOversizedImage(t *testing.T) {
	f := setupWith(t, preprocess.New(4, 4, resize.Bilinear, preprocess.WithMaxPixels(64*64)))

	w := f.do(uploadRequest(t, "file", "image/png", pngBytes(t, 65, 64)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail": "Prediction error"}`, w.Body.String())
	assert.Zero(t, f.predictor.calls)

	errs := f.entries(log.ErrorLevel)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "image too large: 65x64")

	w = f.do(uploadRequest(t, "file", "image/png", pngBytes(t, 64, 64)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPredictInferenceFailureDoesNotLeak(t *testing.T) {
	f := setup(t)
	f.predictor.err = errors.New("onnxruntime: CUDA out of memory at 0xdeadbeef")

	w := f.do(uploadRequest(t, "file", "image/png", pngBytes(t, 8, 8)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail": "Prediction error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "deadbeef")

	errs := f.entries(log.ErrorLevel)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "CUDA out of memory")
}

func TestPredictMissingFile(t *testing.T) {
	f := setup(t)

	w := f.do(uploadRequest(t, "image", "image/png", pngBytes(t, 4, 4)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"detail": "Field 'file' is required"}`, w.Body.String())
}

func TestPredictTooLarge(t *testing.T) {
	f := setup(t, WithMaxUploadBytes(512))

	w := f.do(uploadRequest(t, "file", "image/png", bytes.Repeat([]byte{0x89}, 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"detail": "File too large"}`, w.Body.String())
	assert.Zero(t, f.predictor.calls)
}

func TestHealth(t *testing.T) {
	f := setup(t)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := f.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "healthy", "model_loaded": true}`, w.Body.String())
}

func TestIndex(t *testing.T) {
	f := setup(t)

	req, _ := http.NewRequest("GET", "/", nil)
	w := f.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<h1>Emotion Recognition</h1>")
	assert.Contains(t, w.Body.String(), "<li>Neutral</li>")
}
