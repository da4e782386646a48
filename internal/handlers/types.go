package handlers

// TimestampLayout is ISO-8601 with microseconds and a UTC offset.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Fixed client-facing messages. Internal error detail is only logged.
const (
	MsgOnlyImages      = "Only image files allowed"
	MsgPredictionError = "Prediction error"
	MsgFileRequired    = "Field 'file' is required"
	MsgFileTooLarge    = "File too large"
)

type PredictionResponse struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}
