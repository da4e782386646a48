package model

import "fmt"

const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Predictor maps a preprocessed image tensor to a probability vector.
type Predictor interface {
	Predict(in *Tensor) ([]float64, error)
	Close() error
}

// Open loads weights for the named backend. Any error here means the
// service must not start.
func Open(backend, weightsPath string, t *Topology, onnxLibrary string) (Predictor, error) {
	switch backend {
	case BackendNative, "":
		return LoadNetwork(t, weightsPath)
	case BackendONNX:
		return NewONNXSession(weightsPath, t, onnxLibrary)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}
