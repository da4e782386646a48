package model

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXSession runs an exported ONNX graph through ONNX Runtime. Each Predict
// call binds its own tensors, so the session can be shared across requests.
type ONNXSession struct {
	session     *ort.DynamicAdvancedSession
	topology    *Topology
	inputShape  ort.Shape
	outputShape ort.Shape
}

// NewONNXSession loads modelPath and checks its first input and output
// against t. libraryPath overrides the onnxruntime shared library location.
func NewONNXSession(modelPath string, t *Topology, libraryPath string) (*ONNXSession, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("read onnx model: %w", err)
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect ONNX model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("%w: onnx model has no inputs or outputs", ErrShapeMismatch)
	}
	in, out := inputs[0], outputs[0]

	want := []int64{1, int64(t.Input.Height), int64(t.Input.Width), int64(t.Input.Channels)}
	if err := checkONNXDims(in.Name, in.Dimensions, want); err != nil {
		return nil, err
	}
	classes := int64(len(t.Classes))
	if err := checkONNXDims(out.Name, out.Dimensions, []int64{1, classes}); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{in.Name}, []string{out.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	s := &ONNXSession{
		session:     session,
		topology:    t,
		inputShape:  ort.NewShape(want...),
		outputShape: ort.NewShape(1, classes),
	}

	// A graph exported without its softmax head yields logits; refuse it
	// before serving.
	probs, err := s.Predict(NewTensor(1, t.Input.Height, t.Input.Width, t.Input.Channels))
	if err == nil {
		err = checkDistribution(probs)
	}
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("onnx warm-up: %w", err)
	}
	return s, nil
}

// checkONNXDims accepts a dynamic (-1 or 0) batch dimension.
func checkONNXDims(name string, got ort.Shape, want []int64) error {
	if len(got) != len(want) {
		return fmt.Errorf("%w: onnx %q has shape %v, want %v", ErrShapeMismatch, name, got, want)
	}
	for i := range want {
		if i == 0 && got[i] <= 0 {
			continue
		}
		if got[i] != want[i] {
			return fmt.Errorf("%w: onnx %q has shape %v, want %v", ErrShapeMismatch, name, got, want)
		}
	}
	return nil
}

func (s *ONNXSession) Predict(in *Tensor) ([]float64, error) {
	if err := checkInput(in, s.topology.Input); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(s.inputShape, in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	data := output.GetData()
	probs := make([]float64, len(data))
	for i, v := range data {
		probs[i] = float64(v)
	}
	return probs, nil
}

func (s *ONNXSession) Close() error {
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			return err
		}
	}
	return ort.DestroyEnvironment()
}
