package model

import "fmt"

// Tensor is a dense float32 tensor in NHWC layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, product(shape)),
	}
}

// Prediction is the classifier output for a single image.
type Prediction struct {
	Emotion       string             `json:"emotion"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// checkInput verifies t is a batch of one image matching the topology input.
func checkInput(t *Tensor, in InputShape) error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrInputShape)
	}
	want := []int{1, in.Height, in.Width, in.Channels}
	if !sameShape(t.Shape, want) {
		return fmt.Errorf("%w: got %v, want %v", ErrInputShape, t.Shape, want)
	}
	if len(t.Data) != product(want) {
		return fmt.Errorf("%w: %d values for shape %v", ErrInputShape, len(t.Data), want)
	}
	return nil
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
