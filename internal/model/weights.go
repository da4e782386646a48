package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

const (
	weightsMetadataKey = "__metadata__"
	maxHeaderBytes     = 100 << 20
)

// Weights is a parsed safetensors file: a little-endian u64 header length,
// a JSON header of tensor descriptors, then the raw tensor bytes.
type Weights struct {
	Metadata map[string]string

	headers map[string]tensorHeader
	data    []byte
}

type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

func ReadWeights(path string) (*Weights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	return ParseWeights(raw)
}

func ParseWeights(raw []byte) (*Weights, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: file shorter than header length prefix", ErrMalformedWeights)
	}
	n := binary.LittleEndian.Uint64(raw[:8])
	if n > maxHeaderBytes || n > uint64(len(raw)-8) {
		return nil, fmt.Errorf("%w: header length %d out of range", ErrMalformedWeights, n)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+n], &fields); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedWeights, err)
	}

	w := &Weights{
		headers: make(map[string]tensorHeader, len(fields)),
		data:    raw[8+n:],
	}
	for name, field := range fields {
		if name == weightsMetadataKey {
			if err := json.Unmarshal(field, &w.Metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedWeights, err)
			}
			continue
		}
		var h tensorHeader
		if err := json.Unmarshal(field, &h); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrMalformedWeights, name, err)
		}
		if err := w.checkHeader(name, h); err != nil {
			return nil, err
		}
		w.headers[name] = h
	}
	return w, nil
}

func (w *Weights) checkHeader(name string, h tensorHeader) error {
	size, ok := dtypeSize(h.DType)
	if !ok {
		return fmt.Errorf("%w: tensor %q has dtype %q", ErrUnsupportedDType, name, h.DType)
	}
	begin, end := h.DataOffsets[0], h.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(w.data)) {
		return fmt.Errorf("%w: tensor %q offsets [%d,%d) outside data section of %d bytes",
			ErrMalformedWeights, name, begin, end, len(w.data))
	}
	for _, d := range h.Shape {
		if d < 0 {
			return fmt.Errorf("%w: tensor %q has negative dimension", ErrMalformedWeights, name)
		}
	}
	if want := int64(product(h.Shape) * size); end-begin != want {
		return fmt.Errorf("%w: tensor %q spans %d bytes, shape %v needs %d",
			ErrMalformedWeights, name, end-begin, h.Shape, want)
	}
	return nil
}

// Names returns the tensor names in sorted order.
func (w *Weights) Names() []string {
	names := make([]string, 0, len(w.headers))
	for name := range w.headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor decodes the named tensor, which must have exactly the given shape.
func (w *Weights) Tensor(name string, shape []int) ([]float64, error) {
	h, ok := w.headers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingTensor, name)
	}
	if !sameShape(h.Shape, shape) {
		return nil, fmt.Errorf("%w: %q is %v, want %v", ErrShapeMismatch, name, h.Shape, shape)
	}

	buf := w.data[h.DataOffsets[0]:h.DataOffsets[1]]
	out := make([]float64, product(shape))
	switch h.DType {
	case "F32":
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case "F64":
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	}
	return out, nil
}

// Check verifies every topology parameter is present with the right shape
// and returns the names of tensors the topology does not use.
func (w *Weights) Check(t *Topology) ([]string, error) {
	params, err := t.Params()
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(params))
	for _, p := range params {
		h, ok := w.headers[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingTensor, p.Name)
		}
		if !sameShape(h.Shape, p.Shape) {
			return nil, fmt.Errorf("%w: %q is %v, want %v", ErrShapeMismatch, p.Name, h.Shape, p.Shape)
		}
		used[p.Name] = true
	}

	var extra []string
	for _, name := range w.Names() {
		if !used[name] {
			extra = append(extra, name)
		}
	}
	return extra, nil
}

func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case "F32":
		return 4, true
	case "F64":
		return 8, true
	}
	return 0, false
}
