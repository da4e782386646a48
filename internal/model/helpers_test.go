package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type testTensor struct {
	shape []int
	data  []float64
}

// encodeWeights writes tensors as F32 safetensors.
func encodeWeights(t *testing.T, tensors map[string]testTensor) []byte {
	t.Helper()

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := map[string]any{"__metadata__": map[string]string{"format": "pt"}}
	var body bytes.Buffer
	for _, name := range names {
		tt := tensors[name]
		begin := body.Len()
		for _, v := range tt.data {
			require.NoError(t, binary.Write(&body, binary.LittleEndian, math.Float32bits(float32(v))))
		}
		header[name] = map[string]any{
			"dtype":        "F32",
			"shape":        tt.shape,
			"data_offsets": []int{begin, body.Len()},
		}
	}

	h, err := json.Marshal(header)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, binary.Write(&out, binary.LittleEndian, uint64(len(h))))
	out.Write(h)
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeWeights(t *testing.T, tensors map[string]testTensor) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	require.NoError(t, os.WriteFile(path, encodeWeights(t, tensors), 0o644))
	return path
}

// filledWeights builds a deterministic tensor for every parameter of topo.
func filledWeights(t *testing.T, topo *Topology) map[string]testTensor {
	t.Helper()
	params, err := topo.Params()
	require.NoError(t, err)

	tensors := make(map[string]testTensor, len(params))
	for pi, p := range params {
		data := make([]float64, product(p.Shape))
		for i := range data {
			data[i] = math.Sin(float64(pi*31+i)) * 0.5
		}
		if filepath.Ext(p.Name) == ".moving_variance" || filepath.Ext(p.Name) == ".gamma" {
			for i := range data {
				data[i] = 1 + math.Abs(data[i])
			}
		}
		tensors[p.Name] = testTensor{shape: p.Shape, data: data}
	}
	return tensors
}

const smallTopologyYAML = `
name: small
version: 1
input: {height: 6, width: 6, channels: 3}
classes: [a, b, c]
layers:
  - {name: conv, type: conv2d, filters: 4, kernel: 3, padding: same, activation: relu}
  - {name: bn, type: batch_norm}
  - {name: pool, type: max_pool, pool: 2}
  - {name: drop, type: dropout, rate: 0.2}
  - {name: flat, type: flatten}
  - {name: hidden, type: dense, units: 5, activation: relu}
  - {name: out, type: dense, units: 3, activation: softmax}
`

func smallTopology(t *testing.T) *Topology {
	t.Helper()
	topo, err := ParseTopology([]byte(smallTopologyYAML))
	require.NoError(t, err)
	return topo
}

func rampTensor(shape ...int) *Tensor {
	in := NewTensor(shape...)
	for i := range in.Data {
		in.Data[i] = float32(i%17) / 16
	}
	return in
}
