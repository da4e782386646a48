package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinTopology(t *testing.T) {
	topo, err := LoadTopology("")
	require.NoError(t, err)

	assert.Equal(t, "rafdb-v1", topo.ID())
	assert.Equal(t, InputShape{Height: 100, Width: 100, Channels: 3}, topo.Input)
	assert.Equal(t, []string{"Surprise", "Fear", "Disgust", "Happiness", "Sadness", "Anger", "Neutral"}, topo.Classes)

	shapes, err := topo.Shapes()
	require.NoError(t, err)
	require.Len(t, shapes, len(topo.Layers))

	byName := map[string]Shape{}
	for i, l := range topo.Layers {
		byName[l.Name] = shapes[i]
	}
	assert.Equal(t, Shape{Height: 100, Width: 100, Channels: 64}, byName["conv2d"])
	assert.Equal(t, Shape{Height: 50, Width: 50, Channels: 64}, byName["max_pooling2d"])
	assert.Equal(t, Shape{Height: 25, Width: 25, Channels: 128}, byName["max_pooling2d_1"])
	assert.Equal(t, Shape{Height: 12, Width: 12, Channels: 256}, byName["max_pooling2d_2"])
	assert.Equal(t, Shape{Height: 1, Width: 1, Channels: 36864, Flat: true}, byName["flatten"])
	assert.Equal(t, Shape{Height: 1, Width: 1, Channels: 7, Flat: true}, byName["dense_2"])
}

func TestBuiltinTopologyParams(t *testing.T) {
	topo, err := BuiltinTopology(DefaultTopologyName)
	require.NoError(t, err)

	params, err := topo.Params()
	require.NoError(t, err)

	shapes := map[string][]int{}
	for _, p := range params {
		shapes[p.Name] = p.Shape
	}
	assert.Equal(t, []int{3, 3, 3, 64}, shapes["conv2d.kernel"])
	assert.Equal(t, []int{3, 3, 64, 128}, shapes["conv2d_2.kernel"])
	assert.Equal(t, []int{256}, shapes["batch_normalization_6.moving_variance"])
	assert.Equal(t, []int{36864, 1024}, shapes["dense.kernel"])
	assert.Equal(t, []int{1024}, shapes["batch_normalization_7.gamma"])
	assert.Equal(t, []int{512, 7}, shapes["dense_2.kernel"])
	assert.NotContains(t, shapes, "dropout.kernel")

	// 7 conv layers, 9 batch norms, 3 dense layers.
	assert.Len(t, params, 7*2+9*4+3*2)

	count, err := topo.ParamCount()
	require.NoError(t, err)
	assert.Greater(t, count, 38_000_000)
}

func TestParseTopologyDefaults(t *testing.T) {
	topo := smallTopology(t)

	assert.Equal(t, 0.001, topo.Layers[1].Epsilon)
	assert.Equal(t, PaddingSame, topo.Layers[0].Padding)

	topo, err := ParseTopology([]byte(`
name: d
version: 2
input: {height: 4, width: 4, channels: 1}
classes: [x, y]
layers:
  - {name: c, type: conv2d, filters: 1, kernel: 3}
  - {name: f, type: flatten}
  - {name: o, type: dense, units: 2, activation: softmax}
`))
	require.NoError(t, err)
	assert.Equal(t, PaddingValid, topo.Layers[0].Padding)
	assert.Equal(t, ActivationLinear, topo.Layers[0].Activation)

	shapes, err := topo.Shapes()
	require.NoError(t, err)
	assert.Equal(t, Shape{Height: 2, Width: 2, Channels: 1}, shapes[0])
}

func TestTopologyValidateRejects(t *testing.T) {
	base := func(layers string) string {
		return "name: bad\nversion: 1\ninput: {height: 4, width: 4, channels: 1}\nclasses: [x, y]\nlayers:\n" + layers
	}

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "dense before flatten",
			yaml: base("  - {name: o, type: dense, units: 2, activation: softmax}\n"),
			want: "dense before flatten",
		},
		{
			name: "final layer not softmax",
			yaml: base("  - {name: f, type: flatten}\n  - {name: o, type: dense, units: 2, activation: relu}\n"),
			want: "final layer must be a softmax",
		},
		{
			name: "units do not match classes",
			yaml: base("  - {name: f, type: flatten}\n  - {name: o, type: dense, units: 3, activation: softmax}\n"),
			want: "3 units for 2 classes",
		},
		{
			name: "duplicate names",
			yaml: base("  - {name: f, type: flatten}\n  - {name: f, type: dense, units: 2, activation: softmax}\n"),
			want: "duplicate layer name",
		},
		{
			name: "unknown type",
			yaml: base("  - {name: u, type: upsample}\n  - {name: f, type: flatten}\n  - {name: o, type: dense, units: 2, activation: softmax}\n"),
			want: "unknown type",
		},
		{
			name: "pool collapses",
			yaml: base("  - {name: p, type: max_pool, pool: 8}\n  - {name: f, type: flatten}\n  - {name: o, type: dense, units: 2, activation: softmax}\n"),
			want: "collapses",
		},
		{
			name: "conv after flatten",
			yaml: base("  - {name: f, type: flatten}\n  - {name: c, type: conv2d, filters: 1, kernel: 1}\n  - {name: o, type: dense, units: 2, activation: softmax}\n"),
			want: "conv2d after flatten",
		},
		{
			name: "missing version",
			yaml: strings.Replace(base("  - {name: f, type: flatten}\n  - {name: o, type: dense, units: 2, activation: softmax}\n"), "version: 1", "version: 0", 1),
			want: "positive version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopology([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidTopology)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadTopologyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallTopologyYAML), 0o644))

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	assert.Equal(t, "small-v1", topo.ID())

	_, err = LoadTopology(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
