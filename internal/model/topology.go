package model

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTopologyName is the builtin network served when no topology file is configured.
const DefaultTopologyName = "rafdb-v1"

//go:embed topologies/*.yaml
var builtinTopologies embed.FS

type LayerType string

const (
	LayerConv2D    LayerType = "conv2d"
	LayerBatchNorm LayerType = "batch_norm"
	LayerMaxPool   LayerType = "max_pool"
	LayerDropout   LayerType = "dropout"
	LayerFlatten   LayerType = "flatten"
	LayerDense     LayerType = "dense"
)

const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSoftmax = "softmax"

	PaddingSame  = "same"
	PaddingValid = "valid"

	defaultEpsilon = 0.001
)

// Topology is a versioned, declarative description of a feed-forward network.
// Weights are bound to it by layer name.
type Topology struct {
	Name    string     `yaml:"name" json:"name"`
	Version int        `yaml:"version" json:"version" jsonschema:"minimum=1"`
	Input   InputShape `yaml:"input" json:"input"`
	Classes []string   `yaml:"classes" json:"classes" jsonschema:"minItems=1"`
	Layers  []Layer    `yaml:"layers" json:"layers" jsonschema:"minItems=1"`
}

type InputShape struct {
	Height   int `yaml:"height" json:"height" jsonschema:"minimum=1"`
	Width    int `yaml:"width" json:"width" jsonschema:"minimum=1"`
	Channels int `yaml:"channels" json:"channels" jsonschema:"minimum=1"`
}

// Layer describes one layer. Only the fields relevant to Type are read.
type Layer struct {
	Name       string    `yaml:"name" json:"name"`
	Type       LayerType `yaml:"type" json:"type" jsonschema:"enum=conv2d,enum=batch_norm,enum=max_pool,enum=dropout,enum=flatten,enum=dense"`
	Filters    int       `yaml:"filters,omitempty" json:"filters,omitempty"`
	Kernel     int       `yaml:"kernel,omitempty" json:"kernel,omitempty"`
	Padding    string    `yaml:"padding,omitempty" json:"padding,omitempty" jsonschema:"enum=same,enum=valid"`
	Activation string    `yaml:"activation,omitempty" json:"activation,omitempty" jsonschema:"enum=linear,enum=relu,enum=softmax"`
	Pool       int       `yaml:"pool,omitempty" json:"pool,omitempty"`
	Rate       float64   `yaml:"rate,omitempty" json:"rate,omitempty"`
	Units      int       `yaml:"units,omitempty" json:"units,omitempty"`
	Epsilon    float64   `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`
}

// Shape is the output shape of a layer for a batch of one. Flattened
// activations have Height and Width 1.
type Shape struct {
	Height, Width, Channels int
	Flat                    bool
}

func (s Shape) Size() int { return s.Height * s.Width * s.Channels }

// Param is a named weight tensor a topology expects.
type Param struct {
	Name  string
	Shape []int
}

// LoadTopology reads a topology file, or the builtin default when path is empty.
func LoadTopology(path string) (*Topology, error) {
	if path == "" {
		return BuiltinTopology(DefaultTopologyName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return ParseTopology(data)
}

func BuiltinTopology(name string) (*Topology, error) {
	data, err := builtinTopologies.ReadFile("topologies/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("builtin topology %q: %w", name, err)
	}
	return ParseTopology(data)
}

func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Topology) applyDefaults() {
	for i := range t.Layers {
		l := &t.Layers[i]
		switch l.Type {
		case LayerConv2D:
			if l.Padding == "" {
				l.Padding = PaddingValid
			}
			if l.Activation == "" {
				l.Activation = ActivationLinear
			}
		case LayerDense:
			if l.Activation == "" {
				l.Activation = ActivationLinear
			}
		case LayerBatchNorm:
			if l.Epsilon == 0 {
				l.Epsilon = defaultEpsilon
			}
		case LayerMaxPool:
			if l.Pool == 0 {
				l.Pool = 2
			}
		}
	}
}

// ID returns "<name>-v<version>".
func (t *Topology) ID() string {
	return fmt.Sprintf("%s-v%d", t.Name, t.Version)
}

// Validate checks the topology is well formed and that shape inference
// succeeds from input to the softmax head.
func (t *Topology) Validate() error {
	if t.Name == "" || t.Version < 1 {
		return fmt.Errorf("%w: name and a positive version are required", ErrInvalidTopology)
	}
	if t.Input.Height < 1 || t.Input.Width < 1 || t.Input.Channels < 1 {
		return fmt.Errorf("%w: input dimensions must be positive, got %+v", ErrInvalidTopology, t.Input)
	}
	if len(t.Classes) == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidTopology)
	}
	if len(t.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidTopology)
	}

	seen := make(map[string]bool, len(t.Layers))
	for i, l := range t.Layers {
		if l.Name == "" {
			return fmt.Errorf("%w: layer %d has no name", ErrInvalidTopology, i)
		}
		if seen[l.Name] {
			return fmt.Errorf("%w: duplicate layer name %q", ErrInvalidTopology, l.Name)
		}
		seen[l.Name] = true
	}

	if _, err := t.Shapes(); err != nil {
		return err
	}

	last := t.Layers[len(t.Layers)-1]
	if last.Type != LayerDense || last.Activation != ActivationSoftmax {
		return fmt.Errorf("%w: final layer must be a softmax dense layer", ErrInvalidTopology)
	}
	if last.Units != len(t.Classes) {
		return fmt.Errorf("%w: final layer has %d units for %d classes", ErrInvalidTopology, last.Units, len(t.Classes))
	}
	return nil
}

// Shapes infers the output shape of every layer.
func (t *Topology) Shapes() ([]Shape, error) {
	cur := Shape{Height: t.Input.Height, Width: t.Input.Width, Channels: t.Input.Channels}
	out := make([]Shape, 0, len(t.Layers))

	for _, l := range t.Layers {
		bad := func(format string, args ...any) error {
			return fmt.Errorf("%w: layer %q: %s", ErrInvalidTopology, l.Name, fmt.Sprintf(format, args...))
		}

		switch l.Type {
		case LayerConv2D:
			if cur.Flat {
				return nil, bad("conv2d after flatten")
			}
			if l.Filters < 1 || l.Kernel < 1 {
				return nil, bad("filters and kernel must be positive")
			}
			if l.Activation != ActivationLinear && l.Activation != ActivationReLU {
				return nil, bad("unsupported activation %q", l.Activation)
			}
			switch l.Padding {
			case PaddingSame:
			case PaddingValid:
				cur.Height = cur.Height - l.Kernel + 1
				cur.Width = cur.Width - l.Kernel + 1
			default:
				return nil, bad("unsupported padding %q", l.Padding)
			}
			cur.Channels = l.Filters
		case LayerBatchNorm:
			if l.Epsilon <= 0 {
				return nil, bad("epsilon must be positive")
			}
		case LayerMaxPool:
			if cur.Flat {
				return nil, bad("max_pool after flatten")
			}
			if l.Pool < 1 {
				return nil, bad("pool must be positive")
			}
			if cur.Height < l.Pool || cur.Width < l.Pool {
				return nil, bad("pooling collapses the feature map")
			}
			cur.Height = (cur.Height-l.Pool)/l.Pool + 1
			cur.Width = (cur.Width-l.Pool)/l.Pool + 1
		case LayerDropout:
			if l.Rate < 0 || l.Rate >= 1 {
				return nil, bad("rate must be in [0,1)")
			}
		case LayerFlatten:
			cur = Shape{Height: 1, Width: 1, Channels: cur.Size(), Flat: true}
		case LayerDense:
			if !cur.Flat {
				return nil, bad("dense before flatten")
			}
			if l.Units < 1 {
				return nil, bad("units must be positive")
			}
			switch l.Activation {
			case ActivationLinear, ActivationReLU, ActivationSoftmax:
			default:
				return nil, bad("unsupported activation %q", l.Activation)
			}
			cur.Channels = l.Units
		default:
			return nil, bad("unknown type %q", l.Type)
		}

		if cur.Height < 1 || cur.Width < 1 {
			return nil, bad("output shape collapses to %dx%d", cur.Height, cur.Width)
		}
		out = append(out, cur)
	}
	return out, nil
}

// Params lists the weight tensors the topology expects, in layer order.
func (t *Topology) Params() ([]Param, error) {
	shapes, err := t.Shapes()
	if err != nil {
		return nil, err
	}

	var params []Param
	for i, l := range t.Layers {
		in := t.inputShape(shapes, i)
		switch l.Type {
		case LayerConv2D:
			params = append(params,
				Param{Name: l.Name + ".kernel", Shape: []int{l.Kernel, l.Kernel, in.Channels, l.Filters}},
				Param{Name: l.Name + ".bias", Shape: []int{l.Filters}},
			)
		case LayerBatchNorm:
			for _, suffix := range []string{".gamma", ".beta", ".moving_mean", ".moving_variance"} {
				params = append(params, Param{Name: l.Name + suffix, Shape: []int{in.Channels}})
			}
		case LayerDense:
			params = append(params,
				Param{Name: l.Name + ".kernel", Shape: []int{in.Channels, l.Units}},
				Param{Name: l.Name + ".bias", Shape: []int{l.Units}},
			)
		}
	}
	return params, nil
}

// ParamCount is the total number of scalar weights.
func (t *Topology) ParamCount() (int, error) {
	params, err := t.Params()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range params {
		n += product(p.Shape)
	}
	return n, nil
}

func (t *Topology) inputShape(shapes []Shape, i int) Shape {
	if i == 0 {
		return Shape{Height: t.Input.Height, Width: t.Input.Width, Channels: t.Input.Channels}
	}
	return shapes[i-1]
}
