package model

import (
	"fmt"
)

// Network is the native Go inference engine. It is immutable once built and
// safe for concurrent Predict calls.
type Network struct {
	topology *Topology
	layers   []layer
	params   int
	ignored  []string
}

// LoadNetwork reads a weights file and binds it to t.
func LoadNetwork(t *Topology, weightsPath string) (*Network, error) {
	w, err := ReadWeights(weightsPath)
	if err != nil {
		return nil, err
	}
	return NewNetwork(t, w)
}

func NewNetwork(t *Topology, w *Weights) (*Network, error) {
	shapes, err := t.Shapes()
	if err != nil {
		return nil, err
	}
	ignored, err := w.Check(t)
	if err != nil {
		return nil, err
	}

	n := &Network{topology: t, layers: make([]layer, 0, len(t.Layers)), ignored: ignored}
	for i, l := range t.Layers {
		in := t.inputShape(shapes, i)
		built, err := n.build(l, in, w)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		n.layers = append(n.layers, built)
	}
	return n, nil
}

func (n *Network) build(l Layer, in Shape, w *Weights) (layer, error) {
	load := func(suffix string, shape ...int) ([]float64, error) {
		v, err := w.Tensor(l.Name+suffix, shape)
		n.params += len(v)
		return v, err
	}

	switch l.Type {
	case LayerConv2D:
		kernel, err := load(".kernel", l.Kernel, l.Kernel, in.Channels, l.Filters)
		if err != nil {
			return nil, err
		}
		bias, err := load(".bias", l.Filters)
		if err != nil {
			return nil, err
		}
		return newConv2D(l, in, kernel, bias), nil
	case LayerBatchNorm:
		var vecs [4][]float64
		for i, suffix := range []string{".gamma", ".beta", ".moving_mean", ".moving_variance"} {
			v, err := load(suffix, in.Channels)
			if err != nil {
				return nil, err
			}
			vecs[i] = v
		}
		return newBatchNorm(l.Epsilon, vecs[0], vecs[1], vecs[2], vecs[3]), nil
	case LayerMaxPool:
		return &maxPool{size: l.Pool}, nil
	case LayerDropout:
		return dropout{}, nil
	case LayerFlatten:
		return flatten{}, nil
	case LayerDense:
		kernel, err := load(".kernel", in.Channels, l.Units)
		if err != nil {
			return nil, err
		}
		bias, err := load(".bias", l.Units)
		if err != nil {
			return nil, err
		}
		return newDense(l, in, kernel, bias), nil
	}
	return nil, fmt.Errorf("%w: unknown layer type %q", ErrInvalidTopology, l.Type)
}

// Ignored lists the tensors in the weights file that no layer reads, such as
// optimizer state left in a training checkpoint.
func (n *Network) Ignored() []string {
	return append([]string(nil), n.ignored...)
}

// Predict runs a forward pass over a [1,H,W,C] tensor and returns the softmax output.
func (n *Network) Predict(in *Tensor) ([]float64, error) {
	if err := checkInput(in, n.topology.Input); err != nil {
		return nil, err
	}

	act := &activation{
		h:    n.topology.Input.Height,
		w:    n.topology.Input.Width,
		c:    n.topology.Input.Channels,
		data: make([]float64, len(in.Data)),
	}
	for i, v := range in.Data {
		act.data[i] = float64(v)
	}
	for _, l := range n.layers {
		act = l.forward(act)
	}
	return act.data, nil
}

func (n *Network) Topology() *Topology { return n.topology }

// ParamCount is the number of scalar weights bound to the network.
func (n *Network) ParamCount() int { return n.params }

func (n *Network) Close() error { return nil }
