package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// activation is an NHWC feature map for a batch of one.
type activation struct {
	h, w, c int
	data    []float64
}

// layer implementations never mutate their parameters, so a built network
// can be shared by concurrent callers. Forward may reuse the input buffer.
type layer interface {
	forward(in *activation) *activation
}

type conv2d struct {
	k, out    int
	padBefore int
	same      bool
	relu      bool
	kernel    *mat.Dense // [k*k*in, out], the row-major Keras [k,k,in,out] kernel
	bias      []float64
}

func newConv2D(l Layer, in Shape, kernel, bias []float64) *conv2d {
	return &conv2d{
		k:         l.Kernel,
		out:       l.Filters,
		padBefore: (l.Kernel - 1) / 2,
		same:      l.Padding == PaddingSame,
		relu:      l.Activation == ActivationReLU,
		kernel:    mat.NewDense(l.Kernel*l.Kernel*in.Channels, l.Filters, kernel),
		bias:      bias,
	}
}

// forward lowers the convolution to a single matrix product (im2col).
func (l *conv2d) forward(in *activation) *activation {
	oh, ow, pad := in.h-l.k+1, in.w-l.k+1, 0
	if l.same {
		oh, ow, pad = in.h, in.w, l.padBefore
	}

	cols := l.k * l.k * in.c
	patches := make([]float64, oh*ow*cols)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			row := patches[(y*ow+x)*cols : (y*ow+x+1)*cols]
			i := 0
			for dy := 0; dy < l.k; dy++ {
				sy := y + dy - pad
				for dx := 0; dx < l.k; dx++ {
					sx := x + dx - pad
					if sy >= 0 && sy < in.h && sx >= 0 && sx < in.w {
						src := (sy*in.w + sx) * in.c
						copy(row[i:i+in.c], in.data[src:src+in.c])
					}
					i += in.c
				}
			}
		}
	}

	out := mat.NewDense(oh*ow, l.out, nil)
	out.Mul(mat.NewDense(oh*ow, cols, patches), l.kernel)
	data := out.RawMatrix().Data
	for p := 0; p < oh*ow; p++ {
		px := data[p*l.out : (p+1)*l.out]
		floats.Add(px, l.bias)
		if l.relu {
			relu(px)
		}
	}
	return &activation{h: oh, w: ow, c: l.out, data: data}
}

// batchNorm is folded at load time into y = x*scale + shift per channel.
type batchNorm struct {
	scale, shift []float64
}

func newBatchNorm(epsilon float64, gamma, beta, mean, variance []float64) *batchNorm {
	bn := &batchNorm{
		scale: make([]float64, len(gamma)),
		shift: make([]float64, len(gamma)),
	}
	for i := range gamma {
		bn.scale[i] = gamma[i] / math.Sqrt(variance[i]+epsilon)
		bn.shift[i] = beta[i] - mean[i]*bn.scale[i]
	}
	return bn
}

func (l *batchNorm) forward(in *activation) *activation {
	for p := 0; p < len(in.data); p += in.c {
		px := in.data[p : p+in.c]
		floats.Mul(px, l.scale)
		floats.Add(px, l.shift)
	}
	return in
}

type maxPool struct {
	size int
}

func (l *maxPool) forward(in *activation) *activation {
	oh := (in.h-l.size)/l.size + 1
	ow := (in.w-l.size)/l.size + 1
	out := &activation{h: oh, w: ow, c: in.c, data: make([]float64, oh*ow*in.c)}

	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			dst := out.data[(y*ow+x)*in.c : (y*ow+x+1)*in.c]
			for ch := range dst {
				dst[ch] = math.Inf(-1)
			}
			for dy := 0; dy < l.size; dy++ {
				for dx := 0; dx < l.size; dx++ {
					src := ((y*l.size+dy)*in.w + x*l.size + dx) * in.c
					for ch, v := range in.data[src : src+in.c] {
						if v > dst[ch] {
							dst[ch] = v
						}
					}
				}
			}
		}
	}
	return out
}

// dropout is the identity at inference time.
type dropout struct{}

func (dropout) forward(in *activation) *activation { return in }

// flatten keeps NHWC order, matching channels-last Flatten.
type flatten struct{}

func (flatten) forward(in *activation) *activation {
	return &activation{h: 1, w: 1, c: in.h * in.w * in.c, data: in.data}
}

type dense struct {
	kernel     *mat.Dense // [in, units]
	bias       []float64
	activation string
}

func newDense(l Layer, in Shape, kernel, bias []float64) *dense {
	return &dense{
		kernel:     mat.NewDense(in.Channels, l.Units, kernel),
		bias:       bias,
		activation: l.Activation,
	}
}

func (l *dense) forward(in *activation) *activation {
	_, units := l.kernel.Dims()
	out := mat.NewVecDense(units, nil)
	out.MulVec(l.kernel.T(), mat.NewVecDense(in.c, in.data))

	data := out.RawVector().Data
	floats.Add(data, l.bias)
	switch l.activation {
	case ActivationReLU:
		relu(data)
	case ActivationSoftmax:
		softmax(data)
	}
	return &activation{h: 1, w: 1, c: units, data: data}
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

// softmax normalizes v in place. The max is subtracted first so large logits
// do not overflow.
func softmax(v []float64) {
	m := floats.Max(v)
	for i, x := range v {
		v[i] = math.Exp(x - m)
	}
	floats.Scale(1/floats.Sum(v), v)
}
