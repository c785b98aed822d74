package caffe

import (
	"fmt"
	"math"
	"strings"

	"github.com/krau/sketchline/tensor"
)

// builtinLayers are available in every registry. Crop is deliberately not
// here: graphs that need one register their own variant.
var builtinLayers = map[string]Factory{
	"Concat":        newConcat,
	"Convolution":   newConvolution,
	"Deconvolution": newDeconvolution,
	"Dropout":       newDropout,
	"Pooling":       newPooling,
	"ReLU":          newReLU,
	"Sigmoid":       newSigmoid,
}

func expectInputs(in []*tensor.Tensor, n int) error {
	if len(in) != n {
		return fmt.Errorf("got %d inputs, want %d", len(in), n)
	}
	for i, t := range in {
		if t == nil {
			return fmt.Errorf("input %d is nil", i)
		}
	}
	return nil
}

type relu struct {
	slope   float32
	inPlace bool
}

func newReLU(def *LayerDef, _ []*Blob) (Layer, error) {
	slope, err := def.Params.Child("relu_param").Float("negative_slope", 0)
	if err != nil {
		return nil, err
	}
	return &relu{slope: float32(slope), inPlace: def.InPlace()}, nil
}

func (l *relu) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	out := in[0]
	if !l.inPlace {
		out = out.Clone()
	}
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = v * l.slope
		}
	}
	return []*tensor.Tensor{out}, nil
}

// Sigmoid clamps x so exp does not overflow.
func Sigmoid(x float32) float32 {
	if x > 50 {
		x = 50
	} else if x < -50 {
		x = -50
	}
	return 1 / (1 + float32(math.Exp(float64(-x))))
}

type sigmoid struct{}

func newSigmoid(*LayerDef, []*Blob) (Layer, error) { return sigmoid{}, nil }

func (sigmoid) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	out := &tensor.Tensor{Shape: in[0].Shape, Data: make([]float32, len(in[0].Data))}
	for i, v := range in[0].Data {
		out.Data[i] = Sigmoid(v)
	}
	return []*tensor.Tensor{out}, nil
}

// dropout is the identity at inference time.
type dropout struct{}

func newDropout(*LayerDef, []*Blob) (Layer, error) { return dropout{}, nil }

func (dropout) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	return []*tensor.Tensor{in[0]}, nil
}

type concat struct{}

func newConcat(def *LayerDef, _ []*Blob) (Layer, error) {
	m := def.Params.Child("concat_param")
	axis, err := m.Int("axis", 1)
	if err != nil {
		return nil, err
	}
	if axis, err = m.Int("concat_dim", axis); err != nil {
		return nil, err
	}
	if axis != 1 {
		return nil, fmt.Errorf("concat axis %d is not supported", axis)
	}
	return concat{}, nil
}

func (concat) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("concat needs at least one input")
	}
	if err := expectInputs(in, len(in)); err != nil {
		return nil, err
	}
	first := in[0].Shape
	channels := 0
	for _, t := range in {
		s := t.Shape
		if s.N() != first.N() || s.H() != first.H() || s.W() != first.W() {
			return nil, fmt.Errorf("cannot concat %s with %s", s, first)
		}
		channels += s.C()
	}
	out := tensor.New(first.N(), channels, first.H(), first.W())
	hw := first.H() * first.W()
	for n := range first.N() {
		off := n * channels * hw
		for _, t := range in {
			size := t.Shape.C() * hw
			copy(out.Data[off:off+size], t.Data[n*size:(n+1)*size])
			off += size
		}
	}
	return []*tensor.Tensor{out}, nil
}

type pooling struct {
	max              bool
	global           bool
	kernelH, kernelW int
	strideH, strideW int
	padH, padW       int
}

func newPooling(def *LayerDef, _ []*Blob) (Layer, error) {
	m := def.Params.Child("pooling_param")
	l := &pooling{max: true}
	switch method, _ := m.Get("pool"); strings.ToUpper(method) {
	case "", "MAX", "0":
	case "AVE", "1":
		l.max = false
	default:
		return nil, fmt.Errorf("pooling method %q is not supported", method)
	}
	var err error
	if l.global, err = m.Bool("global_pooling", false); err != nil {
		return nil, err
	}
	if l.kernelH, l.kernelW, err = spatial(m, "kernel_size", "kernel_h", "kernel_w", 0); err != nil {
		return nil, err
	}
	if l.strideH, l.strideW, err = spatial(m, "stride", "stride_h", "stride_w", 1); err != nil {
		return nil, err
	}
	if l.padH, l.padW, err = spatial(m, "pad", "pad_h", "pad_w", 0); err != nil {
		return nil, err
	}
	if !l.global && (l.kernelH <= 0 || l.kernelW <= 0) {
		return nil, fmt.Errorf("invalid pooling kernel %dx%d", l.kernelH, l.kernelW)
	}
	if l.strideH <= 0 || l.strideW <= 0 || l.padH < 0 || l.padW < 0 {
		return nil, fmt.Errorf("invalid pooling stride or pad")
	}
	return l, nil
}

// pooledSize follows Caffe: ceil division, then drop a last window that
// would start inside the padding.
func pooledSize(in, kernel, stride, pad int) int {
	out := (in+2*pad-kernel+stride-1)/stride + 1
	if pad > 0 && (out-1)*stride >= in+pad {
		out--
	}
	return out
}

func (l *pooling) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	s := x.Shape
	kh, kw, sh, sw, ph, pw := l.kernelH, l.kernelW, l.strideH, l.strideW, l.padH, l.padW
	if l.global {
		kh, kw, sh, sw, ph, pw = s.H(), s.W(), 1, 1, 0, 0
	}
	if s.H()+2*ph < kh || s.W()+2*pw < kw {
		return nil, fmt.Errorf("input %s smaller than pooling kernel %dx%d", s, kh, kw)
	}
	outH := pooledSize(s.H(), kh, sh, ph)
	outW := pooledSize(s.W(), kw, sw, pw)
	out := tensor.New(s.N(), s.C(), outH, outW)

	for n := range s.N() {
		for c := range s.C() {
			src := x.Plane(n, c)
			dst := out.Plane(n, c)
			for py := 0; py < outH; py++ {
				for px := 0; px < outW; px++ {
					hs, ws := py*sh-ph, px*sw-pw
					he, we := min(hs+kh, s.H()+ph), min(ws+kw, s.W()+pw)
					area := float32((he - hs) * (we - ws))
					hs, ws = max(hs, 0), max(ws, 0)
					he, we = min(he, s.H()), min(we, s.W())

					var acc float32
					if l.max {
						acc = float32(math.Inf(-1))
					}
					for y := hs; y < he; y++ {
						for xx := ws; xx < we; xx++ {
							v := src[y*s.W()+xx]
							if l.max {
								acc = max(acc, v)
							} else {
								acc += v
							}
						}
					}
					switch {
					case l.max && (he <= hs || we <= ws):
						acc = 0
					case !l.max:
						acc /= area
					}
					dst[py*outW+px] = acc
				}
			}
		}
	}
	return []*tensor.Tensor{out}, nil
}
