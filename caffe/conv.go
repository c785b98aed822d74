package caffe

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/krau/sketchline/tensor"
)

// maxColElems caps the im2col scratch buffer; convolution is tiled over
// output rows to stay under it.
const maxColElems = 1 << 22

type convParams struct {
	numOutput            int
	kernelH, kernelW     int
	strideH, strideW     int
	padH, padW           int
	dilationH, dilationW int
	group                int
	biasTerm             bool
}

// spatial reads a repeated field holding one value for both axes or (h, w),
// with optional explicit per-axis fields.
func spatial(m *Message, name, hName, wName string, def int) (int, int, error) {
	vals, err := m.Ints(name)
	if err != nil {
		return 0, 0, err
	}
	h, w := def, def
	switch len(vals) {
	case 0:
	case 1:
		h, w = vals[0], vals[0]
	case 2:
		h, w = vals[0], vals[1]
	default:
		return 0, 0, fmt.Errorf("%s has %d values", name, len(vals))
	}
	if hName != "" {
		if h, err = m.Int(hName, h); err != nil {
			return 0, 0, err
		}
	}
	if wName != "" {
		if w, err = m.Int(wName, w); err != nil {
			return 0, 0, err
		}
	}
	return h, w, nil
}

func parseConvParams(def *LayerDef) (convParams, error) {
	var p convParams
	m := def.Params.Child("convolution_param")
	if m == nil {
		return p, fmt.Errorf("missing convolution_param")
	}
	var err error
	if p.numOutput, err = m.Int("num_output", 0); err != nil {
		return p, err
	}
	if p.kernelH, p.kernelW, err = spatial(m, "kernel_size", "kernel_h", "kernel_w", 0); err != nil {
		return p, err
	}
	if p.strideH, p.strideW, err = spatial(m, "stride", "stride_h", "stride_w", 1); err != nil {
		return p, err
	}
	if p.padH, p.padW, err = spatial(m, "pad", "pad_h", "pad_w", 0); err != nil {
		return p, err
	}
	if p.dilationH, p.dilationW, err = spatial(m, "dilation", "", "", 1); err != nil {
		return p, err
	}
	if p.group, err = m.Int("group", 1); err != nil {
		return p, err
	}
	if p.biasTerm, err = m.Bool("bias_term", true); err != nil {
		return p, err
	}
	switch {
	case p.numOutput <= 0:
		return p, fmt.Errorf("invalid num_output %d", p.numOutput)
	case p.kernelH <= 0 || p.kernelW <= 0:
		return p, fmt.Errorf("invalid kernel %dx%d", p.kernelH, p.kernelW)
	case p.strideH <= 0 || p.strideW <= 0:
		return p, fmt.Errorf("invalid stride %dx%d", p.strideH, p.strideW)
	case p.padH < 0 || p.padW < 0:
		return p, fmt.Errorf("invalid pad %dx%d", p.padH, p.padW)
	case p.dilationH <= 0 || p.dilationW <= 0:
		return p, fmt.Errorf("invalid dilation %dx%d", p.dilationH, p.dilationW)
	case p.group <= 0 || p.numOutput%p.group != 0:
		return p, fmt.Errorf("num_output %d not divisible by group %d", p.numOutput, p.group)
	}
	return p, nil
}

// weightsAndBias validates blobs[0] against the leading dimension and kernel
// and returns the optional bias.
func weightsAndBias(p convParams, blobs []*Blob, lead int) (*Blob, []float32, error) {
	if len(blobs) == 0 {
		return nil, nil, fmt.Errorf("missing weights")
	}
	w := blobs[0]
	if len(w.Shape) != 4 || w.Count() != len(w.Data) {
		return nil, nil, fmt.Errorf("weight shape %v does not fit %d values", w.Shape, len(w.Data))
	}
	if w.Shape[0] != lead || w.Shape[2] != p.kernelH || w.Shape[3] != p.kernelW {
		return nil, nil, fmt.Errorf("weight shape %v does not match %d x %dx%d", w.Shape, lead, p.kernelH, p.kernelW)
	}
	var bias []float32
	if p.biasTerm && len(blobs) > 1 {
		bias = blobs[1].Data
		if len(bias) != p.numOutput {
			return nil, nil, fmt.Errorf("bias has %d values, want %d", len(bias), p.numOutput)
		}
	}
	return w, bias, nil
}

func addBias(t *tensor.Tensor, n int, bias []float32) {
	for c, b := range bias {
		plane := t.Plane(n, c)
		for i := range plane {
			plane[i] += b
		}
	}
}

type convolution struct {
	p      convParams
	weight *Blob
	bias   []float32
}

func newConvolution(def *LayerDef, blobs []*Blob) (Layer, error) {
	p, err := parseConvParams(def)
	if err != nil {
		return nil, err
	}
	w, bias, err := weightsAndBias(p, blobs, p.numOutput)
	if err != nil {
		return nil, err
	}
	return &convolution{p: p, weight: w, bias: bias}, nil
}

func (l *convolution) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	x, p := in[0], l.p
	s := x.Shape
	if s.C()%p.group != 0 || l.weight.Shape[1] != s.C()/p.group {
		return nil, fmt.Errorf("input has %d channels, weights expect %d per group", s.C(), l.weight.Shape[1])
	}
	outH := (s.H()+2*p.padH-(p.dilationH*(p.kernelH-1)+1))/p.strideH + 1
	outW := (s.W()+2*p.padW-(p.dilationW*(p.kernelW-1)+1))/p.strideW + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("input %s too small for kernel", s)
	}

	out := tensor.New(s.N(), p.numOutput, outH, outW)
	cg := s.C() / p.group
	mg := p.numOutput / p.group
	k := cg * p.kernelH * p.kernelW
	hwIn := s.H() * s.W()
	hwOut := outH * outW
	rows := max(1, min(outH, maxColElems/(k*outW)))
	col := make([]float32, k*rows*outW)

	for n := range s.N() {
		for g := range p.group {
			src := x.Data[(n*s.C()+g*cg)*hwIn:][:cg*hwIn]
			a := blas32.General{Rows: mg, Cols: k, Stride: k, Data: l.weight.Data[g*mg*k : (g+1)*mg*k]}
			for r0 := 0; r0 < outH; r0 += rows {
				r1 := min(r0+rows, outH)
				cols := (r1 - r0) * outW
				im2col(src, cg, s.H(), s.W(), p, outW, r0, r1, col[:k*cols])
				b := blas32.General{Rows: k, Cols: cols, Stride: cols, Data: col[:k*cols]}
				c := blas32.General{Rows: mg, Cols: cols, Stride: hwOut, Data: out.Data[(n*p.numOutput+g*mg)*hwOut+r0*outW:]}
				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)
			}
		}
		addBias(out, n, l.bias)
	}
	return []*tensor.Tensor{out}, nil
}

// im2col lays out output rows [r0, r1) as a (channels*kh*kw) x ((r1-r0)*outW)
// matrix.
func im2col(src []float32, channels, h, w int, p convParams, outW, r0, r1 int, col []float32) {
	n := (r1 - r0) * outW
	for c := 0; c < channels; c++ {
		plane := src[c*h*w : (c+1)*h*w]
		for ki := 0; ki < p.kernelH; ki++ {
			for kj := 0; kj < p.kernelW; kj++ {
				row := col[((c*p.kernelH+ki)*p.kernelW+kj)*n:][:n]
				idx := 0
				for oy := r0; oy < r1; oy++ {
					iy := oy*p.strideH - p.padH + ki*p.dilationH
					if iy < 0 || iy >= h {
						clear(row[idx : idx+outW])
						idx += outW
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*p.strideW - p.padW + kj*p.dilationW
						if ix >= 0 && ix < w {
							row[idx] = plane[iy*w+ix]
						} else {
							row[idx] = 0
						}
						idx++
					}
				}
			}
		}
	}
}

type deconvolution struct {
	p      convParams
	weight *Blob
	bias   []float32
}

func newDeconvolution(def *LayerDef, blobs []*Blob) (Layer, error) {
	p, err := parseConvParams(def)
	if err != nil {
		return nil, err
	}
	if len(blobs) == 0 || len(blobs[0].Shape) != 4 {
		return nil, fmt.Errorf("missing or malformed weights")
	}
	// Deconvolution weights lead with input channels, which are only known
	// at forward time.
	w, bias, err := weightsAndBias(p, blobs, blobs[0].Shape[0])
	if err != nil {
		return nil, err
	}
	if w.Shape[1]*p.group != p.numOutput {
		return nil, fmt.Errorf("weight shape %v does not match num_output %d", w.Shape, p.numOutput)
	}
	return &deconvolution{p: p, weight: w, bias: bias}, nil
}

func (l *deconvolution) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	x, p := in[0], l.p
	s := x.Shape
	if s.C() != l.weight.Shape[0] || s.C()%p.group != 0 {
		return nil, fmt.Errorf("input has %d channels, weights expect %d", s.C(), l.weight.Shape[0])
	}
	outH := p.strideH*(s.H()-1) + p.dilationH*(p.kernelH-1) + 1 - 2*p.padH
	outW := p.strideW*(s.W()-1) + p.dilationW*(p.kernelW-1) + 1 - 2*p.padW
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("input %s too small for padding", s)
	}

	out := tensor.New(s.N(), p.numOutput, outH, outW)
	cg := s.C() / p.group
	mg := p.numOutput / p.group
	k := mg * p.kernelH * p.kernelW
	hwIn := s.H() * s.W()
	hwOut := outH * outW
	col := make([]float32, k*hwIn)

	for n := range s.N() {
		for g := range p.group {
			a := blas32.General{Rows: cg, Cols: k, Stride: k, Data: l.weight.Data[g*cg*k : (g+1)*cg*k]}
			b := blas32.General{Rows: cg, Cols: hwIn, Stride: hwIn, Data: x.Data[(n*s.C()+g*cg)*hwIn:][:cg*hwIn]}
			c := blas32.General{Rows: k, Cols: hwIn, Stride: hwIn, Data: col}
			blas32.Gemm(blas.Trans, blas.NoTrans, 1, a, b, 0, c)
			dst := out.Data[(n*p.numOutput+g*mg)*hwOut:][:mg*hwOut]
			col2im(col, mg, s.H(), s.W(), p, outH, outW, dst)
		}
		addBias(out, n, l.bias)
	}
	return []*tensor.Tensor{out}, nil
}

// col2im accumulates a (channels*kh*kw) x (h*w) matrix into channels output
// planes of outH x outW.
func col2im(col []float32, channels, h, w int, p convParams, outH, outW int, dst []float32) {
	hw := h * w
	for c := 0; c < channels; c++ {
		plane := dst[c*outH*outW : (c+1)*outH*outW]
		for ki := 0; ki < p.kernelH; ki++ {
			for kj := 0; kj < p.kernelW; kj++ {
				row := col[((c*p.kernelH+ki)*p.kernelW+kj)*hw:][:hw]
				for iy := 0; iy < h; iy++ {
					oy := iy*p.strideH - p.padH + ki*p.dilationH
					if oy < 0 || oy >= outH {
						continue
					}
					for ix := 0; ix < w; ix++ {
						ox := ix*p.strideW - p.padW + kj*p.dilationW
						if ox >= 0 && ox < outW {
							plane[oy*outW+ox] += row[iy*w+ix]
						}
					}
				}
			}
		}
	}
}
