// Package tensor holds the dense NCHW float32 array passed between the
// image adapter, the inference engine and the network layers.
package tensor

import "fmt"

// Shape is (batch, channels, height, width).
type Shape [4]int

func (s Shape) N() int { return s[0] }
func (s Shape) C() int { return s[1] }
func (s Shape) H() int { return s[2] }
func (s Shape) W() int { return s[3] }

// Len is the number of elements a tensor of this shape holds.
func (s Shape) Len() int { return s[0] * s[1] * s[2] * s[3] }

func (s Shape) Valid() bool {
	return s[0] > 0 && s[1] > 0 && s[2] > 0 && s[3] > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", s[0], s[1], s[2], s[3])
}

type Tensor struct {
	Shape Shape
	Data  []float32
}

// New allocates a zeroed tensor.
func New(n, c, h, w int) *Tensor {
	s := Shape{n, c, h, w}
	return &Tensor{Shape: s, Data: make([]float32, s.Len())}
}

// FromData wraps data without copying.
func FromData(s Shape, data []float32) (*Tensor, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid tensor shape %s", s)
	}
	if len(data) != s.Len() {
		return nil, fmt.Errorf("tensor shape %s needs %d values, got %d", s, s.Len(), len(data))
	}
	return &Tensor{Shape: s, Data: data}, nil
}

func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: t.Shape, Data: data}
}

// Plane returns the H*W slice for batch n, channel c. It aliases t.Data.
func (t *Tensor) Plane(n, c int) []float32 {
	hw := t.Shape.H() * t.Shape.W()
	off := (n*t.Shape.C() + c) * hw
	return t.Data[off : off+hw]
}

func (t *Tensor) At(n, c, y, x int) float32 {
	return t.Data[((n*t.Shape.C()+c)*t.Shape.H()+y)*t.Shape.W()+x]
}

// Crop copies the spatial window [y, y+h) x [x, x+w) of every batch and
// channel into a new tensor.
func (t *Tensor) Crop(y, x, h, w int) (*Tensor, error) {
	if y < 0 || x < 0 || h <= 0 || w <= 0 || y+h > t.Shape.H() || x+w > t.Shape.W() {
		return nil, fmt.Errorf("crop window y=%d x=%d h=%d w=%d outside %s", y, x, h, w, t.Shape)
	}
	out := New(t.Shape.N(), t.Shape.C(), h, w)
	srcW := t.Shape.W()
	for n := 0; n < t.Shape.N(); n++ {
		for c := 0; c < t.Shape.C(); c++ {
			src := t.Plane(n, c)
			dst := out.Plane(n, c)
			for row := 0; row < h; row++ {
				copy(dst[row*w:(row+1)*w], src[(y+row)*srcW+x:])
			}
		}
	}
	return out, nil
}
