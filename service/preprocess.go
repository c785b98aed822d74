package service

import (
	"fmt"
	"math"

	"github.com/krau/sketchline/pixel"
	"github.com/krau/sketchline/tensor"
)

// HEDMean is the per-channel training mean, in B, G, R order.
var HEDMean = [3]float32{104.00698793, 116.66876762, 122.67891434}

// ToTensor turns a BGR buffer into a (1, 3, H, W) tensor with the mean
// subtracted. Samples are not rescaled.
func ToTensor(b *pixel.Buffer) (*tensor.Tensor, error) {
	if b == nil {
		return nil, fmt.Errorf("nil buffer")
	}
	if b.Order != pixel.BGR {
		return nil, fmt.Errorf("tensor input must be BGR, got %s", b.Order)
	}
	if b.Width <= 0 || b.Height <= 0 || len(b.Pix) != b.Width*b.Height*pixel.Channels {
		return nil, fmt.Errorf("malformed %dx%d buffer", b.Width, b.Height)
	}

	t := tensor.New(1, pixel.Channels, b.Height, b.Width)
	hw := b.Width * b.Height
	for i := range hw {
		px := b.Pix[i*pixel.Channels:]
		for c := range pixel.Channels {
			t.Data[c*hw+i] = float32(px[c]) - HEDMean[c]
		}
	}
	return t, nil
}

// FromTensor reads channel 0 of batch 0 as an edge map in [0, 1] and
// returns it as a three-channel grayscale buffer. A malformed tensor is a
// programming error and panics.
func FromTensor(t *tensor.Tensor) *pixel.Buffer {
	if t == nil {
		panic("service: nil output tensor")
	}
	s := t.Shape
	if !s.Valid() || len(t.Data) != s.Len() {
		panic(fmt.Sprintf("service: malformed output tensor %s with %d values", s, len(t.Data)))
	}

	plane := t.Plane(0, 0)
	b := pixel.NewBuffer(s.W(), s.H(), pixel.BGR)
	for i, v := range plane {
		g := toSample(v * 255)
		px := b.Pix[i*pixel.Channels:]
		px[0], px[1], px[2] = g, g, g
	}
	return b
}

// toSample clamps to [0, 255] and truncates.
func toSample(v float32) uint8 {
	switch {
	case math.IsNaN(float64(v)), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}
