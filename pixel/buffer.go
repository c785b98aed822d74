// Package pixel holds the interleaved 8-bit raster used between decoding and
// the tensor adapter, plus the codec and resize primitives that operate on it.
package pixel

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ChannelOrder names the meaning of the three interleaved samples. Decoded
// images are RGB; the edge network expects BGR.
type ChannelOrder int

const (
	RGB ChannelOrder = iota
	BGR
)

func (o ChannelOrder) String() string {
	if o == BGR {
		return "BGR"
	}
	return "RGB"
}

const Channels = 3

// Buffer is a height x width x 3 array of samples in Order.
type Buffer struct {
	Width  int
	Height int
	Order  ChannelOrder
	Pix    []uint8
}

func NewBuffer(width, height int, order ChannelOrder) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Order:  order,
		Pix:    make([]uint8, width*height*Channels),
	}
}

func (b *Buffer) offset(x, y int) int {
	return (y*b.Width + x) * Channels
}

// At returns the three samples at (x, y) in the buffer's own order.
func (b *Buffer) At(x, y int) (uint8, uint8, uint8) {
	i := b.offset(x, y)
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

func (b *Buffer) Set(x, y int, c0, c1, c2 uint8) {
	i := b.offset(x, y)
	b.Pix[i], b.Pix[i+1], b.Pix[i+2] = c0, c1, c2
}

func (b *Buffer) validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("invalid buffer size %dx%d", b.Width, b.Height)
	}
	if len(b.Pix) != b.Width*b.Height*Channels {
		return fmt.Errorf("buffer %dx%d holds %d samples, want %d", b.Width, b.Height, len(b.Pix), b.Width*b.Height*Channels)
	}
	return nil
}

// Convert returns a copy in the requested channel order.
func (b *Buffer) Convert(order ChannelOrder) *Buffer {
	out := &Buffer{Width: b.Width, Height: b.Height, Order: order, Pix: make([]uint8, len(b.Pix))}
	if order == b.Order {
		copy(out.Pix, b.Pix)
		return out
	}
	for i := 0; i+2 < len(b.Pix); i += Channels {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = b.Pix[i+2], b.Pix[i+1], b.Pix[i]
	}
	return out
}

// FromImage copies img into an RGB buffer. Alpha is dropped without
// compositing.
func FromImage(img image.Image) *Buffer {
	nrgba := imaging.Clone(img)
	return fromNRGBA(nrgba, RGB)
}

func fromNRGBA(img *image.NRGBA, order ChannelOrder) *Buffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewBuffer(w, h, order)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			out.Set(x, y, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return out
}

// Image returns the buffer as an opaque RGB image regardless of Order.
func (b *Buffer) Image() *image.NRGBA {
	rgb := b
	if b.Order != RGB {
		rgb = b.Convert(RGB)
	}
	return rgb.rawNRGBA()
}

// rawNRGBA copies the samples as-is into an NRGBA image, so channel-generic
// image operations can run without a swap.
func (b *Buffer) rawNRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Width; x++ {
			c0, c1, c2 := b.At(x, y)
			row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = c0, c1, c2, 0xff
		}
	}
	return img
}
