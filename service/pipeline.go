// Package service turns captured images into line drawings: it adapts
// pixels to the network's tensor layout and back around one inference call.
package service

import (
	"fmt"
	"log/slog"

	"github.com/krau/sketchline/apperr"
	"github.com/krau/sketchline/pixel"
	"github.com/krau/sketchline/tensor"
)

// DefaultMaxEdge is the longer side every image is scaled to before
// inference.
const DefaultMaxEdge = 256

type Inferer interface {
	Infer(in *tensor.Tensor) (*tensor.Tensor, error)
}

type Pipeline struct {
	engine    Inferer
	maxEdge   int
	maxPixels int
}

// NewPipeline returns a pipeline scaling to maxEdge. Inputs larger than
// maxPixels are rejected while decoding; zero values select the defaults.
func NewPipeline(engine Inferer, maxEdge, maxPixels int) *Pipeline {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	return &Pipeline{engine: engine, maxEdge: maxEdge, maxPixels: maxPixels}
}

// Process decodes a base64 or data-URI image, draws it and returns the
// drawing as base64 PNG at the input's size.
func (p *Pipeline) Process(encoded string) (string, error) {
	buf, err := pixel.Decode(encoded, p.maxPixels)
	if err != nil {
		return "", err
	}
	out, err := p.Run(buf)
	if err != nil {
		return "", err
	}
	s, err := pixel.Encode(out, pixel.PNG)
	if err != nil {
		return "", apperr.E(apperr.Pipeline, "service.Process", err)
	}
	return s, nil
}

// Run draws buf and returns a buffer of the same width and height.
func (p *Pipeline) Run(buf *pixel.Buffer) (*pixel.Buffer, error) {
	const op = "service.Run"
	fitted, w, h, err := pixel.Fit(buf, p.maxEdge)
	if err != nil {
		return nil, apperr.E(apperr.Pipeline, op, fmt.Errorf("failed to fit image: %w", err))
	}
	in, err := ToTensor(fitted.Convert(pixel.BGR))
	if err != nil {
		return nil, apperr.E(apperr.Pipeline, op, err)
	}
	slog.Debug("Running inference",
		slog.Int("width", buf.Width), slog.Int("height", buf.Height),
		slog.Int("fit_width", w), slog.Int("fit_height", h))

	out, err := p.engine.Infer(in)
	if err != nil {
		return nil, apperr.E(apperr.Pipeline, op, err)
	}
	drawing, err := pixel.Resize(FromTensor(out), buf.Width, buf.Height)
	if err != nil {
		return nil, apperr.E(apperr.Pipeline, op, fmt.Errorf("failed to restore size: %w", err))
	}
	return drawing, nil
}
