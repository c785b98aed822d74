package hed

import (
	"fmt"

	"github.com/krau/sketchline/caffe"
	"github.com/krau/sketchline/tensor"
)

// CropLayerType is the layer type name the HED graph uses for its crops.
const CropLayerType = "Crop"

type cropLayer struct{}

// NewCropLayer is the caffe.Factory for the Crop layer. Its bottoms are the
// source and the reference whose spatial size the output takes.
func NewCropLayer(def *caffe.LayerDef, _ []*caffe.Blob) (caffe.Layer, error) {
	if len(def.Bottoms) != 2 {
		return nil, fmt.Errorf("crop needs 2 bottoms, got %d", len(def.Bottoms))
	}
	return cropLayer{}, nil
}

func (cropLayer) Forward(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(in) != 2 || in[0] == nil || in[1] == nil {
		return nil, fmt.Errorf("crop needs a source and a reference")
	}
	out, err := CenterCrop(in[0], in[1])
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out}, nil
}

// CenterCrop cuts the window of ref's height and width out of the middle of
// src. Batch and channel dimensions follow src.
func CenterCrop(src, ref *tensor.Tensor) (*tensor.Tensor, error) {
	h, w := ref.Shape.H(), ref.Shape.W()
	if h > src.Shape.H() || w > src.Shape.W() {
		return nil, fmt.Errorf("crop reference %s larger than source %s", ref.Shape, src.Shape)
	}
	y := (src.Shape.H() - h) / 2
	x := (src.Shape.W() - w) / 2
	return src.Crop(y, x, h, w)
}
