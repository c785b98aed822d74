package caffe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krau/sketchline/tensor"
)

const tinyNet = `
name: "tiny"
layer { name: "input" type: "Input" top: "data" input_param { shape { dim: 1 dim: 1 dim: 2 dim: 2 } } }
layer { name: "relu0" type: "ReLU" bottom: "data" top: "data" }
layer {
  name: "conv"
  type: "Convolution"
  bottom: "data"
  top: "conv"
  convolution_param { num_output: 1 kernel_size: 1 pad: 1 }
}
layer { name: "sig" type: "Sigmoid" bottom: "conv" top: "out" }
`

var tinyWeights = map[string][]*Blob{
	"conv": {
		{Shape: []int{1, 1, 1, 1}, Data: []float32{2}},
		{Shape: []int{1}, Data: []float32{0}},
	},
}

func TestParseNet(t *testing.T) {
	def, err := ParseNet([]byte(tinyNet))
	require.NoError(t, err)
	assert.Equal(t, "tiny", def.Name)
	assert.Equal(t, []string{"data"}, def.Inputs)
	require.Len(t, def.Layers, 3)
	assert.True(t, def.Layers[0].InPlace())
	assert.Equal(t, "Convolution", def.Layers[1].Type)
}

func TestParseNetLegacy(t *testing.T) {
	def, err := ParseNet([]byte(`
input: "data"
layers { name: "c" type: CONVOLUTION bottom: "data" top: "c" }
layers { name: "up" type: DECONVOLUTION bottom: "c" top: "up" }
layers { name: "fuse" type: SIGMOID bottom: "up" top: "fuse" }
`))
	require.NoError(t, err)
	require.Len(t, def.Layers, 3)
	assert.Equal(t, "Convolution", def.Layers[0].Type)
	assert.Equal(t, "Deconvolution", def.Layers[1].Type)
	assert.Equal(t, "Sigmoid", def.Layers[2].Type)

	_, err = ParseNet([]byte(`input: "data" layers { name: "x" type: Convolution }`))
	assert.Error(t, err, "V1 types are enum names")
}

func TestParseNetErrors(t *testing.T) {
	_, err := ParseNet([]byte(`layer { name: "a" type: "ReLU" bottom: "x" top: "x" }`))
	assert.Error(t, err, "no input")
	_, err = ParseNet([]byte(`input: "data"`))
	assert.Error(t, err, "no layers")
	_, err = ParseNet([]byte(`input: "data" layer { name: "a" }`))
	assert.Error(t, err, "no type")
}

func TestNetForward(t *testing.T) {
	def, err := ParseNet([]byte(tinyNet))
	require.NoError(t, err)
	net, err := Build(NewRegistry(), def, tinyWeights)
	require.NoError(t, err)
	assert.Equal(t, "tiny", net.Name())

	x, err := tensor.FromData(tensor.Shape{1, 1, 2, 2}, []float32{-1, 0, 1, 2})
	require.NoError(t, err)
	out, err := net.Forward(x)
	require.NoError(t, err)

	require.Equal(t, tensor.Shape{1, 1, 4, 4}, out.Shape)
	assert.InDelta(t, 0.5, out.At(0, 0, 0, 0), 1e-6)
	assert.InDelta(t, 0.5, out.At(0, 0, 1, 1), 1e-6, "relu clamps -1 to 0")
	assert.InDelta(t, Sigmoid(4), out.At(0, 0, 2, 2), 1e-6)
	// The in-place ReLU on the input must not leak into the caller's tensor.
	assert.Equal(t, []float32{-1, 0, 1, 2}, x.Data)

	_, err = net.Forward(&tensor.Tensor{Shape: tensor.Shape{1, 1, 2, 2}})
	assert.Error(t, err)
}

func TestBuildUnknownLayer(t *testing.T) {
	def, err := ParseNet([]byte(`
input: "data"
layer { name: "crop" type: "Crop" bottom: "data" bottom: "data" top: "crop" }
`))
	require.NoError(t, err)

	reg := NewRegistry()
	_, err = Build(reg, def, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownLayer))

	require.NoError(t, reg.Register("Crop", func(*LayerDef, []*Blob) (Layer, error) { return dropout{}, nil }))
	_, err = Build(reg, def, nil)
	assert.NoError(t, err)
}

func TestBuildMissingBottom(t *testing.T) {
	def, err := ParseNet([]byte(`input: "data" layer { name: "r" type: "ReLU" bottom: "nope" top: "r" }`))
	require.NoError(t, err)
	_, err = Build(NewRegistry(), def, nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotContains(t, reg.Types(), "Crop")
	assert.Contains(t, reg.Types(), "Convolution")

	err := reg.Register("ReLU", newReLU)
	assert.True(t, errors.Is(err, ErrLayerRegistered))
	assert.Error(t, reg.Register("", newReLU))
	assert.Error(t, reg.Register("X", nil))

	// Registrations do not leak into other registries.
	require.NoError(t, reg.Register("Custom", newDropout))
	_, ok := NewRegistry().Lookup("Custom")
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	graph := filepath.Join(dir, "deploy.prototxt")
	weights := filepath.Join(dir, "hed.caffemodel")
	require.NoError(t, os.WriteFile(graph, []byte(tinyNet), 0o644))
	require.NoError(t, os.WriteFile(weights, encode(t, LayerWeights{Name: "conv", Blobs: tinyWeights["conv"]}), 0o644))

	net, err := Load(NewRegistry(), graph, weights)
	require.NoError(t, err)
	assert.Equal(t, "tiny", net.Name())

	_, err = Load(NewRegistry(), filepath.Join(dir, "missing"), weights)
	assert.Error(t, err)
}
