package caffe

import (
	"fmt"
	"os"

	"github.com/krau/sketchline/tensor"
)

type LayerDef struct {
	Name    string
	Type    string
	Bottoms []string
	Tops    []string
	// Params is the whole layer block, for layer-specific sub-messages.
	Params *Message
}

// InPlace reports whether the layer overwrites its single bottom.
func (d *LayerDef) InPlace() bool {
	return len(d.Bottoms) == 1 && len(d.Tops) == 1 && d.Bottoms[0] == d.Tops[0]
}

type NetDef struct {
	Name   string
	Inputs []string
	Layers []*LayerDef
}

// V1 "layers" blocks name their type with an enum.
var legacyLayerTypes = map[string]string{
	"CONCAT":        "Concat",
	"CONVOLUTION":   "Convolution",
	"DECONVOLUTION": "Deconvolution",
	"DROPOUT":       "Dropout",
	"POOLING":       "Pooling",
	"RELU":          "ReLU",
	"SIGMOID":       "Sigmoid",
}

// ParseNet reads a prototxt network definition. Input shapes are ignored:
// the net runs at whatever size it is fed.
func ParseNet(data []byte) (*NetDef, error) {
	msg, err := parseText(data, schema.net)
	if err != nil {
		return nil, fmt.Errorf("failed to parse graph: %w", err)
	}
	def := &NetDef{Inputs: msg.All("input")}
	def.Name, _ = msg.Get("name")

	blocks := msg.Children("layer")
	if len(blocks) == 0 {
		blocks = msg.Children("layers")
	}
	for _, b := range blocks {
		ld, err := layerDefOf(b)
		if err != nil {
			return nil, err
		}
		if ld.Type == "Input" {
			def.Inputs = append(def.Inputs, ld.Tops...)
			continue
		}
		def.Layers = append(def.Layers, ld)
	}
	if len(def.Inputs) == 0 {
		return nil, fmt.Errorf("graph %q declares no input", def.Name)
	}
	if len(def.Layers) == 0 {
		return nil, fmt.Errorf("graph %q has no layers", def.Name)
	}
	return def, nil
}

// layerDefOf reads a layer or legacy layers block.
func layerDefOf(b *Message) (*LayerDef, error) {
	ld := &LayerDef{
		Bottoms: b.All("bottom"),
		Tops:    b.All("top"),
		Params:  b,
	}
	ld.Name, _ = b.Get("name")
	ld.Type, _ = b.Get("type")
	if t, ok := legacyLayerTypes[ld.Type]; ok {
		ld.Type = t
	}
	if ld.Type == "" || ld.Type == "NONE" {
		return nil, fmt.Errorf("layer %q has no type", ld.Name)
	}
	return ld, nil
}

type netLayer struct {
	def  *LayerDef
	impl Layer
}

// Net is an instantiated graph. It is immutable after Build; Forward
// allocates its own blobs, so concurrent calls do not share state.
type Net struct {
	name   string
	input  string
	layers []netLayer
}

// Load reads a graph definition and its weights from disk and builds the
// net with the layer types in reg.
func Load(reg *Registry, graphPath, weightsPath string) (*Net, error) {
	graph, err := os.ReadFile(graphPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph: %w", err)
	}
	weights, err := os.ReadFile(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	def, err := ParseNet(graph)
	if err != nil {
		return nil, err
	}
	blobs, err := ParseWeights(weights)
	if err != nil {
		return nil, fmt.Errorf("failed to parse weights: %w", err)
	}
	return Build(reg, def, blobs)
}

func Build(reg *Registry, def *NetDef, weights map[string][]*Blob) (*Net, error) {
	if len(def.Inputs) != 1 {
		return nil, fmt.Errorf("graph %q has %d inputs, want 1", def.Name, len(def.Inputs))
	}
	n := &Net{name: def.Name, input: def.Inputs[0]}
	produced := map[string]bool{n.input: true}
	for _, ld := range def.Layers {
		factory, ok := reg.Lookup(ld.Type)
		if !ok {
			return nil, fmt.Errorf("layer %q: %w %q", ld.Name, ErrUnknownLayer, ld.Type)
		}
		if len(ld.Tops) == 0 {
			return nil, fmt.Errorf("layer %q has no top", ld.Name)
		}
		for _, b := range ld.Bottoms {
			if !produced[b] {
				return nil, fmt.Errorf("layer %q: bottom %q is not produced by an earlier layer", ld.Name, b)
			}
		}
		impl, err := factory(ld, weights[ld.Name])
		if err != nil {
			return nil, fmt.Errorf("layer %q (%s): %w", ld.Name, ld.Type, err)
		}
		for _, t := range ld.Tops {
			produced[t] = true
		}
		n.layers = append(n.layers, netLayer{def: ld, impl: impl})
	}
	return n, nil
}

func (n *Net) Name() string { return n.name }

// Forward runs every layer in order and returns the first top of the last
// layer. input is never modified.
func (n *Net) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input == nil || !input.Shape.Valid() || len(input.Data) != input.Shape.Len() {
		return nil, fmt.Errorf("invalid input tensor")
	}
	blobs := map[string]*tensor.Tensor{n.input: input}
	var last *tensor.Tensor
	for _, l := range n.layers {
		ins := make([]*tensor.Tensor, len(l.def.Bottoms))
		for i, b := range l.def.Bottoms {
			ins[i] = blobs[b]
		}
		if l.def.InPlace() && ins[0] == input {
			ins[0] = input.Clone()
		}
		outs, err := l.impl.Forward(ins)
		if err != nil {
			return nil, fmt.Errorf("layer %q (%s): %w", l.def.Name, l.def.Type, err)
		}
		if len(outs) != len(l.def.Tops) {
			return nil, fmt.Errorf("layer %q produced %d tops, want %d", l.def.Name, len(outs), len(l.def.Tops))
		}
		for i, t := range l.def.Tops {
			blobs[t] = outs[i]
		}
		last = outs[0]
	}
	return last, nil
}
