package caffe

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Blob is one trained parameter array of a layer.
type Blob struct {
	Shape []int
	Data  []float32
}

func (b *Blob) Count() int {
	n := 1
	for _, d := range b.Shape {
		n *= d
	}
	return n
}

type LayerWeights struct {
	Name  string
	Blobs []*Blob
}

// ParseWeights decodes a binary caffemodel into blobs keyed by layer name.
// Layers without blobs are omitted. Each layer record is unmarshaled on its
// own, so only one layer's decoded values are held at a time.
func ParseWeights(data []byte) (map[string][]*Blob, error) {
	layerNum := fieldOf(schema.net, "layer").Number()
	legacyNum := fieldOf(schema.net, "layers").Number()

	out := make(map[string][]*Blob)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		if typ != protowire.BytesType || (num != layerNum && num != legacyNum) {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		md := schema.layer
		if num == legacyNum {
			md = schema.legacyLayer
		}
		m := dynamicpb.NewMessage(md)
		if err := proto.Unmarshal(v, m); err != nil {
			return nil, fmt.Errorf("failed to decode layer: %w", err)
		}
		name, blobs, err := layerBlobs(&Message{m: m})
		if err != nil {
			return nil, err
		}
		if len(blobs) > 0 {
			out[name] = blobs
		}
	}
	return out, nil
}

func layerBlobs(layer *Message) (string, []*Blob, error) {
	name, _ := layer.Get("name")
	var blobs []*Blob
	for i, bm := range layer.Children("blobs") {
		blob, err := blobOf(bm)
		if err != nil {
			return "", nil, fmt.Errorf("layer %q blob %d: %w", name, i, err)
		}
		if blob.Count() != len(blob.Data) {
			return "", nil, fmt.Errorf("layer %q blob %d: shape %v holds %d values, got %d", name, i, blob.Shape, blob.Count(), len(blob.Data))
		}
		blobs = append(blobs, blob)
	}
	if len(blobs) > 0 && name == "" {
		return "", nil, fmt.Errorf("layer with %d blobs has no name", len(blobs))
	}
	return name, blobs, nil
}

// blobOf prefers an explicit shape and float data, falling back to the
// legacy num/channels/height/width fields and double data.
func blobOf(m *Message) (*Blob, error) {
	data, err := m.Floats("data")
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		if data, err = m.Floats("double_data"); err != nil {
			return nil, err
		}
	}
	shape, err := m.Child("shape").Ints("dim")
	if err != nil {
		return nil, err
	}
	if len(shape) == 0 {
		var legacy [4]int
		for i, name := range []string{"num", "channels", "height", "width"} {
			if legacy[i], err = m.Int(name, 0); err != nil {
				return nil, err
			}
		}
		if legacy != [4]int{} {
			shape = legacy[:]
		} else {
			shape = []int{len(data)}
		}
	}
	return &Blob{Shape: shape, Data: data}, nil
}

// EncodeWeights writes layers as a binary caffemodel using the current
// "layer" field, packed float data and explicit shapes.
func EncodeWeights(layers []LayerWeights) ([]byte, error) {
	net := dynamicpb.NewMessage(schema.net)
	list := net.Mutable(fieldOf(schema.net, "layer")).List()
	for _, l := range layers {
		lm := list.NewElement().Message()
		lm.Set(fieldOf(schema.layer, "name"), protoreflect.ValueOfString(l.Name))
		blobs := lm.Mutable(fieldOf(schema.layer, "blobs")).List()
		for _, b := range l.Blobs {
			blobs.Append(protoreflect.ValueOfMessage(encodeBlob(b)))
		}
		list.Append(protoreflect.ValueOfMessage(lm))
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(net)
}

func encodeBlob(b *Blob) protoreflect.Message {
	bm := dynamicpb.NewMessage(schema.blob)
	shapeFd := fieldOf(schema.blob, "shape")
	shape := bm.Mutable(shapeFd).Message()
	dims := shape.Mutable(fieldOf(shapeFd.Message(), "dim")).List()
	for _, d := range b.Shape {
		dims.Append(protoreflect.ValueOfInt64(int64(d)))
	}
	data := bm.Mutable(fieldOf(schema.blob, "data")).List()
	for _, v := range b.Data {
		data.Append(protoreflect.ValueOfFloat32(v))
	}
	return bm
}
