package caffe

import (
	_ "embed"
	"fmt"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

//go:embed caffe.textproto
var schemaText []byte

type caffeSchema struct {
	net         protoreflect.MessageDescriptor
	layer       protoreflect.MessageDescriptor
	legacyLayer protoreflect.MessageDescriptor
	blob        protoreflect.MessageDescriptor
}

var schema = mustLoadSchema(schemaText)

func loadSchema(text []byte) (*caffeSchema, error) {
	var fdp descriptorpb.FileDescriptorProto
	if err := prototext.Unmarshal(text, &fdp); err != nil {
		return nil, fmt.Errorf("failed to parse caffe schema: %w", err)
	}
	fd, err := protodesc.NewFile(&fdp, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("invalid caffe schema: %w", err)
	}
	msgs := fd.Messages()
	s := &caffeSchema{
		net:         msgs.ByName("NetParameter"),
		layer:       msgs.ByName("LayerParameter"),
		legacyLayer: msgs.ByName("V1LayerParameter"),
		blob:        msgs.ByName("BlobProto"),
	}
	if s.net == nil || s.layer == nil || s.legacyLayer == nil || s.blob == nil {
		return nil, fmt.Errorf("caffe schema is missing a top-level message")
	}
	return s, nil
}

func mustLoadSchema(text []byte) *caffeSchema {
	s, err := loadSchema(text)
	if err != nil {
		panic(err)
	}
	return s
}

// fieldOf returns a field the schema is known to declare.
func fieldOf(md protoreflect.MessageDescriptor, name string) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("caffe schema: %s has no field %s", md.FullName(), name))
	}
	return fd
}
