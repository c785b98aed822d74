package caffe

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Message is a decoded caffe.proto message. Accessors take the proto field
// name and a default for unset fields; a nil Message reports every field as
// unset.
type Message struct {
	m protoreflect.Message
}

// parseText decodes prototxt as md. Fields outside the schema, such as
// solver hints and weight fillers, are skipped.
func parseText(data []byte, md protoreflect.MessageDescriptor) (*Message, error) {
	m := dynamicpb.NewMessage(md)
	if err := (prototext.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, m); err != nil {
		return nil, err
	}
	return &Message{m: m}, nil
}

// values returns the elements of a repeated field, or the value of a set
// singular field.
func (m *Message) values(name string) (protoreflect.FieldDescriptor, []protoreflect.Value, error) {
	if m == nil {
		return nil, nil, nil
	}
	md := m.m.Descriptor()
	fd := md.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return nil, nil, fmt.Errorf("%s has no field %s", md.Name(), name)
	}
	if fd.IsList() {
		l := m.m.Get(fd).List()
		out := make([]protoreflect.Value, l.Len())
		for i := range out {
			out[i] = l.Get(i)
		}
		return fd, out, nil
	}
	if !m.m.Has(fd) {
		return fd, nil, nil
	}
	return fd, []protoreflect.Value{m.m.Get(fd)}, nil
}

func scalarText(fd protoreflect.FieldDescriptor, v protoreflect.Value) string {
	if fd.Kind() == protoreflect.EnumKind {
		if ev := fd.Enum().Values().ByNumber(v.Enum()); ev != nil {
			return string(ev.Name())
		}
		return strconv.Itoa(int(v.Enum()))
	}
	return v.String()
}

// Get returns the first value of name as text. Enums are returned by name.
func (m *Message) Get(name string) (string, bool) {
	vals := m.All(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// All returns every scalar value of name, in order.
func (m *Message) All(name string) []string {
	fd, vals, err := m.values(name)
	if err != nil || fd == nil || fd.Kind() == protoreflect.MessageKind {
		return nil
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = scalarText(fd, v)
	}
	return out
}

// Child returns the nested message called name, or nil when it is unset.
func (m *Message) Child(name string) *Message {
	children := m.Children(name)
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

func (m *Message) Children(name string) []*Message {
	fd, vals, err := m.values(name)
	if err != nil || fd == nil || fd.Kind() != protoreflect.MessageKind {
		return nil
	}
	out := make([]*Message, len(vals))
	for i, v := range vals {
		out[i] = &Message{m: v.Message()}
	}
	return out
}

func intValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) (int, error) {
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Int64Kind:
		return int(v.Int()), nil
	case protoreflect.Uint32Kind, protoreflect.Uint64Kind:
		return int(v.Uint()), nil
	case protoreflect.EnumKind:
		return int(v.Enum()), nil
	}
	return 0, fmt.Errorf("field %s is %s, not an integer", fd.Name(), fd.Kind())
}

func (m *Message) Int(name string, def int) (int, error) {
	vals, err := m.Ints(name)
	if err != nil || len(vals) == 0 {
		return def, err
	}
	return vals[0], nil
}

// Ints returns every value of a repeated integer field.
func (m *Message) Ints(name string) ([]int, error) {
	fd, vals, err := m.values(name)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		n, err := intValue(fd, v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Floats returns every value of a float or double field as float32.
func (m *Message) Floats(name string) ([]float32, error) {
	fd, vals, err := m.values(name)
	if err != nil {
		return nil, err
	}
	if len(vals) > 0 && fd.Kind() != protoreflect.FloatKind && fd.Kind() != protoreflect.DoubleKind {
		return nil, fmt.Errorf("field %s is %s, not a float", fd.Name(), fd.Kind())
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v.Float())
	}
	return out, nil
}

func (m *Message) Float(name string, def float64) (float64, error) {
	fd, vals, err := m.values(name)
	if err != nil || len(vals) == 0 {
		return def, err
	}
	if fd.Kind() != protoreflect.FloatKind && fd.Kind() != protoreflect.DoubleKind {
		return 0, fmt.Errorf("field %s is %s, not a float", fd.Name(), fd.Kind())
	}
	return vals[0].Float(), nil
}

func (m *Message) Bool(name string, def bool) (bool, error) {
	fd, vals, err := m.values(name)
	if err != nil || len(vals) == 0 {
		return def, err
	}
	if fd.Kind() != protoreflect.BoolKind {
		return false, fmt.Errorf("field %s is %s, not a bool", fd.Name(), fd.Kind())
	}
	return vals[0].Bool(), nil
}
