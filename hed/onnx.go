package hed

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/sketchline/onnx"
	"github.com/krau/sketchline/tensor"
)

// onnxBackend runs an exported HED graph. The graph keeps its weights in an
// external data file next to it, which onnxruntime resolves on its own.
type onnxBackend struct {
	session *ort.DynamicAdvancedSession
	input   string
	output  string
}

func newONNXBackend(modelPath string) (*onnxBackend, error) {
	if err := onnx.Init(); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs, want 1 and at least 1", len(inputs), len(outputs))
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return &onnxBackend{session: session, input: inputs[0].Name, output: outputs[0].Name}, nil
}

func (b *onnxBackend) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	s := in.Shape
	if !s.Valid() || len(in.Data) != s.Len() {
		return nil, fmt.Errorf("invalid input tensor %s", s)
	}
	input, err := ort.NewTensor(ort.NewShape(int64(s.N()), int64(s.C()), int64(s.H()), int64(s.W())), in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run session: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %s is not a float32 tensor", b.output)
	}
	shape := out.GetShape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("output %s has shape %v, want 4-D", b.output, shape)
	}
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	return tensor.FromData(tensor.Shape{int(shape[0]), int(shape[1]), int(shape[2]), int(shape[3])}, data)
}

func (b *onnxBackend) Close() error {
	return b.session.Destroy()
}
