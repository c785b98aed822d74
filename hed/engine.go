// Package hed owns the pretrained edge-detection network: it registers the
// layers the graph needs, loads it once and serializes forward passes.
package hed

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/krau/sketchline/apperr"
	"github.com/krau/sketchline/caffe"
	"github.com/krau/sketchline/tensor"
)

type State int32

const (
	Unloaded State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	BackendCaffe = "caffe"
	BackendONNX  = "onnx"
)

type Options struct {
	// Backend is BackendCaffe (default) or BackendONNX.
	Backend     string
	GraphPath   string
	WeightsPath string
}

type backend interface {
	Forward(in *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

type Engine struct {
	reg          *caffe.Registry
	registerOnce sync.Once
	registerErr  error

	state  atomic.Int32
	closed atomic.Bool

	mu      sync.Mutex
	backend backend
}

func New() *Engine {
	return &Engine{reg: caffe.NewRegistry()}
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// RegisterLayers adds the Crop layer to the engine's registry. Only the
// first call does anything.
func (e *Engine) RegisterLayers() error {
	e.registerOnce.Do(func() {
		e.registerErr = e.reg.Register(CropLayerType, NewCropLayer)
	})
	return e.registerErr
}

// Load reads the network from disk. It may only be called on an unloaded
// engine; a failed load leaves the engine unloaded.
func (e *Engine) Load(opts Options) error {
	const op = "hed.Load"
	if e.closed.Load() {
		return apperr.Errorf(apperr.ModelLoad, op, "engine is closed")
	}
	if !e.state.CompareAndSwap(int32(Unloaded), int32(Loading)) {
		return apperr.Errorf(apperr.ModelLoad, op, "engine is %s", e.State())
	}
	b, err := e.load(opts)
	if err != nil {
		e.state.Store(int32(Unloaded))
		return apperr.E(apperr.ModelLoad, op, err)
	}

	e.mu.Lock()
	e.backend = b
	e.mu.Unlock()
	e.state.Store(int32(Ready))
	slog.Info("Model loaded",
		slog.String("backend", backendName(opts.Backend)),
		slog.String("graph", opts.GraphPath),
		slog.String("weights", opts.WeightsPath))
	return nil
}

func backendName(b string) string {
	if b == "" {
		return BackendCaffe
	}
	return b
}

// artifacts lists the files the backend reads itself. An ONNX graph either
// embeds its weights or names its external data file, which onnxruntime
// resolves on its own.
func artifacts(opts Options) []string {
	if backendName(opts.Backend) == BackendONNX {
		return []string{opts.GraphPath}
	}
	return []string{opts.GraphPath, opts.WeightsPath}
}

func (e *Engine) load(opts Options) (backend, error) {
	for _, p := range artifacts(opts) {
		if p == "" {
			return nil, errors.New("model file path is empty")
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("missing model file %s: %w", p, err)
		}
	}
	if err := e.RegisterLayers(); err != nil {
		return nil, fmt.Errorf("failed to register layers: %w", err)
	}

	switch backendName(opts.Backend) {
	case BackendCaffe:
		net, err := caffe.Load(e.reg, opts.GraphPath, opts.WeightsPath)
		if err != nil {
			return nil, err
		}
		return caffeBackend{net: net}, nil
	case BackendONNX:
		return newONNXBackend(opts.GraphPath)
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
}

// Infer runs one forward pass. Calls are serialized.
func (e *Engine) Infer(in *tensor.Tensor) (*tensor.Tensor, error) {
	const op = "hed.Infer"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() != Ready || e.backend == nil {
		return nil, apperr.Errorf(apperr.Pipeline, op, "engine is %s", e.State())
	}
	out, err := e.backend.Forward(in)
	if err != nil {
		return nil, apperr.E(apperr.Pipeline, op, err)
	}
	return out, nil
}

// Close releases the backend. The engine cannot be loaded again.
func (e *Engine) Close() error {
	e.closed.Store(true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Store(int32(Unloaded))
	if e.backend == nil {
		return nil
	}
	err := e.backend.Close()
	e.backend = nil
	return err
}

type caffeBackend struct {
	net *caffe.Net
}

func (b caffeBackend) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	return b.net.Forward(in)
}

func (caffeBackend) Close() error { return nil }
