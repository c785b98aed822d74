// Package caffe runs Caffe network definitions (prototxt + caffemodel) on the
// CPU. Layer implementations are looked up by type name in a Registry; the
// built-in set covers the layers edge-detection graphs use, and callers
// register any custom types before loading a graph that references them.
package caffe

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/krau/sketchline/tensor"
)

var (
	ErrLayerRegistered = errors.New("layer type already registered")
	ErrUnknownLayer    = errors.New("unknown layer type")
)

// Layer computes its tops from its bottoms. Implementations must not
// modify their inputs unless the layer was declared in place.
type Layer interface {
	Forward(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Factory builds a layer from its definition and trained blobs. blobs is nil
// for layers without weights.
type Factory func(def *LayerDef, blobs []*Blob) (Layer, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in layer types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory, len(builtinLayers))}
	for name, f := range builtinLayers {
		r.factories[name] = f
	}
	return r
}

// Register adds a layer type. Registering a name twice is an error.
func (r *Registry) Register(typ string, f Factory) error {
	if typ == "" || f == nil {
		return fmt.Errorf("invalid layer registration %q", typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("%w: %s", ErrLayerRegistered, typ)
	}
	r.factories[typ] = f
	return nil
}

func (r *Registry) Lookup(typ string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

// Types lists registered layer types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
