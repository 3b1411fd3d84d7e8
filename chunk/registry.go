package chunk

import (
	"runtime"
	"sync"
	"weak"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/janelia-flyem/sliceview/sv"
)

// Registry interns layouts so that every distinct (chunk size, transform) pair maps
// to a single shared *Layout.  Entries are held weakly and disappear once no render
// layer references the layout any more.
type Registry struct {
	mu      sync.Mutex
	layouts map[string]weak.Pointer[Layout]
}

// NewRegistry returns an empty layout registry.
func NewRegistry() *Registry {
	return &Registry{layouts: make(map[string]weak.Pointer[Layout])}
}

// Get returns the shared layout with the given chunk size (local units) and local to
// global transform, creating it if necessary.
func (r *Registry) Get(size sv.Vector3d, transform sv.Matrix4) (*Layout, error) {
	key := layoutKey(size, transform)
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, found := r.layouts[key]; found {
		if l := wp.Value(); l != nil {
			return l, nil
		}
	}
	l, err := newLayout(size, transform)
	if err != nil {
		return nil, err
	}
	wp := weak.Make(l)
	r.layouts[key] = wp
	runtime.AddCleanup(l, r.forget, layoutRef{key, wp})
	return l, nil
}

type layoutRef struct {
	key string
	wp  weak.Pointer[Layout]
}

func (r *Registry) forget(ref layoutRef) {
	r.mu.Lock()
	if cur, found := r.layouts[ref.key]; found && cur == ref.wp {
		delete(r.layouts, ref.key)
	}
	r.mu.Unlock()
}

// ForSpec returns the layout for a volume spec placed in global space by the given layer
// transform.  Local space is the spec's voxel grid measured from its voxel offset.
func (r *Registry) ForSpec(spec Spec, layerTransform sv.Matrix4) (*Layout, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	offset := sv.MulElem(sv.PointToVector(spec.VoxelOffset), spec.VoxelSize)
	transform := layerTransform.
		Mul4(mgl64.Translate3D(offset[0], offset[1], offset[2])).
		Mul4(mgl64.Scale3D(spec.VoxelSize[0], spec.VoxelSize[1], spec.VoxelSize[2]))
	return r.Get(sv.PointToVector(spec.ChunkDataSize), transform)
}

// Len returns the number of live layouts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, wp := range r.layouts {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}
