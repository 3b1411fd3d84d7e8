package sliceview

import (
	"fmt"
	"math"

	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/mip"
	"github.com/janelia-flyem/sliceview/sv"
)

type transformedSource struct {
	source *chunk.Source
	layout *chunk.Layout
}

// RenderLayer is a set of sources drawn together.  sources[i] holds the alternative
// sources of scale i, ordered finest scale first.
type RenderLayer struct {
	name        string
	registry    *chunk.Registry
	sources     [][]*chunk.Source
	transform   sv.Matrix4
	constraints *mip.Constraints

	transformed      [][]transformedSource
	transformedStale bool

	watchers  map[int]func()
	nextWatch int
}

// NewRenderLayer validates the sources and transform and creates MIP level constraints
// with one level per scale.  Setup failures are returned as *sv.ConfigError.
func NewRenderLayer(name string, registry *chunk.Registry, sources [][]*chunk.Source, transform sv.Matrix4, state mip.State) (*RenderLayer, error) {
	if len(sources) == 0 {
		return nil, sv.NewConfigError(name, fmt.Errorf("layer has no sources"))
	}
	for i, alternatives := range sources {
		if len(alternatives) == 0 {
			return nil, sv.NewConfigError(name, fmt.Errorf("scale %d has no sources", i))
		}
	}
	if !sv.Invertible(transform) {
		return nil, sv.NewConfigError(name, fmt.Errorf("transform is not invertible"))
	}
	constraints, err := mip.New(state.MinMIPLevel, state.MaxMIPLevel, nil)
	if err != nil {
		return nil, sv.NewConfigError(name, err)
	}
	if err := constraints.SetNumberOfLevels(len(sources)); err != nil {
		return nil, sv.NewConfigError(name, err)
	}
	l := &RenderLayer{
		name:             name,
		registry:         registry,
		sources:          sources,
		transform:        transform,
		constraints:      constraints,
		transformedStale: true,
		watchers:         make(map[int]func()),
	}
	constraints.OnChange(l.changed)
	return l, nil
}

func (l *RenderLayer) Name() string {
	return l.name
}

// Sources returns the alternatives per scale.
func (l *RenderLayer) Sources() [][]*chunk.Source {
	return l.sources
}

func (l *RenderLayer) Transform() sv.Matrix4 {
	return l.transform
}

// SetTransform replaces the layer transform.  It returns false if the transform is unchanged.
func (l *RenderLayer) SetTransform(transform sv.Matrix4) (bool, error) {
	if !sv.Invertible(transform) {
		return false, fmt.Errorf("layer %q: transform is not invertible", l.name)
	}
	if transform == l.transform {
		return false, nil
	}
	l.transform = transform
	l.transformedStale = true
	l.changed()
	return true, nil
}

func (l *RenderLayer) Constraints() *mip.Constraints {
	return l.constraints
}

// RestoreMIPLevels replaces both MIP level bounds.
func (l *RenderLayer) RestoreMIPLevels(minLevel, maxLevel *int) error {
	if err := l.constraints.RestoreState(minLevel, maxLevel); err != nil {
		return sv.NewConfigError(l.name, err)
	}
	return nil
}

// MIPState returns the persisted MIP level bounds.
func (l *RenderLayer) MIPState() mip.State {
	return l.constraints.State()
}

// VoxelSizePerMIPLevel returns the global voxel size of each scale, taking the smallest
// size per axis over the alternatives.
func (l *RenderLayer) VoxelSizePerMIPLevel() []sv.Vector3d {
	var axisScale sv.Vector3d
	for i := 0; i < 3; i++ {
		axisScale[i] = l.transform.Col(i).Vec3().Len()
	}
	sizes := make([]sv.Vector3d, len(l.sources))
	for i, alternatives := range l.sources {
		size := sv.Vector3d{math.Inf(1), math.Inf(1), math.Inf(1)}
		for _, src := range alternatives {
			vs := sv.MulElem(src.Spec().VoxelSize, axisScale)
			for j := 0; j < 3; j++ {
				size[j] = math.Min(size[j], vs[j])
			}
		}
		sizes[i] = size
	}
	return sizes
}

// OnChange registers a function called when the transform or MIP constraints change.
func (l *RenderLayer) OnChange(fn func()) (remove func()) {
	id := l.nextWatch
	l.nextWatch++
	l.watchers[id] = fn
	return func() {
		delete(l.watchers, id)
	}
}

func (l *RenderLayer) changed() {
	for _, fn := range l.watchers {
		fn()
	}
}

// transformedSources returns each source paired with its layout under the current
// transform.  Sources whose layout cannot be built are logged and left out.
func (l *RenderLayer) transformedSources() [][]transformedSource {
	if !l.transformedStale {
		return l.transformed
	}
	l.transformed = make([][]transformedSource, len(l.sources))
	for i, alternatives := range l.sources {
		for _, src := range alternatives {
			layout, err := l.registry.ForSpec(src.Spec(), l.transform)
			if err != nil {
				sv.Errorf("Layer %q: skipping %s at scale %d: %v\n", l.name, src, i, err)
				continue
			}
			l.transformed[i] = append(l.transformed[i], transformedSource{source: src, layout: layout})
		}
	}
	l.transformedStale = false
	return l.transformed
}

func (l *RenderLayer) String() string {
	return fmt.Sprintf("render layer %q (%d scales, %s)", l.name, len(l.sources), l.constraints)
}
