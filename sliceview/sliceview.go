package sliceview

import (
	"fmt"
	"math"

	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/chunkmanager"
	"github.com/janelia-flyem/sliceview/sv"
)

const (
	// BasePriority separates slice view requests from other users of the same queue.
	BasePriority = -1e12

	// ScalePriorityMultiplier keeps scale ordering ahead of any distance term.
	ScalePriorityMultiplier = 1e9
)

// ChunkPriority combines the request priority of one chunk.
func ChunkPriority(visibility, distance float64, priorityIndex int) float64 {
	return BasePriority + chunkmanager.BasePriority(visibility) - distance + ScalePriorityMultiplier*float64(priorityIndex)
}

// ChunkRequester receives chunk requests.  Requests must be idempotent upserts.
type ChunkRequester interface {
	RequestChunk(c *chunk.Chunk, tier chunkmanager.Tier, priority float64)
}

type layerEntry struct {
	layer  *RenderLayer
	remove func()
}

// SliceView schedules the chunks of one viewport.  It is not safe for concurrent use;
// its owner serializes all calls.
type SliceView struct {
	requester  ChunkRequester
	prefetch   PrefetchConfig
	visibility float64

	width, height     int
	viewportToData    sv.Matrix4
	hasViewportToData bool
	voxelSize         sv.Vector3d
	axes              [3]sv.Vector3d
	center            sv.Vector3d
	pixelSize         float64

	layers              []*layerEntry
	visibleLayouts      []*visibleLayout
	visibleSourcesStale bool

	dirty          bool
	recomputations int
}

// New returns a fully visible slice view without a viewport.
func New(requester ChunkRequester, prefetch PrefetchConfig) *SliceView {
	return &SliceView{
		requester:           requester,
		prefetch:            prefetch,
		visibility:          math.Inf(1),
		visibleSourcesStale: true,
	}
}

func (s *SliceView) invalidate() {
	s.dirty = true
}

func (s *SliceView) invalidateVisibleSources() {
	s.visibleSourcesStale = true
	s.dirty = true
}

// SetViewportSize sets the viewport size in pixels.  Negative sizes are treated as 0.
func (s *SliceView) SetViewportSize(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	if width == s.width && height == s.height {
		return
	}
	s.width, s.height = width, height
	s.invalidateVisibleSources()
}

// SetViewportToData sets the transform from viewport pixels to global coordinates and the
// voxel size used for prefetch nudges.
func (s *SliceView) SetViewportToData(viewportToData sv.Matrix4, voxelSize sv.Vector3d) {
	if s.hasViewportToData && viewportToData == s.viewportToData && voxelSize == s.voxelSize {
		return
	}
	s.viewportToData = viewportToData
	s.voxelSize = voxelSize
	s.hasViewportToData = true
	for i := 0; i < 3; i++ {
		var unit sv.Vector3d
		unit[i] = 1
		a := sv.TransformVector(viewportToData, unit)
		length := a.Len()
		if i == 0 {
			s.pixelSize = length
		}
		if length > 0 {
			a = a.Mul(1 / length)
		}
		s.axes[i] = a
	}
	s.center = sv.TransformPoint(viewportToData, sv.Vector3d{})
	s.invalidateVisibleSources()
}

// HasValidViewport returns true once the view has a non-empty size and a usable transform.
func (s *SliceView) HasValidViewport() bool {
	if s.width <= 0 || s.height <= 0 || !s.hasViewportToData {
		return false
	}
	return s.pixelSize > 0 && !math.IsInf(s.pixelSize, 0) && !math.IsNaN(s.pixelSize)
}

func (s *SliceView) Width() int {
	return s.width
}

func (s *SliceView) Height() int {
	return s.height
}

// Center returns the global position of the viewport center.
func (s *SliceView) Center() sv.Vector3d {
	return s.center
}

// ViewportAxes returns the unit x, y and normal axes of the viewport in global space.
func (s *SliceView) ViewportAxes() [3]sv.Vector3d {
	return s.axes
}

// PixelSize returns the global length of one viewport pixel.
func (s *SliceView) PixelSize() float64 {
	return s.pixelSize
}

func (s *SliceView) VoxelSize() sv.Vector3d {
	return s.voxelSize
}

func (s *SliceView) Visibility() float64 {
	return s.visibility
}

// SetVisibility sets the visibility weighting.  -Inf stops all requests from this view.
func (s *SliceView) SetVisibility(visibility float64) {
	if visibility == s.visibility {
		return
	}
	s.visibility = visibility
	s.invalidate()
}

func (s *SliceView) PrefetchConfig() PrefetchConfig {
	return s.prefetch
}

// SetPrefetchEnabled toggles prefetching.  Setting the current value is not a change.
func (s *SliceView) SetPrefetchEnabled(enabled bool) {
	if enabled == s.prefetch.Enabled {
		return
	}
	s.prefetch.Enabled = enabled
	s.invalidate()
}

// SetPrefetchConfig replaces the prefetch settings.
func (s *SliceView) SetPrefetchConfig(cfg PrefetchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg == s.prefetch {
		return nil
	}
	s.prefetch = cfg
	s.invalidate()
	return nil
}

// AddVisibleLayer attaches a render layer.  Adding an attached layer does nothing.
func (s *SliceView) AddVisibleLayer(l *RenderLayer) {
	for _, entry := range s.layers {
		if entry.layer == l {
			return
		}
	}
	s.layers = append(s.layers, &layerEntry{layer: l, remove: l.OnChange(s.invalidateVisibleSources)})
	s.invalidateVisibleSources()
}

// RemoveVisibleLayer detaches a render layer and returns false if it was not attached.
func (s *SliceView) RemoveVisibleLayer(l *RenderLayer) bool {
	for i, entry := range s.layers {
		if entry.layer == l {
			entry.remove()
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			s.invalidateVisibleSources()
			return true
		}
	}
	return false
}

// VisibleLayers returns the attached layers in attachment order.
func (s *SliceView) VisibleLayers() []*RenderLayer {
	layers := make([]*RenderLayer, len(s.layers))
	for i, entry := range s.layers {
		layers[i] = entry.layer
	}
	return layers
}

// Dispose detaches every layer.
func (s *SliceView) Dispose() {
	for _, entry := range s.layers {
		entry.remove()
	}
	s.layers = nil
	s.visibleLayouts = nil
	s.dirty = false
}

// Pending returns true if state changed since the last Recompute.
func (s *SliceView) Pending() bool {
	return s.dirty
}

// Recomputations returns how many times Recompute emitted requests.
func (s *SliceView) Recomputations() int {
	return s.recomputations
}

// Recompute re-emits every request of the view.  Without a valid viewport or with -Inf
// visibility it emits nothing.
func (s *SliceView) Recompute() {
	s.dirty = false
	if !s.HasValidViewport() || math.IsInf(s.visibility, -1) {
		return
	}
	s.recomputations++

	visibleTier := chunkmanager.PriorityTier(s.visibility)
	prefetchTier := chunkmanager.PriorityTier(math.Inf(-1))
	localCenter := func(layout *chunk.Layout) sv.Vector3d {
		return layout.GlobalToLocalSpatial(s.center)
	}
	request := func(tier chunkmanager.Tier) ChunkFunc[sv.Vector3d] {
		return func(layout *chunk.Layout, center sv.Vector3d, pos sv.ChunkPoint3d, sources []VisibleSource) {
			distance := layout.ChunkCenter(pos).Sub(center).Len()
			for _, vs := range sources {
				priority := ChunkPriority(s.visibility, distance, vs.PriorityIndex)
				s.requester.RequestChunk(vs.Source.GetChunk(pos), tier, priority)
			}
		}
	}
	ComputeVisibleAndPrefetchChunks(s, localCenter, request(visibleTier), request(prefetchTier))
}

func (s *SliceView) String() string {
	return fmt.Sprintf("slice view %dx%d at %s with %d layers", s.width, s.height, sv.VectorString(s.center), len(s.layers))
}
