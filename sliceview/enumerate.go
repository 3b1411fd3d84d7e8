package sliceview

import (
	"math"
	"sort"

	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/sv"
)

// VisibleSource is a source chosen to draw a layer.  PriorityIndex ranks the chosen scales
// of one layer, coarsest 0 and finest highest.
type VisibleSource struct {
	Source        *chunk.Source
	ScaleIndex    int
	PriorityIndex int
}

// ChunkFunc receives one enumerated grid cell along with the sources covering it, finest
// first.  layoutObject is whatever the caller derived for the layout.
type ChunkFunc[T any] func(layout *chunk.Layout, layoutObject T, pos sv.ChunkPoint3d, sources []VisibleSource)

type visibleLayout struct {
	layout  *chunk.Layout
	sources []VisibleSource

	// Union of the sources' chunk bounds, upper exclusive.
	lower, upper sv.ChunkPoint3d
}

func (vl *visibleLayout) add(vs VisibleSource) {
	for _, cur := range vl.sources {
		if cur.Source == vs.Source {
			return
		}
	}
	vl.sources = append(vl.sources, vs)
}

func (vl *visibleLayout) finalize() {
	sort.SliceStable(vl.sources, func(i, j int) bool {
		return vl.sources[i].ScaleIndex < vl.sources[j].ScaleIndex
	})
	vl.lower = sv.MaxChunkPoint3d
	vl.upper = sv.MinChunkPoint3d
	for _, vs := range vl.sources {
		spec := vs.Source.Spec()
		vl.lower.SetMinimum(spec.LowerChunkBound())
		vl.upper.SetMaximum(spec.UpperChunkBound())
	}
}

// forEachChunk walks the grid cells intersecting the bounding box of the rectangle in
// local space and calls fn for each cell covered by at least one source.
func (vl *visibleLayout) forEachChunk(corners [4]sv.Vector3d, fn func(pos sv.ChunkPoint3d, sources []VisibleSource)) int {
	size := vl.layout.Size()
	lo := sv.Vector3d{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := sv.Vector3d{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, corner := range corners {
		p := vl.layout.GlobalToLocalSpatial(corner)
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}
	var lower, upper sv.ChunkPoint3d
	for i := 0; i < 3; i++ {
		l := math.Floor(lo[i] / size[i])
		u := math.Ceil(hi[i] / size[i])
		if u <= l {
			// Flat along this axis, e.g. an axis-aligned plane on a chunk boundary.
			u = l + 1
		}
		l = math.Max(l, float64(vl.lower[i]))
		u = math.Min(u, float64(vl.upper[i]))
		if !(u > l) {
			return 0
		}
		lower[i] = int32(l)
		upper[i] = int32(u)
	}

	var n int
	var pos sv.ChunkPoint3d
	for pos[2] = lower[2]; pos[2] < upper[2]; pos[2]++ {
		for pos[1] = lower[1]; pos[1] < upper[1]; pos[1]++ {
			for pos[0] = lower[0]; pos[0] < upper[0]; pos[0]++ {
				var sources []VisibleSource
				for _, vs := range vl.sources {
					if vs.Source.ContainsChunk(pos) {
						sources = append(sources, vs)
					}
				}
				if len(sources) != 0 {
					fn(pos, sources)
					n++
				}
			}
		}
	}
	return n
}

// chunkSliceArea scores how much of the slice plane one chunk covers.
func chunkSliceArea(ts transformedSource, normal sv.Vector3d) float64 {
	n := ts.layout.GlobalToLocalNormal(normal).Normalize()
	e := sv.MulElem(ts.layout.Size(), ts.layout.VoxelSize())
	return math.Abs(n[0])*e[1]*e[2] + math.Abs(n[1])*e[0]*e[2] + math.Abs(n[2])*e[0]*e[1]
}

const normalAlignedThreshold = 1 - 1e-3

// visibleSourcesForLayer chooses the scales of a layer to draw, walking from the coarsest
// allowed scale toward finer ones while a finer scale still resolves more than a pixel.
// The result is ordered coarsest first.
func (s *SliceView) visibleSourcesForLayer(l *RenderLayer) ([]VisibleSource, []*chunk.Layout, error) {
	minLevel, err := l.constraints.EffectiveMinLevel()
	if err != nil {
		return nil, nil, err
	}
	maxLevel, err := l.constraints.EffectiveMaxLevel()
	if err != nil {
		return nil, nil, err
	}
	scales := l.transformedSources()
	if maxLevel > len(scales)-1 {
		maxLevel = len(scales) - 1
	}
	normal := s.axes[2]

	best := make([]*transformedSource, len(scales))
	smallest := sv.Vector3d{math.Inf(1), math.Inf(1), math.Inf(1)}
	for i := range scales {
		var bestArea float64
		for j := range scales[i] {
			ts := &scales[i][j]
			if area := chunkSliceArea(*ts, normal); best[i] == nil || area > bestArea {
				best[i], bestArea = ts, area
			}
		}
		if best[i] != nil {
			vs := best[i].layout.VoxelSize()
			for k := 0; k < 3; k++ {
				smallest[k] = math.Min(smallest[k], vs[k])
			}
		}
	}

	pixelSize := s.pixelSize * 1.1
	improvesOnPrev := func(size, prev, n sv.Vector3d) bool {
		for i := 0; i < 3; i++ {
			if math.Abs(n[i]) > normalAlignedThreshold {
				continue
			}
			if size[i] < prev[i] && prev[i] > pixelSize {
				return true
			}
		}
		return false
	}
	canImprove := func(size, n sv.Vector3d) bool {
		for i := 0; i < 3; i++ {
			if math.Abs(n[i]) > normalAlignedThreshold {
				continue
			}
			if size[i] > pixelSize && size[i] > 1.01*smallest[i] {
				return true
			}
		}
		return false
	}

	var chosen []VisibleSource
	var layouts []*chunk.Layout
	var prev sv.Vector3d
	for scale := maxLevel; scale >= minLevel; scale-- {
		ts := best[scale]
		if ts == nil {
			continue
		}
		size := ts.layout.VoxelSize()
		n := ts.layout.GlobalToLocalNormal(normal).Normalize()
		if len(chosen) == 0 || improvesOnPrev(size, prev, n) {
			chosen = append(chosen, VisibleSource{Source: ts.source, ScaleIndex: scale, PriorityIndex: len(chosen)})
			layouts = append(layouts, ts.layout)
		}
		prev = size
		if !canImprove(size, n) {
			break
		}
	}
	return chosen, layouts, nil
}

// updateVisibleSources rebuilds the per-layout visible source tables if they are stale.
func (s *SliceView) updateVisibleSources() {
	if !s.visibleSourcesStale {
		return
	}
	s.visibleSourcesStale = false
	byLayout := make(map[*chunk.Layout]*visibleLayout)
	var visible []*visibleLayout
	for _, entry := range s.layers {
		chosen, layouts, err := s.visibleSourcesForLayer(entry.layer)
		if err != nil {
			sv.Criticalf("Unable to choose sources for %s: %v\n", entry.layer, err)
			continue
		}
		for i, vs := range chosen {
			vl, found := byLayout[layouts[i]]
			if !found {
				vl = &visibleLayout{layout: layouts[i]}
				byLayout[layouts[i]] = vl
				visible = append(visible, vl)
			}
			vl.add(vs)
		}
	}
	for _, vl := range visible {
		vl.finalize()
	}
	s.visibleLayouts = visible
}

// VisibleLayouts returns the layouts currently in use, refreshing them if stale.
func (s *SliceView) VisibleLayouts() []*chunk.Layout {
	s.updateVisibleSources()
	layouts := make([]*chunk.Layout, len(s.visibleLayouts))
	for i, vl := range s.visibleLayouts {
		layouts[i] = vl.layout
	}
	return layouts
}

func layoutObjects[T any](s *SliceView, getLayoutObject func(*chunk.Layout) T) []T {
	objs := make([]T, len(s.visibleLayouts))
	for i, vl := range s.visibleLayouts {
		objs[i] = getLayoutObject(vl.layout)
	}
	return objs
}

// ComputeVisibleChunks enumerates the cells of every visible layout that intersect the
// viewport rectangle.
func ComputeVisibleChunks[T any](s *SliceView, getLayoutObject func(*chunk.Layout) T, addChunk ChunkFunc[T]) {
	if !s.HasValidViewport() {
		return
	}
	s.updateVisibleSources()
	computeVisibleChunks(s, layoutObjects(s, getLayoutObject), addChunk)
}

func computeVisibleChunks[T any](s *SliceView, objs []T, addChunk ChunkFunc[T]) {
	corners := ViewportCorners(float64(s.width), float64(s.height), s.viewportToData, 1, 1)
	for i, vl := range s.visibleLayouts {
		layout, obj := vl.layout, objs[i]
		vl.forEachChunk(corners, func(pos sv.ChunkPoint3d, sources []VisibleSource) {
			addChunk(layout, obj, pos, sources)
		})
	}
}

// ComputeVisibleAndPrefetchChunks enumerates the visible cells and, when prefetching is
// enabled, the cells of the prefetch passes: the four strips of the widened rectangle
// around the viewport and copies of the viewport shifted along the plane normal by whole
// viewport voxels.  A viewport without a voxel size falls back to the voxel size of each
// layout.  Each pass is independent, so a cell may be reported more than once.
func ComputeVisibleAndPrefetchChunks[T any](s *SliceView, getLayoutObject func(*chunk.Layout) T, addChunk, addPrefetchChunk ChunkFunc[T]) {
	if !s.HasValidViewport() {
		return
	}
	s.updateVisibleSources()
	objs := layoutObjects(s, getLayoutObject)
	computeVisibleChunks(s, objs, addChunk)
	if !s.prefetch.Enabled {
		return
	}

	width, height := float64(s.width), float64(s.height)
	strips := prefetchStrips(width, height, s.prefetch)
	visible := ViewportCorners(width, height, s.viewportToData, 1, 1)
	for i, vl := range s.visibleLayouts {
		layout, obj := vl.layout, objs[i]
		emit := func(pos sv.ChunkPoint3d, sources []VisibleSource) {
			addPrefetchChunk(layout, obj, pos, sources)
		}
		for _, strip := range strips {
			vl.forEachChunk(strip.corners(s.viewportToData), emit)
		}
		if s.prefetch.DepthSteps <= 0 {
			continue
		}
		voxelSize := s.voxelSize
		if voxelSize[0] <= 0 || voxelSize[1] <= 0 || voxelSize[2] <= 0 {
			voxelSize = layout.VoxelSize()
		}
		nudges := AxisNudges(voxelSize, s.axes, [3]float64{1, 1, 1})
		for step := 1; step <= s.prefetch.DepthSteps; step++ {
			for _, dir := range []float64{1, -1} {
				var shifted [4]sv.Vector3d
				for c := range visible {
					shifted[c] = MoveVertex(visible[c], nudges, [3]float64{0, 0, dir * float64(step)})
				}
				vl.forEachChunk(shifted, emit)
			}
		}
	}
}
