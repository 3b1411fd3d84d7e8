package sliceview

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/chunkmanager"
	"github.com/janelia-flyem/sliceview/mip"
	"github.com/janelia-flyem/sliceview/sv"
)

type recordedRequest struct {
	chunk    *chunk.Chunk
	tier     chunkmanager.Tier
	priority float64
}

type recorder struct {
	requests []recordedRequest
}

func (r *recorder) RequestChunk(c *chunk.Chunk, tier chunkmanager.Tier, priority float64) {
	r.requests = append(r.requests, recordedRequest{c, tier, priority})
}

func (r *recorder) reset() {
	r.requests = nil
}

func (r *recorder) count(tier chunkmanager.Tier) int {
	var n int
	for _, req := range r.requests {
		if req.tier == tier {
			n++
		}
	}
	return n
}

func newTestSource(t *testing.T, name string, voxelSize float64, chunkSize sv.Point3d, upper int32) *chunk.Source {
	spec := chunk.Spec{
		VoxelSize:       sv.Vector3d{voxelSize, voxelSize, voxelSize},
		ChunkDataSize:   chunkSize,
		UpperVoxelBound: sv.Point3d{upper, upper, upper},
	}
	src, err := chunk.NewSource(name, spec, nil)
	if err != nil {
		t.Fatalf("unable to create source %q: %v\n", name, err)
	}
	return src
}

func newTestLayer(t *testing.T, reg *chunk.Registry, scales ...[]*chunk.Source) *RenderLayer {
	l, err := NewRenderLayer("test", reg, scales, mgl64.Ident4(), mip.State{})
	if err != nil {
		t.Fatalf("unable to create render layer: %v\n", err)
	}
	return l
}

// twoScaleLayer returns a layer with a 256^3 volume at scale 0 and the same extent at
// half resolution at scale 1, both in 64^3 chunks.
func twoScaleLayer(t *testing.T, reg *chunk.Registry) (*RenderLayer, *chunk.Source, *chunk.Source) {
	s0 := newTestSource(t, "s0", 1, sv.Point3d{64, 64, 64}, 256)
	s1 := newTestSource(t, "s1", 2, sv.Point3d{64, 64, 64}, 128)
	return newTestLayer(t, reg, []*chunk.Source{s0}, []*chunk.Source{s1}), s0, s1
}

// axisView looks down the z axis at center with the given global size per pixel.
func axisView(center sv.Vector3d, pixelSize float64) sv.Matrix4 {
	return mgl64.Translate3D(center[0], center[1], center[2]).Mul4(mgl64.Scale3D(pixelSize, pixelSize, pixelSize))
}

func noLayoutObject(*chunk.Layout) struct{} {
	return struct{}{}
}

type cell struct {
	layout *chunk.Layout
	pos    sv.ChunkPoint3d
}

func collectCells(s *SliceView) map[cell][]VisibleSource {
	cells := make(map[cell][]VisibleSource)
	ComputeVisibleChunks(s, noLayoutObject, func(layout *chunk.Layout, _ struct{}, pos sv.ChunkPoint3d, sources []VisibleSource) {
		cells[cell{layout, pos}] = append([]VisibleSource(nil), sources...)
	})
	return cells
}
