package chunk

import (
	"fmt"
	"math"
	"runtime"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/janelia-flyem/sliceview/sv"
)

func vecNear(a, b sv.Vector3d) bool {
	return a.ApproxEqualThreshold(b, 1e-9)
}

func TestRegistryInterning(t *testing.T) {
	r := NewRegistry()
	size := sv.Vector3d{64, 64, 64}
	l1, err := r.Get(size, mgl64.Ident4())
	if err != nil {
		t.Fatalf("unable to get layout: %v\n", err)
	}
	l2, err := r.Get(size, mgl64.Ident4())
	if err != nil {
		t.Fatalf("unable to get layout: %v\n", err)
	}
	if l1 != l2 {
		t.Errorf("expected identical layouts to be shared, got %p and %p\n", l1, l2)
	}
	l3, err := r.Get(sv.Vector3d{32, 64, 64}, mgl64.Ident4())
	if err != nil {
		t.Fatalf("unable to get layout: %v\n", err)
	}
	if l3 == l1 {
		t.Errorf("different chunk sizes should not share a layout\n")
	}
	if n := r.Len(); n != 2 {
		t.Errorf("expected 2 live layouts, got %d\n", n)
	}
	runtime.KeepAlive(l1)
	runtime.KeepAlive(l3)
	if _, err := r.Get(sv.Vector3d{64, 0, 64}, mgl64.Ident4()); err == nil {
		t.Errorf("expected error for zero chunk size\n")
	}
	if _, err := r.Get(size, mgl64.Scale3D(1, 0, 1)); err == nil {
		t.Errorf("expected error for singular transform\n")
	}
}

func TestLayoutForSpec(t *testing.T) {
	spec := Spec{
		VoxelSize:       sv.Vector3d{4, 4, 40},
		VoxelOffset:     sv.Point3d{10, 0, 0},
		ChunkDataSize:   sv.Point3d{64, 64, 16},
		LowerVoxelBound: sv.Point3d{0, 0, 0},
		UpperVoxelBound: sv.Point3d{1000, 1000, 100},
	}
	r := NewRegistry()
	layout, err := r.ForSpec(spec, mgl64.Ident4())
	if err != nil {
		t.Fatalf("bad layout: %v\n", err)
	}
	if !vecNear(layout.VoxelSize(), sv.Vector3d{4, 4, 40}) {
		t.Errorf("bad voxel size: %s\n", sv.VectorString(layout.VoxelSize()))
	}
	if !vecNear(layout.Size(), sv.Vector3d{64, 64, 16}) {
		t.Errorf("bad chunk size: %s\n", sv.VectorString(layout.Size()))
	}
	local := layout.GlobalToLocalSpatial(sv.Vector3d{40 + 4*64, 8, 400})
	if !vecNear(local, sv.Vector3d{64, 2, 10}) {
		t.Errorf("bad global to local: %s\n", sv.VectorString(local))
	}
	dir := layout.GlobalToLocalVector(sv.Vector3d{0, 0, 1})
	if !vecNear(dir, sv.Vector3d{0, 0, 1.0 / 40}) {
		t.Errorf("bad global to local vector: %s\n", sv.VectorString(dir))
	}
	lower, size := layout.ComputeChunkBounds(sv.ChunkPoint3d{1, 0, 2})
	if !vecNear(lower, sv.Vector3d{40 + 256, 0, 1280}) {
		t.Errorf("bad chunk lower bound: %s\n", sv.VectorString(lower))
	}
	if !vecNear(size, sv.Vector3d{64, 64, 16}) {
		t.Errorf("bad chunk data size: %s\n", sv.VectorString(size))
	}
	center := layout.ChunkCenter(sv.ChunkPoint3d{0, 1, 0})
	if !vecNear(center, sv.Vector3d{32, 96, 8}) {
		t.Errorf("bad chunk center: %s\n", sv.VectorString(center))
	}

	// A rotated layer transform changes the layout but keeps voxel sizes.
	rotated, err := r.ForSpec(spec, mgl64.HomogRotate3DZ(math.Pi/2))
	if err != nil {
		t.Fatalf("bad layout: %v\n", err)
	}
	if rotated == layout {
		t.Errorf("expected rotated transform to yield a new layout\n")
	}
	if !vecNear(rotated.VoxelSize(), sv.Vector3d{4, 4, 40}) {
		t.Errorf("bad rotated voxel size: %s\n", sv.VectorString(rotated.VoxelSize()))
	}
	g := rotated.LocalToGlobalSpatial(sv.Vector3d{1, 0, 0})
	back := rotated.GlobalToLocalSpatial(g)
	if !vecNear(back, sv.Vector3d{1, 0, 0}) {
		t.Errorf("round trip through rotated layout gave %s\n", sv.VectorString(back))
	}
}

func TestSpecChunkBounds(t *testing.T) {
	tests := []struct {
		lower, upper   sv.Point3d
		lowerC, upperC sv.ChunkPoint3d
	}{
		{sv.Point3d{0, 0, 0}, sv.Point3d{64, 64, 64}, sv.ChunkPoint3d{0, 0, 0}, sv.ChunkPoint3d{1, 1, 1}},
		{sv.Point3d{0, 0, 0}, sv.Point3d{65, 128, 1}, sv.ChunkPoint3d{0, 0, 0}, sv.ChunkPoint3d{2, 2, 1}},
		{sv.Point3d{-10, 0, 63}, sv.Point3d{100, 64, 65}, sv.ChunkPoint3d{-1, 0, 0}, sv.ChunkPoint3d{2, 1, 2}},
	}
	for i, tc := range tests {
		spec := Spec{
			VoxelSize:       sv.Vector3d{1, 1, 1},
			ChunkDataSize:   sv.Point3d{64, 64, 64},
			LowerVoxelBound: tc.lower,
			UpperVoxelBound: tc.upper,
		}
		if err := spec.Validate(); err != nil {
			t.Fatalf("test %d: unexpected error: %v\n", i, err)
		}
		if got := spec.LowerChunkBound(); got != tc.lowerC {
			t.Errorf("test %d: expected lower chunk %s, got %s\n", i, tc.lowerC, got)
		}
		if got := spec.UpperChunkBound(); got != tc.upperC {
			t.Errorf("test %d: expected upper chunk %s, got %s\n", i, tc.upperC, got)
		}
	}

	bad := []Spec{
		{VoxelSize: sv.Vector3d{1, 1, 1}, ChunkDataSize: sv.Point3d{0, 64, 64}, UpperVoxelBound: sv.Point3d{1, 1, 1}},
		{VoxelSize: sv.Vector3d{1, -1, 1}, ChunkDataSize: sv.Point3d{64, 64, 64}, UpperVoxelBound: sv.Point3d{1, 1, 1}},
		{VoxelSize: sv.Vector3d{1, 1, 1}, ChunkDataSize: sv.Point3d{64, 64, 64}, UpperVoxelBound: sv.Point3d{1, 0, 1}},
	}
	for i, spec := range bad {
		if err := spec.Validate(); err == nil {
			t.Errorf("bad spec %d passed validation\n", i)
		}
	}
}

func TestSourceChunks(t *testing.T) {
	spec := Spec{
		VoxelSize:       sv.Vector3d{8, 8, 8},
		VoxelOffset:     sv.Point3d{100, 0, 0},
		ChunkDataSize:   sv.Point3d{64, 64, 64},
		UpperVoxelBound: sv.Point3d{100, 64, 200},
	}
	src, err := NewSource("grayscale", spec, nil)
	if err != nil {
		t.Fatalf("unable to create source: %v\n", err)
	}
	c1 := src.GetChunk(sv.ChunkPoint3d{1, 0, 3})
	c2 := src.GetChunk(sv.ChunkPoint3d{1, 0, 3})
	if c1 != c2 {
		t.Errorf("expected cached chunk to be returned\n")
	}
	if c1.Source() != src {
		t.Errorf("chunk has wrong source\n")
	}
	if want := fmt.Sprintf("%d:1,0,3", src.ID()); c1.Key() != want {
		t.Errorf("expected chunk key %q, got %q\n", want, c1.Key())
	}
	src.GetChunk(sv.ChunkPoint3d{0, 0, 0})
	if n := src.NumChunks(); n != 2 {
		t.Errorf("expected 2 chunks, got %d\n", n)
	}
	src.RemoveChunk(c1)
	if n := src.NumChunks(); n != 1 {
		t.Errorf("expected 1 chunk after removal, got %d\n", n)
	}
	if c3 := src.GetChunk(sv.ChunkPoint3d{1, 0, 3}); c3 == c1 {
		t.Errorf("expected new chunk after removal\n")
	}

	if !src.ContainsChunk(sv.ChunkPoint3d{1, 0, 3}) {
		t.Errorf("expected (1,0,3) to be within source\n")
	}
	if src.ContainsChunk(sv.ChunkPoint3d{2, 0, 0}) {
		t.Errorf("expected (2,0,0) to be outside source\n")
	}
	lower, upper := src.VoxelBounds(sv.ChunkPoint3d{1, 0, 3})
	if lower != (sv.Point3d{164, 0, 192}) || upper != (sv.Point3d{200, 64, 200}) {
		t.Errorf("bad clipped voxel bounds %s - %s\n", lower, upper)
	}

	other, err := NewSource("grayscale", spec, nil)
	if err != nil {
		t.Fatalf("unable to create source: %v\n", err)
	}
	if other.ID() == src.ID() {
		t.Errorf("expected distinct source ids\n")
	}
	if other.GetChunk(sv.ChunkPoint3d{1, 0, 3}).Key() == c1.Key() {
		t.Errorf("chunk keys must differ across sources\n")
	}
}
