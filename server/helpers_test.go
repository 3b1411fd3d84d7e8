package server

import (
	"fmt"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/sv"
)

type testVolume struct {
	sources [][]*chunk.Source
}

func (v testVolume) Sources() [][]*chunk.Source {
	return v.sources
}

// newTestVolume returns a 256^3 volume of 64^3 chunks with a second scale at half
// resolution.
func newTestVolume(t *testing.T) testVolume {
	var vol testVolume
	for level, voxelSize := range []float64{1, 2} {
		upper := int32(256 >> level)
		spec := chunk.Spec{
			VoxelSize:       sv.Vector3d{voxelSize, voxelSize, voxelSize},
			ChunkDataSize:   sv.Point3d{64, 64, 64},
			UpperVoxelBound: sv.Point3d{upper, upper, upper},
		}
		src, err := chunk.NewSource(fmt.Sprintf("s%d", level), spec, nil)
		if err != nil {
			t.Fatalf("unable to create test source: %v\n", err)
		}
		vol.sources = append(vol.sources, []*chunk.Source{src})
	}
	return vol
}

// testViewport is centered at (128, 128, 32) with one global unit per pixel, looking
// down the z axis.
func testViewport() []float64 {
	m := mgl64.Translate3D(128, 128, 32)
	return m[:]
}

// visibleCells of the 100x50 test viewport at the finest scale.
var visibleCells = map[string]bool{
	"(1,1,0)": true,
	"(2,1,0)": true,
	"(1,2,0)": true,
	"(2,2,0)": true,
}
