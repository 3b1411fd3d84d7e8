package chunk

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/janelia-flyem/sliceview/sv"
)

// Layout is the chunk grid of one resolution level.  Local coordinates are voxel
// coordinates of that level measured from the grid origin; the transform maps them
// into global (physical) coordinates.
type Layout struct {
	size         sv.Vector3d
	transform    sv.Matrix4
	invTransform sv.Matrix4
	voxelSize    sv.Vector3d
	key          string
}

func layoutKey(size sv.Vector3d, transform sv.Matrix4) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%g_%g_%g", size[0], size[1], size[2])
	for _, v := range transform {
		fmt.Fprintf(&b, "|%g", v)
	}
	return b.String()
}

func newLayout(size sv.Vector3d, transform sv.Matrix4) (*Layout, error) {
	for i := 0; i < 3; i++ {
		if !(size[i] > 0) {
			return nil, fmt.Errorf("chunk size must be positive, got %s", sv.VectorString(size))
		}
	}
	if !sv.Invertible(transform) {
		return nil, fmt.Errorf("chunk layout transform is not invertible: %v", transform)
	}
	l := &Layout{
		size:         size,
		transform:    transform,
		invTransform: transform.Inv(),
		key:          layoutKey(size, transform),
	}
	for i := 0; i < 3; i++ {
		l.voxelSize[i] = transform.Col(i).Vec3().Len()
	}
	return l, nil
}

// Size returns the chunk size in local units.
func (l *Layout) Size() sv.Vector3d {
	return l.size
}

// Transform returns the local to global transform.
func (l *Layout) Transform() sv.Matrix4 {
	return l.transform
}

// VoxelSize returns the global length of one local unit along each local axis.
func (l *Layout) VoxelSize() sv.Vector3d {
	return l.voxelSize
}

// Key returns the canonical key used to intern the layout.
func (l *Layout) Key() string {
	return l.key
}

// GlobalToLocalSpatial maps a global point into the layout's local space.
func (l *Layout) GlobalToLocalSpatial(global sv.Vector3d) sv.Vector3d {
	return sv.TransformPoint(l.invTransform, global)
}

// GlobalToLocalVector maps a global direction into local space, ignoring translation.
func (l *Layout) GlobalToLocalVector(global sv.Vector3d) sv.Vector3d {
	return sv.TransformVector(l.invTransform, global)
}

// GlobalToLocalNormal maps a global plane normal into local space.  The result is not
// normalized.
func (l *Layout) GlobalToLocalNormal(normal sv.Vector3d) sv.Vector3d {
	return sv.TransformVector(l.transform.Transpose(), normal)
}

// LocalToGlobalSpatial maps a local point into global space.
func (l *Layout) LocalToGlobalSpatial(local sv.Vector3d) sv.Vector3d {
	return sv.TransformPoint(l.transform, local)
}

// ComputeChunkBounds returns the global position of the lower corner of a chunk and the
// chunk's data size in local units.
func (l *Layout) ComputeChunkBounds(pos sv.ChunkPoint3d) (lowerGlobal, chunkDataSize sv.Vector3d) {
	lowerLocal := sv.MulElem(sv.ChunkToVector(pos), l.size)
	return l.LocalToGlobalSpatial(lowerLocal), l.size
}

// ChunkCenter returns the local coordinate of the center of a chunk.
func (l *Layout) ChunkCenter(pos sv.ChunkPoint3d) sv.Vector3d {
	v := sv.ChunkToVector(pos).Add(mgl64.Vec3{0.5, 0.5, 0.5})
	return sv.MulElem(v, l.size)
}

func (l *Layout) String() string {
	return fmt.Sprintf("chunk layout size %s, voxel size %s", sv.VectorString(l.size), sv.VectorString(l.voxelSize))
}
