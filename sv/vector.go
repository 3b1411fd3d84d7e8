package sv

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Vector3d is a 3D vector of 64-bit floats, a recommended type for math operations.
type Vector3d = mgl64.Vec3

// Matrix4 is a column-major 4x4 homogeneous transform.
type Matrix4 = mgl64.Mat4

// MulElem returns the element-wise product of two vectors.
func MulElem(a, b Vector3d) Vector3d {
	return Vector3d{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// DivElem returns the element-wise quotient of two vectors.
func DivElem(a, b Vector3d) Vector3d {
	return Vector3d{a[0] / b[0], a[1] / b[1], a[2] / b[2]}
}

// Abs returns the element-wise absolute value.
func Abs(v Vector3d) Vector3d {
	return Vector3d{math.Abs(v[0]), math.Abs(v[1]), math.Abs(v[2])}
}

// PointToVector converts an integer point to floats.
func PointToVector(p Point3d) Vector3d {
	return Vector3d{float64(p[0]), float64(p[1]), float64(p[2])}
}

// ChunkToVector converts a chunk coordinate to floats.
func ChunkToVector(c ChunkPoint3d) Vector3d {
	return Vector3d{float64(c[0]), float64(c[1]), float64(c[2])}
}

// FloorChunk returns the chunk coordinate of floor(v).
func FloorChunk(v Vector3d) ChunkPoint3d {
	return ChunkPoint3d{clampInt32(math.Floor(v[0])), clampInt32(math.Floor(v[1])), clampInt32(math.Floor(v[2]))}
}

// CeilChunk returns the chunk coordinate of ceil(v).
func CeilChunk(v Vector3d) ChunkPoint3d {
	return ChunkPoint3d{clampInt32(math.Ceil(v[0])), clampInt32(math.Ceil(v[1])), clampInt32(math.Ceil(v[2]))}
}

func clampInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(f)
	}
}

// TransformPoint applies an affine transform to a point.
func TransformPoint(m Matrix4, p Vector3d) Vector3d {
	return mgl64.TransformCoordinate(p, m)
}

// TransformVector applies the linear part of an affine transform to a direction.
func TransformVector(m Matrix4, v Vector3d) Vector3d {
	return mgl64.TransformNormal(v, m)
}

// Invertible returns true if the transform can be inverted.
func Invertible(m Matrix4) bool {
	det := m.Det()
	return det != 0 && !math.IsNaN(det) && !math.IsInf(det, 0)
}

// MatrixFromSlice returns a transform from 16 column-major values.
func MatrixFromSlice(vals []float64) (Matrix4, error) {
	var m Matrix4
	if len(vals) != 16 {
		return m, fmt.Errorf("transform needs 16 values, got %d", len(vals))
	}
	copy(m[:], vals)
	return m, nil
}

// ParseVector3d parses a string of format "%f<sep>%f<sep>%f".
func ParseVector3d(str, separator string) (Vector3d, error) {
	elems := strings.Split(str, separator)
	if len(elems) != 3 {
		return Vector3d{}, fmt.Errorf("Can't convert string '%s' (length %d) to Vector3d", str, len(elems))
	}
	var v Vector3d
	var err error
	for i, elem := range elems {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(elem), 64)
		if err != nil {
			return Vector3d{}, err
		}
	}
	return v, nil
}

// VectorString returns a compact "x,y,z" representation.
func VectorString(v Vector3d) string {
	return fmt.Sprintf("%g,%g,%g", v[0], v[1], v[2])
}
