package sv

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point3d is an ordered list of three 32-bit signed integers, e.g., a voxel coordinate.
type Point3d [3]int32

// Add returns the addition of two points.
func (p Point3d) Add(p2 Point3d) Point3d {
	return Point3d{p[0] + p2[0], p[1] + p2[1], p[2] + p2[2]}
}

// Sub returns the subtraction of the passed point from the receiver.
func (p Point3d) Sub(p2 Point3d) Point3d {
	return Point3d{p[0] - p2[0], p[1] - p2[1], p[2] - p2[2]}
}

// Prod returns the product of the point elements.
func (p Point3d) Prod() int64 {
	return int64(p[0]) * int64(p[1]) * int64(p[2])
}

// Positive returns true if every element is > 0.
func (p Point3d) Positive() bool {
	return p[0] > 0 && p[1] > 0 && p[2] > 0
}

func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}

// Chunk returns the chunk space coordinate of the chunk containing the point.
func (p Point3d) Chunk(size Point3d) ChunkPoint3d {
	var c ChunkPoint3d
	for i := 0; i < 3; i++ {
		if p[i] < 0 {
			c[i] = (p[i] - size[i] + 1) / size[i]
		} else {
			c[i] = p[i] / size[i]
		}
	}
	return c
}

// ChunkPoint3d handles 3d signed chunk coordinates.
type ChunkPoint3d [3]int32

var (
	MaxChunkPoint3d = ChunkPoint3d{math.MaxInt32, math.MaxInt32, math.MaxInt32}
	MinChunkPoint3d = ChunkPoint3d{math.MinInt32, math.MinInt32, math.MinInt32}
)

func (c ChunkPoint3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2])
}

// Key returns the canonical string used to look up a chunk in a map.
func (c ChunkPoint3d) Key() string {
	return strconv.Itoa(int(c[0])) + "," + strconv.Itoa(int(c[1])) + "," + strconv.Itoa(int(c[2]))
}

// SetMinimum sets the point to the minimum elements of current and passed points.
func (c *ChunkPoint3d) SetMinimum(c2 ChunkPoint3d) {
	for i := 0; i < 3; i++ {
		if c[i] > c2[i] {
			c[i] = c2[i]
		}
	}
}

// SetMaximum sets the point to the maximum elements of current and passed points.
func (c *ChunkPoint3d) SetMaximum(c2 ChunkPoint3d) {
	for i := 0; i < 3; i++ {
		if c[i] < c2[i] {
			c[i] = c2[i]
		}
	}
}

// MinPoint returns the smallest voxel coordinate of the given 3d chunk.
func (c ChunkPoint3d) MinPoint(size Point3d) Point3d {
	return Point3d{
		c[0] * size[0],
		c[1] * size[1],
		c[2] * size[2],
	}
}

// MaxPoint returns the maximum voxel coordinate of the given 3d chunk.
func (c ChunkPoint3d) MaxPoint(size Point3d) Point3d {
	return Point3d{
		(c[0]+1)*size[0] - 1,
		(c[1]+1)*size[1] - 1,
		(c[2]+1)*size[2] - 1,
	}
}

// Within returns true if the chunk lies in the half-open range [lower, upper).
func (c ChunkPoint3d) Within(lower, upper ChunkPoint3d) bool {
	for i := 0; i < 3; i++ {
		if c[i] < lower[i] || c[i] >= upper[i] {
			return false
		}
	}
	return true
}

// ParseChunkPoint3d parses a string of format "%d<sep>%d<sep>%d" into a ChunkPoint3d.
func ParseChunkPoint3d(str, separator string) (ChunkPoint3d, error) {
	p, err := ParsePoint3d(str, separator)
	return ChunkPoint3d(p), err
}

// ParsePoint3d parses a string of format "%d<sep>%d<sep>%d" into a Point3d.
func ParsePoint3d(str, separator string) (Point3d, error) {
	elems := strings.Split(str, separator)
	if len(elems) != 3 {
		return Point3d{}, fmt.Errorf("can't convert string %q (length %d) to 3d point", str, len(elems))
	}
	var p Point3d
	for i, elem := range elems {
		n, err := strconv.ParseInt(strings.TrimSpace(elem), 10, 32)
		if err != nil {
			return Point3d{}, err
		}
		p[i] = int32(n)
	}
	return p, nil
}
