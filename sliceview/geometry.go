package sliceview

import (
	"fmt"

	"github.com/janelia-flyem/sliceview/sv"
)

// RectangleCorners maps the viewport rectangle [x0,x1] x [y0,y1] (pixels, origin at the
// viewport center) into global space.  Corners are ordered (x0,y0), (x0,y1), (x1,y0), (x1,y1).
func RectangleCorners(viewportToData sv.Matrix4, x0, x1, y0, y1 float64) [4]sv.Vector3d {
	return [4]sv.Vector3d{
		sv.TransformPoint(viewportToData, sv.Vector3d{x0, y0, 0}),
		sv.TransformPoint(viewportToData, sv.Vector3d{x0, y1, 0}),
		sv.TransformPoint(viewportToData, sv.Vector3d{x1, y0, 0}),
		sv.TransformPoint(viewportToData, sv.Vector3d{x1, y1, 0}),
	}
}

// ViewportCorners returns the global corners of a width x height viewport scaled by the
// given multipliers.
func ViewportCorners(width, height float64, viewportToData sv.Matrix4, widthMultiplier, heightMultiplier float64) [4]sv.Vector3d {
	hw := width * widthMultiplier / 2
	hh := height * heightMultiplier / 2
	return RectangleCorners(viewportToData, -hw, hw, -hh, hh)
}

// RectangleCenter returns the average of the corners.
func RectangleCenter(corners [4]sv.Vector3d) sv.Vector3d {
	var c sv.Vector3d
	for _, corner := range corners {
		c = c.Add(corner)
	}
	return c.Mul(0.25)
}

// AxisNudges returns, per viewport axis, the global offset of moving counts[i] voxels
// along that axis.
func AxisNudges(voxelSize sv.Vector3d, axes [3]sv.Vector3d, counts [3]float64) [3]sv.Vector3d {
	var nudges [3]sv.Vector3d
	for i := 0; i < 3; i++ {
		nudges[i] = sv.MulElem(voxelSize, axes[i]).Mul(counts[i])
	}
	return nudges
}

// MoveVertex adds movement[i] nudges along each axis to a vertex.
func MoveVertex(vertex sv.Vector3d, nudges [3]sv.Vector3d, movement [3]float64) sv.Vector3d {
	for i := 0; i < 3; i++ {
		vertex = vertex.Add(nudges[i].Mul(movement[i]))
	}
	return vertex
}

type viewportRect struct {
	x0, x1, y0, y1 float64
}

func (r viewportRect) empty() bool {
	return !(r.x1 > r.x0) || !(r.y1 > r.y0)
}

func (r viewportRect) area() float64 {
	if r.empty() {
		return 0
	}
	return (r.x1 - r.x0) * (r.y1 - r.y0)
}

func (r viewportRect) corners(viewportToData sv.Matrix4) [4]sv.Vector3d {
	return RectangleCorners(viewportToData, r.x0, r.x1, r.y0, r.y1)
}

// prefetchStrips splits the widened viewport minus the visible viewport into left, right,
// above and below strips.  Empty strips are dropped.
func prefetchStrips(width, height float64, cfg PrefetchConfig) []viewportRect {
	v := width / 2
	w := width * cfg.WidthMultiplier / 2
	hv := height / 2
	h := height * cfg.HeightMultiplier / 2
	all := []viewportRect{
		{-w, -v, -h, h},
		{v, w, -h, h},
		{-v, v, hv, h},
		{-v, v, -h, -hv},
	}
	strips := all[:0]
	for _, r := range all {
		if !r.empty() {
			strips = append(strips, r)
		}
	}
	return strips
}

// PrefetchConfig controls speculative requests around the visible rectangle.
type PrefetchConfig struct {
	Enabled          bool    `toml:"enabled" json:"enabled"`
	WidthMultiplier  float64 `toml:"width_multiplier" json:"widthMultiplier"`
	HeightMultiplier float64 `toml:"height_multiplier" json:"heightMultiplier"`
	DepthSteps       int     `toml:"depth_steps" json:"depthSteps"`
}

// DefaultPrefetchConfig widens the viewport by half in each direction and looks one voxel
// ahead and behind the plane.
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Enabled:          true,
		WidthMultiplier:  1.5,
		HeightMultiplier: 1.5,
		DepthSteps:       1,
	}
}

func (c PrefetchConfig) Validate() error {
	if c.WidthMultiplier < 1 || c.HeightMultiplier < 1 {
		return fmt.Errorf("prefetch multipliers must be at least 1, got %g x %g", c.WidthMultiplier, c.HeightMultiplier)
	}
	if c.DepthSteps < 0 {
		return fmt.Errorf("prefetch depth steps must be non-negative, got %d", c.DepthSteps)
	}
	return nil
}
