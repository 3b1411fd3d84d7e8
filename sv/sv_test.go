package sv

import (
	"bytes"
	"errors"
	"log"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/janelia-flyem/go/gocheck"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type DataSuite struct{}

var _ = Suite(&DataSuite{})

func (s *DataSuite) TestPoint3d(c *C) {
	a := Point3d{10, 21, 837821}
	b := Point3d{78312, -200, 40123}
	c.Assert(a.Add(b), Equals, Point3d{78322, -179, 877944})
	c.Assert(a.Sub(b), Equals, Point3d{-78302, 221, 797698})
	c.Assert(a.String(), Equals, "(10,21,837821)")
	c.Assert(Point3d{2, 3, 4}.Prod(), Equals, int64(24))
	c.Assert(Point3d{2, 0, 4}.Positive(), Equals, false)

	size := Point3d{64, 64, 64}
	c.Assert(Point3d{0, 63, 64}.Chunk(size), Equals, ChunkPoint3d{0, 0, 1})
	c.Assert(Point3d{-1, -64, -65}.Chunk(size), Equals, ChunkPoint3d{-1, -1, -2})
}

func (s *DataSuite) TestChunkPoint3d(c *C) {
	size := Point3d{32, 64, 16}
	cp := ChunkPoint3d{1, -2, 3}
	c.Assert(cp.MinPoint(size), Equals, Point3d{32, -128, 48})
	c.Assert(cp.MaxPoint(size), Equals, Point3d{63, -65, 63})
	c.Assert(cp.Key(), Equals, "1,-2,3")

	lower := ChunkPoint3d{0, -2, 0}
	upper := ChunkPoint3d{2, 0, 4}
	c.Assert(cp.Within(lower, upper), Equals, true)
	c.Assert(ChunkPoint3d{2, -2, 0}.Within(lower, upper), Equals, false)

	m := ChunkPoint3d{5, 5, 5}
	m.SetMinimum(cp)
	c.Assert(m, Equals, ChunkPoint3d{1, -2, 3})
	m.SetMaximum(ChunkPoint3d{4, 0, 0})
	c.Assert(m, Equals, ChunkPoint3d{4, 0, 3})

	parsed, err := ParseChunkPoint3d("1, -2, 3", ",")
	c.Assert(err, IsNil)
	c.Assert(parsed, Equals, cp)
	_, err = ParsePoint3d("1,2", ",")
	c.Assert(err, NotNil)
}

func (s *DataSuite) TestVectorHelpers(c *C) {
	v := Vector3d{1.5, -2.5, 3}
	c.Assert(FloorChunk(v), Equals, ChunkPoint3d{1, -3, 3})
	c.Assert(CeilChunk(v), Equals, ChunkPoint3d{2, -2, 3})
	c.Assert(FloorChunk(Vector3d{math.Inf(1), math.Inf(-1), math.NaN()}), Equals,
		ChunkPoint3d{math.MaxInt32, math.MinInt32, 0})
	c.Assert(MulElem(Vector3d{1, 2, 3}, Vector3d{4, 5, 6}), Equals, Vector3d{4, 10, 18})
	c.Assert(DivElem(Vector3d{4, 10, 18}, Vector3d{4, 5, 6}), Equals, Vector3d{1, 2, 3})

	m := mgl64.Translate3D(10, 20, 30).Mul4(mgl64.Scale3D(2, 2, 2))
	c.Assert(TransformPoint(m, Vector3d{1, 1, 1}), Equals, Vector3d{12, 22, 32})
	c.Assert(TransformVector(m, Vector3d{1, 0, 0}), Equals, Vector3d{2, 0, 0})
	c.Assert(Invertible(m), Equals, true)
	c.Assert(Invertible(mgl64.Scale3D(1, 0, 1)), Equals, false)

	vec, err := ParseVector3d("4,4,40", ",")
	c.Assert(err, IsNil)
	c.Assert(vec, Equals, Vector3d{4, 4, 40})

	_, err = MatrixFromSlice([]float64{1, 2, 3})
	c.Assert(err, NotNil)
	id4 := mgl64.Ident4()
	ident, err := MatrixFromSlice(id4[:])
	c.Assert(err, IsNil)
	c.Assert(ident, Equals, id4)
}

func (s *DataSuite) TestConfigError(c *C) {
	base := errors.New("boom")
	err := NewConfigError("layer 3", base)
	c.Assert(errors.Is(err, base), Equals, true)
	var cerr *ConfigError
	c.Assert(errors.As(err, &cerr), Equals, true)
	c.Assert(cerr.Object, Equals, "layer 3")
	c.Assert(NewConfigError("x", nil), IsNil)
}

func (s *DataSuite) TestLogMode(c *C) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	defer SetLogMode(InfoMode)

	SetLogMode(WarningMode)
	Infof("dropped %d\n", 1)
	Warningf("kept %d\n", 2)
	out := buf.String()
	c.Assert(strings.Contains(out, "dropped"), Equals, false)
	c.Assert(strings.Contains(out, " WARNING kept 2"), Equals, true)

	buf.Reset()
	SetLogMode(DebugMode)
	NewTimeLog().Debugf("timed")
	c.Assert(strings.Contains(buf.String(), "   DEBUG timed: "), Equals, true)

	buf.Reset()
	SetLogMode(SilentMode)
	Criticalf("quiet\n")
	c.Assert(buf.Len(), Equals, 0)
}
