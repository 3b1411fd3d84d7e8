package chunk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/janelia-flyem/sliceview/sv"
)

// Spec describes a volume at one resolution level.  Voxel bounds are relative to
// VoxelOffset; the upper bound is exclusive.
type Spec struct {
	VoxelSize       sv.Vector3d // global units per voxel
	VoxelOffset     sv.Point3d
	ChunkDataSize   sv.Point3d
	LowerVoxelBound sv.Point3d
	UpperVoxelBound sv.Point3d
}

// Validate checks that the spec describes a non-empty, positively sized grid.
func (s Spec) Validate() error {
	for i := 0; i < 3; i++ {
		if s.ChunkDataSize[i] <= 0 {
			return fmt.Errorf("chunk data size must be positive, got %s", s.ChunkDataSize)
		}
		if !(s.VoxelSize[i] > 0) || math.IsInf(s.VoxelSize[i], 0) {
			return fmt.Errorf("voxel size must be positive and finite, got %s", sv.VectorString(s.VoxelSize))
		}
		if s.UpperVoxelBound[i] <= s.LowerVoxelBound[i] {
			return fmt.Errorf("empty voxel bounds %s to %s", s.LowerVoxelBound, s.UpperVoxelBound)
		}
	}
	return nil
}

// LowerChunkBound returns the first chunk grid position holding data.
func (s Spec) LowerChunkBound() sv.ChunkPoint3d {
	return s.LowerVoxelBound.Chunk(s.ChunkDataSize)
}

// UpperChunkBound returns the exclusive upper chunk grid position.
func (s Spec) UpperChunkBound() sv.ChunkPoint3d {
	last := s.UpperVoxelBound.Sub(sv.Point3d{1, 1, 1})
	c := last.Chunk(s.ChunkDataSize)
	return sv.ChunkPoint3d{c[0] + 1, c[1] + 1, c[2] + 1}
}

// Fetcher retrieves the encoded payload of a chunk.
type Fetcher interface {
	Download(ctx context.Context, c *Chunk) ([]byte, error)
}

var sourceIDs uint64

// Source is one resolution level of a volume.  It caches chunk identities so that
// repeated requests for a grid position return the same *Chunk.
type Source struct {
	id      uint64
	name    string
	spec    Spec
	fetcher Fetcher

	mu     sync.Mutex
	chunks map[sv.ChunkPoint3d]*Chunk
}

// NewSource returns a source for the given spec.  The fetcher may be nil for sources
// that are only scheduled, never downloaded.
func NewSource(name string, spec Spec, fetcher Fetcher) (*Source, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("source %q: %v", name, err)
	}
	return &Source{
		id:      atomic.AddUint64(&sourceIDs, 1),
		name:    name,
		spec:    spec,
		fetcher: fetcher,
		chunks:  make(map[sv.ChunkPoint3d]*Chunk),
	}, nil
}

func (s *Source) ID() uint64 {
	return s.id
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Spec() Spec {
	return s.spec
}

func (s *Source) Fetcher() Fetcher {
	return s.fetcher
}

// GetChunk returns the cached chunk at a grid position, creating it on first use.
func (s *Source) GetChunk(pos sv.ChunkPoint3d) *Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, found := s.chunks[pos]
	if !found {
		c = &Chunk{
			source: s,
			pos:    pos,
			key:    fmt.Sprintf("%d:%s", s.id, pos.Key()),
		}
		s.chunks[pos] = c
	}
	return c
}

// RemoveChunk drops a chunk from the cache.  A later GetChunk creates a new one.
func (s *Source) RemoveChunk(c *Chunk) {
	s.mu.Lock()
	if cur, found := s.chunks[c.pos]; found && cur == c {
		delete(s.chunks, c.pos)
	}
	s.mu.Unlock()
}

// NumChunks returns the number of cached chunks.
func (s *Source) NumChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// ContainsChunk returns true if the grid position lies within the source's chunk bounds.
func (s *Source) ContainsChunk(pos sv.ChunkPoint3d) bool {
	return pos.Within(s.spec.LowerChunkBound(), s.spec.UpperChunkBound())
}

// VoxelBounds returns the absolute voxel extents of a chunk, clipped to the volume.
// The upper bound is exclusive.
func (s *Source) VoxelBounds(pos sv.ChunkPoint3d) (lower, upper sv.Point3d) {
	size := s.spec.ChunkDataSize
	for i := 0; i < 3; i++ {
		lo := pos[i] * size[i]
		hi := lo + size[i]
		if lo < s.spec.LowerVoxelBound[i] {
			lo = s.spec.LowerVoxelBound[i]
		}
		if hi > s.spec.UpperVoxelBound[i] {
			hi = s.spec.UpperVoxelBound[i]
		}
		lower[i] = lo + s.spec.VoxelOffset[i]
		upper[i] = hi + s.spec.VoxelOffset[i]
	}
	return
}

func (s *Source) String() string {
	return fmt.Sprintf("source %q (%d)", s.name, s.id)
}

// Chunk identifies one grid cell of one source.
type Chunk struct {
	source *Source
	pos    sv.ChunkPoint3d
	key    string
}

func (c *Chunk) Source() *Source {
	return c.source
}

func (c *Chunk) Position() sv.ChunkPoint3d {
	return c.pos
}

// Key is unique across sources and is the chunk manager's identity for the chunk.
func (c *Chunk) Key() string {
	return c.key
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk %s of %s", c.pos, c.source)
}
