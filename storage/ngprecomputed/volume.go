package ngprecomputed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/sv"
)

// Number of shard and minishard indices kept in memory per volume.
const indexCacheEntries = 4096

// Volume is a neuroglancer precomputed volume readable through a gocloud bucket.
// Each scale becomes a list of chunk sources, one per chunk size alternative.
type Volume struct {
	ref    string
	bucket *blob.Bucket
	info   *ngVolume

	sources [][]*chunk.Source

	cacheMu    sync.Mutex
	indexCache *lru.Cache
	loads      singleflight.Group
}

// Open opens the precomputed volume at the given bucket URL, e.g.,
// "gs://bucket/path", "s3://bucket/path" or "file:///data/vol".
func Open(ctx context.Context, ref string) (*Volume, error) {
	sv.Infof("Opening neuroglancer precomputed volume @ %q ...\n", ref)
	bucket, err := blob.OpenBucket(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("can't open precomputed volume @ %q: %w", ref, err)
	}
	v, err := NewVolume(ctx, bucket, ref)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	return v, nil
}

// NewVolume reads the info file from an already opened bucket.  The volume takes
// ownership of the bucket.
func NewVolume(ctx context.Context, bucket *blob.Bucket, ref string) (*Volume, error) {
	data, err := bucket.ReadAll(ctx, "info")
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("no info file in precomputed volume @ %q", ref)
		}
		return nil, fmt.Errorf("unable to read info file in precomputed volume @ %q: %w", ref, err)
	}
	info, err := parseInfo(data)
	if err != nil {
		return nil, fmt.Errorf("precomputed volume @ %q: %w", ref, err)
	}
	v := &Volume{
		ref:        ref,
		bucket:     bucket,
		info:       info,
		indexCache: lru.New(indexCacheEntries),
	}
	for n := range info.Scales {
		scale := &info.Scales[n]
		voxelSize := sv.Vector3d{scale.Resolution[0], scale.Resolution[1], scale.Resolution[2]}
		fetcher := &scaleFetcher{vol: v, scale: scale}
		alternatives := make([]*chunk.Source, 0, len(scale.ChunkSizes))
		for i, chunkSize := range scale.ChunkSizes {
			spec := chunk.Spec{
				VoxelSize:       voxelSize,
				VoxelOffset:     scale.VoxelOffset,
				ChunkDataSize:   chunkSize,
				UpperVoxelBound: scale.Size,
			}
			name := scale.Key
			if len(scale.ChunkSizes) > 1 {
				name = fmt.Sprintf("%s#%d", scale.Key, i)
			}
			src, err := chunk.NewSource(name, spec, fetcher)
			if err != nil {
				return nil, fmt.Errorf("precomputed volume @ %q, scale %d: %w", ref, n, err)
			}
			alternatives = append(alternatives, src)
		}
		v.sources = append(v.sources, alternatives)
	}
	sv.Infof("Loaded %s volume with %d scales @ %q\n", info.VolumeType, len(info.Scales), ref)
	return v, nil
}

// Ref returns the bucket URL used to open the volume.
func (v *Volume) Ref() string {
	return v.ref
}

// VolumeType is "image" or "segmentation".
func (v *Volume) VolumeType() string {
	return v.info.VolumeType
}

// DataType is the voxel type, e.g., "uint8" or "uint64".
func (v *Volume) DataType() string {
	return v.info.DataType
}

// NumScales returns the number of resolution levels, finest first.
func (v *Volume) NumScales() int {
	return len(v.info.Scales)
}

// Sources returns the chunk sources per scale, finest first.  The slices are
// shared and must not be modified.
func (v *Volume) Sources() [][]*chunk.Source {
	return v.sources
}

// Close releases the underlying bucket.
func (v *Volume) Close() error {
	return v.bucket.Close()
}

func (v *Volume) String() string {
	return fmt.Sprintf("precomputed %s volume @ %q", v.info.VolumeType, v.ref)
}

type scaleFetcher struct {
	vol   *Volume
	scale *ngScale
}

// Download returns the stored bytes of a chunk with any gzip transfer encoding
// removed.  Missing chunks return nil data.
func (f *scaleFetcher) Download(ctx context.Context, c *chunk.Chunk) ([]byte, error) {
	if f.scale.Sharding != nil {
		return f.vol.shardedChunk(ctx, f.scale, c.Position())
	}
	lower, upper := c.Source().VoxelBounds(c.Position())
	key := chunkKey(f.scale.Key, lower, upper)
	data, err := f.vol.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			sv.Debugf("Chunk %q not present in %s\n", key, f.vol)
			return nil, nil
		}
		return nil, fmt.Errorf("unable to read chunk %q: %w", key, err)
	}
	if isGzipped(data) {
		return gzipUncompress(data)
	}
	return data, nil
}

// chunkKey returns the unsharded object name for the chunk spanning the given
// absolute voxel bounds.
func chunkKey(scaleKey string, lower, upper sv.Point3d) string {
	return fmt.Sprintf("%s/%d-%d_%d-%d_%d-%d", scaleKey,
		lower[0], upper[0], lower[1], upper[1], lower[2], upper[2])
}

func isGzipped(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gzipUncompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if err := zr.Close(); err != nil {
		return nil, err
	}
	return out, nil
}
