package ngprecomputed

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/sliceview/sv"
)

// mortonCode returns the compressed morton code of a chunk grid position, interleaving
// only as many bits per dimension as the grid needs.
func mortonCode(scale *ngScale, pos sv.ChunkPoint3d) (uint64, error) {
	for dim := 0; dim < 3; dim++ {
		if pos[dim] < 0 || uint64(pos[dim]) >= 1<<scale.numBits[dim] {
			return 0, fmt.Errorf("chunk %s outside grid of scale %q", pos, scale.Key)
		}
	}
	x, y, z := uint64(pos[0]), uint64(pos[1]), uint64(pos[2])

	var mask uint64 = 0x0000000000000001
	var outBit uint64
	var code uint64
	for curBit := uint8(0); curBit < scale.maxBits; curBit++ {
		if curBit < scale.numBits[0] {
			code |= (x & mask) << (outBit - uint64(curBit))
			outBit++
		}
		if curBit < scale.numBits[1] {
			code |= (y & mask) << (outBit - uint64(curBit))
			outBit++
		}
		if curBit < scale.numBits[2] {
			code |= (z & mask) << (outBit - uint64(curBit))
			outBit++
		}
		mask <<= 1
	}
	return code, nil
}

// calcShard returns the shard object name, minishard number and chunk ID for a position.
func calcShard(scale *ngScale, pos sv.ChunkPoint3d) (shardFile string, minishard, chunkID uint64, err error) {
	if chunkID, err = mortonCode(scale, pos); err != nil {
		return
	}
	shard := scale.Sharding
	hashed := chunkID >> uint64(shard.PreshiftBits) // identity hash
	minishard = hashed & scale.minishardMask
	shardNum := (hashed & scale.shardMask) >> uint64(shard.MinishardBits)
	padding := int(shard.ShardBits+3) / 4
	shardFile = fmt.Sprintf("%s/%0*x.shard", scale.Key, padding, shardNum)
	return
}

// rangeRead returns nil data without error if the object does not exist.
func (v *Volume) rangeRead(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	timedLog := sv.NewTimeLog()
	reader, err := v.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != length {
		return nil, fmt.Errorf("read %d bytes from %q at offset %d, expected %d", len(data), key, offset, length)
	}
	timedLog.Debugf("read %s from %q at offset %d", humanize.Bytes(uint64(length)), key, offset)
	return data, nil
}

type shardIndex []byte // nil if the shard file does not exist

type chunkLoc struct {
	pos  uint64
	size uint64
}

type minishardIndex map[uint64]chunkLoc // nil if the minishard is empty

// indexTimeout bounds a shared index load.
const indexTimeout = time.Minute

// cached returns an index from the LRU, loading it once across concurrent callers.  The load
// runs detached from ctx cancellation since other callers may be waiting on it.
func (v *Volume) cached(ctx context.Context, key string, load func(context.Context) (interface{}, error)) (interface{}, error) {
	v.cacheMu.Lock()
	val, found := v.indexCache.Get(key)
	v.cacheMu.Unlock()
	if found {
		return val, nil
	}
	return v.loads.Do(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexTimeout)
		defer cancel()
		val, err := load(lctx)
		if err != nil {
			return nil, err
		}
		v.cacheMu.Lock()
		v.indexCache.Add(key, val)
		v.cacheMu.Unlock()
		return val, nil
	})
}

func (v *Volume) shardIndex(ctx context.Context, scale *ngScale, shardFile string) (shardIndex, error) {
	val, err := v.cached(ctx, shardFile, func(ctx context.Context) (interface{}, error) {
		data, err := v.rangeRead(ctx, shardFile, 0, int64(scale.shardIndexEnd))
		if err != nil {
			return nil, fmt.Errorf("unable to read shard index of %q: %w", shardFile, err)
		}
		return shardIndex(data), nil
	})
	if err != nil {
		return nil, err
	}
	return val.(shardIndex), nil
}

func (v *Volume) minishardIndex(ctx context.Context, scale *ngScale, shardFile string, minishard uint64) (minishardIndex, error) {
	key := shardFile + "#" + strconv.FormatUint(minishard, 10)
	val, err := v.cached(ctx, key, func(ctx context.Context) (interface{}, error) {
		index, err := v.shardIndex(ctx, scale, shardFile)
		if err != nil || index == nil {
			return minishardIndex(nil), err
		}
		return v.loadMinishardIndex(ctx, scale, shardFile, index, minishard)
	})
	if err != nil {
		return nil, err
	}
	return val.(minishardIndex), nil
}

func (v *Volume) loadMinishardIndex(ctx context.Context, scale *ngScale, shardFile string, index shardIndex, minishard uint64) (minishardIndex, error) {
	pos := minishard * 16
	begByte := binary.LittleEndian.Uint64(index[pos:pos+8]) + scale.shardIndexEnd
	endByte := binary.LittleEndian.Uint64(index[pos+8:pos+16]) + scale.shardIndexEnd
	if endByte < begByte {
		return nil, fmt.Errorf("bad minishard %d range [%d, %d) in %q", minishard, begByte, endByte, shardFile)
	}
	if endByte == begByte {
		return minishardIndex(nil), nil
	}
	data, err := v.rangeRead(ctx, shardFile, int64(begByte), int64(endByte-begByte))
	if err != nil {
		return nil, fmt.Errorf("unable to read minishard %d of %q: %w", minishard, shardFile, err)
	}
	if data == nil {
		return minishardIndex(nil), nil
	}
	switch scale.Sharding.IndexEncoding {
	case "gzip":
		if data, err = gzipUncompress(data); err != nil {
			return nil, fmt.Errorf("unable to gunzip minishard %d of %q: %w", minishard, shardFile, err)
		}
	case "", "raw":
	default:
		return nil, fmt.Errorf("unknown minishard index encoding %q", scale.Sharding.IndexEncoding)
	}
	if len(data)%24 != 0 {
		return nil, fmt.Errorf("minishard %d of %q has %d bytes, not a multiple of 24", minishard, shardFile, len(data))
	}

	// Index is three arrays of n uint64: delta-coded chunk IDs, delta-coded offsets
	// after the previous chunk, and sizes.
	n := len(data) / 24
	m := make(minishardIndex, n)
	var chunkID uint64
	sizeAcc := scale.shardIndexEnd
	for i := 0; i < n; i++ {
		chunkID += binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		offset := binary.LittleEndian.Uint64(data[(n+i)*8 : (n+i)*8+8])
		size := binary.LittleEndian.Uint64(data[(2*n+i)*8 : (2*n+i)*8+8])
		m[chunkID] = chunkLoc{pos: offset + sizeAcc, size: size}
		sizeAcc += offset + size
	}
	return m, nil
}

func (v *Volume) shardedChunk(ctx context.Context, scale *ngScale, pos sv.ChunkPoint3d) ([]byte, error) {
	shardFile, minishard, chunkID, err := calcShard(scale, pos)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	index, err := v.minishardIndex(ctx, scale, shardFile, minishard)
	if err != nil {
		return nil, err
	}
	loc, found := index[chunkID]
	if !found {
		sv.Debugf("Chunk %s (id %d) not in minishard %d of %q\n", pos, chunkID, minishard, shardFile)
		return nil, nil
	}
	data, err := v.rangeRead(ctx, shardFile, int64(loc.pos), int64(loc.size))
	if err != nil {
		return nil, fmt.Errorf("unable to read chunk %s from %q: %w", pos, shardFile, err)
	}
	if data == nil {
		return nil, fmt.Errorf("shard %q disappeared while reading chunk %s", shardFile, pos)
	}
	switch scale.Sharding.DataEncoding {
	case "gzip":
		if data, err = gzipUncompress(data); err != nil {
			return nil, fmt.Errorf("unable to gunzip chunk %s from %q: %w", pos, shardFile, err)
		}
	case "", "raw":
	default:
		return nil, fmt.Errorf("unknown shard data encoding %q", scale.Sharding.DataEncoding)
	}
	sv.Debugf("Chunk %s read from %q in %s\n", pos, shardFile, time.Since(start))
	return data, nil
}
