package ngprecomputed

import (
	"encoding/json"
	"fmt"

	"github.com/janelia-flyem/sliceview/sv"
)

type ngShard struct {
	FormatType    string `json:"@type"` // should be "neuroglancer_uint64_sharded_v1"
	Hash          string `json:"hash"`
	MinishardBits uint8  `json:"minishard_bits"`
	PreshiftBits  uint8  `json:"preshift_bits"`
	ShardBits     uint8  `json:"shard_bits"`
	IndexEncoding string `json:"minishard_index_encoding"` // "raw" or "gzip"
	DataEncoding  string `json:"data_encoding"`            // "raw" or "gzip"
}

type ngScale struct {
	ChunkSizes  []sv.Point3d `json:"chunk_sizes"`
	Encoding    string       `json:"encoding"`
	Key         string       `json:"key"`
	Resolution  [3]float64   `json:"resolution"`
	Sharding    *ngShard     `json:"sharding,omitempty"`
	Size        sv.Point3d   `json:"size"`
	VoxelOffset sv.Point3d   `json:"voxel_offset"`

	numBits       [3]uint8 // bits per dimension of the chunk grid
	maxBits       uint8    // max of required bits across dimensions
	minishardMask uint64   // bit mask for minishard bits in hashed chunk ID
	shardMask     uint64   // bit mask for shard bits in hashed chunk ID
	shardIndexEnd uint64   // where minishard indices begin in every file
}

type ngVolume struct {
	StoreType   string    `json:"@type"`     // must be "neuroglancer_multiscale_volume"
	VolumeType  string    `json:"type"`      // "image" or "segmentation"
	DataType    string    `json:"data_type"` // "uint8", ... "float32"
	NumChannels int       `json:"num_channels"`
	Scales      []ngScale `json:"scales"`
}

// log2 returns the power of 2 necessary to cover the given value.
func log2(value int32) uint8 {
	var exp uint8
	pow := int32(1)
	for {
		if pow >= value {
			return exp
		}
		pow *= 2
		exp++
	}
}

func parseInfo(data []byte) (*ngVolume, error) {
	var vol ngVolume
	if err := json.Unmarshal(data, &vol); err != nil {
		return nil, fmt.Errorf("unable to parse precomputed info: %w", err)
	}
	if err := vol.initialize(); err != nil {
		return nil, err
	}
	return &vol, nil
}

func (vol *ngVolume) initialize() error {
	if vol.StoreType != "" && vol.StoreType != "neuroglancer_multiscale_volume" {
		return fmt.Errorf("precomputed volume type %q != neuroglancer_multiscale_volume", vol.StoreType)
	}
	switch vol.VolumeType {
	case "image", "segmentation":
	default:
		return fmt.Errorf("precomputed volume type %q, only 'image' and 'segmentation' can be sliced", vol.VolumeType)
	}
	if len(vol.Scales) == 0 {
		return fmt.Errorf("precomputed volume has no scales")
	}
	for n := range vol.Scales {
		if err := vol.Scales[n].initialize(); err != nil {
			return fmt.Errorf("scale %d: %w", n, err)
		}
	}
	return nil
}

func (scale *ngScale) initialize() error {
	if len(scale.ChunkSizes) == 0 {
		return fmt.Errorf("no chunk sizes")
	}
	for _, cs := range scale.ChunkSizes {
		if !cs.Positive() {
			return fmt.Errorf("bad chunk size %s", cs)
		}
	}
	if !scale.Size.Positive() {
		return fmt.Errorf("bad size %s", scale.Size)
	}
	for dim := 0; dim < 3; dim++ {
		if !(scale.Resolution[dim] > 0) {
			return fmt.Errorf("bad resolution %v", scale.Resolution)
		}
	}
	if scale.Sharding == nil {
		return nil
	}
	shard := scale.Sharding
	if shard.FormatType != "neuroglancer_uint64_sharded_v1" {
		return fmt.Errorf("unexpected shard type: %s", shard.FormatType)
	}
	if shard.Hash != "identity" {
		return fmt.Errorf("unimplemented hash method for shard: %q", shard.Hash)
	}
	if len(scale.ChunkSizes) != 1 {
		return fmt.Errorf("sharded scales must have exactly one chunk size, got %d", len(scale.ChunkSizes))
	}
	if int(shard.MinishardBits)+int(shard.ShardBits)+int(shard.PreshiftBits) > 64 {
		return fmt.Errorf("shard, minishard and preshift bits exceed 64")
	}

	// Morton codes are over the chunk grid, not the voxel grid.
	chunkSize := scale.ChunkSizes[0]
	var maxBits uint8
	for dim := 0; dim < 3; dim++ {
		gridSize := (scale.Size[dim] + chunkSize[dim] - 1) / chunkSize[dim]
		numBits := log2(gridSize)
		if numBits > maxBits {
			maxBits = numBits
		}
		scale.numBits[dim] = numBits
	}
	if int(scale.numBits[0])+int(scale.numBits[1])+int(scale.numBits[2]) > 64 {
		return fmt.Errorf("chunk grid of size %s needs more than 64 bits", scale.Size)
	}
	scale.maxBits = maxBits

	// compute minishard and shard masks for the hashed chunk ID
	const on uint64 = 0xFFFFFFFFFFFFFFFF
	minishardOff := ((on >> shard.MinishardBits) << shard.MinishardBits)
	scale.minishardMask = ^minishardOff
	excessBits := 64 - shard.ShardBits - shard.MinishardBits
	scale.shardMask = (minishardOff << excessBits) >> excessBits
	scale.shardIndexEnd = (1 << uint64(shard.MinishardBits)) * 16
	sv.Debugf("Scale %q: grid bits %v, minishard mask %0*x, shard mask %0*x\n",
		scale.Key, scale.numBits, 16, scale.minishardMask, 16, scale.shardMask)
	return nil
}
