// Package ucas reads and rewrites the paired index/data streams that back
// virtual containers: a table of content-addressed chunks over a block-compressed
// data stream. Reading decompresses only the blocks a chunk spans; rewriting
// copies every unchanged block verbatim.
package ucas

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/new-world-tools/go-oodle"
	"github.com/pierrec/lz4/v4"
	"github.com/rryqszq4/go-murmurhash"

	"github.com/user/utexgo/internal/cityhash"
	"github.com/user/utexgo/pkg/uarc"
)

// ErrChunkNotFound is returned when a key has no entry in the index stream.
var ErrChunkNotFound = errors.New("chunk not found")

var tocMagic = [4]byte{'-', '=', '=', '-'}

const (
	tocVersion = 1

	// DefaultBlockSize is the uncompressed span of one compression block.
	DefaultBlockSize = 0x10000

	maxBlockSize = 16 << 20

	dedupSeed = 0x1337B33F
)

// Method identifies the compression of one block.
type Method uint8

const (
	MethodNone Method = iota
	MethodLZ4
	MethodOodle
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "None"
	case MethodLZ4:
		return "LZ4"
	case MethodOodle:
		return "Oodle"
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

// ChunkKey derives the content key of a package path.
func ChunkKey(path string) uint64 {
	return cityhash.Hash64([]byte(strings.ToLower(path)))
}

// chunkEntry addresses one chunk inside the uncompressed block space. Chunks
// start on block boundaries so each one maps to a whole run of blocks.
type chunkEntry struct {
	Key    uint64
	Offset uint64
	Size   uint64
}

// block is one compression block: a slice of the data stream plus the
// uncompressed span it expands to.
type block struct {
	Offset           uint64
	CompressedSize   uint32
	UncompressedSize uint32
	Method           Method
}

// Archive is a parsed index/data stream pair. It is immutable; Replace
// returns a new archive and leaves the receiver untouched.
type Archive struct {
	BlockSize uint32

	chunks []chunkEntry
	byKey  map[uint64]int
	blocks []block
	data   []byte
	toc    []byte
}

// Open parses the index stream and attaches the data stream.
func Open(toc, data []byte) (*Archive, error) {
	r := uarc.NewReader(toc)

	magic, err := r.Bytes(4)
	if err != nil {
		return nil, fmt.Errorf("index header: %w", err)
	}
	if [4]byte(magic) != tocMagic {
		return nil, fmt.Errorf("bad index magic %x", magic)
	}
	if err := r.CheckU32(tocVersion, "index version"); err != nil {
		return nil, err
	}

	a := &Archive{data: data, toc: toc}
	if a.BlockSize, err = r.U32(); err != nil {
		return nil, err
	}
	if a.BlockSize == 0 || a.BlockSize > maxBlockSize {
		return nil, fmt.Errorf("implausible block size %d", a.BlockSize)
	}
	chunkCount, err := r.U32()
	if err != nil {
		return nil, err
	}
	blockCount, err := r.U32()
	if err != nil {
		return nil, err
	}
	if int(chunkCount) > r.Len() || int(blockCount) > r.Len() {
		return nil, fmt.Errorf("implausible index counts (%d chunks, %d blocks)", chunkCount, blockCount)
	}

	a.chunks = make([]chunkEntry, chunkCount)
	a.byKey = make(map[uint64]int, chunkCount)
	for i := range a.chunks {
		c := &a.chunks[i]
		if c.Key, err = r.U64(); err != nil {
			return nil, fmt.Errorf("chunk entry %d: %w", i, err)
		}
		if c.Offset, err = r.U64(); err != nil {
			return nil, fmt.Errorf("chunk entry %d: %w", i, err)
		}
		if c.Size, err = r.U64(); err != nil {
			return nil, fmt.Errorf("chunk entry %d: %w", i, err)
		}
		if c.Offset%uint64(a.BlockSize) != 0 {
			return nil, fmt.Errorf("chunk %016x starts mid-block at %d", c.Key, c.Offset)
		}
		if _, dup := a.byKey[c.Key]; dup {
			return nil, fmt.Errorf("duplicate chunk key %016x", c.Key)
		}
		a.byKey[c.Key] = i
	}

	a.blocks = make([]block, blockCount)
	for i := range a.blocks {
		b := &a.blocks[i]
		if b.Offset, err = r.U64(); err != nil {
			return nil, fmt.Errorf("block entry %d: %w", i, err)
		}
		if b.CompressedSize, err = r.U32(); err != nil {
			return nil, fmt.Errorf("block entry %d: %w", i, err)
		}
		if b.UncompressedSize, err = r.U32(); err != nil {
			return nil, fmt.Errorf("block entry %d: %w", i, err)
		}
		m, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("block entry %d: %w", i, err)
		}
		b.Method = Method(m)
		if err := r.Skip(3); err != nil {
			return nil, fmt.Errorf("block entry %d: %w", i, err)
		}
		if b.Offset+uint64(b.CompressedSize) > uint64(len(data)) {
			return nil, fmt.Errorf("block %d spans past the data stream (%d+%d > %d)",
				i, b.Offset, b.CompressedSize, len(data))
		}
		if b.UncompressedSize > a.BlockSize {
			return nil, fmt.Errorf("block %d expands past the block size (%d > %d)",
				i, b.UncompressedSize, a.BlockSize)
		}
	}

	for i := range a.chunks {
		first, count := a.chunks[i].blockSpan(a.BlockSize)
		if first+count > len(a.blocks) {
			return nil, fmt.Errorf("chunk %016x needs blocks %d..%d, index has %d",
				a.chunks[i].Key, first, first+count-1, len(a.blocks))
		}
	}
	return a, nil
}

func (c *chunkEntry) blockSpan(blockSize uint32) (first, count int) {
	first = int(c.Offset / uint64(blockSize))
	count = int((c.Size + uint64(blockSize) - 1) / uint64(blockSize))
	return first, count
}

// Toc returns the serialized index stream.
func (a *Archive) Toc() []byte { return a.toc }

// Data returns the data stream.
func (a *Archive) Data() []byte { return a.data }

// Keys returns the chunk keys in index order.
func (a *Archive) Keys() []uint64 {
	keys := make([]uint64, len(a.chunks))
	for i, c := range a.chunks {
		keys[i] = c.Key
	}
	return keys
}

// Has reports whether a key is present.
func (a *Archive) Has(key uint64) bool {
	_, ok := a.byKey[key]
	return ok
}

// Size returns the uncompressed size of a chunk.
func (a *Archive) Size(key uint64) (uint64, error) {
	i, ok := a.byKey[key]
	if !ok {
		return 0, fmt.Errorf("chunk %016x: %w", key, ErrChunkNotFound)
	}
	return a.chunks[i].Size, nil
}

// Read decompresses and returns one chunk.
func (a *Archive) Read(key uint64) ([]byte, error) {
	i, ok := a.byKey[key]
	if !ok {
		return nil, fmt.Errorf("chunk %016x: %w", key, ErrChunkNotFound)
	}
	c := a.chunks[i]
	if c.Size == 0 {
		return []byte{}, nil
	}

	first, count := c.blockSpan(a.BlockSize)
	out := make([]byte, 0, c.Size)
	for bi := first; bi < first+count; bi++ {
		piece, err := a.readBlock(bi)
		if err != nil {
			return nil, fmt.Errorf("chunk %016x: %w", key, err)
		}
		out = append(out, piece...)
	}
	if uint64(len(out)) != c.Size {
		return nil, fmt.Errorf("chunk %016x: blocks expand to %d bytes, index says %d", key, len(out), c.Size)
	}
	return out, nil
}

func (a *Archive) readBlock(i int) ([]byte, error) {
	b := a.blocks[i]
	raw := a.data[b.Offset : b.Offset+uint64(b.CompressedSize)]
	switch b.Method {
	case MethodNone:
		if b.CompressedSize != b.UncompressedSize {
			return nil, fmt.Errorf("block %d: stored size %d does not match raw size %d",
				i, b.CompressedSize, b.UncompressedSize)
		}
		return raw, nil
	case MethodLZ4:
		out := make([]byte, b.UncompressedSize)
		n, err := lz4.UncompressBlock(raw, out)
		if err != nil {
			return nil, fmt.Errorf("block %d: lz4: %w", i, err)
		}
		if n != int(b.UncompressedSize) {
			return nil, fmt.Errorf("block %d: lz4 expanded to %d bytes, expected %d", i, n, b.UncompressedSize)
		}
		return out, nil
	case MethodOodle:
		out, err := oodle.Decompress(raw, int64(b.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("block %d: oodle: %w", i, err)
		}
		if len(out) != int(b.UncompressedSize) {
			return nil, fmt.Errorf("block %d: oodle expanded to %d bytes, expected %d", i, len(out), b.UncompressedSize)
		}
		return out, nil
	}
	return nil, fmt.Errorf("block %d: unknown compression method %d", i, b.Method)
}

// Replace swaps the payload of one chunk and re-emits both streams as a new
// archive. Blocks of untouched chunks are copied verbatim; identical new
// blocks are stored once.
func (a *Archive) Replace(key uint64, payload []byte) (*Archive, error) {
	if _, ok := a.byKey[key]; !ok {
		return nil, fmt.Errorf("chunk %016x: %w", key, ErrChunkNotFound)
	}
	return a.rebuild(map[uint64][]byte{key: payload})
}

// Build assembles a fresh archive from chunk payloads, ordered by key.
func Build(blockSize uint32, chunks map[uint64][]byte) (*Archive, error) {
	if blockSize == 0 || blockSize > maxBlockSize {
		return nil, fmt.Errorf("implausible block size %d", blockSize)
	}
	empty := &Archive{BlockSize: blockSize, byKey: map[uint64]int{}}
	keys := make([]uint64, 0, len(chunks))
	for key := range chunks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		empty.chunks = append(empty.chunks, chunkEntry{Key: key})
		empty.byKey[key] = len(empty.chunks) - 1
	}
	return empty.rebuild(chunks)
}

// dedupRecord remembers where a block's bytes already live in the new data
// stream.
type dedupRecord struct {
	offset uint64
	block  block
}

func dedupKey(raw []byte, method Method) uint64 {
	return murmurhash.MurmurHash64A(raw, uint64(dedupSeed)+uint64(method))
}

func (a *Archive) rebuild(replaced map[uint64][]byte) (*Archive, error) {
	out := &Archive{
		BlockSize: a.BlockSize,
		chunks:    make([]chunkEntry, 0, len(a.chunks)),
		byKey:     make(map[uint64]int, len(a.chunks)),
	}
	dw := uarc.NewWriter()
	dedup := make(map[uint64]dedupRecord)

	appendBlock := func(raw []byte, b block) {
		k := dedupKey(raw, b.Method)
		if prev, ok := dedup[k]; ok && prev.block.CompressedSize == b.CompressedSize &&
			prev.block.UncompressedSize == b.UncompressedSize && prev.block.Method == b.Method {
			b.Offset = prev.offset
			out.blocks = append(out.blocks, b)
			return
		}
		b.Offset = uint64(dw.Tell())
		dw.Raw(raw)
		dedup[k] = dedupRecord{offset: b.Offset, block: b}
		out.blocks = append(out.blocks, b)
	}

	uncompressedPos := uint64(0)
	for _, c := range a.chunks {
		entry := chunkEntry{Key: c.Key, Offset: uncompressedPos}
		firstBlock := len(out.blocks)

		if payload, ok := replaced[c.Key]; ok {
			entry.Size = uint64(len(payload))
			for pos := 0; pos < len(payload); pos += int(a.BlockSize) {
				end := min(pos+int(a.BlockSize), len(payload))
				raw, b := compressBlock(payload[pos:end])
				appendBlock(raw, b)
			}
		} else {
			entry.Size = c.Size
			first, count := c.blockSpan(a.BlockSize)
			for bi := first; bi < first+count; bi++ {
				b := a.blocks[bi]
				raw := a.data[b.Offset : b.Offset+uint64(b.CompressedSize)]
				appendBlock(raw, b)
			}
		}

		blockCount := len(out.blocks) - firstBlock
		uncompressedPos += uint64(blockCount) * uint64(a.BlockSize)
		out.byKey[entry.Key] = len(out.chunks)
		out.chunks = append(out.chunks, entry)
	}

	out.data = dw.Bytes()
	out.toc = out.encodeToc()
	return out, nil
}

// compressBlock picks the cheapest encoding for one block: LZ4 when it
// actually shrinks the data, raw bytes otherwise.
func compressBlock(piece []byte) ([]byte, block) {
	b := block{UncompressedSize: uint32(len(piece))}
	bound := lz4.CompressBlockBound(len(piece))
	buf := make([]byte, bound)
	n, err := lz4.CompressBlock(piece, buf, nil)
	if err != nil || n == 0 || n >= len(piece) {
		b.Method = MethodNone
		b.CompressedSize = uint32(len(piece))
		return piece, b
	}
	b.Method = MethodLZ4
	b.CompressedSize = uint32(n)
	return buf[:n], b
}

func (a *Archive) encodeToc() []byte {
	w := uarc.NewWriter()
	w.Raw(tocMagic[:])
	w.U32(tocVersion)
	w.U32(a.BlockSize)
	w.U32(uint32(len(a.chunks)))
	w.U32(uint32(len(a.blocks)))
	for _, c := range a.chunks {
		w.U64(c.Key)
		w.U64(c.Offset)
		w.U64(c.Size)
	}
	for _, b := range a.blocks {
		w.U64(b.Offset)
		w.U32(b.CompressedSize)
		w.U32(b.UncompressedSize)
		w.U8(uint8(b.Method))
		w.Zeros(3)
	}
	return w.Bytes()
}
