package ucas

import (
	"bytes"
	"errors"
	"testing"
)

func compressible(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i / 64)
	}
	return out
}

func incompressible(n int) []byte {
	out := make([]byte, n)
	state := uint32(0x9E3779B9)
	for i := range out {
		state = state*1664525 + 1013904223
		out[i] = byte(state >> 24)
	}
	return out
}

func buildTestArchive(t *testing.T) (*Archive, map[uint64][]byte) {
	t.Helper()
	chunks := map[uint64][]byte{
		ChunkKey("/Game/T_Big"):   compressible(3*DefaultBlockSize + 100),
		ChunkKey("/Game/T_Small"): incompressible(500),
		ChunkKey("/Game/T_Empty"): {},
	}
	a, err := Build(DefaultBlockSize, chunks)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return a, chunks
}

func TestReadBack(t *testing.T) {
	a, chunks := buildTestArchive(t)
	for key, want := range chunks {
		got, err := a.Read(key)
		if err != nil {
			t.Fatalf("Read(%016x): %v", key, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Read(%016x) returned %d bytes, want %d", key, len(got), len(want))
		}
		size, err := a.Size(key)
		if err != nil || size != uint64(len(want)) {
			t.Errorf("Size(%016x) = %d, %v, want %d", key, size, err, len(want))
		}
	}
}

func TestOpenRoundTrip(t *testing.T) {
	a, chunks := buildTestArchive(t)
	reopened, err := Open(a.Toc(), a.Data())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for key, want := range chunks {
		got, err := reopened.Read(key)
		if err != nil {
			t.Fatalf("Read(%016x): %v", key, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Read(%016x) differs after reopen", key)
		}
	}
	if len(reopened.Keys()) != len(chunks) {
		t.Errorf("reopened archive has %d keys, want %d", len(reopened.Keys()), len(chunks))
	}
}

func TestCompressionChoice(t *testing.T) {
	a, _ := buildTestArchive(t)
	methods := map[Method]int{}
	for _, b := range a.blocks {
		methods[b.Method]++
	}
	if methods[MethodLZ4] == 0 {
		t.Error("no block chose LZ4 for compressible data")
	}
	if methods[MethodNone] == 0 {
		t.Error("no block stored incompressible data raw")
	}
	if methods[MethodOodle] != 0 {
		t.Error("writer emitted an Oodle block")
	}
}

func TestChunkNotFound(t *testing.T) {
	a, _ := buildTestArchive(t)
	if _, err := a.Read(0xDEAD); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Read(bogus) = %v, want ErrChunkNotFound", err)
	}
	if _, err := a.Replace(0xDEAD, nil); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Replace(bogus) = %v, want ErrChunkNotFound", err)
	}
	if a.Has(0xDEAD) {
		t.Error("Has(bogus) = true")
	}
}

func TestReplaceKeepsOthersVerbatim(t *testing.T) {
	a, chunks := buildTestArchive(t)
	bigKey := ChunkKey("/Game/T_Big")
	smallKey := ChunkKey("/Game/T_Small")

	newPayload := compressible(2 * DefaultBlockSize)
	b, err := a.Replace(smallKey, newPayload)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := b.Read(smallKey)
	if err != nil || !bytes.Equal(got, newPayload) {
		t.Fatalf("replaced chunk reads back wrong (%v)", err)
	}
	got, err = b.Read(bigKey)
	if err != nil || !bytes.Equal(got, chunks[bigKey]) {
		t.Fatalf("untouched chunk changed (%v)", err)
	}

	// The untouched chunk's compressed blocks must be byte-identical in the
	// new data stream.
	oldFirst, count := a.chunks[a.byKey[bigKey]].blockSpan(a.BlockSize)
	newFirst, newCount := b.chunks[b.byKey[bigKey]].blockSpan(b.BlockSize)
	if count != newCount {
		t.Fatalf("untouched chunk spans %d blocks, had %d", newCount, count)
	}
	for i := 0; i < count; i++ {
		ob, nb := a.blocks[oldFirst+i], b.blocks[newFirst+i]
		oldRaw := a.Data()[ob.Offset : ob.Offset+uint64(ob.CompressedSize)]
		newRaw := b.Data()[nb.Offset : nb.Offset+uint64(nb.CompressedSize)]
		if ob.Method != nb.Method || !bytes.Equal(oldRaw, newRaw) {
			t.Errorf("block %d of untouched chunk not copied verbatim", i)
		}
	}

	// Inputs untouched.
	orig, err := a.Read(smallKey)
	if err != nil || !bytes.Equal(orig, chunks[smallKey]) {
		t.Error("Replace mutated the source archive")
	}
}

func TestReplaceIdempotent(t *testing.T) {
	a, chunks := buildTestArchive(t)
	key := ChunkKey("/Game/T_Big")
	b, err := a.Replace(key, chunks[key])
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if !bytes.Equal(a.Toc(), b.Toc()) {
		t.Error("index stream changed after a same-content replace")
	}
	if !bytes.Equal(a.Data(), b.Data()) {
		t.Error("data stream changed after a same-content replace")
	}
}

func TestBlockDedup(t *testing.T) {
	block := compressible(DefaultBlockSize)
	payload := append(append([]byte{}, block...), block...)
	a, err := Build(DefaultBlockSize, map[uint64][]byte{1: payload})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(a.blocks) != 2 {
		t.Fatalf("chunk spans %d blocks, want 2", len(a.blocks))
	}
	if a.blocks[0].Offset != a.blocks[1].Offset {
		t.Error("identical blocks stored twice")
	}
	got, err := a.Read(1)
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("deduplicated chunk reads back wrong (%v)", err)
	}
}

func TestOpenRejectsCorruptIndex(t *testing.T) {
	a, _ := buildTestArchive(t)

	bad := append([]byte{}, a.Toc()...)
	bad[0] ^= 0xFF
	if _, err := Open(bad, a.Data()); err == nil {
		t.Error("Open accepted a corrupted magic")
	}

	if _, err := Open(a.Toc(), a.Data()[:10]); err == nil {
		t.Error("Open accepted a truncated data stream")
	}

	if _, err := Open(a.Toc()[:12], a.Data()); err == nil {
		t.Error("Open accepted a truncated index stream")
	}
}

func TestChunkKeyCaseInsensitive(t *testing.T) {
	if ChunkKey("/Game/T_Test") != ChunkKey("/game/t_test") {
		t.Error("chunk keys are case sensitive")
	}
	if ChunkKey("/Game/T_A") == ChunkKey("/Game/T_B") {
		t.Error("distinct paths collide")
	}
}
