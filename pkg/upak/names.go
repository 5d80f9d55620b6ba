package upak

import (
	"fmt"

	"github.com/user/utexgo/internal/crc"
	"github.com/user/utexgo/pkg/uarc"
)

type nameEntry struct {
	name string
	hash uint32
}

// NameTable is the package name map. Entries are append-only: serialized
// data references names by index, so existing indices must never move.
type NameTable struct {
	entries   []nameEntry
	sizeDelta int
}

// NewNameTable returns an empty table.
func NewNameTable() *NameTable {
	return &NameTable{}
}

func readNameTable(r *uarc.Reader, count int32) (*NameTable, error) {
	if count < 0 || int(count) > r.Len() {
		return nil, fmt.Errorf("implausible name count %d", count)
	}
	t := &NameTable{entries: make([]nameEntry, 0, count)}
	for i := int32(0); i < count; i++ {
		name, err := r.FString()
		if err != nil {
			return nil, fmt.Errorf("name %d: %w", i, err)
		}
		hash, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("name %d hash: %w", i, err)
		}
		t.entries = append(t.entries, nameEntry{name: name, hash: hash})
	}
	return t, nil
}

func (t *NameTable) write(w *uarc.Writer) error {
	for _, e := range t.entries {
		if err := w.FString(e.name); err != nil {
			return err
		}
		w.U32(e.hash)
	}
	return nil
}

// Len returns the number of entries.
func (t *NameTable) Len() int { return len(t.entries) }

// Get returns the name at an index.
func (t *NameTable) Get(i int) (string, error) {
	if i < 0 || i >= len(t.entries) {
		return "", fmt.Errorf("name index %d out of range (%d names)", i, len(t.entries))
	}
	return t.entries[i].name, nil
}

// Resolve looks up a 64-bit name reference: the low half is the table index,
// the high half an instance number that does not affect the base name.
func (t *NameTable) Resolve(id uint64) (string, error) {
	return t.Get(int(uint32(id)))
}

// IndexOf returns the index of a name if present.
func (t *NameTable) IndexOf(name string) (int, bool) {
	for i, e := range t.entries {
		if e.name == name {
			return i, true
		}
	}
	return 0, false
}

// Add appends a name and returns its index. If the name is already present
// the existing index is returned and the table is unchanged.
func (t *NameTable) Add(name string) int {
	if i, ok := t.IndexOf(name); ok {
		return i
	}
	t.entries = append(t.entries, nameEntry{name: name, hash: crc.NameHash(name)})
	t.sizeDelta += uarc.FStringSize(name) + 4
	return len(t.entries) - 1
}

// Update replaces the name at an index in place, rehashing it. Used when a
// field like the pixel format name is rewritten rather than appended.
func (t *NameTable) Update(i int, name string) error {
	if i < 0 || i >= len(t.entries) {
		return fmt.Errorf("name index %d out of range (%d names)", i, len(t.entries))
	}
	old := t.entries[i]
	t.entries[i] = nameEntry{name: name, hash: crc.NameHash(name)}
	t.sizeDelta += uarc.FStringSize(name) - uarc.FStringSize(old.name)
	return nil
}

// SizeDelta returns the net serialized-size change since the table was read.
func (t *NameTable) SizeDelta() int { return t.sizeDelta }

// SerializedSize returns the byte size of the whole table.
func (t *NameTable) SerializedSize() int {
	size := 0
	for _, e := range t.entries {
		size += uarc.FStringSize(e.name) + 4
	}
	return size
}
