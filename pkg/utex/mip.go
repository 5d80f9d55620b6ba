package utex

import (
	"fmt"

	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/uver"
)

// Bulk data flags as serialized in payload metadata.
const (
	BulkPayloadAtEndOfFile    uint32 = 1 << 0
	BulkSingleUse             uint32 = 1 << 3
	BulkUnused                uint32 = 1 << 5
	BulkForceInlinePayload    uint32 = 1 << 6
	BulkPayloadInSeparateFile uint32 = 1 << 8
	BulkForceNotInlinePayload uint32 = 1 << 10
	BulkOptionalPayload       uint32 = 1 << 11
	BulkSize64Bit             uint32 = 1 << 13
	BulkNoOffsetFixup         uint32 = 1 << 16
)

// Storage tells which physical stream holds a payload.
type Storage int

const (
	StorageInline   Storage = iota // export data stream
	StorageBulk                    // .ubulk side stream (or tail of a single-file asset)
	StorageOptional                // .uptnl on-demand stream
	StorageNone                    // metadata only, no payload
)

func (s Storage) String() string {
	switch s {
	case StorageInline:
		return "inline"
	case StorageBulk:
		return "bulk"
	case StorageOptional:
		return "optional"
	case StorageNone:
		return "none"
	}
	return fmt.Sprintf("storage(%d)", int(s))
}

// storageFromFlags decodes the storage class from serialized bulk flags.
func storageFromFlags(flags uint32, d uver.Dialect) (Storage, error) {
	var s Storage
	switch {
	case flags&BulkForceInlinePayload != 0:
		s = StorageInline
	case flags&BulkUnused != 0:
		s = StorageNone
	case flags&BulkOptionalPayload != 0:
		s = StorageOptional
	default:
		s = StorageBulk
	}
	if s == StorageOptional && !d.OptionalBulk {
		return s, fmt.Errorf("optional payload flag set but %s has no on-demand stream", d.Tag)
	}
	if flags&BulkNoOffsetFixup != 0 && !d.NoOffsetFixup && !d.PackedExtraFlags {
		// Before 4.24 the same bit carried an io-dispatcher meaning this
		// codec does not model.
		return s, fmt.Errorf("unexpected no-offset-fixup flag for %s", d.Tag)
	}
	return s, nil
}

// packFlags builds the serialized bulk flags for a storage class.
func packFlags(s Storage, d uver.Dialect, size64 bool) uint32 {
	var flags uint32
	switch s {
	case StorageInline:
		flags = BulkForceInlinePayload
		if !d.TailMipPacking {
			flags |= BulkSingleUse
		}
	case StorageNone:
		flags = BulkUnused
	default:
		flags = BulkPayloadAtEndOfFile
		if d.BulkNotInline {
			flags |= BulkForceNotInlinePayload
		}
		if d.SeparateExportData {
			flags |= BulkPayloadInSeparateFile
		}
		if d.NoOffsetFixup {
			flags |= BulkNoOffsetFixup
		}
		if s == StorageOptional {
			flags |= BulkOptionalPayload
		}
	}
	if size64 {
		flags |= BulkSize64Bit
	}
	return flags
}

// DataResource is one payload-metadata record. Older dialects serialize it
// inline in front of each mip; 5.2+ moves the records into a header-level
// table and mips reference them by index.
type DataResource struct {
	Flags            uint32
	Offset           int64
	DuplicatedOffset int64
	Size             int64
	OuterIndex       int32
	BulkFlags        uint32
}

// ReadDataResource reads one header-table record (FObjectDataResource).
func ReadDataResource(r *uarc.Reader) (DataResource, error) {
	var res DataResource
	var err error
	if res.Flags, err = r.U32(); err != nil {
		return res, err
	}
	if res.Offset, err = r.I64(); err != nil {
		return res, err
	}
	if res.DuplicatedOffset, err = r.I64(); err != nil {
		return res, err
	}
	if res.Size, err = r.I64(); err != nil {
		return res, err
	}
	size2, err := r.I64()
	if err != nil {
		return res, err
	}
	if size2 != res.Size {
		return res, fmt.Errorf("data resource size fields disagree: %d vs %d", res.Size, size2)
	}
	if res.OuterIndex, err = r.I32(); err != nil {
		return res, err
	}
	if res.BulkFlags, err = r.U32(); err != nil {
		return res, err
	}
	return res, nil
}

// Write emits the record in header-table form.
func (res DataResource) Write(w *uarc.Writer) {
	w.U32(res.Flags)
	w.I64(res.Offset)
	w.I64(res.DuplicatedOffset)
	w.I64(res.Size)
	w.I64(res.Size)
	w.I32(res.OuterIndex)
	w.U32(res.BulkFlags)
}

// BulkMapEntrySize is the serialized size of one virtual-container bulk map
// record (FBulkDataMapEntry).
const BulkMapEntrySize = 32

// ReadBulkMapEntry reads one virtual-container bulk map record.
func ReadBulkMapEntry(r *uarc.Reader) (DataResource, error) {
	var res DataResource
	var err error
	if res.Offset, err = r.I64(); err != nil {
		return res, err
	}
	if res.DuplicatedOffset, err = r.I64(); err != nil {
		return res, err
	}
	if res.Size, err = r.I64(); err != nil {
		return res, err
	}
	if res.BulkFlags, err = r.U32(); err != nil {
		return res, err
	}
	if err = r.CheckU32(0, "bulk map entry pad"); err != nil {
		return res, err
	}
	return res, nil
}

// WriteBulkMapEntry emits the record in virtual-container bulk map form.
func (res DataResource) WriteBulkMapEntry(w *uarc.Writer) {
	w.I64(res.Offset)
	w.I64(res.DuplicatedOffset)
	w.I64(res.Size)
	w.U32(res.BulkFlags)
	w.U32(0)
}

// Mip is one mip level: payload metadata plus, once the container has
// attached it, the payload itself.
type Mip struct {
	Storage   Storage
	BulkFlags uint32
	Size64    bool
	Width     uint32
	Height    uint32
	Depth     uint32
	Data      []byte

	// Offset is the offset field as recorded in the stream. Its meaning is
	// dialect-dependent; BulkLocation resolves it to a stream position.
	Offset int64
	// Size is the recorded payload size. Matches len(Data) once attached.
	Size int64
	// ResourceIndex points into the header-level metadata table when the
	// dialect carries one, -1 otherwise.
	ResourceIndex int32

	offsetFieldPos int
}

// PixelCount returns width*height.
func (m *Mip) PixelCount() uint32 { return m.Width * m.Height }

// HasPayload reports whether the mip carries payload bytes at all.
func (m *Mip) HasPayload() bool { return m.Storage != StorageNone }

// InBulkStream reports whether the payload lives outside the export stream.
func (m *Mip) InBulkStream() bool {
	return m.Storage == StorageBulk || m.Storage == StorageOptional
}

// BulkLocation resolves the recorded offset to a position within the mip's
// bulk stream. Dialects with the no-offset-fixup behavior record the in-bulk
// position directly; split-file dialects before it record the position minus
// the combined header and export-stream size; single-file dialects record
// the absolute position in the one file.
func (m *Mip) BulkLocation(d uver.Dialect, uassetSize, uexpSize int) int64 {
	if !m.InBulkStream() {
		return m.Offset
	}
	if d.NoOffsetFixup && m.BulkFlags&BulkNoOffsetFixup != 0 {
		return m.Offset
	}
	if !d.SeparateExportData {
		return m.Offset - int64(uassetSize) - int64(uexpSize)
	}
	return m.Offset + int64(uassetSize) + int64(uexpSize)
}

// readMip parses one mip's metadata and inline payload. Payloads in side
// streams are attached later by the container.
func readMip(r *uarc.Reader, d uver.Dialect, resources []DataResource) (*Mip, error) {
	m := &Mip{ResourceIndex: -1, Depth: 1}

	if d.HasDataResources {
		idx, err := r.I32()
		if err != nil {
			return nil, err
		}
		if idx < 0 || int(idx) >= len(resources) {
			return nil, fmt.Errorf("data resource index %d out of range (%d entries)", idx, len(resources))
		}
		res := resources[idx]
		m.ResourceIndex = idx
		m.BulkFlags = res.BulkFlags
		m.Size = res.Size
		m.Offset = res.Offset
		m.Size64 = res.BulkFlags&BulkSize64Bit != 0
	} else {
		if d.MipCookedMarker {
			if err := r.CheckU32(1, "mip cooked marker"); err != nil {
				return nil, err
			}
		}
		flags, err := r.U32()
		if err != nil {
			return nil, err
		}
		m.BulkFlags = flags
		m.Size64 = flags&BulkSize64Bit != 0
		readSize := func() (int64, error) {
			if m.Size64 {
				return r.I64()
			}
			v, err := r.I32()
			return int64(v), err
		}
		if m.Size, err = readSize(); err != nil {
			return nil, err
		}
		size2, err := readSize()
		if err != nil {
			return nil, err
		}
		if size2 != m.Size {
			return nil, fmt.Errorf("mip size fields disagree: %d vs %d", m.Size, size2)
		}
		if m.Offset, err = r.I64(); err != nil {
			return nil, err
		}
	}

	storage, err := storageFromFlags(m.BulkFlags, d)
	if err != nil {
		return nil, err
	}
	m.Storage = storage

	if !m.InBulkStream() {
		if m.Size < 0 || m.Size > int64(r.Len()-r.Tell()) {
			return nil, fmt.Errorf("inline mip payload of %d bytes: %w", m.Size, uarc.ErrTruncated)
		}
		if m.Data, err = r.Bytes(int(m.Size)); err != nil {
			return nil, err
		}
	}

	readDim := func() (uint32, error) {
		if d.MipDims16 {
			v, err := r.U16()
			return uint32(v), err
		}
		return r.U32()
	}
	if m.Width, err = readDim(); err != nil {
		return nil, err
	}
	if m.Height, err = readDim(); err != nil {
		return nil, err
	}
	if d.MipHasDepth {
		if m.Depth, err = readDim(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// writeMip serializes one mip. Inline offsets are resolved immediately from
// uassetSize; bulk offsets are written as currently assigned and the field
// position is kept for a later fixup pass.
func writeMip(w *uarc.Writer, d uver.Dialect, m *Mip, uassetSize int) error {
	storage := m.Storage
	data := m.Data
	if storage == StorageNone {
		data = nil
	}
	m.BulkFlags = packFlags(storage, d, m.Size64)
	m.Size = int64(len(data))
	m.offsetFieldPos = -1

	if d.HasDataResources {
		if m.ResourceIndex < 0 {
			return fmt.Errorf("mip has no data resource index")
		}
		w.I32(m.ResourceIndex)
		if !m.InBulkStream() {
			m.Offset = int64(uassetSize + w.Tell())
			w.Raw(data)
		}
	} else {
		if d.MipCookedMarker {
			w.U32(1)
		}
		w.U32(m.BulkFlags)
		writeSize := func(v int64) {
			if m.Size64 {
				w.I64(v)
			} else {
				w.I32(int32(v))
			}
		}
		writeSize(m.Size)
		writeSize(m.Size)
		if !m.InBulkStream() {
			m.Offset = int64(uassetSize + w.Tell() + 8)
		}
		m.offsetFieldPos = w.Tell()
		w.I64(m.Offset)
		if !m.InBulkStream() {
			w.Raw(data)
		}
	}

	if d.MipDims16 {
		if m.Width > 0xFFFF || m.Height > 0xFFFF {
			return fmt.Errorf("mip %dx%d does not fit 16-bit dimension fields", m.Width, m.Height)
		}
		w.U16(uint16(m.Width))
		w.U16(uint16(m.Height))
		if d.MipHasDepth {
			w.U16(uint16(m.Depth))
		}
	} else {
		w.U32(m.Width)
		w.U32(m.Height)
		if d.MipHasDepth {
			w.U32(m.Depth)
		}
	}
	return nil
}

// Resource builds the header-table metadata record for this mip.
func (m *Mip) Resource() DataResource {
	return DataResource{
		Offset:           m.Offset,
		DuplicatedOffset: -1,
		Size:             int64(len(m.Data)),
		OuterIndex:       1,
		BulkFlags:        m.BulkFlags,
	}
}
