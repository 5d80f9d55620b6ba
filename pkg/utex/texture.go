// Package utex models the texture object serialized inside an asset's
// export data: the property block, pixel format, packed layout word and the
// mip chain. It understands every dialect quirk of the mip serialization but
// leaves stream placement and offset bases to the container layer.
package utex

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/uver"
)

var (
	// ErrFormatMismatch reports a replacement chain whose pixel format or
	// layout class does not match the texture.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrInvalidMipChain reports a replacement chain violating the halving
	// invariant or empty.
	ErrInvalidMipChain = errors.New("invalid mip chain")
	// ErrMipSizeMismatch reports a mip payload whose byte size disagrees
	// with its declared dimensions.
	ErrMipSizeMismatch = errors.New("mip size mismatch")
)

// propScanWindow bounds the search for the strip-flags pattern that ends the
// property block.
const propScanWindow = 1000

// Strip-flags plus bCooked patterns marking the end of the property block.
// The default strip-flags value changed from one to five in newer builds.
var (
	stripPattern1 = []byte{0x01, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00}
	stripPattern5 = []byte{0x05, 0x00, 0x05, 0x00, 0x01, 0x00, 0x00, 0x00}
)

const (
	packedCubeBit    = uint32(1) << 31
	packedOptDataBit = uint32(1) << 30
	packedSliceMask  = packedOptDataBit - 1
)

// Texture is one texture export's deserialized form.
type Texture struct {
	Dialect   uver.Dialect
	ClassName string

	IsCube     bool
	Is3D       bool
	IsArray    bool
	IsLightMap bool

	// Props is the property block preceding the cooked data, kept verbatim.
	Props []byte

	SerializeMipData  uint32
	PixelFormatNameID uint64
	NoneNameID        uint64
	Placeholder       [16]byte

	ImportedWidth  uint32
	ImportedHeight uint32
	NumSlices      uint32
	HasOptData     bool
	PixelFormat    PixelFormat

	FirstMipToSerialize uint32
	NumMipsInTail       uint32
	UexpMapNum          uint32
	LightMapFlags       uint32

	Mips []*Mip

	// TailMip carries the packed inline payloads of tail-packing dialects.
	TailMip *Mip
}

// Layout reports where offset-sensitive fields landed during serialization,
// so the container can run its fixup pass once stream sizes are final.
type Layout struct {
	Size int // serialized size of the texture object

	// BulkFields holds, per mip stored in a side stream, the position of its
	// offset field within the writer. -1 when the metadata lives in a
	// header-level table instead.
	BulkFields []BulkField
}

// BulkField ties a side-stream mip to its serialized offset field.
type BulkField struct {
	Mip      *Mip
	FieldPos int
}

func classTraits(className string) (cube, volume, array, lightMap bool) {
	cube = strings.Contains(className, "Cube")
	volume = strings.Contains(className, "Volume")
	array = strings.Contains(className, "Array")
	lightMap = strings.Contains(className, "LightMap")
	return
}

// Is2D reports whether the texture is a plain 2D texture (including light
// and shadow maps).
func (t *Texture) Is2D() bool {
	return !t.IsCube && !t.Is3D && !t.IsArray
}

// ArraySize returns the number of array elements.
func (t *Texture) ArraySize() uint32 {
	if t.Is3D {
		return 1
	}
	if t.IsCube {
		return t.NumSlices / 6
	}
	return t.NumSlices
}

// Depth returns the volume depth, 1 for non-volume textures.
func (t *Texture) Depth() uint32 {
	if t.Is3D {
		return t.NumSlices
	}
	return 1
}

// TypeName returns the layout class as a short name (2D, Cube, 2DArray, 3D).
func (t *Texture) TypeName() string {
	if t.Is3D {
		return "3D"
	}
	name := "2D"
	if t.IsCube {
		name = "Cube"
	}
	if t.IsArray {
		name += "Array"
	}
	return name
}

// HasBulk reports whether any mip lives in the bulk side stream.
func (t *Texture) HasBulk() bool {
	for _, m := range t.Mips {
		if m.Storage == StorageBulk {
			return true
		}
	}
	return false
}

// HasOptional reports whether any mip lives in the on-demand stream.
func (t *Texture) HasOptional() bool {
	for _, m := range t.Mips {
		if m.Storage == StorageOptional {
			return true
		}
	}
	return false
}

// MaxInlineSize returns the dimensions of the largest mip kept in the export
// stream. Used as the placement threshold when injecting a new chain.
func (t *Texture) MaxInlineSize() (uint32, uint32) {
	for _, m := range t.Mips {
		if !m.InBulkStream() {
			return m.Width, m.Height
		}
	}
	return 0, 0
}

// MaxSize returns the dimensions of the top mip.
func (t *Texture) MaxSize() (uint32, uint32) {
	if len(t.Mips) == 0 {
		return 0, 0
	}
	return t.Mips[0].Width, t.Mips[0].Height
}

func (t *Texture) mipCounts() (inline, bulk, optional int) {
	for _, m := range t.Mips {
		switch m.Storage {
		case StorageBulk:
			bulk++
		case StorageOptional:
			optional++
		default:
			inline++
		}
	}
	return
}

// scanProps finds the size of the property block by locating the strip-flags
// pattern that starts the cooked data.
func scanProps(r *uarc.Reader) (int, error) {
	start := r.Tell()
	limit := min(r.Len()-start, propScanWindow+len(stripPattern1))
	window, err := r.Span(limit)
	if err != nil {
		return 0, err
	}
	if err := r.Seek(start); err != nil {
		return 0, err
	}
	idx := bytes.Index(window, stripPattern1)
	if j := bytes.Index(window, stripPattern5); j >= 0 && (idx < 0 || j < idx) {
		idx = j
	}
	if idx < 0 {
		return 0, fmt.Errorf("strip flags not found within %d bytes at offset %d", limit, start)
	}
	// The property block runs through the end of the pattern.
	return idx + len(stripPattern1), nil
}

// ParseTexture deserializes one texture object from the export stream.
// resources is the header-level payload metadata table, nil for dialects
// that serialize the metadata inline. Side-stream payloads are not attached
// here; the container resolves them via BulkLocation.
func ParseTexture(r *uarc.Reader, d uver.Dialect, className string, resources []DataResource) (*Texture, error) {
	t := &Texture{Dialect: d, ClassName: className, NumSlices: 1}
	t.IsCube, t.Is3D, t.IsArray, t.IsLightMap = classTraits(className)

	propSize, err := scanProps(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", className, err)
	}
	if t.Props, err = r.Bytes(propSize); err != nil {
		return nil, err
	}

	if d.MipSerializeFlag && t.Is2D() {
		if t.SerializeMipData, err = r.U32(); err != nil {
			return nil, err
		}
	}

	if t.PixelFormatNameID, err = r.U64(); err != nil {
		return nil, err
	}
	if _, err = r.U32(); err != nil { // skip offset, recomputed on write
		return nil, err
	}
	if d.SkipOffsetPad {
		if err = r.CheckU32(0, "skip offset pad"); err != nil {
			return nil, err
		}
	}
	if d.SkipOffsetPlaceholder {
		raw, err := r.Bytes(16)
		if err != nil {
			return nil, err
		}
		copy(t.Placeholder[:], raw)
	}

	if t.ImportedWidth, err = r.U32(); err != nil {
		return nil, err
	}
	if t.ImportedHeight, err = r.U32(); err != nil {
		return nil, err
	}
	packed, err := r.U32()
	if err != nil {
		return nil, err
	}
	if d.PackedExtraFlags {
		t.HasOptData = packed&packedOptDataBit != 0
	} else if packed&(packedCubeBit|packedOptDataBit) != 0 {
		return nil, fmt.Errorf("packed layout flags %#x not valid for %s", packed, d.Tag)
	}
	t.NumSlices = packed & packedSliceMask

	pf, err := r.FString()
	if err != nil {
		return nil, err
	}
	t.PixelFormat = PixelFormat(pf)
	if _, err = Info(t.PixelFormat); err != nil {
		return nil, err
	}

	if d.TailMipPacking && t.HasOptData {
		if err = r.CheckU32(0, "opt data"); err != nil {
			return nil, err
		}
		if err = r.CheckU32(0, "opt data"); err != nil {
			return nil, err
		}
		if t.NumMipsInTail, err = r.U32(); err != nil {
			return nil, err
		}
	}

	if t.FirstMipToSerialize, err = r.U32(); err != nil {
		return nil, err
	}
	mipCount, err := r.U32()
	if err != nil {
		return nil, err
	}

	if d.TailMipPacking {
		if t.TailMip, err = readMip(r, d, resources); err != nil {
			return nil, fmt.Errorf("tail mip: %w", err)
		}
		if err = r.CheckU32(t.NumSlices, "tail slice count"); err != nil {
			return nil, err
		}
		if t.UexpMapNum, err = r.U32(); err != nil {
			return nil, err
		}
	}

	if mipCount > uint32(r.Len()) {
		return nil, fmt.Errorf("mip count %d: %w", mipCount, uarc.ErrTruncated)
	}
	t.Mips = make([]*Mip, 0, mipCount)
	for i := uint32(0); i < mipCount; i++ {
		m, err := readMip(r, d, resources)
		if err != nil {
			return nil, fmt.Errorf("mip %d: %w", i, err)
		}
		t.Mips = append(t.Mips, m)
	}

	if d.MipIsVirtualFlag {
		if err = r.CheckU32(0, "virtual texture flag"); err != nil {
			return nil, err
		}
	}

	if t.NoneNameID, err = r.U64(); err != nil {
		return nil, err
	}
	if t.IsLightMap {
		if t.LightMapFlags, err = r.U32(); err != nil {
			return nil, err
		}
	}

	if d.TailMipPacking && Supported(t.PixelFormat) {
		if err := t.splitTailMip(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// splitTailMip distributes the packed tail payload across the mips it holds.
func (t *Texture) splitTailMip() error {
	info, err := Info(t.PixelFormat)
	if err != nil {
		return err
	}
	offset := 0
	for _, m := range t.Mips {
		if m.InBulkStream() {
			continue
		}
		size := info.MipSize(m.Width, m.Height, t.NumSlices)
		if offset+size > len(t.TailMip.Data) {
			return fmt.Errorf("packed tail of %d bytes too small at offset %d: %w",
				len(t.TailMip.Data), offset, uarc.ErrTruncated)
		}
		m.Data = t.TailMip.Data[offset : offset+size]
		offset += size
	}
	if offset != len(t.TailMip.Data) {
		return fmt.Errorf("packed tail has %d unclaimed bytes", len(t.TailMip.Data)-offset)
	}
	return nil
}

// Serialize emits the texture object. uassetSize is the size the header
// stream will have (used as the base of inline payload offsets and pre-5.0
// skip offsets); bulkOffset and optOffset are the positions the texture's
// first side-stream payloads will take within their streams. Mip offsets for
// side-stream payloads are written as in-stream positions; the container
// patches them afterwards via the returned layout when the dialect needs a
// different base.
func (t *Texture) Serialize(w *uarc.Writer, uassetSize int, bulkOffset, optOffset int64) (Layout, error) {
	d := t.Dialect
	start := w.Tell()

	w.Raw(t.Props)

	if d.MipSerializeFlag && t.Is2D() {
		w.U32(t.SerializeMipData)
	}

	w.U64(t.PixelFormatNameID)
	skipPos := w.Tell()
	w.U32(0)
	if d.SkipOffsetPad {
		w.U32(0)
	}
	if d.SkipOffsetPlaceholder {
		w.Raw(t.Placeholder[:])
	}

	inlineNum, bulkNum, _ := t.mipCounts()

	w.U32(t.ImportedWidth)
	w.U32(t.ImportedHeight)
	packed := t.NumSlices & packedSliceMask
	if d.PackedExtraFlags {
		if t.IsCube {
			packed |= packedCubeBit
		}
		if t.HasOptData {
			packed |= packedOptDataBit
		}
	}
	w.U32(packed)
	if err := w.FString(string(t.PixelFormat)); err != nil {
		return Layout{}, err
	}

	if d.TailMipPacking && t.HasOptData {
		w.U32(0)
		w.U32(0)
		t.NumMipsInTail = uint32(bulkNum) + t.FirstMipToSerialize
		w.U32(t.NumMipsInTail)
	}

	w.U32(t.FirstMipToSerialize)
	w.U32(uint32(len(t.Mips)))

	if d.TailMipPacking {
		if err := t.packTailMip(); err != nil {
			return Layout{}, err
		}
		if err := writeMip(w, d, t.TailMip, uassetSize); err != nil {
			return Layout{}, fmt.Errorf("tail mip: %w", err)
		}
		w.U32(t.NumSlices)
		t.UexpMapNum = uint32(inlineNum)
		w.U32(t.UexpMapNum)
	}

	// Assign side-stream positions in mip order before writing the fields.
	for _, m := range t.Mips {
		switch m.Storage {
		case StorageBulk:
			m.Offset = bulkOffset
			bulkOffset += int64(len(m.Data))
		case StorageOptional:
			m.Offset = optOffset
			optOffset += int64(len(m.Data))
		}
	}

	var layout Layout
	for i, m := range t.Mips {
		if err := writeMip(w, d, m, uassetSize); err != nil {
			return Layout{}, fmt.Errorf("mip %d: %w", i, err)
		}
		if m.InBulkStream() {
			layout.BulkFields = append(layout.BulkFields, BulkField{Mip: m, FieldPos: m.offsetFieldPos})
		}
	}

	if d.MipIsVirtualFlag {
		w.U32(0)
	}

	// The skip offset points here, past the mip block.
	end := w.Tell()
	var skip uint32
	if d.SkipOffsetRelative {
		skip = uint32(end - skipPos)
	} else {
		skip = uint32(end + uassetSize)
	}
	if err := w.PatchU32(skipPos, skip); err != nil {
		return Layout{}, err
	}

	w.U64(t.NoneNameID)
	if t.IsLightMap {
		w.U32(t.LightMapFlags)
	}

	layout.Size = w.Tell() - start
	return layout, nil
}

// packTailMip rebuilds the packed tail payload from the inline mips and
// demotes them to metadata-only entries, the shape tail-packing dialects
// serialize.
func (t *Texture) packTailMip() error {
	var blob []byte
	for _, m := range t.Mips {
		if m.InBulkStream() {
			continue
		}
		blob = append(blob, m.Data...)
		m.Storage = StorageNone
	}
	w, h := t.MaxInlineSizeIncludingNone()
	if t.TailMip == nil {
		t.TailMip = &Mip{Depth: 1}
	}
	t.TailMip.Storage = StorageInline
	t.TailMip.Data = blob
	t.TailMip.Width = w
	t.TailMip.Height = h
	t.TailMip.Depth = 1
	return nil
}

// MaxInlineSizeIncludingNone is MaxInlineSize but also counts metadata-only
// mips, which is what tail-packing dialects leave behind after packing.
func (t *Texture) MaxInlineSizeIncludingNone() (uint32, uint32) {
	for _, m := range t.Mips {
		if !m.InBulkStream() {
			return m.Width, m.Height
		}
	}
	return 0, 0
}

// Chain is a replacement mip chain: the payloads to inject plus the format
// they are encoded in.
type Chain struct {
	Format PixelFormat
	Slices uint32
	Mips   []ChainMip
}

// ChainMip is one level of a replacement chain.
type ChainMip struct {
	Width  uint32
	Height uint32
	Data   []byte
}

// ExtractChain returns the texture's current mip chain as a Chain view.
// Payloads must already be attached.
func (t *Texture) ExtractChain() Chain {
	c := Chain{Format: t.PixelFormat, Slices: t.NumSlices}
	for _, m := range t.Mips {
		c.Mips = append(c.Mips, ChainMip{Width: m.Width, Height: m.Height, Data: m.Data})
	}
	return c
}

// ReplaceMips swaps the texture's mip chain for the given one. The chain is
// validated in full before any state changes: pixel format and slice count
// must match the texture, dimensions must halve level to level, and every
// payload must have exactly the byte size its dimensions and format imply.
// Placement follows the texture's existing split: levels larger than the
// largest currently inline level go to the bulk stream when one is in use,
// everything else stays inline. When every existing level lives in a side
// stream, payloads above the dialect's inline byte limit move out instead.
func (t *Texture) ReplaceMips(c Chain) error {
	if c.Format != t.PixelFormat {
		return fmt.Errorf("%w: texture is %s, chain is %s", ErrFormatMismatch, t.PixelFormat, c.Format)
	}
	if c.Slices != t.NumSlices {
		return fmt.Errorf("%w: texture has %d slices, chain has %d", ErrFormatMismatch, t.NumSlices, c.Slices)
	}
	if len(c.Mips) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidMipChain)
	}
	info, err := Info(t.PixelFormat)
	if err != nil {
		return err
	}
	for i, cm := range c.Mips {
		if cm.Width == 0 || cm.Height == 0 {
			return fmt.Errorf("%w: mip %d is %dx%d", ErrInvalidMipChain, i, cm.Width, cm.Height)
		}
		if i > 0 {
			prev := c.Mips[i-1]
			if cm.Width != max(1, prev.Width/2) || cm.Height != max(1, prev.Height/2) {
				return fmt.Errorf("%w: mip %d is %dx%d after %dx%d",
					ErrInvalidMipChain, i, cm.Width, cm.Height, prev.Width, prev.Height)
			}
		}
		want := info.MipSize(cm.Width, cm.Height, c.Slices)
		if len(cm.Data) != want {
			return fmt.Errorf("%w: mip %d (%dx%d, %d slices) has %d bytes, format %s implies %d",
				ErrMipSizeMismatch, i, cm.Width, cm.Height, c.Slices, len(cm.Data), c.Format, want)
		}
	}

	inlineW, inlineH := t.MaxInlineSizeIncludingNone()
	hasBulk := t.HasBulk()
	depth := uint32(1)
	if len(t.Mips) > 0 {
		depth = t.Mips[0].Depth
	}

	// Levels above the largest currently inline level move to the bulk
	// stream. With no inline level to compare against, the dialect's byte
	// limit decides.
	toBulk := func(cm ChainMip) bool {
		if inlineW*inlineH > 0 {
			return cm.Width*cm.Height > inlineW*inlineH
		}
		return len(cm.Data) > t.Dialect.InlineLimit
	}

	mips := make([]*Mip, len(c.Mips))
	for i, cm := range c.Mips {
		m := &Mip{
			Width:         cm.Width,
			Height:        cm.Height,
			Depth:         depth,
			Data:          cm.Data,
			ResourceIndex: -1,
			Size:          int64(len(cm.Data)),
			Size64:        len(cm.Data) > 1<<31,
		}
		if hasBulk && i+1 < len(c.Mips) && toBulk(cm) {
			m.Storage = StorageBulk
		} else {
			m.Storage = StorageInline
		}
		mips[i] = m
	}

	t.Mips = mips
	t.FirstMipToSerialize = 0
	t.ImportedWidth = c.Mips[0].Width
	t.ImportedHeight = c.Mips[0].Height
	if t.Dialect.TailMipPacking {
		t.HasOptData = t.HasBulk()
	}
	t.assignResourceIndexes()
	return nil
}

// RemoveMips drops every level but the top one and pulls it inline.
func (t *Texture) RemoveMips() {
	if len(t.Mips) <= 1 {
		return
	}
	top := t.Mips[0]
	top.Storage = StorageInline
	t.Mips = []*Mip{top}
	t.FirstMipToSerialize = 0
	if t.Dialect.TailMipPacking {
		t.HasOptData = false
	}
	t.assignResourceIndexes()
}

// assignResourceIndexes renumbers the header-table references in mip order
// for dialects that keep payload metadata in a table.
func (t *Texture) assignResourceIndexes() {
	if !t.Dialect.HasDataResources {
		return
	}
	idx := int32(0)
	if t.TailMip != nil {
		t.TailMip.ResourceIndex = idx
		idx++
	}
	for _, m := range t.Mips {
		m.ResourceIndex = idx
		idx++
	}
}

// Resources builds the header-table metadata records for this texture's
// mips, in the same order assignResourceIndexes numbers them. Call after
// Serialize so inline offsets are resolved.
func (t *Texture) Resources() []DataResource {
	if !t.Dialect.HasDataResources {
		return nil
	}
	var out []DataResource
	if t.TailMip != nil {
		out = append(out, t.TailMip.Resource())
	}
	for _, m := range t.Mips {
		out = append(out, m.Resource())
	}
	return out
}
