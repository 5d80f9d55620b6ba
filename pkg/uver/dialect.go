// Package uver defines the version dialect table: one immutable record per
// supported engine-version family describing every structural parameter that
// differs between releases. Parsing code branches on these fields, never on
// version numbers, so supporting a new release is a table addition.
package uver

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnknownVersion reports a version tag with no dialect record.
var ErrUnknownVersion = errors.New("unknown engine version")

// Tag names one engine-version family. Plain tags are engine releases;
// "ff7r" and "borderlands3" are game-specific forks, and the "io" suffix
// marks the virtual-container (content-addressed archive) packaging of the
// same release.
type Tag string

const (
	Tag4_13         Tag = "4.13"
	Tag4_14         Tag = "4.14"
	Tag4_15         Tag = "4.15"
	Tag4_16         Tag = "4.16"
	Tag4_17         Tag = "4.17"
	Tag4_18         Tag = "4.18"
	Tag4_19         Tag = "4.19"
	Tag4_20         Tag = "4.20"
	Tag4_21         Tag = "4.21"
	Tag4_22         Tag = "4.22"
	Tag4_23         Tag = "4.23"
	Tag4_24         Tag = "4.24"
	Tag4_25         Tag = "4.25"
	Tag4_26         Tag = "4.26"
	Tag4_27         Tag = "4.27"
	Tag5_0          Tag = "5.0"
	Tag5_1          Tag = "5.1"
	Tag5_2          Tag = "5.2"
	Tag5_3          Tag = "5.3"
	TagFF7R         Tag = "ff7r"
	TagBorderlands3 Tag = "borderlands3"
	Tag5_2IO        Tag = "5.2io"
	Tag5_3IO        Tag = "5.3io"
)

// Dialect is the structural parameter set for one engine-version family.
// Records are built once by the package and never mutated.
type Dialect struct {
	Tag  Tag
	Base int // numeric base version: 4.27 -> 42700, 5.0 -> 50000

	// Package summary shape.
	FileVersion            int32 // legacy file-version marker after the magic
	VersionInfoSize        int   // 16, or 20 once a UE5 version field exists
	HasSoftObjectPaths     bool  // summary carries soft-object count/offset
	LegacyStringAssetRefs  bool  // pre-4.15 string-asset-reference layout
	HasTextureAllocations  bool  // pre-4.14 texture-allocation count field
	HasPreloadDependencies bool
	HasPayloadTOC          bool // summary carries a payload table-of-contents offset
	HasDataResources       bool // bulk metadata lives in a summary-level table

	// Object tables.
	ExportHasTemplate bool // export entries carry a template index
	Export64BitSize   bool // serialized-size field is 64-bit
	ExportTrailerSize int  // trailing bytes per export entry, copied verbatim
	ImportHasOptional bool // import entries carry the bImportOptional flag

	// Physical streams.
	SeparateExportData bool // export data split into a side stream (.uexp)

	// Mip serialization.
	MipCookedMarker  bool // each mip starts with a constant "cooked" u32
	MipIsVirtualFlag bool // texture carries a bIsVirtual u32 after the mips
	BulkNotInline    bool // non-inline payloads carry the force-not-inline bit
	MipDims16        bool // mip dimensions stored as u16 (borderlands3 fork)
	MipHasDepth      bool // mip carries a depth/slice field
	PackedExtraFlags bool // packed-data word carries cube/opt-data flag bits
	NoOffsetFixup    bool // bulk offsets stored plain, no header-size rebase
	OptionalBulk     bool // on-demand (.uptnl) side stream supported
	TailMipPacking   bool // inline mips packed into one trailing blob (ff7r)

	// Texture object framing.
	SkipOffsetPad         bool // zero u32 after the skip offset
	SkipOffsetPlaceholder bool // 16-byte derived-data placeholder block
	SkipOffsetRelative    bool // skip offset relative to its own location
	MipSerializeFlag      bool // 2D textures carry a serialize-mip-data u32

	// Injection placement.
	InlineLimit int // largest payload kept inline when no prior inline mip exists

	// Newest family: bulk payloads addressed by content key inside a
	// virtual-container archive instead of by raw side-file offset.
	Virtual bool
}

// IsCustom reports whether the dialect is a game-specific fork rather than a
// stock engine release.
func (d Dialect) IsCustom() bool {
	return d.Tag == TagFF7R || d.Tag == TagBorderlands3
}

func atLeast(base, major, minor int) bool {
	return base >= major*10000+minor*100
}

// build derives the stock parameter set for a numeric base version.
func build(tag Tag, major, minor int) Dialect {
	base := major*10000 + minor*100
	fileVersion := int32(-8)
	switch {
	case !atLeast(base, 4, 14):
		fileVersion = -6
	case !atLeast(base, 5, 0):
		fileVersion = -7
	}
	trailer := 40
	switch {
	case atLeast(base, 5, 1):
		trailer = 56
	case atLeast(base, 5, 0):
		trailer = 68
	case atLeast(base, 4, 16):
		trailer = 64
	case atLeast(base, 4, 14):
		trailer = 60
	}
	versionInfo := 16
	if atLeast(base, 5, 0) {
		versionInfo = 20
	}
	return Dialect{
		Tag:                    tag,
		Base:                   base,
		FileVersion:            fileVersion,
		VersionInfoSize:        versionInfo,
		HasSoftObjectPaths:     atLeast(base, 5, 1),
		LegacyStringAssetRefs:  !atLeast(base, 4, 15),
		HasTextureAllocations:  !atLeast(base, 4, 14),
		HasPreloadDependencies: atLeast(base, 4, 14),
		HasPayloadTOC:          atLeast(base, 5, 0),
		HasDataResources:       atLeast(base, 5, 2),
		ExportHasTemplate:      atLeast(base, 4, 14),
		Export64BitSize:        atLeast(base, 4, 16),
		ExportTrailerSize:      trailer,
		ImportHasOptional:      atLeast(base, 5, 0),
		SeparateExportData:     atLeast(base, 4, 16),
		MipCookedMarker:        !atLeast(base, 5, 0),
		MipIsVirtualFlag:       atLeast(base, 4, 23),
		BulkNotInline:          atLeast(base, 4, 14),
		MipHasDepth:            atLeast(base, 4, 20),
		PackedExtraFlags:       atLeast(base, 4, 24),
		NoOffsetFixup:          atLeast(base, 4, 26),
		OptionalBulk:           atLeast(base, 4, 26),
		SkipOffsetPad:          atLeast(base, 4, 20),
		SkipOffsetPlaceholder:  atLeast(base, 5, 0),
		SkipOffsetRelative:     atLeast(base, 5, 0),
		MipSerializeFlag:       atLeast(base, 5, 3),
		InlineLimit:            16 * 1024,
	}
}

var dialects = buildTable()

func buildTable() []Dialect {
	var table []Dialect
	for minor := 13; minor <= 27; minor++ {
		table = append(table, build(Tag(fmt.Sprintf("4.%d", minor)), 4, minor))
	}
	for minor := 0; minor <= 3; minor++ {
		table = append(table, build(Tag(fmt.Sprintf("5.%d", minor)), 5, minor))
	}

	// FF7R fork: a 4.18 derivative with opt-data packing, the no-offset-fixup
	// behavior that stock builds only gained at 4.26, and inline mips packed
	// into a single trailing blob.
	ff7r := build(TagFF7R, 4, 18)
	ff7r.Tag = TagFF7R
	ff7r.PackedExtraFlags = true
	ff7r.NoOffsetFixup = true
	ff7r.OptionalBulk = true
	ff7r.TailMipPacking = true
	table = append(table, ff7r)

	// Borderlands 3 fork: a 4.22 derivative that stores mip dimensions as
	// 16-bit integers.
	bl3 := build(TagBorderlands3, 4, 22)
	bl3.Tag = TagBorderlands3
	bl3.MipDims16 = true
	table = append(table, bl3)

	// Virtual-container packaging of the newest releases.
	for _, src := range []struct {
		tag  Tag
		base Tag
	}{{Tag5_2IO, Tag5_2}, {Tag5_3IO, Tag5_3}} {
		for _, d := range table {
			if d.Tag == src.base {
				v := d
				v.Tag = src.tag
				v.Virtual = true
				table = append(table, v)
				break
			}
		}
	}
	return table
}

// All returns every supported dialect in table order.
func All() []Dialect {
	out := make([]Dialect, len(dialects))
	copy(out, dialects)
	return out
}

// Resolve looks up the dialect for a version tag.
func Resolve(tag Tag) (Dialect, error) {
	for _, d := range dialects {
		if d.Tag == tag {
			return d, nil
		}
	}
	return Dialect{}, fmt.Errorf("%w: %q", ErrUnknownVersion, tag)
}

// PackageMagic is the tag at the start of every non-virtual package stream.
var PackageMagic = [4]byte{0xC1, 0x83, 0x2A, 0x9E}

// Candidates returns the dialects whose fixed header fingerprint (magic tag
// plus legacy file-version marker) matches the given bytes. It inspects at
// most the first eight bytes and never attempts a full parse; callers wanting
// a tighter set run a trial table parse per candidate.
func Candidates(header []byte) []Dialect {
	var out []Dialect
	if len(header) < 8 {
		return out
	}
	if [4]byte(header[:4]) != PackageMagic {
		// Virtual-container packages carry no magic; their summary starts
		// with a has-version-info word that is 0 or 1.
		if v := binary.LittleEndian.Uint32(header[:4]); v <= 1 {
			for _, d := range dialects {
				if d.Virtual {
					out = append(out, d)
				}
			}
		}
		return out
	}
	marker := int32(binary.LittleEndian.Uint32(header[4:8]))
	for _, d := range dialects {
		if !d.Virtual && d.FileVersion == marker {
			out = append(out, d)
		}
	}
	return out
}
