// Package upak reads and writes the package header stream: the file summary,
// name table, import and export tables and the auxiliary tables between them.
// It preserves every byte it does not model so that rewriting a package
// only moves the fields the caller changed.
package upak

import (
	"fmt"

	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/uver"
)

// Package flags the codec cares about.
const (
	PkgUnversionedProperties uint32 = 0x2000
	PkgFilterEditorOnly      uint32 = 0x80000000
)

// Summary is the package file summary (FPackageFileSummary). Fields the
// codec never edits are carried verbatim.
type Summary struct {
	VersionInfo []byte // legacy UE3/UE4/UE5/licensee versions plus custom versions

	UAssetSize  uint32 // total header size
	PackageName string
	PkgFlags    uint32

	NameCount     int32
	NameOffset    int32
	ExportCount   int32
	ExportOffset  int32
	ImportCount   int32
	ImportOffset  int32
	DependsOffset int32

	GUID            [16]byte
	GenerationData  []int32 // export/name count pairs for prior generations
	CompressionInfo [8]byte
	PackageSource   uint32

	AssetRegistryOffset int32
	BulkOffset          int32 // uasset size + export stream size

	PreloadDependencyCount  int32
	PreloadDependencyOffset int32

	ReferencedNamesCount int32
	PayloadTOCOffset     int64

	DataResourceOffset int32
}

// IsUnversioned reports whether the package uses unversioned property
// serialization.
func (s *Summary) IsUnversioned() bool {
	return s.PkgFlags&PkgUnversionedProperties != 0
}

func readSummary(r *uarc.Reader, d uver.Dialect) (*Summary, error) {
	s := &Summary{}

	tag, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	if [4]byte(tag) != uver.PackageMagic {
		return nil, fmt.Errorf("bad package magic %x", tag)
	}
	marker, err := r.I32()
	if err != nil {
		return nil, err
	}
	if marker != d.FileVersion {
		return nil, fmt.Errorf("file version marker %d does not match %s (%d)", marker, d.Tag, d.FileVersion)
	}

	if s.VersionInfo, err = r.Bytes(d.VersionInfoSize); err != nil {
		return nil, err
	}
	if s.UAssetSize, err = r.U32(); err != nil {
		return nil, err
	}
	if s.PackageName, err = r.FString(); err != nil {
		return nil, err
	}
	if s.PkgFlags, err = r.U32(); err != nil {
		return nil, err
	}
	if s.PkgFlags&PkgFilterEditorOnly == 0 {
		return nil, fmt.Errorf("package keeps editor-only data, only cooked packages are supported")
	}
	if s.NameCount, err = r.I32(); err != nil {
		return nil, err
	}
	if s.NameOffset, err = r.I32(); err != nil {
		return nil, err
	}

	if d.HasSoftObjectPaths {
		if err = r.CheckU32(0, "soft object path count"); err != nil {
			return nil, err
		}
		if _, err = r.I32(); err != nil { // offset, rewritten as import offset
			return nil, err
		}
	}

	// GatherableTextData count and offset.
	if err = r.CheckU32(0, "gatherable text count"); err != nil {
		return nil, err
	}
	if err = r.CheckU32(0, "gatherable text offset"); err != nil {
		return nil, err
	}

	if s.ExportCount, err = r.I32(); err != nil {
		return nil, err
	}
	if s.ExportOffset, err = r.I32(); err != nil {
		return nil, err
	}
	if s.ImportCount, err = r.I32(); err != nil {
		return nil, err
	}
	if s.ImportOffset, err = r.I32(); err != nil {
		return nil, err
	}
	if s.DependsOffset, err = r.I32(); err != nil {
		return nil, err
	}

	if d.LegacyStringAssetRefs {
		if err = r.CheckU32(0, "string asset reference count"); err != nil {
			return nil, err
		}
		if _, err = r.I32(); err != nil { // offset, rewritten as registry offset
			return nil, err
		}
	} else {
		for _, what := range []string{"soft package count", "soft package offset", "searchable names offset"} {
			if err = r.CheckU32(0, what); err != nil {
				return nil, err
			}
		}
	}
	if err = r.CheckU32(0, "thumbnail table offset"); err != nil {
		return nil, err
	}

	guid, err := r.Bytes(16)
	if err != nil {
		return nil, err
	}
	copy(s.GUID[:], guid)

	genCount, err := r.I32()
	if err != nil {
		return nil, err
	}
	if genCount <= 0 || genCount >= 10 {
		return nil, fmt.Errorf("implausible generation count %d", genCount)
	}
	s.GenerationData = make([]int32, genCount*2)
	for i := range s.GenerationData {
		if s.GenerationData[i], err = r.I32(); err != nil {
			return nil, err
		}
	}

	// SavedByEngineVersion and CompatibleWithEngineVersion, zero in cooked
	// packages.
	engVer, err := r.Bytes(28)
	if err != nil {
		return nil, err
	}
	for _, b := range engVer {
		if b != 0 {
			return nil, fmt.Errorf("versioned engine fields are not supported")
		}
	}

	compInfo, err := r.Bytes(8)
	if err != nil {
		return nil, err
	}
	copy(s.CompressionInfo[:], compInfo)

	if s.PackageSource, err = r.U32(); err != nil {
		return nil, err
	}
	if err = r.CheckU32(0, "additional packages to cook"); err != nil {
		return nil, err
	}
	if d.HasTextureAllocations {
		if err = r.CheckU32(0, "texture allocation count"); err != nil {
			return nil, err
		}
	}
	if s.AssetRegistryOffset, err = r.I32(); err != nil {
		return nil, err
	}
	if s.BulkOffset, err = r.I32(); err != nil {
		return nil, err
	}

	// WorldTileInfoDataOffset, ChunkIDs array length, ChunkID.
	for _, what := range []string{"world tile info offset", "chunk id count", "chunk id"} {
		if err = r.CheckU32(0, what); err != nil {
			return nil, err
		}
	}

	if !d.HasPreloadDependencies {
		return s, nil
	}
	if s.PreloadDependencyCount, err = r.I32(); err != nil {
		return nil, err
	}
	if s.PreloadDependencyOffset, err = r.I32(); err != nil {
		return nil, err
	}

	if !d.HasPayloadTOC {
		return s, nil
	}
	if s.ReferencedNamesCount, err = r.I32(); err != nil {
		return nil, err
	}
	if s.PayloadTOCOffset, err = r.I64(); err != nil {
		return nil, err
	}

	if !d.HasDataResources {
		return s, nil
	}
	if s.DataResourceOffset, err = r.I32(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Summary) write(w *uarc.Writer, d uver.Dialect) error {
	w.Raw(uver.PackageMagic[:])
	w.I32(d.FileVersion)
	w.Raw(s.VersionInfo)
	w.U32(s.UAssetSize)
	if err := w.FString(s.PackageName); err != nil {
		return err
	}
	w.U32(s.PkgFlags)
	w.I32(s.NameCount)
	w.I32(s.NameOffset)
	if d.HasSoftObjectPaths {
		w.U32(0)
		w.I32(s.ImportOffset)
	}
	w.U32(0) // gatherable text count
	w.U32(0) // gatherable text offset
	w.I32(s.ExportCount)
	w.I32(s.ExportOffset)
	w.I32(s.ImportCount)
	w.I32(s.ImportOffset)
	w.I32(s.DependsOffset)
	if d.LegacyStringAssetRefs {
		w.U32(0)
		w.I32(s.AssetRegistryOffset)
	} else {
		w.Zeros(12)
	}
	w.U32(0) // thumbnail table offset
	w.Raw(s.GUID[:])
	w.I32(int32(len(s.GenerationData) / 2))
	for _, v := range s.GenerationData {
		w.I32(v)
	}
	w.Zeros(28) // engine version fields
	w.Raw(s.CompressionInfo[:])
	w.U32(s.PackageSource)
	w.U32(0) // additional packages to cook
	if d.HasTextureAllocations {
		w.U32(0)
	}
	w.I32(s.AssetRegistryOffset)
	w.I32(s.BulkOffset)
	w.Zeros(12) // world tile info, chunk ids

	if !d.HasPreloadDependencies {
		return nil
	}
	w.I32(s.PreloadDependencyCount)
	w.I32(s.PreloadDependencyOffset)

	if !d.HasPayloadTOC {
		return nil
	}
	w.I32(s.ReferencedNamesCount)
	w.I64(s.PayloadTOCOffset)

	if !d.HasDataResources {
		return nil
	}
	w.I32(s.DataResourceOffset)
	return nil
}
