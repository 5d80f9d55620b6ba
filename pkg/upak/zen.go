package upak

import (
	"fmt"
	"strings"

	"github.com/user/utexgo/internal/cityhash"
	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/utex"
	"github.com/user/utexgo/pkg/uver"
)

// zenHashVersion is the name-hash algorithm id recorded in the name map.
const zenHashVersion uint64 = 0xC1640000

const (
	zenIndexBits = 62
	zenIndexMask = uint64(1)<<zenIndexBits - 1
)

// Zen object reference types (FPackageObjectIndex).
const (
	ZenTypeExport        = 0
	ZenTypeScriptImport  = 1
	ZenTypePackageImport = 2
)

// ZenIndex is a packed object reference: two type bits over a 62-bit id.
// For script imports the id is a hash of the object path; for exports it is
// the export table index.
type ZenIndex uint64

func (i ZenIndex) IsInvalid() bool      { return uint64(i) == ^uint64(0) }
func (i ZenIndex) Type() int            { return int(uint64(i) >> zenIndexBits) }
func (i ZenIndex) ID() uint64           { return uint64(i) & zenIndexMask }
func (i ZenIndex) IsScriptImport() bool { return !i.IsInvalid() && i.Type()&ZenTypeScriptImport != 0 }
func (i ZenIndex) IsExport() bool       { return !i.IsInvalid() && i.Type() == ZenTypeExport }

// ZenObjectID hashes an object path the way the engine keys script objects
// and package chunks: lowercased, path-separated, UTF-16LE, CityHash64 with
// the type bits cleared.
func ZenObjectID(packageName, objectName string) uint64 {
	path := objectName
	if packageName != "None" && packageName != "" {
		path = packageName + "." + objectName
	}
	path = strings.ReplaceAll(path, ".", "/")
	path = strings.ReplaceAll(path, ":", "/")
	path = strings.ToLower(path)
	encoded := make([]byte, 0, len(path)*2)
	for _, r := range path {
		encoded = append(encoded, byte(r), byte(r>>8))
	}
	return cityhash.Hash64(encoded) &^ (uint64(3) << zenIndexBits)
}

// scriptObjects maps known script-import hashes to object, class and package
// names. Virtual-container packages carry no class names of their own, so
// texture classes are recognized through this table.
var scriptObjects = map[uint64][3]string{
	0x11acced3dc7c0922: {"/Script/Engine", "Package", "None"},
	0x1b93bca796d1fa6f: {"Texture2D", "Class", "/Script/Engine"},
	0x2bfad34ac8b1f6d0: {"Default__Texture2D", "Texture2D", "/Script/Engine"},
	0x21ff31428abdc8ae: {"TextureCube", "Class", "/Script/Engine"},
	0x3712d23e90fd5fe5: {"Default__TextureCube", "TextureCube", "/Script/Engine"},
	0x2461c85f4ba3d161: {"VolumeTexture", "Class", "/Script/Engine"},
	0x015b0407da6ae563: {"Default__VolumeTexture", "VolumeTexture", "/Script/Engine"},
	0x2b74936cc124e6fb: {"Texture2DArray", "Class", "/Script/Engine"},
	0x250cd2505b93e715: {"Default__Texture2DArray", "Texture2DArray", "/Script/Engine"},
	0x22ebbf4da0c22e82: {"TextureCubeArray", "Class", "/Script/Engine"},
	0x14dba7ea9c83a397: {"Default__TextureCubeArray", "Texture2DArray", "/Script/Engine"},
	0x2fe6ca4e48506419: {"LightMapTexture2D", "Class", "/Script/Engine"},
	0x029e125411d1912f: {"Default__LightMapTexture2D", "LightMapTexture2D", "/Script/Engine"},
	0x1e90a76c6b6d37bf: {"ShadowMapTexture2D", "Class", "/Script/Engine"},
	0x01bb4bc588d632f7: {"Default__ShadowMapTexture2D", "ShadowMapTexture2D", "/Script/Engine"},
}

// ScriptObjectName resolves a script-import hash to its object name.
func ScriptObjectName(id uint64) (name string, ok bool) {
	entry, ok := scriptObjects[id]
	if !ok {
		return "", false
	}
	return entry[0], true
}

// ZenSummary is the virtual-container package summary (FZenPackageSummary).
type ZenSummary struct {
	HasVersionInfo uint32
	VersionInfo    []byte

	UAssetSize        uint32
	PackageNameID     uint32
	PackageNameNumber uint32
	PkgFlags          uint32

	// CookedHeaderSize is the header size the package would have in legacy
	// form; inline payload offsets are relative to it on 5.0/5.1.
	CookedHeaderSize uint32

	ExportHashesOffset        int32
	ImportOffset              int32
	ExportOffset              int32
	ExportBundleEntriesOffset int32

	// 5.3 replaced the graph data blob with dependency bundles.
	DependencyBundleHeadersOffset int32
	DependencyBundleEntriesOffset int32
	ImportedPackageNamesOffset    int32
	GraphDataOffset               int32
}

func readZenSummary(r *uarc.Reader, d uver.Dialect) (*ZenSummary, error) {
	s := &ZenSummary{}
	var err error
	if s.HasVersionInfo, err = r.U32(); err != nil {
		return nil, err
	}
	if s.HasVersionInfo > 1 {
		return nil, fmt.Errorf("implausible version info flag %d", s.HasVersionInfo)
	}
	if s.UAssetSize, err = r.U32(); err != nil {
		return nil, err
	}
	if s.PackageNameID, err = r.U32(); err != nil {
		return nil, err
	}
	if s.PackageNameNumber, err = r.U32(); err != nil {
		return nil, err
	}
	if s.PkgFlags, err = r.U32(); err != nil {
		return nil, err
	}
	if s.CookedHeaderSize, err = r.U32(); err != nil {
		return nil, err
	}
	for _, f := range []*int32{&s.ExportHashesOffset, &s.ImportOffset, &s.ExportOffset, &s.ExportBundleEntriesOffset} {
		if *f, err = r.I32(); err != nil {
			return nil, err
		}
	}
	if d.MipSerializeFlag { // 5.3 header shape
		for _, f := range []*int32{&s.DependencyBundleHeadersOffset, &s.DependencyBundleEntriesOffset, &s.ImportedPackageNamesOffset} {
			if *f, err = r.I32(); err != nil {
				return nil, err
			}
		}
	} else {
		if s.GraphDataOffset, err = r.I32(); err != nil {
			return nil, err
		}
	}
	if s.HasVersionInfo != 0 {
		if s.VersionInfo, err = r.Bytes(d.VersionInfoSize); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *ZenSummary) write(w *uarc.Writer, d uver.Dialect) {
	w.U32(s.HasVersionInfo)
	w.U32(s.UAssetSize)
	w.U32(s.PackageNameID)
	w.U32(s.PackageNameNumber)
	w.U32(s.PkgFlags)
	w.U32(s.CookedHeaderSize)
	w.I32(s.ExportHashesOffset)
	w.I32(s.ImportOffset)
	w.I32(s.ExportOffset)
	w.I32(s.ExportBundleEntriesOffset)
	if d.MipSerializeFlag {
		w.I32(s.DependencyBundleHeadersOffset)
		w.I32(s.DependencyBundleEntriesOffset)
		w.I32(s.ImportedPackageNamesOffset)
	} else {
		w.I32(s.GraphDataOffset)
	}
	if s.HasVersionInfo != 0 {
		w.Raw(s.VersionInfo)
	}
}

type zenNameEntry struct {
	hash  uint64
	name  string
	utf16 bool
}

// ZenNameTable is the virtual-container name map: a hash block, a header
// block and a string block. Append-only like the legacy table.
type ZenNameTable struct {
	entries []zenNameEntry
}

func encodeZenName(name string) ([]byte, bool) {
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			encoded := make([]byte, 0, len(name)*2)
			for _, r := range name {
				encoded = append(encoded, byte(r), byte(r>>8))
			}
			return encoded, true
		}
	}
	return []byte(name), false
}

func zenNameHash(name string) uint64 {
	encoded, _ := encodeZenName(strings.ToLower(name))
	return cityhash.Hash64(encoded)
}

func readZenNameTable(r *uarc.Reader) (*ZenNameTable, error) {
	count, err := r.U32()
	if err != nil {
		return nil, err
	}
	mapSize, err := r.U32()
	if err != nil {
		return nil, err
	}
	if int(mapSize) > r.Len() || int(count) > r.Len() {
		return nil, fmt.Errorf("implausible name map (%d names, %d bytes)", count, mapSize)
	}
	if got, err := r.U64(); err != nil {
		return nil, err
	} else if got != zenHashVersion {
		return nil, fmt.Errorf("unknown name hash version %#x", got)
	}

	t := &ZenNameTable{entries: make([]zenNameEntry, count)}
	for i := range t.entries {
		if t.entries[i].hash, err = r.U64(); err != nil {
			return nil, err
		}
	}
	heads := make([][2]byte, count)
	for i := range heads {
		b, err := r.Bytes(2)
		if err != nil {
			return nil, err
		}
		heads[i] = [2]byte(b)
	}
	for i := range t.entries {
		length := int(heads[i][1]) | int(heads[i][0]&0x7F)<<8
		utf16 := heads[i][0]&0x80 != 0
		if utf16 {
			raw, err := r.Bytes(length * 2)
			if err != nil {
				return nil, err
			}
			runes := make([]rune, length)
			for j := 0; j < length; j++ {
				runes[j] = rune(uint16(raw[2*j]) | uint16(raw[2*j+1])<<8)
			}
			t.entries[i] = zenNameEntry{hash: t.entries[i].hash, name: string(runes), utf16: true}
		} else {
			raw, err := r.Bytes(length)
			if err != nil {
				return nil, err
			}
			t.entries[i] = zenNameEntry{hash: t.entries[i].hash, name: string(raw)}
		}
	}
	return t, nil
}

func (t *ZenNameTable) write(w *uarc.Writer) {
	stringBytes := 0
	for _, e := range t.entries {
		encoded, _ := encodeZenName(e.name)
		stringBytes += len(encoded)
	}
	w.U32(uint32(len(t.entries)))
	w.U32(uint32(stringBytes))
	w.U64(zenHashVersion)
	for _, e := range t.entries {
		w.U64(e.hash)
	}
	for _, e := range t.entries {
		length := len(e.name)
		head0 := byte(length >> 8)
		if e.utf16 {
			length = utf16Len(e.name)
			head0 = byte(length>>8) | 0x80
		}
		w.U8(head0)
		w.U8(byte(length & 0xFF))
	}
	for _, e := range t.entries {
		encoded, _ := encodeZenName(e.name)
		w.Raw(encoded)
	}
}

func utf16Len(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// Len returns the number of entries.
func (t *ZenNameTable) Len() int { return len(t.entries) }

// Get returns the name at an index.
func (t *ZenNameTable) Get(i int) (string, error) {
	if i < 0 || i >= len(t.entries) {
		return "", fmt.Errorf("name index %d out of range (%d names)", i, len(t.entries))
	}
	return t.entries[i].name, nil
}

// Resolve looks up a 64-bit name reference by its low-half index.
func (t *ZenNameTable) Resolve(id uint64) (string, error) {
	return t.Get(int(uint32(id)))
}

// Add appends a name and returns its index, reusing an existing entry when
// the name is already present.
func (t *ZenNameTable) Add(name string) int {
	for i, e := range t.entries {
		if e.name == name {
			return i
		}
	}
	_, utf16 := encodeZenName(name)
	t.entries = append(t.entries, zenNameEntry{hash: zenNameHash(name), name: name, utf16: utf16})
	return len(t.entries) - 1
}

// ZenExport is one export map entry (FExportMapEntry). Offsets are relative
// to the start of the export data segment.
type ZenExport struct {
	Offset           uint64
	Size             uint64
	NameID           uint32
	NameNumber       uint32
	OuterIndex       ZenIndex
	ClassIndex       ZenIndex
	SuperIndex       ZenIndex
	TemplateIndex    ZenIndex
	PublicExportHash uint64
	ObjectFlags      uint32
	FilterFlags      uint8

	Name      string
	ClassName string
}

const zenExportSize = 72

func readZenExport(r *uarc.Reader) (ZenExport, error) {
	var exp ZenExport
	var err error
	if exp.Offset, err = r.U64(); err != nil {
		return exp, err
	}
	if exp.Size, err = r.U64(); err != nil {
		return exp, err
	}
	if exp.NameID, err = r.U32(); err != nil {
		return exp, err
	}
	if exp.NameNumber, err = r.U32(); err != nil {
		return exp, err
	}
	for _, f := range []*ZenIndex{&exp.OuterIndex, &exp.ClassIndex, &exp.SuperIndex, &exp.TemplateIndex} {
		v, err := r.U64()
		if err != nil {
			return exp, err
		}
		*f = ZenIndex(v)
	}
	if exp.PublicExportHash, err = r.U64(); err != nil {
		return exp, err
	}
	if exp.ObjectFlags, err = r.U32(); err != nil {
		return exp, err
	}
	if exp.FilterFlags, err = r.U8(); err != nil {
		return exp, err
	}
	for i := 0; i < 3; i++ {
		if _, err = r.U8(); err != nil {
			return exp, err
		}
	}
	return exp, nil
}

func (exp *ZenExport) write(w *uarc.Writer) {
	w.U64(exp.Offset)
	w.U64(exp.Size)
	w.U32(exp.NameID)
	w.U32(exp.NameNumber)
	w.U64(uint64(exp.OuterIndex))
	w.U64(uint64(exp.ClassIndex))
	w.U64(uint64(exp.SuperIndex))
	w.U64(uint64(exp.TemplateIndex))
	w.U64(exp.PublicExportHash)
	w.U32(exp.ObjectFlags)
	w.U8(exp.FilterFlags)
	w.Zeros(3)
}

// IsStandalone reports whether this is the asset's main object.
func (exp *ZenExport) IsStandalone() bool { return exp.ObjectFlags&FlagStandalone != 0 }

// IsTexture reports whether the export's class is a supported texture class.
func (exp *ZenExport) IsTexture() bool { return IsTextureClass(exp.ClassName) }

// Patch updates the serialized size and segment-relative offset.
func (exp *ZenExport) Patch(size, offset uint64) {
	exp.Size = size
	exp.Offset = offset
}

func (exp *ZenExport) resolve(names *ZenNameTable) error {
	var err error
	if exp.Name, err = names.Get(int(exp.NameID)); err != nil {
		return err
	}
	if exp.ClassIndex.IsScriptImport() {
		if name, ok := ScriptObjectName(exp.ClassIndex.ID()); ok {
			exp.ClassName = name
			return nil
		}
	}
	exp.ClassName = "None"
	return nil
}

// ZenPackage is the parsed header of a virtual-container asset. Blobs the
// codec never edits (export hashes, bundle and graph data) are carried
// verbatim.
type ZenPackage struct {
	Dialect uver.Dialect
	Summary *ZenSummary
	Names   *ZenNameTable

	// BulkMap is the payload metadata table; mips reference it by index.
	BulkMap []utex.DataResource

	ExportHashes []byte
	Imports      []ZenIndex
	Exports      []ZenExport

	ExportBundleEntries     []byte
	DependencyBundleHeaders []byte
	DependencyBundleEntries []byte
	ImportedPackageNames    []byte
	GraphData               []byte

	// PackageName resolved from the name map.
	PackageName string
}

// ReadZen parses the header of a virtual-container package. data may extend
// past the header; the export data segment follows it in the same chunk.
func ReadZen(data []byte, d uver.Dialect) (*ZenPackage, error) {
	r := uarc.NewReader(data)
	s, err := readZenSummary(r, d)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	p := &ZenPackage{Dialect: d, Summary: s}

	if p.Names, err = readZenNameTable(r); err != nil {
		return nil, fmt.Errorf("name map: %w", err)
	}
	if p.PackageName, err = p.Names.Get(int(s.PackageNameID)); err != nil {
		return nil, fmt.Errorf("package name: %w", err)
	}

	// Bulk data map.
	mapSize, err := r.I64()
	if err != nil {
		return nil, fmt.Errorf("bulk data map: %w", err)
	}
	if mapSize < 0 || mapSize%utex.BulkMapEntrySize != 0 || int(mapSize) > r.Len() {
		return nil, fmt.Errorf("implausible bulk data map size %d", mapSize)
	}
	p.BulkMap = make([]utex.DataResource, mapSize/utex.BulkMapEntrySize)
	for i := range p.BulkMap {
		if p.BulkMap[i], err = utex.ReadBulkMapEntry(r); err != nil {
			return nil, fmt.Errorf("bulk data map entry %d: %w", i, err)
		}
	}

	if r.Tell() != int(s.ExportHashesOffset) {
		return nil, fmt.Errorf("export hashes at %d, expected %d", s.ExportHashesOffset, r.Tell())
	}
	if p.ExportHashes, err = r.Bytes(int(s.ImportOffset - s.ExportHashesOffset)); err != nil {
		return nil, fmt.Errorf("export hashes: %w", err)
	}

	importCount := int(s.ExportOffset-s.ImportOffset) / 8
	p.Imports = make([]ZenIndex, importCount)
	for i := range p.Imports {
		v, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		p.Imports[i] = ZenIndex(v)
	}

	exportCount := int(s.ExportBundleEntriesOffset-s.ExportOffset) / zenExportSize
	p.Exports = make([]ZenExport, exportCount)
	for i := range p.Exports {
		if p.Exports[i], err = readZenExport(r); err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
		if err := p.Exports[i].resolve(p.Names); err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
	}

	if d.MipSerializeFlag {
		sections := []struct {
			buf  *[]byte
			size int32
		}{
			{&p.ExportBundleEntries, s.DependencyBundleHeadersOffset - s.ExportBundleEntriesOffset},
			{&p.DependencyBundleHeaders, s.DependencyBundleEntriesOffset - s.DependencyBundleHeadersOffset},
			{&p.DependencyBundleEntries, s.ImportedPackageNamesOffset - s.DependencyBundleEntriesOffset},
			{&p.ImportedPackageNames, int32(s.UAssetSize) - s.ImportedPackageNamesOffset},
		}
		for _, sec := range sections {
			if *sec.buf, err = r.Bytes(int(sec.size)); err != nil {
				return nil, fmt.Errorf("bundle data: %w", err)
			}
		}
	} else {
		if p.ExportBundleEntries, err = r.Bytes(int(s.GraphDataOffset - s.ExportBundleEntriesOffset)); err != nil {
			return nil, fmt.Errorf("export bundle entries: %w", err)
		}
		if p.GraphData, err = r.Bytes(int(int32(s.UAssetSize) - s.GraphDataOffset)); err != nil {
			return nil, fmt.Errorf("graph data: %w", err)
		}
	}
	return p, nil
}

// Write rebuilds the header. Section offsets and both size fields are
// recomputed; the cooked header size moves by the same delta as the header
// itself.
func (p *ZenPackage) Write() ([]byte, error) {
	d := p.Dialect
	s := p.Summary
	oldSize := s.UAssetSize

	w := uarc.NewWriter()
	s.write(w, d) // provisional

	p.Names.write(w)

	w.I64(int64(len(p.BulkMap) * utex.BulkMapEntrySize))
	for _, res := range p.BulkMap {
		res.WriteBulkMapEntry(w)
	}

	s.ExportHashesOffset = int32(w.Tell())
	w.Raw(p.ExportHashes)

	s.ImportOffset = int32(w.Tell())
	for _, imp := range p.Imports {
		w.U64(uint64(imp))
	}

	s.ExportOffset = int32(w.Tell())
	for i := range p.Exports {
		p.Exports[i].write(w)
	}

	s.ExportBundleEntriesOffset = int32(w.Tell())
	w.Raw(p.ExportBundleEntries)
	if d.MipSerializeFlag {
		s.DependencyBundleHeadersOffset = int32(w.Tell())
		w.Raw(p.DependencyBundleHeaders)
		s.DependencyBundleEntriesOffset = int32(w.Tell())
		w.Raw(p.DependencyBundleEntries)
		s.ImportedPackageNamesOffset = int32(w.Tell())
		w.Raw(p.ImportedPackageNames)
	} else {
		s.GraphDataOffset = int32(w.Tell())
		w.Raw(p.GraphData)
	}

	s.UAssetSize = uint32(w.Tell())
	s.CookedHeaderSize += s.UAssetSize - oldSize

	hw := uarc.NewWriter()
	s.write(hw, d)
	copy(w.Bytes(), hw.Bytes())
	return w.Bytes(), nil
}

// MainExport returns the asset's standalone export.
func (p *ZenPackage) MainExport() (*ZenExport, error) {
	var main *ZenExport
	for i := range p.Exports {
		if p.Exports[i].IsStandalone() {
			if main != nil {
				return nil, fmt.Errorf("multiple standalone exports")
			}
			main = &p.Exports[i]
		}
	}
	if main == nil {
		return nil, fmt.Errorf("no standalone export")
	}
	return main, nil
}
