package upak

import (
	"bytes"
	"testing"

	"github.com/user/utexgo/internal/crc"
	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/utex"
	"github.com/user/utexgo/pkg/uver"
)

func mustDialect(t *testing.T, tag uver.Tag) uver.Dialect {
	t.Helper()
	d, err := uver.Resolve(tag)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", tag, err)
	}
	return d
}

// newTestPackage builds a minimal single-texture package for a dialect.
func newTestPackage(d uver.Dialect) *Package {
	names := NewNameTable()
	pkgIdx := names.Add("/Script/Engine")
	classIdx := names.Add("Texture2D")
	names.Add("/Game/T_Test")
	objIdx := names.Add("T_Test")
	names.Add("None")

	imports := []Import{
		{
			ClassPackageNameID: int32(names.Add("/Script/CoreUObject")),
			ClassNameID:        int32(names.Add("Package")),
			NameID:             int32(pkgIdx),
		},
		{
			ClassPackageNameID:   int32(names.Add("/Script/CoreUObject")),
			ClassNameID:          int32(names.Add("Class")),
			ClassPackageImportID: -1,
			NameID:               int32(classIdx),
		},
	}

	exports := []Export{
		{
			ClassIndex:  -2, // Texture2D import
			NameID:      uint32(objIdx),
			ObjectFlags: FlagPublic | FlagStandalone,
			Size:        200,
			Offset:      0,
			Trailer:     make([]byte, d.ExportTrailerSize),
		},
	}

	s := &Summary{
		VersionInfo:    make([]byte, d.VersionInfoSize),
		PackageName:    "None",
		PkgFlags:       PkgFilterEditorOnly | PkgUnversionedProperties,
		GenerationData: []int32{1, int32(names.Len())},
		PackageSource:  crc.PackageSource("T_Test"),
	}

	p := &Package{
		Dialect:  d,
		Summary:  s,
		Names:    names,
		Imports:  imports,
		Exports:  exports,
		Depends:  make([]int32, len(exports)),
		BaseName: "T_Test",
	}
	if d.SeparateExportData {
		p.PreloadDependencies = []int32{-1, -2}
	}
	return p
}

func roundTripTags() []uver.Tag {
	return []uver.Tag{"4.13", "4.14", "4.16", "4.20", "4.25", "4.27", "5.0", "5.1", "5.2", "5.3", "ff7r", "borderlands3"}
}

func TestPackageRoundTrip(t *testing.T) {
	const uexpSize = 204
	for _, tag := range roundTripTags() {
		d := mustDialect(t, tag)
		p := newTestPackage(d)

		first, err := p.Write(uexpSize)
		if err != nil {
			t.Fatalf("%s: Write: %v", tag, err)
		}
		if int(p.Summary.UAssetSize) != len(first) {
			t.Fatalf("%s: UAssetSize = %d, header is %d bytes", tag, p.Summary.UAssetSize, len(first))
		}
		if want := int32(len(first) + uexpSize); p.Summary.BulkOffset != want {
			t.Fatalf("%s: BulkOffset = %d, want %d", tag, p.Summary.BulkOffset, want)
		}

		parsed, err := Read(first, d)
		if err != nil {
			t.Fatalf("%s: Read: %v", tag, err)
		}
		second, err := parsed.Write(uexpSize)
		if err != nil {
			t.Fatalf("%s: rewrite: %v", tag, err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("%s: header changed across a read/write cycle", tag)
		}
	}
}

func TestHeaderSizeMatchesWrite(t *testing.T) {
	for _, tag := range roundTripTags() {
		d := mustDialect(t, tag)
		p := newTestPackage(d)
		size, err := p.HeaderSize()
		if err != nil {
			t.Fatalf("%s: HeaderSize: %v", tag, err)
		}
		out, err := p.Write(0)
		if err != nil {
			t.Fatalf("%s: Write: %v", tag, err)
		}
		if size != len(out) {
			t.Errorf("%s: HeaderSize = %d, Write produced %d bytes", tag, size, len(out))
		}
	}
}

func TestReadRejectsWrongDialect(t *testing.T) {
	d := mustDialect(t, "4.27")
	p := newTestPackage(d)
	out, err := p.Write(0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(out, mustDialect(t, "5.0")); err == nil {
		t.Fatal("Read accepted a 4.27 header as 5.0")
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	d := mustDialect(t, "4.27")
	p := newTestPackage(d)
	out, err := p.Write(0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out[0] ^= 0xFF
	if _, err := Read(out, d); err == nil {
		t.Fatal("Read accepted a corrupted magic")
	}
}

func TestReadRejectsEditorPackage(t *testing.T) {
	d := mustDialect(t, "4.27")
	p := newTestPackage(d)
	p.Summary.PkgFlags &^= PkgFilterEditorOnly
	out, err := p.Write(0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(out, d); err == nil {
		t.Fatal("Read accepted an uncooked package")
	}
}

func TestReadTruncated(t *testing.T) {
	d := mustDialect(t, "4.27")
	p := newTestPackage(d)
	out, err := p.Write(0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(out[:40], d); err == nil {
		t.Fatal("Read accepted a truncated header")
	}
}

func TestNameResolution(t *testing.T) {
	d := mustDialect(t, "4.27")
	p := newTestPackage(d)
	out, err := p.Write(0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	parsed, err := Read(out, d)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	main, err := parsed.MainExport()
	if err != nil {
		t.Fatalf("MainExport: %v", err)
	}
	if main.Name != "T_Test" {
		t.Errorf("main export name = %q, want T_Test", main.Name)
	}
	if main.ClassName != "Texture2D" {
		t.Errorf("main export class = %q, want Texture2D", main.ClassName)
	}
	if !main.IsTexture() {
		t.Error("Texture2D export not recognized as a texture")
	}
	if parsed.Imports[1].ClassName != "Class" {
		t.Errorf("import class = %q, want Class", parsed.Imports[1].ClassName)
	}
}

func TestMainExportErrors(t *testing.T) {
	d := mustDialect(t, "4.27")
	p := newTestPackage(d)

	p.Exports[0].ObjectFlags &^= FlagStandalone
	if _, err := p.MainExport(); err == nil {
		t.Error("MainExport succeeded with no standalone export")
	}

	p.Exports[0].ObjectFlags |= FlagStandalone
	dup := p.Exports[0]
	p.Exports = append(p.Exports, dup)
	if _, err := p.MainExport(); err == nil {
		t.Error("MainExport succeeded with two standalone exports")
	}
}

func TestExportPatch(t *testing.T) {
	d := mustDialect(t, "5.0")
	p := newTestPackage(d)
	p.Exports[0].Patch(4096, 1234)
	out, err := p.Write(4096)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	parsed, err := Read(out, d)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if parsed.Exports[0].Size != 4096 || parsed.Exports[0].Offset != 1234 {
		t.Errorf("patched export = (%d, %d), want (4096, 1234)",
			parsed.Exports[0].Size, parsed.Exports[0].Offset)
	}
}

func TestNameTableAppendOnly(t *testing.T) {
	names := NewNameTable()
	a := names.Add("PF_DXT1")
	if got := names.Add("PF_DXT1"); got != a {
		t.Errorf("duplicate Add returned %d, want %d", got, a)
	}
	if names.Len() != 1 {
		t.Fatalf("Len = %d after duplicate Add, want 1", names.Len())
	}
	wantDelta := uarc.FStringSize("PF_DXT1") + 4
	if names.SizeDelta() != wantDelta {
		t.Errorf("SizeDelta = %d, want %d", names.SizeDelta(), wantDelta)
	}

	b := names.Add("PF_BC7")
	if b != 1 {
		t.Errorf("second Add returned %d, want 1", b)
	}
	if err := names.Update(b, "PF_ASTC_4x4"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := names.Get(b)
	if err != nil || got != "PF_ASTC_4x4" {
		t.Errorf("Get(%d) = %q, %v", b, got, err)
	}
	wantDelta += uarc.FStringSize("PF_BC7") + 4
	wantDelta += uarc.FStringSize("PF_ASTC_4x4") - uarc.FStringSize("PF_BC7")
	if names.SizeDelta() != wantDelta {
		t.Errorf("SizeDelta = %d after Update, want %d", names.SizeDelta(), wantDelta)
	}
}

func TestNameResolve64(t *testing.T) {
	names := NewNameTable()
	names.Add("None")
	names.Add("T_Test")
	got, err := names.Resolve(1 | 7<<32) // instance number in the high half
	if err != nil || got != "T_Test" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
	if _, err := names.Resolve(99); err == nil {
		t.Error("Resolve accepted an out-of-range index")
	}
}

func TestProvenance(t *testing.T) {
	d := mustDialect(t, "4.27")
	p := newTestPackage(d)
	if !p.IsOfficial() {
		t.Fatal("fresh package not recognized as official")
	}
	p.MarkModified()
	if p.IsOfficial() {
		t.Error("modified package still reads as official")
	}
	if p.Summary.PackageSource != crc.ModifiedPackageSource {
		t.Errorf("PackageSource = %#x, want %#x", p.Summary.PackageSource, crc.ModifiedPackageSource)
	}
}

func TestDataResourceTableRoundTrip(t *testing.T) {
	d := mustDialect(t, "5.2")
	p := newTestPackage(d)
	p.DataResources = []utex.DataResource{
		{Flags: 0, Offset: 1024, DuplicatedOffset: -1, Size: 65536, OuterIndex: 1, BulkFlags: 0x2501},
		{Flags: 0, Offset: 66560, DuplicatedOffset: -1, Size: 16384, OuterIndex: 1, BulkFlags: 0x2501},
	}
	out, err := p.Write(128)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	parsed, err := Read(out, d)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(parsed.DataResources) != 2 {
		t.Fatalf("parsed %d data resources, want 2", len(parsed.DataResources))
	}
	if parsed.DataResources[1] != p.DataResources[1] {
		t.Errorf("data resource 1 = %+v, want %+v", parsed.DataResources[1], p.DataResources[1])
	}

	// An empty table serializes as offset -1 and no records.
	p.DataResources = nil
	out, err = p.Write(128)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	parsed, err = Read(out, d)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if parsed.Summary.DataResourceOffset != -1 {
		t.Errorf("empty table offset = %d, want -1", parsed.Summary.DataResourceOffset)
	}
}

func TestIndexName(t *testing.T) {
	imports := []Import{{Name: "Texture2D"}}
	exports := []Export{{Name: "T_Test"}}

	cases := []struct {
		index int32
		want  string
	}{
		{0, "None"},
		{-1, "Texture2D"},
		{1, "T_Test"},
	}
	for _, c := range cases {
		got, err := indexName(c.index, exports, imports)
		if err != nil || got != c.want {
			t.Errorf("indexName(%d) = %q, %v, want %q", c.index, got, err, c.want)
		}
	}
	if _, err := indexName(-5, exports, imports); err == nil {
		t.Error("indexName accepted an out-of-range import index")
	}
	if _, err := indexName(5, exports, imports); err == nil {
		t.Error("indexName accepted an out-of-range export index")
	}
}
