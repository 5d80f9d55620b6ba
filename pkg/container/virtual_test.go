package container

import (
	"bytes"
	"errors"
	"testing"

	"github.com/user/utexgo/pkg/ucas"
	"github.com/user/utexgo/pkg/upak"
	"github.com/user/utexgo/pkg/utex"
	"github.com/user/utexgo/pkg/uver"
)

func zenScriptImport(pkg, obj string) upak.ZenIndex {
	id := upak.ZenObjectID(pkg, obj)
	return upak.ZenIndex(uint64(upak.ZenTypeScriptImport)<<62 | id)
}

// makeVirtualContainer wraps a texture and one verbatim export into a
// synthesized virtual-container chunk header.
func makeVirtualContainer(t *testing.T, tag uver.Tag, tex *utex.Texture) *Container {
	t.Helper()
	d := mustDialect(t, tag)

	invalid := upak.ZenIndex(^uint64(0))
	names := &upak.ZenNameTable{}
	noneIdx := names.Add("None")
	pkgIdx := names.Add("/Game/T_Test")
	objIdx := names.Add("T_Test")
	pfIdx := names.Add("PF_DXT1")
	otherIdx := names.Add("Other")

	tex.PixelFormatNameID = uint64(pfIdx)
	tex.NoneNameID = uint64(noneIdx)

	zen := &upak.ZenPackage{
		Dialect: d,
		Summary: &upak.ZenSummary{
			PkgFlags:         upak.PkgFilterEditorOnly | upak.PkgUnversionedProperties,
			CookedHeaderSize: 600,
			PackageNameID:    uint32(pkgIdx),
		},
		Names:        names,
		ExportHashes: make([]byte, 20),
		Imports:      []upak.ZenIndex{zenScriptImport("/Script/Engine", "Texture2D"), invalid},
		Exports: []upak.ZenExport{
			{
				NameID:        uint32(objIdx),
				OuterIndex:    invalid,
				ClassIndex:    zenScriptImport("/Script/Engine", "Texture2D"),
				SuperIndex:    invalid,
				TemplateIndex: invalid,
				ObjectFlags:   upak.FlagPublic | upak.FlagStandalone,
			},
			{
				NameID:        uint32(otherIdx),
				OuterIndex:    invalid,
				ClassIndex:    invalid,
				SuperIndex:    invalid,
				TemplateIndex: invalid,
				ObjectFlags:   upak.FlagPublic,
			},
		},
		ExportBundleEntries: make([]byte, 16),
		PackageName:         "/Game/T_Test",
	}
	if d.MipSerializeFlag {
		zen.DependencyBundleHeaders = make([]byte, 16)
		zen.DependencyBundleEntries = make([]byte, 4)
		zen.ImportedPackageNames = make([]byte, 8)
	} else {
		zen.GraphData = make([]byte, 12)
	}

	return &Container{
		Dialect: d,
		Zen:     zen,
		Exports: []*Export{
			{Index: 0, Name: "T_Test", ClassName: "Texture2D", Texture: tex},
			{Index: 1, Name: "Other", ClassName: "None", Raw: fill(32, 0x40)},
		},
	}
}

func TestVirtualRoundTrip(t *testing.T) {
	for _, tag := range []uver.Tag{uver.Tag5_2IO, uver.Tag5_3IO} {
		t.Run(string(tag), func(t *testing.T) {
			d := mustDialect(t, tag)
			c := makeVirtualContainer(t, tag, makeTexture(t, d, 64, 64, 5, 2))
			first := mustSerialize(t, c)

			parsed, err := ParseAs(first, tag)
			if err != nil {
				t.Fatalf("ParseAs: %v", err)
			}
			if !parsed.IsVirtual() {
				t.Fatal("parsed container not recognized as virtual")
			}
			second := mustSerialize(t, parsed)
			if !streamsEqual(first, second) {
				t.Error("streams changed across a parse/serialize cycle")
			}

			tex, err := parsed.texture(0)
			if err != nil {
				t.Fatal(err)
			}
			if len(tex.Mips) != 5 || tex.PixelFormat != utex.PFDXT1 {
				t.Errorf("parsed texture: %d mips, format %s", len(tex.Mips), tex.PixelFormat)
			}
		})
	}
}

func TestVirtualDetectSoundness(t *testing.T) {
	for _, tag := range []uver.Tag{uver.Tag5_2IO, uver.Tag5_3IO} {
		d := mustDialect(t, tag)
		c := makeVirtualContainer(t, tag, makeTexture(t, d, 16, 16, 2, 1))
		s := mustSerialize(t, c)
		found := false
		for _, m := range Detect(s) {
			if m.Tag == tag {
				found = true
			}
		}
		if !found {
			t.Errorf("Detect missed %s for streams synthesized under it", tag)
		}
	}
}

func TestVirtualPatchSameChainIdentical(t *testing.T) {
	// Virtual headers carry no provenance marker, so a same-content patch
	// must reproduce every stream byte for byte.
	c := makeVirtualContainer(t, uver.Tag5_2IO, makeTexture(t, mustDialect(t, uver.Tag5_2IO), 64, 64, 4, 2))
	first := mustSerialize(t, c)
	parsed, err := ParseAs(first, uver.Tag5_2IO)
	if err != nil {
		t.Fatal(err)
	}
	chain, err := parsed.Extract(0)
	if err != nil {
		t.Fatal(err)
	}
	out, err := parsed.Patch(0, chain)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !streamsEqual(out, first) {
		t.Error("streams changed for a same-content patch")
	}
}

func TestVirtualPatchGrow(t *testing.T) {
	d := mustDialect(t, uver.Tag5_3IO)
	c := makeVirtualContainer(t, uver.Tag5_3IO, makeTexture(t, d, 64, 64, 4, 2))
	s := mustSerialize(t, c)
	parsed, err := ParseAs(s, uver.Tag5_3IO)
	if err != nil {
		t.Fatal(err)
	}

	info, _ := utex.Info(utex.PFDXT1)
	var chain utex.Chain
	chain.Format = utex.PFDXT1
	chain.Slices = 1
	w, h := uint32(128), uint32(128)
	for i := 0; i < 5; i++ {
		chain.Mips = append(chain.Mips, utex.ChainMip{
			Width: w, Height: h, Data: fill(info.MipSize(w, h, 1), byte(0x20+i)),
		})
		w, h = w/2, h/2
	}
	out, err := parsed.Patch(0, chain)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	again, err := ParseAs(out, uver.Tag5_3IO)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	tex, err := again.texture(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tex.Mips) != 5 {
		t.Fatalf("patched texture has %d mips, want 5", len(tex.Mips))
	}
	for i, m := range tex.Mips {
		if !bytes.Equal(m.Data, chain.Mips[i].Data) {
			t.Errorf("mip %d payload differs", i)
		}
	}

	raw, err := again.Export(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw.Raw, fill(32, 0x40)) {
		t.Error("untouched export changed")
	}
}

func TestVirtualArchiveRoundTrip(t *testing.T) {
	d := mustDialect(t, uver.Tag5_2IO)
	c := makeVirtualContainer(t, uver.Tag5_2IO, makeTexture(t, d, 64, 64, 4, 2))
	s := mustSerialize(t, c)

	const path = "/Game/T_Test.uasset"
	bystander := fill(1000, 3)
	a, err := ucas.Build(ucas.DefaultBlockSize, map[uint64][]byte{
		ucas.ChunkKey(path):                 s.UAsset,
		ucas.ChunkKey("/Game/T_Test.ubulk"): s.UBulk,
		ucas.ChunkKey("/Game/Other.uasset"): bystander,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	parsed, err := OpenVirtual(a, path, uver.Tag5_2IO)
	if err != nil {
		t.Fatalf("OpenVirtual: %v", err)
	}
	chain, err := parsed.Extract(0)
	if err != nil {
		t.Fatal(err)
	}
	chain.Mips[1].Data = fill(len(chain.Mips[1].Data), 0x99)
	out, err := parsed.Patch(0, chain)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	saved, err := SaveVirtual(a, path, out)
	if err != nil {
		t.Fatalf("SaveVirtual: %v", err)
	}

	reopened, err := ucas.Open(saved.Toc(), saved.Data())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	again, err := OpenVirtual(reopened, path, uver.Tag5_2IO)
	if err != nil {
		t.Fatalf("reopen package: %v", err)
	}
	tex, err := again.texture(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tex.Mips[1].Data, chain.Mips[1].Data) {
		t.Error("patched payload did not survive the archive round trip")
	}

	other, err := reopened.Read(ucas.ChunkKey("/Game/Other.uasset"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(other, bystander) {
		t.Error("untouched chunk changed")
	}
}

func TestSaveVirtualRejectsNewStream(t *testing.T) {
	d := mustDialect(t, uver.Tag5_2IO)
	c := makeVirtualContainer(t, uver.Tag5_2IO, makeTexture(t, d, 64, 64, 4, 2))
	s := mustSerialize(t, c)

	const path = "/Game/T_Test.uasset"
	a, err := ucas.Build(ucas.DefaultBlockSize, map[uint64][]byte{
		ucas.ChunkKey(path): s.UAsset,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := SaveVirtual(a, path, s); err == nil {
		t.Fatal("SaveVirtual accepted a bulk stream the archive has no chunk for")
	}
	if _, err := OpenVirtual(a, "/Game/Missing.uasset", uver.Tag5_2IO); !errors.Is(err, ucas.ErrChunkNotFound) {
		t.Errorf("OpenVirtual(missing) = %v, want ErrChunkNotFound", err)
	}
}

func TestVirtualRemoveMips(t *testing.T) {
	d := mustDialect(t, uver.Tag5_2IO)
	c := makeVirtualContainer(t, uver.Tag5_2IO, makeTexture(t, d, 64, 64, 4, 2))
	s := mustSerialize(t, c)
	parsed, err := ParseAs(s, uver.Tag5_2IO)
	if err != nil {
		t.Fatal(err)
	}
	out, err := parsed.RemoveMips(0)
	if err != nil {
		t.Fatalf("RemoveMips: %v", err)
	}
	if out.UBulk != nil {
		t.Error("bulk stream still present after removing bulk mips")
	}
	again, err := ParseAs(out, uver.Tag5_2IO)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	tex, err := again.texture(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tex.Mips) != 1 || tex.Mips[0].Storage != utex.StorageInline {
		t.Errorf("texture has %d mips, top stored %s", len(tex.Mips), tex.Mips[0].Storage)
	}
}
