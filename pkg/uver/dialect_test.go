package uver

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestResolveKnownTags(t *testing.T) {
	for _, d := range All() {
		got, err := Resolve(d.Tag)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", d.Tag, err)
		}
		if got.Tag != d.Tag {
			t.Errorf("Resolve(%q) returned tag %q", d.Tag, got.Tag)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	if _, err := Resolve("3.5"); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestFileVersionMarkers(t *testing.T) {
	cases := []struct {
		tag  Tag
		want int32
	}{
		{Tag4_13, -6},
		{Tag4_14, -7},
		{Tag4_27, -7},
		{Tag5_0, -8},
		{Tag5_3, -8},
		{TagFF7R, -7},
		{TagBorderlands3, -7},
	}
	for _, tc := range cases {
		d, err := Resolve(tc.tag)
		if err != nil {
			t.Fatal(err)
		}
		if d.FileVersion != tc.want {
			t.Errorf("%s: FileVersion = %d, want %d", tc.tag, d.FileVersion, tc.want)
		}
	}
}

func TestExportTrailerSizes(t *testing.T) {
	cases := []struct {
		tag  Tag
		want int
	}{
		{Tag4_13, 40},
		{Tag4_14, 60},
		{Tag4_15, 60},
		{Tag4_16, 64},
		{Tag4_27, 64},
		{Tag5_0, 68},
		{Tag5_1, 56},
		{Tag5_3, 56},
	}
	for _, tc := range cases {
		d, err := Resolve(tc.tag)
		if err != nil {
			t.Fatal(err)
		}
		if d.ExportTrailerSize != tc.want {
			t.Errorf("%s: trailer = %d, want %d", tc.tag, d.ExportTrailerSize, tc.want)
		}
	}
}

func TestForkParameters(t *testing.T) {
	ff7r, _ := Resolve(TagFF7R)
	if ff7r.Base != 41800 {
		t.Errorf("ff7r base = %d", ff7r.Base)
	}
	if !ff7r.PackedExtraFlags || !ff7r.NoOffsetFixup || !ff7r.TailMipPacking {
		t.Errorf("ff7r missing fork flags: %+v", ff7r)
	}
	bl3, _ := Resolve(TagBorderlands3)
	if bl3.Base != 42200 {
		t.Errorf("borderlands3 base = %d", bl3.Base)
	}
	if !bl3.MipDims16 {
		t.Error("borderlands3 should store 16-bit mip dims")
	}
	if stock, _ := Resolve(Tag4_22); stock.MipDims16 {
		t.Error("stock 4.22 should not store 16-bit mip dims")
	}
}

func TestVirtualVariants(t *testing.T) {
	io52, err := Resolve(Tag5_2IO)
	if err != nil {
		t.Fatal(err)
	}
	base, _ := Resolve(Tag5_2)
	if !io52.Virtual {
		t.Error("5.2io should be virtual")
	}
	if io52.Base != base.Base || io52.MipCookedMarker != base.MipCookedMarker {
		t.Error("5.2io should share structural parameters with 5.2")
	}
}

func TestCandidatesByMarker(t *testing.T) {
	header := make([]byte, 8)
	copy(header, PackageMagic[:])
	binary.LittleEndian.PutUint32(header[4:], uint32(0xFFFFFFFA)) // -6
	got := Candidates(header)
	if len(got) != 1 || got[0].Tag != Tag4_13 {
		t.Fatalf("marker -6 candidates = %v", tags(got))
	}

	binary.LittleEndian.PutUint32(header[4:], uint32(0xFFFFFFF9)) // -7
	got = Candidates(header)
	want := map[Tag]bool{}
	for _, d := range All() {
		if !d.Virtual && d.FileVersion == -7 {
			want[d.Tag] = true
		}
	}
	if len(got) != len(want) {
		t.Fatalf("marker -7: got %v", tags(got))
	}
	for _, d := range got {
		if !want[d.Tag] {
			t.Errorf("unexpected candidate %q", d.Tag)
		}
	}
}

func TestCandidatesRejectBadMagic(t *testing.T) {
	header := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0}
	for _, d := range Candidates(header) {
		if !d.Virtual {
			t.Errorf("non-virtual candidate %q for bad magic", d.Tag)
		}
	}
	if got := Candidates([]byte{0xC1}); len(got) != 0 {
		t.Errorf("short header should yield no candidates, got %v", tags(got))
	}
}

func TestCandidatesVirtual(t *testing.T) {
	header := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	got := Candidates(header)
	if len(got) == 0 {
		t.Fatal("expected virtual candidates")
	}
	for _, d := range got {
		if !d.Virtual {
			t.Errorf("expected only virtual dialects, got %q", d.Tag)
		}
	}
}

func tags(ds []Dialect) []Tag {
	out := make([]Tag, len(ds))
	for i, d := range ds {
		out[i] = d.Tag
	}
	return out
}
