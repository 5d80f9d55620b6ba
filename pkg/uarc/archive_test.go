package uarc

import (
	"bytes"
	"errors"
	"testing"
)

func TestIntRoundTrip(t *testing.T) {
	w := NewWriter()
	w.U8(0xAB)
	w.U16(0xBEEF)
	w.U32(0xDEADBEEF)
	w.U64(0x0102030405060708)
	w.I32(-42)
	w.I64(-1)

	r := NewReader(w.Bytes())
	if v, _ := r.U8(); v != 0xAB {
		t.Errorf("U8: got %#x", v)
	}
	if v, _ := r.U16(); v != 0xBEEF {
		t.Errorf("U16: got %#x", v)
	}
	if v, _ := r.U32(); v != 0xDEADBEEF {
		t.Errorf("U32: got %#x", v)
	}
	if v, _ := r.U64(); v != 0x0102030405060708 {
		t.Errorf("U64: got %#x", v)
	}
	if v, _ := r.I32(); v != -42 {
		t.Errorf("I32: got %d", v)
	}
	if v, _ := r.I64(); v != -1 {
		t.Errorf("I64: got %d", v)
	}
	if r.Tell() != r.Len() {
		t.Errorf("cursor at %d, want %d", r.Tell(), r.Len())
	}
}

func TestFStringASCII(t *testing.T) {
	w := NewWriter()
	if err := w.FString("PF_DXT1"); err != nil {
		t.Fatal(err)
	}
	// int32 length prefix (8 incl. terminator) + bytes + NUL
	want := append([]byte{8, 0, 0, 0}, []byte("PF_DXT1\x00")...)
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("serialized %x, want %x", w.Bytes(), want)
	}
	r := NewReader(w.Bytes())
	s, err := r.FString()
	if err != nil {
		t.Fatal(err)
	}
	if s != "PF_DXT1" {
		t.Errorf("got %q", s)
	}
}

func TestFStringUTF16(t *testing.T) {
	const s = "テクスチャ"
	w := NewWriter()
	if err := w.FString(s); err != nil {
		t.Fatal(err)
	}
	r := NewReader(w.Bytes())
	prefix, _ := r.I32()
	if prefix >= 0 {
		t.Fatalf("non-ASCII string should have negative prefix, got %d", prefix)
	}
	r2 := NewReader(w.Bytes())
	got, err := r2.FString()
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("round trip got %q, want %q", got, s)
	}
	if FStringSize(s) != len(w.Bytes()) {
		t.Errorf("FStringSize = %d, serialized %d", FStringSize(s), len(w.Bytes()))
	}
}

func TestTruncated(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.U32(); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
	r2 := NewReader([]byte{10, 0, 0, 0, 'a'})
	if _, err := r2.FString(); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated for short string payload, got %v", err)
	}
}

func TestCheckU32(t *testing.T) {
	w := NewWriter()
	w.U32(1)
	r := NewReader(w.Bytes())
	if err := r.CheckU32(1, "cooked marker"); err != nil {
		t.Fatal(err)
	}
	r2 := NewReader(w.Bytes())
	if err := r2.CheckU32(2, "cooked marker"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestPatch(t *testing.T) {
	w := NewWriter()
	w.U32(0)
	pos := w.Tell()
	w.U32(0xFFFFFFFF)
	w.Raw([]byte("tail"))
	if err := w.PatchU32(pos, 7); err != nil {
		t.Fatal(err)
	}
	r := NewReader(w.Bytes())
	r.Skip(4)
	if v, _ := r.U32(); v != 7 {
		t.Errorf("patched value = %d", v)
	}
}

func TestAlign(t *testing.T) {
	w := NewWriter()
	w.Raw([]byte{1, 2, 3})
	if pad := w.Align(8); pad != 5 {
		t.Errorf("pad = %d, want 5", pad)
	}
	if w.Len()%8 != 0 {
		t.Errorf("not aligned: %d", w.Len())
	}
}
