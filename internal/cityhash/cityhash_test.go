package cityhash

import "testing"

func utf16leBytes(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		out = append(out, s[i], 0)
	}
	return out
}

func TestHash64Empty(t *testing.T) {
	if got := Hash64(nil); got != 0x9ae16a3b2f90404f {
		t.Errorf("Hash64(empty) = %#x", got)
	}
}

// Script-object keys are CityHash64 of the lowercased UTF-16LE object path
// with the top two bits cleared. The expected values below are the keys the
// engine itself records, so they pin the whole algorithm.
func TestHash64ScriptObjectKeys(t *testing.T) {
	const indexMask = ^(uint64(3) << 62)
	cases := []struct {
		path string
		want uint64
	}{
		{"/script/engine/texture2d", 0x1b93bca796d1fa6f},
		{"/script/engine/texturecube", 0x21ff31428abdc8ae},
		{"/script/engine/volumetexture", 0x2461c85f4ba3d161},
		{"/script/engine/texture2darray", 0x2b74936cc124e6fb},
		{"/script/engine/lightmaptexture2d", 0x2fe6ca4e48506419},
		{"/script/engine/shadowmaptexture2d", 0x1e90a76c6b6d37bf},
	}
	for _, tc := range cases {
		if got := Hash64(utf16leBytes(tc.path)) & indexMask; got != tc.want {
			t.Errorf("Hash64(%q) & mask = %#x, want %#x", tc.path, got, tc.want)
		}
	}
}

func TestHash64Distinct(t *testing.T) {
	seen := map[uint64]string{}
	for _, s := range []string{"a", "ab", "abc", "abcdefgh", "abcdefghi",
		"0123456789abcdef0", "0123456789abcdef0123456789abcdef0",
		string(make([]byte, 65)), string(make([]byte, 129))} {
		h := Hash64([]byte(s))
		if prev, dup := seen[h]; dup {
			t.Errorf("collision between %q and %q", prev, s)
		}
		seen[h] = s
	}
}
