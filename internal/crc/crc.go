// Package crc provides the string CRC variants the engine records inside
// packages: the per-name-entry hash stored after each name-table string and
// the package-source value used to tell shipped assets from modified ones.
package crc

import (
	"hash/crc32"
	"strings"
)

// ModifiedPackageSource is the package-source value written into assets this
// tool has edited: the bytes "MOD " read as a little-endian uint32. The
// engine ignores the value at load time, so any four bytes work; this one
// makes edits identifiable in a hex dump.
const ModifiedPackageSource uint32 = 0x20444F4D

// PackageSource returns the package-source value a shipped build records for
// an asset with the given base name (file name without extensions).
func PackageSource(baseName string) uint32 {
	return StrCRC(strings.ToUpper(baseName))
}

// StrCRC hashes a string the way the engine's deprecated string CRC does:
// each character widened to four bytes and folded through the IEEE table.
func StrCRC(s string) uint32 {
	crc := uint32(0xFFFFFFFF)
	table := crc32.IEEETable
	for _, c := range s {
		ch := uint32(c)
		for i := 0; i < 4; i++ {
			crc = (crc >> 8) ^ table[(crc^ch)&0xFF]
			ch >>= 8
		}
	}
	return ^crc
}

// NameHash returns the hash stored alongside a name-table entry: the low
// half hashes the lowercased name, the high half the name as written. Both
// halves must be recomputed whenever a name entry changes.
func NameHash(name string) uint32 {
	lower := StrCRC(strings.ToLower(name)) & 0xFFFF
	cased := StrCRC(name) & 0xFFFF
	return lower | cased<<16
}
