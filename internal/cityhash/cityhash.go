// Package cityhash implements the 64-bit CityHash variant the engine uses
// for name-map hashes and virtual-container content keys. The exact
// algorithm is pinned by the on-disk format, so it is implemented directly
// from the engine's constants rather than substituted with another hash.
package cityhash

import "encoding/binary"

const (
	k0 = 0xc3a5c85c97cb3127
	k1 = 0xb492b66fbe98f273
	k2 = 0x9ae16a3b2f90404f
)

func fetch64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func fetch32(b []byte) uint64 { return uint64(binary.LittleEndian.Uint32(b)) }

func bswap64(v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return binary.BigEndian.Uint64(b[:])
}

func rotate(v uint64, shift uint) uint64 {
	if shift == 0 {
		return v
	}
	return v>>shift | v<<(64-shift)
}

func shiftMix(v uint64) uint64 { return v ^ v>>47 }

func hashLen16Mul(u, v, mul uint64) uint64 {
	a := (u ^ v) * mul
	a ^= a >> 47
	b := (v ^ a) * mul
	b ^= b >> 47
	return b * mul
}

func hashLen16(u, v uint64) uint64 {
	const kMul = 0x9ddfea08eb382d69
	return hashLen16Mul(u, v, kMul)
}

func hashLen0to16(b []byte) uint64 {
	n := uint64(len(b))
	if n >= 8 {
		mul := k2 + n*2
		a := fetch64(b) + k2
		v := fetch64(b[len(b)-8:])
		c := rotate(v, 37)*mul + a
		d := (rotate(a, 25) + v) * mul
		return hashLen16Mul(c, d, mul)
	}
	if n >= 4 {
		mul := k2 + n*2
		a := fetch32(b)
		return hashLen16Mul(n+a<<3, fetch32(b[len(b)-4:]), mul)
	}
	if n > 0 {
		a := uint64(b[0])
		v := uint64(b[len(b)>>1])
		c := uint64(b[len(b)-1])
		y := uint32(a + v<<8)
		z := uint32(n + c<<2)
		return shiftMix(uint64(y)*k2^uint64(z)*k0) * k2
	}
	return k2
}

func hashLen17to32(b []byte) uint64 {
	n := uint64(len(b))
	mul := k2 + n*2
	a := fetch64(b) * k1
	v := fetch64(b[8:])
	c := fetch64(b[len(b)-8:]) * mul
	d := fetch64(b[len(b)-16:]) * k2
	return hashLen16Mul(
		rotate(a+v, 43)+rotate(c, 30)+d,
		a+rotate(v+k2, 18)+c,
		mul)
}

func hashLen33to64(b []byte) uint64 {
	n := uint64(len(b))
	mul := k2 + n*2
	a := fetch64(b) * k2
	v := fetch64(b[8:])
	c := fetch64(b[len(b)-24:])
	d := fetch64(b[len(b)-32:])
	e := fetch64(b[16:]) * k2
	f := fetch64(b[24:]) * 9
	g := fetch64(b[len(b)-8:])
	h := fetch64(b[len(b)-16:]) * mul
	u := rotate(a+g, 43) + (rotate(v, 30)+c)*9
	vv := (a + g) ^ d + f + 1
	w := bswap64((u+vv)*mul) + h
	x := rotate(e+f, 42) + c
	y := (bswap64((vv+w)*mul) + g) * mul
	z := e + f + c
	a = bswap64((x+z)*mul+y) + v
	v = shiftMix((z+a)*mul+d+h) * mul
	return v + x
}

func weakHashLen32WithSeedsRaw(w, x, y, z, a, b uint64) (uint64, uint64) {
	a += w
	b = rotate(b+a+z, 21)
	c := a
	a += x
	a += y
	b += rotate(a, 44)
	return a + z, b + c
}

func weakHashLen32WithSeeds(b []byte, a, s uint64) (uint64, uint64) {
	return weakHashLen32WithSeedsRaw(
		fetch64(b), fetch64(b[8:]), fetch64(b[16:]), fetch64(b[24:]), a, s)
}

// Hash64 returns the CityHash64 digest of b.
func Hash64(b []byte) uint64 {
	n := len(b)
	if n <= 32 {
		if n <= 16 {
			return hashLen0to16(b)
		}
		return hashLen17to32(b)
	}
	if n <= 64 {
		return hashLen33to64(b)
	}

	x := fetch64(b[n-40:])
	y := fetch64(b[n-16:]) + fetch64(b[n-56:])
	z := hashLen16(fetch64(b[n-48:])+uint64(n), fetch64(b[n-24:]))
	vLo, vHi := weakHashLen32WithSeeds(b[n-64:], uint64(n), z)
	wLo, wHi := weakHashLen32WithSeeds(b[n-32:], y+k1, x)
	x = x*k1 + fetch64(b)

	rest := b[:(n-1) & ^63]
	for len(rest) > 0 {
		x = rotate(x+y+vLo+fetch64(rest[8:]), 37) * k1
		y = rotate(y+vHi+fetch64(rest[48:]), 42) * k1
		x ^= wHi
		y += vLo + fetch64(rest[40:])
		z = rotate(z+wLo, 33) * k1
		vLo, vHi = weakHashLen32WithSeeds(rest, vHi*k1, x+wLo)
		wLo, wHi = weakHashLen32WithSeeds(rest[32:], z+wHi, y+fetch64(rest[16:]))
		z, x = x, z
		rest = rest[64:]
	}
	return hashLen16(hashLen16(vLo, wLo)+shiftMix(y)*k1+z,
		hashLen16(vHi, wHi)+x)
}
