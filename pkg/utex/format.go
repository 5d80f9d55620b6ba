package utex

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPixelFormat reports a pixel format with no block-parameter
// record. The failure is scoped to one texture object; sibling exports in
// the same container stay usable.
var ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")

// PixelFormat is the engine's pixel format name as serialized (PF_*).
type PixelFormat string

const (
	PFDXT1           PixelFormat = "PF_DXT1"
	PFDXT3           PixelFormat = "PF_DXT3"
	PFDXT5           PixelFormat = "PF_DXT5"
	PFBC4            PixelFormat = "PF_BC4"
	PFBC5            PixelFormat = "PF_BC5"
	PFBC6H           PixelFormat = "PF_BC6H"
	PFBC7            PixelFormat = "PF_BC7"
	PFA8             PixelFormat = "PF_A8"
	PFG8             PixelFormat = "PF_G8"
	PFR8             PixelFormat = "PF_R8"
	PFR8G8           PixelFormat = "PF_R8G8"
	PFG16            PixelFormat = "PF_G16"
	PFG16R16         PixelFormat = "PF_G16R16"
	PFB8G8R8A8       PixelFormat = "PF_B8G8R8A8"
	PFA2B10G10R10    PixelFormat = "PF_A2B10G10R10"
	PFA16B16G16R16   PixelFormat = "PF_A16B16G16R16"
	PFFloatRGB       PixelFormat = "PF_FloatRGB"
	PFFloatR11G11B10 PixelFormat = "PF_FloatR11G11B10"
	PFFloatRGBA      PixelFormat = "PF_FloatRGBA"
	PFA32B32G32R32F  PixelFormat = "PF_A32B32G32R32F"
	PFB5G5R5A1       PixelFormat = "PF_B5G5R5A1_UNORM"
	PFASTC4x4        PixelFormat = "PF_ASTC_4x4"
	PFASTC6x6        PixelFormat = "PF_ASTC_6x6"
	PFASTC8x8        PixelFormat = "PF_ASTC_8x8"
	PFASTC10x10      PixelFormat = "PF_ASTC_10x10"
	PFASTC12x12      PixelFormat = "PF_ASTC_12x12"
	PFETC1           PixelFormat = "PF_ETC1"
	PFETC2RGB        PixelFormat = "PF_ETC2_RGB"
	PFETC2RGBA       PixelFormat = "PF_ETC2_RGBA"
)

// BlockInfo holds the size parameters of a pixel format: the dimensions of
// one compression block in pixels and its size at rest in bytes. Linear
// formats use a 1x1 block.
type BlockInfo struct {
	BlockWidth    uint32
	BlockHeight   uint32
	BytesPerBlock int
}

var blockInfo = map[PixelFormat]BlockInfo{
	PFDXT1:           {4, 4, 8},
	PFDXT3:           {4, 4, 16},
	PFDXT5:           {4, 4, 16},
	PFBC4:            {4, 4, 8},
	PFBC5:            {4, 4, 16},
	PFBC6H:           {4, 4, 16},
	PFBC7:            {4, 4, 16},
	PFA8:             {1, 1, 1},
	PFG8:             {1, 1, 1},
	PFR8:             {1, 1, 1},
	PFR8G8:           {1, 1, 2},
	PFG16:            {1, 1, 2},
	PFG16R16:         {1, 1, 4},
	PFB8G8R8A8:       {1, 1, 4},
	PFA2B10G10R10:    {1, 1, 4},
	PFA16B16G16R16:   {1, 1, 8},
	PFFloatRGB:       {1, 1, 4},
	PFFloatR11G11B10: {1, 1, 4},
	PFFloatRGBA:      {1, 1, 8},
	PFA32B32G32R32F:  {1, 1, 16},
	PFB5G5R5A1:       {1, 1, 2},
	PFASTC4x4:        {4, 4, 16},
	PFASTC6x6:        {6, 6, 16},
	PFASTC8x8:        {8, 8, 16},
	PFASTC10x10:      {10, 10, 16},
	PFASTC12x12:      {12, 12, 16},
	PFETC1:           {4, 4, 8},
	PFETC2RGB:        {4, 4, 8},
	PFETC2RGBA:       {4, 4, 16},
}

// Info returns the block parameters of a pixel format.
func Info(pf PixelFormat) (BlockInfo, error) {
	info, ok := blockInfo[pf]
	if !ok {
		return BlockInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedPixelFormat, pf)
	}
	return info, nil
}

// Supported reports whether the format has a block-parameter record.
func Supported(pf PixelFormat) bool {
	_, ok := blockInfo[pf]
	return ok
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// MipSize returns the byte size of one mip level in this format.
func (b BlockInfo) MipSize(width, height, slices uint32) int {
	blocks := int(ceilDiv(width, b.BlockWidth)) * int(ceilDiv(height, b.BlockHeight))
	return blocks * b.BytesPerBlock * int(slices)
}

// ExpectedMipSize returns the byte size a mip of the given dimensions must
// have in the given format.
func ExpectedMipSize(pf PixelFormat, width, height, slices uint32) (int, error) {
	info, err := Info(pf)
	if err != nil {
		return 0, err
	}
	return info.MipSize(width, height, slices), nil
}
