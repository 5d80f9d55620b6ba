package container

import (
	"fmt"

	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/utex"
	"github.com/user/utexgo/pkg/uver"
)

// Serialize rebuilds complete byte images from the container's current
// state. Offsets are recomputed in a fixed order: payload placements first,
// then export sizes and offsets, then the offset fields inside the export
// stream, then the header's size fields. Parsing and serializing an untouched
// container reproduces the input byte for byte.
func (c *Container) Serialize() (Streams, error) {
	if c.IsVirtual() {
		return c.serializeVirtual()
	}
	return c.serializeLegacy()
}

// renumberResources assigns global header-table indices across all textures,
// in export-stream order, for dialects that keep payload metadata in a table.
// Returns the record count.
func (c *Container) renumberResources() int {
	if !c.Dialect.HasDataResources {
		return 0
	}
	idx := int32(0)
	for _, exp := range c.Exports {
		if exp.Texture == nil {
			continue
		}
		if exp.Texture.TailMip != nil {
			exp.Texture.TailMip.ResourceIndex = idx
			idx++
		}
		for _, m := range exp.Texture.Mips {
			m.ResourceIndex = idx
			idx++
		}
	}
	return int(idx)
}

// collectResources gathers the header-table records from every texture in the
// same order renumberResources numbered them.
func (c *Container) collectResources() []utex.DataResource {
	var out []utex.DataResource
	for _, exp := range c.Exports {
		if exp.Texture != nil {
			out = append(out, exp.Texture.Resources()...)
		}
	}
	return out
}

func (c *Container) serializeLegacy() (Streams, error) {
	d := c.Dialect
	pkg := c.Package

	// The resource count feeds into the header size, so the table is sized
	// before serialization and filled with real values after.
	if d.HasDataResources {
		pkg.DataResources = make([]utex.DataResource, c.renumberResources())
	}

	headerSize, err := pkg.HeaderSize()
	if err != nil {
		return Streams{}, err
	}

	uexpW := uarc.NewWriter()
	bulkW := uarc.NewWriter()
	optW := uarc.NewWriter()
	var fixups []utex.BulkField

	for _, exp := range c.Exports {
		start := uexpW.Tell()
		if exp.Texture != nil {
			layout, err := exp.Texture.Serialize(uexpW, headerSize, int64(bulkW.Tell()), int64(optW.Tell()))
			if err != nil {
				return Streams{}, fmt.Errorf("export %d (%s): %w", exp.Index, exp.Name, err)
			}
			appendPayloads(exp.Texture, bulkW, optW)
			pkg.Exports[exp.Index].Patch(uint64(layout.Size), uint32(headerSize+start))
			fixups = append(fixups, layout.BulkFields...)
		} else {
			uexpW.Raw(exp.Raw)
			pkg.Exports[exp.Index].Patch(uint64(len(exp.Raw)), uint32(headerSize+start))
		}
	}
	uexpSize := uexpW.Tell()

	for _, bf := range fixups {
		if bf.FieldPos < 0 {
			continue
		}
		recorded := recordedBulkOffset(bf.Mip.Offset, d, headerSize, uexpSize)
		if err := uexpW.PatchU64(bf.FieldPos, uint64(recorded)); err != nil {
			return Streams{}, err
		}
	}

	if d.HasDataResources {
		pkg.DataResources = c.collectResources()
	}

	uasset, err := pkg.Write(uexpSize)
	if err != nil {
		return Streams{}, err
	}
	if len(uasset) != headerSize {
		return Streams{}, fmt.Errorf("header size drifted during serialization (%d planned, %d written)",
			headerSize, len(uasset))
	}

	if d.SeparateExportData {
		out := Streams{
			UAsset: uasset,
			UExp:   append(uexpW.Bytes(), uver.PackageMagic[:]...),
		}
		if bulkW.Len() > 0 {
			out.UBulk = bulkW.Bytes()
		}
		if optW.Len() > 0 {
			out.UPtnl = optW.Bytes()
		}
		return out, nil
	}

	// Single-file layout.
	one := uarc.NewWriter()
	one.Raw(uasset)
	one.Raw(uexpW.Bytes())
	one.Raw(bulkW.Bytes())
	one.Raw(uver.PackageMagic[:])
	return Streams{UAsset: one.Bytes()}, nil
}

func (c *Container) serializeVirtual() (Streams, error) {
	zen := c.Zen

	n := c.renumberResources()
	zen.BulkMap = make([]utex.DataResource, n)

	// Probe write to learn the header size; nothing that follows changes it.
	probe, err := zen.Write()
	if err != nil {
		return Streams{}, err
	}
	headerSize := len(probe)

	segW := uarc.NewWriter()
	bulkW := uarc.NewWriter()
	optW := uarc.NewWriter()

	for _, exp := range c.Exports {
		start := segW.Tell()
		if exp.Texture != nil {
			layout, err := exp.Texture.Serialize(segW, headerSize, int64(bulkW.Tell()), int64(optW.Tell()))
			if err != nil {
				return Streams{}, fmt.Errorf("export %d (%s): %w", exp.Index, exp.Name, err)
			}
			appendPayloads(exp.Texture, bulkW, optW)
			zen.Exports[exp.Index].Patch(uint64(layout.Size), uint64(start))
		} else {
			segW.Raw(exp.Raw)
			zen.Exports[exp.Index].Patch(uint64(len(exp.Raw)), uint64(start))
		}
	}

	zen.BulkMap = c.collectResources()

	header, err := zen.Write()
	if err != nil {
		return Streams{}, err
	}
	if len(header) != headerSize {
		return Streams{}, fmt.Errorf("header size drifted during serialization (%d planned, %d written)",
			headerSize, len(header))
	}

	out := Streams{UAsset: append(header, segW.Bytes()...)}
	if bulkW.Len() > 0 {
		out.UBulk = bulkW.Bytes()
	}
	if optW.Len() > 0 {
		out.UPtnl = optW.Bytes()
	}
	return out, nil
}

// appendPayloads copies side-stream payloads into their streams in mip order,
// matching the offsets Serialize assigned.
func appendPayloads(t *utex.Texture, bulkW, optW *uarc.Writer) {
	for _, m := range t.Mips {
		switch m.Storage {
		case utex.StorageBulk:
			bulkW.Raw(m.Data)
		case utex.StorageOptional:
			optW.Raw(m.Data)
		}
	}
}

// recordedBulkOffset is the inverse of Mip.BulkLocation: given a payload's
// position within its side stream, it returns the value the offset field
// must carry under a dialect.
func recordedBulkOffset(inStream int64, d uver.Dialect, uassetSize, uexpSize int) int64 {
	switch {
	case d.NoOffsetFixup:
		return inStream
	case d.SeparateExportData:
		return inStream - int64(uassetSize) - int64(uexpSize)
	default:
		return inStream + int64(uassetSize) + int64(uexpSize)
	}
}
