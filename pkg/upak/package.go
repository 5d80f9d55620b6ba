package upak

import (
	"fmt"

	"github.com/user/utexgo/internal/crc"
	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/utex"
	"github.com/user/utexgo/pkg/uver"
)

// Package is the parsed header stream of one asset: summary plus every table
// up to the export data.
type Package struct {
	Dialect uver.Dialect
	Summary *Summary
	Names   *NameTable
	Imports []Import
	Exports []Export

	// Depends is the depends map, one package index per export. Always zero
	// in cooked assets but carried verbatim.
	Depends []int32

	// PreloadDependencies are import/export indices that must be serialized
	// before other exports. Carried verbatim.
	PreloadDependencies []int32

	// DataResources is the header-level payload metadata table of 5.2+
	// dialects.
	DataResources []utex.DataResource

	// BaseName is the asset's file name without extensions, the input of the
	// shipped-build package source hash.
	BaseName string
}

// Read parses the header stream of a package. data may extend past the
// header (single-file dialects append export and bulk data to the same
// file); bytes beyond the declared header size are ignored here.
func Read(data []byte, d uver.Dialect) (*Package, error) {
	r := uarc.NewReader(data)
	s, err := readSummary(r, d)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	p := &Package{Dialect: d, Summary: s}

	if err := r.Seek(int(s.NameOffset)); err != nil {
		return nil, fmt.Errorf("name table: %w", err)
	}
	if p.Names, err = readNameTable(r, s.NameCount); err != nil {
		return nil, fmt.Errorf("name table: %w", err)
	}

	if err := r.Seek(int(s.ImportOffset)); err != nil {
		return nil, fmt.Errorf("import table: %w", err)
	}
	p.Imports = make([]Import, s.ImportCount)
	for i := range p.Imports {
		if p.Imports[i], err = readImport(r, d); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
	}
	for i := range p.Imports {
		if err := p.Imports[i].resolve(p.Names); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
	}

	if err := r.Seek(int(s.ExportOffset)); err != nil {
		return nil, fmt.Errorf("export table: %w", err)
	}
	p.Exports = make([]Export, s.ExportCount)
	for i := range p.Exports {
		if p.Exports[i], err = readExport(r, d); err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
	}
	for i := range p.Exports {
		if err := p.Exports[i].resolve(p.Exports, p.Imports, p.Names); err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
	}

	// Depends map.
	p.Depends = make([]int32, s.ExportCount)
	for i := range p.Depends {
		if p.Depends[i], err = r.I32(); err != nil {
			return nil, fmt.Errorf("depends map: %w", err)
		}
	}

	if err := r.Seek(int(s.AssetRegistryOffset)); err != nil {
		return nil, fmt.Errorf("asset registry: %w", err)
	}
	if err := r.CheckU32(0, "asset registry count"); err != nil {
		return nil, err
	}

	if d.HasDataResources && s.DataResourceOffset != -1 {
		if err := r.Seek(int(s.DataResourceOffset)); err != nil {
			return nil, fmt.Errorf("data resources: %w", err)
		}
		if err := r.CheckU32(1, "data resource version"); err != nil {
			return nil, err
		}
		count, err := r.I32()
		if err != nil {
			return nil, err
		}
		if count < 0 || int(count) > r.Len() {
			return nil, fmt.Errorf("implausible data resource count %d", count)
		}
		p.DataResources = make([]utex.DataResource, count)
		for i := range p.DataResources {
			if p.DataResources[i], err = utex.ReadDataResource(r); err != nil {
				return nil, fmt.Errorf("data resource %d: %w", i, err)
			}
		}
	}

	if d.SeparateExportData {
		if err := r.Seek(int(s.PreloadDependencyOffset)); err != nil {
			return nil, fmt.Errorf("preload dependencies: %w", err)
		}
		p.PreloadDependencies = make([]int32, s.PreloadDependencyCount)
		for i := range p.PreloadDependencies {
			if p.PreloadDependencies[i], err = r.I32(); err != nil {
				return nil, fmt.Errorf("preload dependencies: %w", err)
			}
		}
	}

	return p, nil
}

// Write rebuilds the header stream. uexpSize is the size of the export data
// stream, needed for the bulk start offset field. Section offsets and the
// total header size are recomputed; the summary's size fields are updated in
// place so the caller can read them back afterwards.
func (p *Package) Write(uexpSize int) ([]byte, error) {
	d := p.Dialect
	s := p.Summary

	w := uarc.NewWriter()
	s.NameCount = int32(p.Names.Len())
	s.ImportCount = int32(len(p.Imports))
	s.ExportCount = int32(len(p.Exports))

	// Provisional summary to claim the space; rewritten below once every
	// offset is known. Its size does not depend on any offset value.
	if err := s.write(w, d); err != nil {
		return nil, err
	}

	s.NameOffset = int32(w.Tell())
	if err := p.Names.write(w); err != nil {
		return nil, err
	}

	s.ImportOffset = int32(w.Tell())
	for i := range p.Imports {
		p.Imports[i].write(w, d)
	}

	s.ExportOffset = int32(w.Tell())
	for i := range p.Exports {
		p.Exports[i].write(w, d)
	}

	s.DependsOffset = int32(w.Tell())
	for _, v := range p.Depends {
		w.I32(v)
	}

	s.AssetRegistryOffset = int32(w.Tell())
	w.U32(0)

	if d.HasDataResources {
		if len(p.DataResources) == 0 {
			s.DataResourceOffset = -1
		} else {
			s.DataResourceOffset = int32(w.Tell())
			w.U32(1) // data resource version
			w.I32(int32(len(p.DataResources)))
			for _, res := range p.DataResources {
				res.Write(w)
			}
		}
	}

	if d.HasPreloadDependencies {
		s.PreloadDependencyCount = int32(len(p.PreloadDependencies))
		s.PreloadDependencyOffset = int32(w.Tell())
		if d.SeparateExportData {
			for _, v := range p.PreloadDependencies {
				w.I32(v)
			}
		}
	}

	s.UAssetSize = uint32(w.Tell())
	s.BulkOffset = int32(int(s.UAssetSize) + uexpSize)

	// Final summary pass with the real offsets.
	hw := uarc.NewWriter()
	if err := s.write(hw, d); err != nil {
		return nil, err
	}
	if hw.Len() > int(s.NameOffset) {
		return nil, fmt.Errorf("summary grew past the name table (%d > %d)", hw.Len(), s.NameOffset)
	}
	copy(w.Bytes(), hw.Bytes())

	return w.Bytes(), nil
}

// HeaderSize returns the header size the next Write will produce, without
// building it. Containers need this before export serialization because
// inline payload offsets are header-relative.
func (p *Package) HeaderSize() (int, error) {
	d := p.Dialect
	w := uarc.NewWriter()
	if err := p.Summary.write(w, d); err != nil {
		return 0, err
	}
	size := w.Tell()
	size += p.Names.SerializedSize()
	impSize := 28
	if d.ImportHasOptional {
		impSize += 4
	}
	size += impSize * len(p.Imports)
	size += exportSize(d) * len(p.Exports)
	size += 4 * len(p.Depends)
	size += 4 // asset registry count
	if d.HasDataResources && len(p.DataResources) > 0 {
		size += 8 + 44*len(p.DataResources)
	}
	if d.HasPreloadDependencies && d.SeparateExportData {
		size += 4 * len(p.PreloadDependencies)
	}
	return size, nil
}

// MainExport returns the asset's standalone export.
func (p *Package) MainExport() (*Export, error) {
	var main *Export
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

// MarkModified stamps the package-source field with the modified-asset
// marker so edited containers are distinguishable from shipped ones.
func (p *Package) MarkModified() {
	p.Summary.PackageSource = crc.ModifiedPackageSource
}

// IsOfficial reports whether the package-source field matches the shipped
// hash of the asset's base name.
func (p *Package) IsOfficial() bool {
	return p.Summary.PackageSource == crc.PackageSource(p.BaseName)
}
