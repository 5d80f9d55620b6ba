// Package container ties the header, export-data and payload side streams of
// one asset together: it detects the dialect, parses every texture export,
// attaches side-stream payloads, and rebuilds complete byte images after a
// mip chain has been swapped. Untouched exports are carried verbatim.
package container

import (
	"errors"
	"fmt"

	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/upak"
	"github.com/user/utexgo/pkg/utex"
	"github.com/user/utexgo/pkg/uver"
)

var (
	// ErrAmbiguousVersion reports that more than one dialect parses the
	// streams consistently and no hint was given.
	ErrAmbiguousVersion = errors.New("ambiguous engine version")
	// ErrInconsistentTables reports streams whose declared offsets, sizes and
	// counts do not agree with each other.
	ErrInconsistentTables = errors.New("inconsistent container tables")
	// ErrNoSuchExport reports an export id out of range or of the wrong kind.
	ErrNoSuchExport = errors.New("no such export")
)

// Streams are the physical byte images of one asset. Single-file dialects
// carry everything in UAsset; virtual containers use UAsset for the chunk
// holding header plus export data.
type Streams struct {
	UAsset []byte
	UExp   []byte
	UBulk  []byte
	UPtnl  []byte
}

// Export is one entry of the container's export list: either a parsed
// texture or a verbatim byte span.
type Export struct {
	Index     int
	Name      string
	ClassName string

	// Texture is set for supported texture classes, nil otherwise.
	Texture *utex.Texture
	// Raw holds the export's serialized bytes for non-texture exports.
	Raw []byte
}

// IsTexture reports whether the export was parsed as a texture.
func (e *Export) IsTexture() bool { return e.Texture != nil }

// Container is a fully parsed asset.
type Container struct {
	Dialect uver.Dialect

	// Package is the legacy header, Zen the virtual-container one. Exactly
	// one is set.
	Package *upak.Package
	Zen     *upak.ZenPackage

	Exports []*Export

	// order lists export indices by their position in the export stream.
	order []int
}

// IsVirtual reports whether the container is a virtual-container chunk.
func (c *Container) IsVirtual() bool { return c.Zen != nil }

// Detect returns every dialect whose structural parameters parse the streams
// without contradiction.
func Detect(s Streams) []uver.Dialect {
	var out []uver.Dialect
	for _, d := range uver.Candidates(s.UAsset) {
		if _, err := ParseAs(s, d.Tag); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// Parse detects the dialect and parses the streams. When several dialects
// remain consistent the result is ErrAmbiguousVersion; use ParseAs with an
// explicit tag in that case.
func Parse(s Streams) (*Container, error) {
	matches := Detect(s)
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no dialect parses these streams: %w", uver.ErrUnknownVersion)
	case 1:
		return ParseAs(s, matches[0].Tag)
	}
	tags := make([]uver.Tag, len(matches))
	for i, d := range matches {
		tags[i] = d.Tag
	}
	return nil, fmt.Errorf("%w: %v all parse consistently", ErrAmbiguousVersion, tags)
}

// ParseAs parses the streams under one specific dialect.
func ParseAs(s Streams, tag uver.Tag) (*Container, error) {
	d, err := uver.Resolve(tag)
	if err != nil {
		return nil, err
	}
	if d.Virtual {
		return parseVirtual(s, d)
	}
	return parseLegacy(s, d)
}

// split returns the export-data and bulk regions of the streams under a
// dialect, without the trailing magic tag.
func split(s Streams, d uver.Dialect, sum *upak.Summary) (uexp, ubulk []byte, err error) {
	uassetSize := int(sum.UAssetSize)
	if d.SeparateExportData {
		if len(s.UAsset) != uassetSize {
			return nil, nil, fmt.Errorf("%w: header stream is %d bytes, summary says %d",
				ErrInconsistentTables, len(s.UAsset), uassetSize)
		}
		if len(s.UExp) < 4 {
			return nil, nil, fmt.Errorf("export stream: %w", uarc.ErrTruncated)
		}
		if [4]byte(s.UExp[len(s.UExp)-4:]) != uver.PackageMagic {
			return nil, nil, fmt.Errorf("%w: export stream does not end with the package tag",
				ErrInconsistentTables)
		}
		return s.UExp[:len(s.UExp)-4], s.UBulk, nil
	}

	// Single-file layout: header, export data, bulk data, tag.
	bulkOffset := int(sum.BulkOffset)
	if len(s.UAsset) < 4 || uassetSize > bulkOffset || bulkOffset > len(s.UAsset)-4 {
		return nil, nil, fmt.Errorf("%w: bulk data offset %d outside the file (%d bytes, header %d)",
			ErrInconsistentTables, bulkOffset, len(s.UAsset), uassetSize)
	}
	if [4]byte(s.UAsset[len(s.UAsset)-4:]) != uver.PackageMagic {
		return nil, nil, fmt.Errorf("%w: file does not end with the package tag", ErrInconsistentTables)
	}
	return s.UAsset[uassetSize:bulkOffset], s.UAsset[bulkOffset : len(s.UAsset)-4], nil
}

func parseLegacy(s Streams, d uver.Dialect) (*Container, error) {
	pkg, err := upak.Read(s.UAsset, d)
	if err != nil {
		return nil, err
	}
	uexp, ubulk, err := split(s, d, pkg.Summary)
	if err != nil {
		return nil, err
	}
	uassetSize := int(pkg.Summary.UAssetSize)

	c := &Container{Dialect: d, Package: pkg}
	c.order = exportOrderLegacy(pkg)

	for _, i := range c.order {
		src := &pkg.Exports[i]
		start := int(src.Offset) - uassetSize
		end := start + int(src.Size)
		if start < 0 || end > len(uexp) || start > end {
			return nil, fmt.Errorf("%w: export %d spans %d..%d in a %d-byte export stream",
				ErrInconsistentTables, i, start, end, len(uexp))
		}
		exp := &Export{Index: i, Name: src.Name, ClassName: src.ClassName}
		if src.IsTexture() {
			r := uarc.NewReader(uexp[start:end])
			tex, err := utex.ParseTexture(r, d, src.ClassName, pkg.DataResources)
			switch {
			case errors.Is(err, utex.ErrUnsupportedPixelFormat):
				// Carried verbatim; siblings stay patchable.
				exp.Raw = uexp[start:end]
			case err != nil:
				return nil, fmt.Errorf("export %d (%s): %w", i, src.Name, err)
			case r.Tell() != end-start:
				return nil, fmt.Errorf("%w: export %d (%s) declares %d bytes, texture object ends at %d",
					ErrInconsistentTables, i, src.Name, end-start, r.Tell())
			default:
				exp.Texture = tex
			}
		} else {
			exp.Raw = uexp[start:end]
		}
		c.Exports = append(c.Exports, exp)
	}

	if err := c.attachPayloads(uassetSize, len(uexp), ubulk, s.UPtnl); err != nil {
		return nil, err
	}
	return c, nil
}

func parseVirtual(s Streams, d uver.Dialect) (*Container, error) {
	zen, err := upak.ReadZen(s.UAsset, d)
	if err != nil {
		return nil, err
	}
	headerSize := int(zen.Summary.UAssetSize)
	if headerSize > len(s.UAsset) {
		return nil, fmt.Errorf("%w: chunk is %d bytes, header claims %d",
			ErrInconsistentTables, len(s.UAsset), headerSize)
	}
	segment := s.UAsset[headerSize:]

	c := &Container{Dialect: d, Zen: zen}
	c.order = exportOrderZen(zen)

	for _, i := range c.order {
		src := &zen.Exports[i]
		start := int(src.Offset)
		end := start + int(src.Size)
		if start < 0 || end > len(segment) || start > end {
			return nil, fmt.Errorf("%w: export %d spans %d..%d in a %d-byte export segment",
				ErrInconsistentTables, i, start, end, len(segment))
		}
		exp := &Export{Index: i, Name: src.Name, ClassName: src.ClassName}
		if src.IsTexture() {
			r := uarc.NewReader(segment[start:end])
			tex, err := utex.ParseTexture(r, d, src.ClassName, zen.BulkMap)
			switch {
			case errors.Is(err, utex.ErrUnsupportedPixelFormat):
				exp.Raw = segment[start:end]
			case err != nil:
				return nil, fmt.Errorf("export %d (%s): %w", i, src.Name, err)
			case r.Tell() != end-start:
				return nil, fmt.Errorf("%w: export %d (%s) declares %d bytes, texture object ends at %d",
					ErrInconsistentTables, i, src.Name, end-start, r.Tell())
			default:
				exp.Texture = tex
			}
		} else {
			exp.Raw = segment[start:end]
		}
		c.Exports = append(c.Exports, exp)
	}

	if err := c.attachPayloads(headerSize, len(segment), s.UBulk, s.UPtnl); err != nil {
		return nil, err
	}
	return c, nil
}

// attachPayloads resolves every side-stream mip's location and slices its
// payload out of the bulk or on-demand stream.
func (c *Container) attachPayloads(uassetSize, uexpSize int, ubulk, uptnl []byte) error {
	for _, exp := range c.Exports {
		if exp.Texture == nil {
			continue
		}
		for mi, m := range exp.Texture.Mips {
			if !m.InBulkStream() {
				continue
			}
			stream := ubulk
			name := "bulk"
			if m.Storage == utex.StorageOptional {
				stream = uptnl
				name = "on-demand"
			}
			loc := m.BulkLocation(c.Dialect, uassetSize, uexpSize)
			end := loc + m.Size
			if loc < 0 || end > int64(len(stream)) || m.Size < 0 {
				return fmt.Errorf("%w: mip %d of %s spans %d..%d in a %d-byte %s stream",
					ErrInconsistentTables, mi, exp.Name, loc, end, len(stream), name)
			}
			m.Data = stream[loc:end]
		}
	}
	return nil
}

func exportOrderLegacy(pkg *upak.Package) []int {
	order := make([]int, len(pkg.Exports))
	for i := range order {
		order[i] = i
	}
	sortByKey(order, func(i int) int64 { return int64(pkg.Exports[i].Offset) })
	return order
}

func exportOrderZen(zen *upak.ZenPackage) []int {
	order := make([]int, len(zen.Exports))
	for i := range order {
		order[i] = i
	}
	sortByKey(order, func(i int) int64 { return int64(zen.Exports[i].Offset) })
	return order
}

func sortByKey(order []int, key func(int) int64) {
	// Export tables are tiny; insertion sort keeps the original order of
	// equal keys.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && key(order[j]) < key(order[j-1]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
}

// Textures returns the export ids of every parsed texture.
func (c *Container) Textures() []int {
	var out []int
	for _, exp := range c.Exports {
		if exp.IsTexture() {
			out = append(out, exp.Index)
		}
	}
	return out
}

// Export returns the container's view of one export.
func (c *Container) Export(id int) (*Export, error) {
	for _, exp := range c.Exports {
		if exp.Index == id {
			return exp, nil
		}
	}
	return nil, fmt.Errorf("export %d: %w", id, ErrNoSuchExport)
}

func (c *Container) texture(id int) (*utex.Texture, error) {
	exp, err := c.Export(id)
	if err != nil {
		return nil, err
	}
	if exp.Texture == nil {
		return nil, fmt.Errorf("export %d (%s) is not a texture: %w", id, exp.ClassName, ErrNoSuchExport)
	}
	return exp.Texture, nil
}

// Extract returns the mip chain of a texture export, payloads included.
func (c *Container) Extract(id int) (utex.Chain, error) {
	tex, err := c.texture(id)
	if err != nil {
		return utex.Chain{}, err
	}
	return tex.ExtractChain(), nil
}

// Patch swaps the mip chain of one texture export and returns complete new
// streams. The chain is validated before anything changes; on error the
// container and the original streams are untouched. The rewritten package is
// stamped with the modified-asset marker.
func (c *Container) Patch(id int, chain utex.Chain) (Streams, error) {
	tex, err := c.texture(id)
	if err != nil {
		return Streams{}, err
	}
	if err := tex.ReplaceMips(chain); err != nil {
		return Streams{}, err
	}
	if c.Package != nil {
		c.Package.MarkModified()
	}
	return c.Serialize()
}

// RemoveMips drops every level but the top one of a texture export and
// returns complete new streams.
func (c *Container) RemoveMips(id int) (Streams, error) {
	tex, err := c.texture(id)
	if err != nil {
		return Streams{}, err
	}
	tex.RemoveMips()
	if c.Package != nil {
		c.Package.MarkModified()
	}
	return c.Serialize()
}
