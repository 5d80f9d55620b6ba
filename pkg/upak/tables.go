package upak

import (
	"fmt"

	"github.com/user/utexgo/pkg/uarc"
	"github.com/user/utexgo/pkg/uver"
)

// Object flags on export entries.
const (
	FlagPublic             uint32 = 1
	FlagStandalone         uint32 = 2
	FlagTransactional      uint32 = 8
	FlagClassDefaultObject uint32 = 0x10
	FlagArchetypeObject    uint32 = 0x20
)

// textureClasses is the set of export classes whose payload the codec can
// model. Everything else is carried verbatim.
var textureClasses = map[string]bool{
	"Texture2D":          true,
	"TextureCube":        true,
	"Texture2DArray":     true,
	"TextureCubeArray":   true,
	"VolumeTexture":      true,
	"LightMapTexture2D":  true,
	"ShadowMapTexture2D": true,
}

// IsTextureClass reports whether a class name is a supported texture class.
func IsTextureClass(class string) bool { return textureClasses[class] }

// Import is one entry of the import table (FObjectImport).
type Import struct {
	ClassPackageNameID     int32
	ClassPackageNameNumber int32
	ClassNameID            int32
	ClassNameNumber        int32
	ClassPackageImportID   int32
	NameID                 int32
	NameNumber             int32
	Optional               uint32

	// Resolved from the name table after reading.
	Name      string
	ClassName string
}

func readImport(r *uarc.Reader, d uver.Dialect) (Import, error) {
	var imp Import
	fields := []*int32{
		&imp.ClassPackageNameID, &imp.ClassPackageNameNumber,
		&imp.ClassNameID, &imp.ClassNameNumber,
		&imp.ClassPackageImportID, &imp.NameID, &imp.NameNumber,
	}
	for _, f := range fields {
		v, err := r.I32()
		if err != nil {
			return imp, err
		}
		*f = v
	}
	if d.ImportHasOptional {
		v, err := r.U32()
		if err != nil {
			return imp, err
		}
		imp.Optional = v
	}
	return imp, nil
}

func (imp *Import) write(w *uarc.Writer, d uver.Dialect) {
	w.I32(imp.ClassPackageNameID)
	w.I32(imp.ClassPackageNameNumber)
	w.I32(imp.ClassNameID)
	w.I32(imp.ClassNameNumber)
	w.I32(imp.ClassPackageImportID)
	w.I32(imp.NameID)
	w.I32(imp.NameNumber)
	if d.ImportHasOptional {
		w.U32(imp.Optional)
	}
}

func (imp *Import) resolve(names *NameTable) error {
	var err error
	if imp.Name, err = names.Get(int(imp.NameID)); err != nil {
		return err
	}
	if imp.ClassName, err = names.Get(int(imp.ClassNameID)); err != nil {
		return err
	}
	return nil
}

// Export is one entry of the export table (FObjectExport). The trailer holds
// the fields after the serial offset (package GUID and assorted flags),
// copied verbatim.
type Export struct {
	ClassIndex    int32
	SuperIndex    int32
	TemplateIndex int32
	OuterIndex    int32
	NameID        uint32
	NameNumber    uint32
	ObjectFlags   uint32
	Size          uint64
	Offset        uint32
	Trailer       []byte

	// Resolved from the tables after reading.
	Name      string
	ClassName string
}

func readExport(r *uarc.Reader, d uver.Dialect) (Export, error) {
	var exp Export
	var err error
	if exp.ClassIndex, err = r.I32(); err != nil {
		return exp, err
	}
	if exp.SuperIndex, err = r.I32(); err != nil {
		return exp, err
	}
	if d.ExportHasTemplate {
		if exp.TemplateIndex, err = r.I32(); err != nil {
			return exp, err
		}
	}
	if exp.OuterIndex, err = r.I32(); err != nil {
		return exp, err
	}
	if exp.NameID, err = r.U32(); err != nil {
		return exp, err
	}
	if exp.NameNumber, err = r.U32(); err != nil {
		return exp, err
	}
	if exp.ObjectFlags, err = r.U32(); err != nil {
		return exp, err
	}
	if d.Export64BitSize {
		if exp.Size, err = r.U64(); err != nil {
			return exp, err
		}
	} else {
		v, err := r.U32()
		if err != nil {
			return exp, err
		}
		exp.Size = uint64(v)
	}
	if exp.Offset, err = r.U32(); err != nil {
		return exp, err
	}
	if exp.Trailer, err = r.Bytes(d.ExportTrailerSize); err != nil {
		return exp, err
	}
	return exp, nil
}

func (exp *Export) write(w *uarc.Writer, d uver.Dialect) {
	w.I32(exp.ClassIndex)
	w.I32(exp.SuperIndex)
	if d.ExportHasTemplate {
		w.I32(exp.TemplateIndex)
	}
	w.I32(exp.OuterIndex)
	w.U32(exp.NameID)
	w.U32(exp.NameNumber)
	w.U32(exp.ObjectFlags)
	if d.Export64BitSize {
		w.U64(exp.Size)
	} else {
		w.U32(uint32(exp.Size))
	}
	w.U32(exp.Offset)
	w.Raw(exp.Trailer)
}

// exportSize returns the serialized size of one export entry.
func exportSize(d uver.Dialect) int {
	size := 4 * 6 // class, super, outer, name id, name number, flags
	if d.ExportHasTemplate {
		size += 4
	}
	if d.Export64BitSize {
		size += 12
	} else {
		size += 8
	}
	return size + d.ExportTrailerSize
}

// Patch updates the serialized size and offset of the export's object.
func (exp *Export) Patch(size uint64, offset uint32) {
	exp.Size = size
	exp.Offset = offset
}

// IsStandalone reports whether this is the asset's main object.
func (exp *Export) IsStandalone() bool { return exp.ObjectFlags&FlagStandalone != 0 }

// IsTexture reports whether the export's class is a supported texture class.
func (exp *Export) IsTexture() bool { return IsTextureClass(exp.ClassName) }

// resolve fills in the display names from the surrounding tables. Package
// indices are signed: negative values point into the import table, positive
// ones into the export table, zero means none.
func (exp *Export) resolve(exports []Export, imports []Import, names *NameTable) error {
	var err error
	if exp.Name, err = names.Get(int(exp.NameID)); err != nil {
		return err
	}
	exp.ClassName, err = indexName(exp.ClassIndex, exports, imports)
	return err
}

func indexName(index int32, exports []Export, imports []Import) (string, error) {
	switch {
	case index == 0:
		return "None", nil
	case index < 0:
		i := int(-index - 1)
		if i >= len(imports) {
			return "", fmt.Errorf("import index %d out of range (%d imports)", index, len(imports))
		}
		return imports[i].Name, nil
	default:
		i := int(index - 1)
		if i >= len(exports) {
			return "", fmt.Errorf("export index %d out of range (%d exports)", index, len(exports))
		}
		return exports[i].Name, nil
	}
}
