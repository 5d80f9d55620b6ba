package container

import (
	"fmt"
	"strings"

	"github.com/user/utexgo/pkg/ucas"
	"github.com/user/utexgo/pkg/uver"
)

// sideStreamPath swaps the asset path's extension for a side stream's.
func sideStreamPath(path, ext string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		return path[:i] + ext
	}
	return path + ext
}

// VirtualStreams pulls one package's chunks out of a virtual-container
// archive: the header+export chunk plus the bulk and on-demand chunks when
// the archive carries them.
func VirtualStreams(a *ucas.Archive, path string) (Streams, error) {
	main, err := a.Read(ucas.ChunkKey(path))
	if err != nil {
		return Streams{}, fmt.Errorf("package chunk %s: %w", path, err)
	}
	s := Streams{UAsset: main}
	for _, side := range []struct {
		ext string
		out *[]byte
	}{{".ubulk", &s.UBulk}, {".uptnl", &s.UPtnl}} {
		key := ucas.ChunkKey(sideStreamPath(path, side.ext))
		if !a.Has(key) {
			continue
		}
		data, err := a.Read(key)
		if err != nil {
			return Streams{}, err
		}
		if len(data) > 0 {
			*side.out = data
		}
	}
	return s, nil
}

// OpenVirtual resolves one package from a virtual-container archive and
// parses it. An empty tag auto-detects the dialect.
func OpenVirtual(a *ucas.Archive, path string, tag uver.Tag) (*Container, error) {
	s, err := VirtualStreams(a, path)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return Parse(s)
	}
	return ParseAs(s, tag)
}

// SaveVirtual writes one package's streams back into the archive and returns
// the rebuilt archive. Side-stream chunks are replaced in place; a stream the
// archive has no chunk for may only be empty.
func SaveVirtual(a *ucas.Archive, path string, s Streams) (*ucas.Archive, error) {
	pieces := []struct {
		path string
		data []byte
	}{
		{path, s.UAsset},
		{sideStreamPath(path, ".ubulk"), s.UBulk},
		{sideStreamPath(path, ".uptnl"), s.UPtnl},
	}
	var err error
	for _, p := range pieces {
		key := ucas.ChunkKey(p.path)
		switch {
		case a.Has(key):
			if a, err = a.Replace(key, p.data); err != nil {
				return nil, fmt.Errorf("chunk %s: %w", p.path, err)
			}
		case len(p.data) > 0:
			return nil, fmt.Errorf("archive has no chunk for %s", p.path)
		}
	}
	return a, nil
}
