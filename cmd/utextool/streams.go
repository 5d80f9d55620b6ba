package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/utexgo/pkg/container"
	"github.com/user/utexgo/pkg/uver"
)

// loadStreams reads an asset's header stream plus whichever side streams sit
// next to it.
func loadStreams(assetPath string) (container.Streams, error) {
	var s container.Streams
	var err error
	if s.UAsset, err = os.ReadFile(assetPath); err != nil {
		return s, fmt.Errorf("read %s: %w", assetPath, err)
	}
	base := strings.TrimSuffix(assetPath, filepath.Ext(assetPath))
	for _, side := range []struct {
		ext string
		buf *[]byte
	}{
		{".uexp", &s.UExp},
		{".ubulk", &s.UBulk},
		{".uptnl", &s.UPtnl},
	} {
		data, err := os.ReadFile(base + side.ext)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return s, fmt.Errorf("read %s: %w", base+side.ext, err)
		}
		*side.buf = data
	}
	return s, nil
}

// saveStreams writes the streams next to the given asset path, removing side
// stream files the new image no longer has.
func saveStreams(assetPath string, s container.Streams) error {
	if err := os.MkdirAll(filepath.Dir(assetPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(assetPath, s.UAsset, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", assetPath, err)
	}
	base := strings.TrimSuffix(assetPath, filepath.Ext(assetPath))
	for _, side := range []struct {
		ext string
		buf []byte
	}{
		{".uexp", s.UExp},
		{".ubulk", s.UBulk},
		{".uptnl", s.UPtnl},
	} {
		path := base + side.ext
		if side.buf == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			continue
		}
		if err := os.WriteFile(path, side.buf, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// openContainer parses an asset, using the version hint when given.
func openContainer(assetPath, version string) (*container.Container, error) {
	s, err := loadStreams(assetPath)
	if err != nil {
		return nil, err
	}
	if version != "" {
		return container.ParseAs(s, uver.Tag(version))
	}
	return container.Parse(s)
}
