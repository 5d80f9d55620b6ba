package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/user/utexgo/pkg/utex"
)

// chainManifest is the on-disk description of an exported mip chain: a JSON
// file naming the format and one payload file per level.
type chainManifest struct {
	Format string        `json:"format"`
	Slices uint32        `json:"slices"`
	Mips   []manifestMip `json:"mips"`
}

type manifestMip struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	File   string `json:"file"`
}

const manifestName = "chain.json"

func writeChain(dir string, chain utex.Chain) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	man := chainManifest{Format: string(chain.Format), Slices: chain.Slices}
	for i, m := range chain.Mips {
		name := fmt.Sprintf("mip%d.bin", i)
		if err := os.WriteFile(filepath.Join(dir, name), m.Data, 0o644); err != nil {
			return fmt.Errorf("write mip %d: %w", i, err)
		}
		man.Mips = append(man.Mips, manifestMip{Width: m.Width, Height: m.Height, File: name})
	}
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName), data, 0o644)
}

func readChain(dir string) (utex.Chain, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return utex.Chain{}, fmt.Errorf("read manifest: %w", err)
	}
	var man chainManifest
	if err := json.Unmarshal(data, &man); err != nil {
		return utex.Chain{}, fmt.Errorf("parse manifest: %w", err)
	}
	chain := utex.Chain{Format: utex.PixelFormat(man.Format), Slices: man.Slices}
	for i, m := range man.Mips {
		payload, err := os.ReadFile(filepath.Join(dir, m.File))
		if err != nil {
			return utex.Chain{}, fmt.Errorf("read mip %d: %w", i, err)
		}
		chain.Mips = append(chain.Mips, utex.ChainMip{Width: m.Width, Height: m.Height, Data: payload})
	}
	return chain, nil
}

func exportCmd() *cli.Command {
	var (
		assetPath string
		version   string
		outDir    string
		exportID  int64
	)
	return &cli.Command{
		Name:  "export",
		Usage: "Extract a texture's mip chain to a directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "path to the .uasset file", Destination: &assetPath, Required: true},
			&cli.StringFlag{Name: "version", Aliases: []string{"v"}, Usage: "engine version tag", Destination: &version},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Destination: &outDir, Required: true},
			&cli.Int64Flag{Name: "export", Aliases: []string{"e"}, Usage: "export id (default: first texture)", Value: -1, Destination: &exportID},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := openContainer(assetPath, version)
			if err != nil {
				return err
			}
			id, err := pickTexture(c.Textures(), int(exportID))
			if err != nil {
				return err
			}
			chain, err := c.Extract(id)
			if err != nil {
				return err
			}
			if err := writeChain(outDir, chain); err != nil {
				return err
			}
			log.Info("exported mip chain", "asset", assetPath, "export", id,
				"levels", len(chain.Mips), "format", chain.Format, "out", outDir)
			return nil
		},
	}
}

func pickTexture(ids []int, requested int) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("asset has no texture exports")
	}
	if requested < 0 {
		return ids[0], nil
	}
	for _, id := range ids {
		if id == requested {
			return id, nil
		}
	}
	return 0, fmt.Errorf("export %d is not a texture (textures: %v)", requested, ids)
}
