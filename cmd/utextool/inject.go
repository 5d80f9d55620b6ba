package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func injectCmd() *cli.Command {
	var (
		assetPath string
		version   string
		chainDir  string
		outPath   string
		exportID  int64
	)
	return &cli.Command{
		Name:  "inject",
		Usage: "Replace a texture's mip chain from an exported chain directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "path to the .uasset file", Destination: &assetPath, Required: true},
			&cli.StringFlag{Name: "version", Aliases: []string{"v"}, Usage: "engine version tag", Destination: &version},
			&cli.StringFlag{Name: "chain", Aliases: []string{"c"}, Usage: "chain directory (from export)", Destination: &chainDir, Required: true},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output asset path (default: in place)", Destination: &outPath},
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
			chain, err := readChain(chainDir)
			if err != nil {
				return err
			}
			out, err := c.Patch(id, chain)
			if err != nil {
				return fmt.Errorf("patch %s: %w", assetPath, err)
			}
			if outPath == "" {
				outPath = assetPath
			}
			if err := saveStreams(outPath, out); err != nil {
				return err
			}
			log.Info("injected mip chain", "asset", assetPath, "export", id,
				"levels", len(chain.Mips), "out", outPath)
			return nil
		},
	}
}

func removeMipsCmd() *cli.Command {
	var (
		assetPath string
		version   string
		outPath   string
		exportID  int64
	)
	return &cli.Command{
		Name:  "remove-mips",
		Usage: "Keep only the top mip of a texture",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "path to the .uasset file", Destination: &assetPath, Required: true},
			&cli.StringFlag{Name: "version", Aliases: []string{"v"}, Usage: "engine version tag", Destination: &version},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output asset path (default: in place)", Destination: &outPath},
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
			out, err := c.RemoveMips(id)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = assetPath
			}
			if err := saveStreams(outPath, out); err != nil {
				return err
			}
			log.Info("removed mips", "asset", assetPath, "export", id, "out", outPath)
			return nil
		},
	}
}
