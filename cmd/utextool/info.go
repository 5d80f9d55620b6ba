package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/user/utexgo/pkg/container"
)

func infoCmd() *cli.Command {
	var (
		assetPath string
		version   string
	)
	return &cli.Command{
		Name:  "info",
		Usage: "Parse an asset and print its texture layout",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "path to the .uasset file", Destination: &assetPath, Required: true},
			&cli.StringFlag{Name: "version", Aliases: []string{"v"}, Usage: "engine version tag (e.g. 4.27, 5.3, ff7r)", Destination: &version},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := openContainer(assetPath, version)
			if err != nil {
				return err
			}
			fmt.Printf("dialect: %s\n", c.Dialect.Tag)
			for _, id := range c.Textures() {
				exp, err := c.Export(id)
				if err != nil {
					return err
				}
				tex := exp.Texture
				w, h := tex.MaxSize()
				fmt.Printf("export %d: %s (%s, %s) %dx%d, format %s, %d slices\n",
					id, exp.Name, exp.ClassName, tex.TypeName(), w, h, tex.PixelFormat, tex.NumSlices)
				for i, m := range tex.Mips {
					fmt.Printf("  mip %2d: %4dx%-4d %8d bytes  %s\n", i, m.Width, m.Height, len(m.Data), m.Storage)
				}
			}
			return nil
		},
	}
}

func detectCmd() *cli.Command {
	var assetPath string
	return &cli.Command{
		Name:  "detect",
		Usage: "List every engine version that parses the asset consistently",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "path to the .uasset file", Destination: &assetPath, Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := loadStreams(assetPath)
			if err != nil {
				return err
			}
			matches := container.Detect(s)
			if len(matches) == 0 {
				return fmt.Errorf("no dialect parses %s", assetPath)
			}
			for _, d := range matches {
				fmt.Println(d.Tag)
			}
			return nil
		},
	}
}
