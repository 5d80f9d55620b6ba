package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/user/utexgo/pkg/ucas"
)

func chunkCmd() *cli.Command {
	return &cli.Command{
		Name:  "chunk",
		Usage: "Work with virtual-container chunk archives",
		Commands: []*cli.Command{
			chunkListCmd(),
			chunkExtractCmd(),
			chunkInjectCmd(),
		},
	}
}

func openArchive(tocPath, dataPath string) (*ucas.Archive, error) {
	toc, err := os.ReadFile(tocPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tocPath, err)
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dataPath, err)
	}
	return ucas.Open(toc, data)
}

// resolveKey accepts either a hex chunk key or a package path.
func resolveKey(s string) uint64 {
	if v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64); err == nil && strings.HasPrefix(s, "0x") {
		return v
	}
	return ucas.ChunkKey(s)
}

func archiveFlags(tocPath, dataPath *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "toc", Usage: "path to the index stream", Destination: tocPath, Required: true},
		&cli.StringFlag{Name: "data", Usage: "path to the data stream", Destination: dataPath, Required: true},
	}
}

func chunkListCmd() *cli.Command {
	var tocPath, dataPath string
	return &cli.Command{
		Name:  "list",
		Usage: "List chunk keys and sizes",
		Flags: archiveFlags(&tocPath, &dataPath),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openArchive(tocPath, dataPath)
			if err != nil {
				return err
			}
			for _, key := range a.Keys() {
				size, err := a.Size(key)
				if err != nil {
					return err
				}
				fmt.Printf("%016x %12d\n", key, size)
			}
			return nil
		},
	}
}

func chunkExtractCmd() *cli.Command {
	var tocPath, dataPath, key, outPath string
	return &cli.Command{
		Name:  "extract",
		Usage: "Extract one chunk to a file",
		Flags: append(archiveFlags(&tocPath, &dataPath),
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "chunk key (0x-prefixed hex) or package path", Destination: &key, Required: true},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file", Destination: &outPath, Required: true},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openArchive(tocPath, dataPath)
			if err != nil {
				return err
			}
			payload, err := a.Read(resolveKey(key))
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, payload, 0o644); err != nil {
				return err
			}
			log.Info("extracted chunk", "key", key, "bytes", len(payload), "out", outPath)
			return nil
		},
	}
}

func chunkInjectCmd() *cli.Command {
	var tocPath, dataPath, key, inPath string
	return &cli.Command{
		Name:  "inject",
		Usage: "Replace one chunk and rewrite both streams",
		Flags: append(archiveFlags(&tocPath, &dataPath),
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "chunk key (0x-prefixed hex) or package path", Destination: &key, Required: true},
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "replacement payload file", Destination: &inPath, Required: true},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openArchive(tocPath, dataPath)
			if err != nil {
				return err
			}
			payload, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			replaced, err := a.Replace(resolveKey(key), payload)
			if err != nil {
				return err
			}
			if err := os.WriteFile(tocPath, replaced.Toc(), 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(dataPath, replaced.Data(), 0o644); err != nil {
				return err
			}
			log.Info("injected chunk", "key", key, "bytes", len(payload))
			return nil
		},
	}
}
