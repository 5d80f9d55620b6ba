// Package texconv is the boundary to external texture converters. The codec
// itself never touches pixel data beyond size bookkeeping; converting between
// encodings is delegated to a Converter, typically a texconv-style binary.
package texconv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/user/utexgo/pkg/utex"
)

// Request is one mip level handed to a converter.
type Request struct {
	Width    uint32
	Height   uint32
	Depth    uint32
	MipIndex int
	Format   utex.PixelFormat
	Data     []byte
}

// Converter transcodes one mip level and returns the converted bytes.
type Converter interface {
	Convert(ctx context.Context, req Request) ([]byte, error)
}

// Func adapts a plain function to the Converter interface.
type Func func(ctx context.Context, req Request) ([]byte, error)

func (f Func) Convert(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Process runs an external converter binary per mip level. The input is
// written to a scratch file, the binary is invoked with the expanded argument
// list, and the output file is read back.
//
// Args may contain the placeholders {in}, {out}, {width}, {height}, {depth},
// {mip} and {format}; when Args is empty the binary is called with just the
// input and output paths.
type Process struct {
	Binary string
	Args   []string
}

func (p *Process) expand(args []string, in, out string, req Request) []string {
	rep := strings.NewReplacer(
		"{in}", in,
		"{out}", out,
		"{width}", strconv.FormatUint(uint64(req.Width), 10),
		"{height}", strconv.FormatUint(uint64(req.Height), 10),
		"{depth}", strconv.FormatUint(uint64(req.Depth), 10),
		"{mip}", strconv.Itoa(req.MipIndex),
		"{format}", string(req.Format),
	)
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = rep.Replace(a)
	}
	return expanded
}

func (p *Process) Convert(ctx context.Context, req Request) ([]byte, error) {
	if p.Binary == "" {
		return nil, fmt.Errorf("no converter binary configured")
	}
	dir, err := os.MkdirTemp("", "texconv-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, req.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write converter input: %w", err)
	}

	args := p.Args
	if len(args) == 0 {
		args = []string{"{in}", "{out}"}
	}
	cmd := exec.CommandContext(ctx, p.Binary, p.expand(args, in, out, req)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("converter %s: %w: %s", p.Binary, err, strings.TrimSpace(string(output)))
	}

	converted, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read converter output: %w", err)
	}
	return converted, nil
}

// ConvertChain runs a converter over every level of a chain and returns the
// converted chain with payload sizes re-validated against the target format.
func ConvertChain(ctx context.Context, conv Converter, chain utex.Chain, target utex.PixelFormat) (utex.Chain, error) {
	info, err := utex.Info(target)
	if err != nil {
		return utex.Chain{}, err
	}
	out := utex.Chain{Format: target, Slices: chain.Slices}
	for i, m := range chain.Mips {
		converted, err := conv.Convert(ctx, Request{
			Width:    m.Width,
			Height:   m.Height,
			Depth:    1,
			MipIndex: i,
			Format:   chain.Format,
			Data:     m.Data,
		})
		if err != nil {
			return utex.Chain{}, fmt.Errorf("mip %d: %w", i, err)
		}
		if want := info.MipSize(m.Width, m.Height, chain.Slices); len(converted) != want {
			return utex.Chain{}, fmt.Errorf("mip %d: converter produced %d bytes, %s at %dx%d implies %d: %w",
				i, len(converted), target, m.Width, m.Height, want, utex.ErrMipSizeMismatch)
		}
		out.Mips = append(out.Mips, utex.ChainMip{Width: m.Width, Height: m.Height, Data: converted})
	}
	return out, nil
}
