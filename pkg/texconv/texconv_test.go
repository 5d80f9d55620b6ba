package texconv

import (
	"bytes"
	"context"
	"testing"

	"github.com/user/utexgo/pkg/utex"
)

func TestFuncConverter(t *testing.T) {
	identity := Func(func(_ context.Context, req Request) ([]byte, error) {
		return req.Data, nil
	})
	info, err := utex.Info(utex.PFDXT1)
	if err != nil {
		t.Fatal(err)
	}
	chain := utex.Chain{
		Format: utex.PFDXT1,
		Slices: 1,
		Mips: []utex.ChainMip{
			{Width: 8, Height: 8, Data: make([]byte, info.MipSize(8, 8, 1))},
			{Width: 4, Height: 4, Data: make([]byte, info.MipSize(4, 4, 1))},
		},
	}
	out, err := ConvertChain(context.Background(), identity, chain, utex.PFDXT1)
	if err != nil {
		t.Fatalf("ConvertChain: %v", err)
	}
	if len(out.Mips) != 2 || out.Format != utex.PFDXT1 {
		t.Fatalf("chain: format %s, %d mips", out.Format, len(out.Mips))
	}
	for i := range out.Mips {
		if !bytes.Equal(out.Mips[i].Data, chain.Mips[i].Data) {
			t.Errorf("mip %d changed under the identity converter", i)
		}
	}
}

func TestConvertChainRejectsWrongSize(t *testing.T) {
	truncating := Func(func(_ context.Context, req Request) ([]byte, error) {
		return req.Data[:len(req.Data)-1], nil
	})
	chain := utex.Chain{
		Format: utex.PFDXT1,
		Slices: 1,
		Mips:   []utex.ChainMip{{Width: 8, Height: 8, Data: make([]byte, 32)}},
	}
	if _, err := ConvertChain(context.Background(), truncating, chain, utex.PFDXT1); err == nil {
		t.Fatal("ConvertChain accepted a wrong-size conversion")
	}
}

func TestProcessConverter(t *testing.T) {
	p := &Process{Binary: "cp"}
	payload := []byte("mip level payload bytes")
	out, err := p.Convert(context.Background(), Request{Width: 4, Height: 4, Data: payload})
	if err != nil {
		t.Skipf("cp not usable here: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("process converter altered the payload")
	}
}

func TestProcessArgExpansion(t *testing.T) {
	p := &Process{}
	args := p.expand([]string{"-w", "{width}", "-f", "{format}", "{in}", "{out}"},
		"/tmp/a", "/tmp/b", Request{Width: 256, Format: utex.PFBC7})
	want := []string{"-w", "256", "-f", "PF_BC7", "/tmp/a", "/tmp/b"}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestProcessRequiresBinary(t *testing.T) {
	p := &Process{}
	if _, err := p.Convert(context.Background(), Request{}); err == nil {
		t.Fatal("Convert succeeded with no binary configured")
	}
}
