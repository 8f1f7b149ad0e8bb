package loaders

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vs-ude/spirv"

	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

type entry struct {
	model spirv.ExecutionModel
	name  string
	ids   []uint32
}

func packString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

func spirvWords(entries ...entry) []uint32 {
	words := []uint32{spirv.MagicLE, 0x00010000, 0, 16, 0}
	// OpCapability Shader
	words = append(words, 2<<16|17, 1)
	for i, e := range entries {
		name := packString(e.name)
		count := 3 + len(name) + len(e.ids)
		words = append(words, uint32(count)<<16|opEntryPoint, uint32(e.model), uint32(i+1))
		words = append(words, name...)
		words = append(words, e.ids...)
	}
	return words
}

func encodeWords(order binary.ByteOrder, words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		order.PutUint32(out[i*4:], w)
	}
	return out
}

func spirvModule(order binary.ByteOrder, entries ...entry) []byte {
	return encodeWords(order, spirvWords(entries...))
}

func TestParseEntryPoints(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			code := spirvModule(order,
				entry{model: spirv.ExecutionModelVertex, name: "main", ids: []uint32{7, 8}},
				entry{model: spirv.ExecutionModelFragment, name: "fs_main", ids: []uint32{9}},
				entry{model: spirv.ExecutionModelGLCompute, name: "compute"},
			)
			got, err := ParseEntryPoints(code)
			if err != nil {
				t.Fatal(err)
			}
			want := []EntryPoint{
				{Name: "main", Kind: metadata.ShaderStageVertex},
				{Name: "fs_main", Kind: metadata.ShaderStageFragment},
				{Name: "compute"},
			}
			if len(got) != len(want) {
				t.Fatalf("got %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestParseEntryPointsRejectsBadInput(t *testing.T) {
	good := spirvModule(binary.LittleEndian, entry{model: spirv.ExecutionModelVertex, name: "main"})

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 0xff

	truncated := good[:len(good)-4]

	unterminated := spirvModule(binary.LittleEndian)
	unterminated = binary.LittleEndian.AppendUint32(unterminated, 4<<16|opEntryPoint)
	unterminated = binary.LittleEndian.AppendUint32(unterminated, uint32(spirv.ExecutionModelVertex))
	unterminated = binary.LittleEndian.AppendUint32(unterminated, 1)
	unterminated = append(unterminated, 'm', 'a', 'i', 'n')

	tests := []struct {
		name string
		code []byte
	}{
		{"empty", nil},
		{"odd length", good[:len(good)-1]},
		{"bad magic", badMagic},
		{"truncated instruction", truncated},
		{"unterminated name", unterminated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEntryPoints(tt.code); !errors.Is(err, ErrInvalidSPIRV) {
				t.Errorf("ParseEntryPoints() = %v, want ErrInvalidSPIRV", err)
			}
		})
	}
}

func TestDecodeShaderHostOrder(t *testing.T) {
	words := spirvWords(entry{model: spirv.ExecutionModelVertex, name: "main", ids: []uint32{3}})
	want := encodeWords(binary.NativeEndian, words)
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			code, entries, err := DecodeShader(encodeWords(order, words))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(code, want) {
				t.Error("decoded module is not in host byte order")
			}
			if len(entries) != 1 || entries[0].Name != "main" {
				t.Errorf("entries = %+v", entries)
			}
		})
	}
}

func TestShaderLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triangle.vert.spv")
	code := spirvModule(binary.LittleEndian, entry{model: spirv.ExecutionModelVertex, name: "main"})
	if err := os.WriteFile(path, code, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := ShaderLoader{}.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(src.Code) != len(code) {
		t.Errorf("Code is %d bytes, want %d", len(src.Code), len(code))
	}
	if names := src.EntryPointNames(metadata.ShaderStageVertex); len(names) != 1 || names[0] != "main" {
		t.Errorf("vertex entry points = %v", names)
	}
	if names := src.EntryPointNames(metadata.ShaderStageFragment); len(names) != 0 {
		t.Errorf("fragment entry points = %v", names)
	}

	if _, err := (ShaderLoader{}).Load(filepath.Join(t.TempDir(), "missing.spv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}
