package loaders

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vs-ude/spirv"

	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

var opEntryPoint = (&spirv.OpEntryPoint{}).Opcode()

var ErrInvalidSPIRV = errors.New("invalid SPIR-V")

// EntryPoint is one OpEntryPoint of a SPIR-V module. Kind is zero for
// execution models the renderer has no stage for.
type EntryPoint struct {
	Name string
	Kind metadata.ShaderStageKind
}

// ShaderSource is a SPIR-V module read from disk. Code is in host byte
// order.
type ShaderSource struct {
	Path        string
	Code        []byte
	EntryPoints []EntryPoint
}

// EntryPointNames lists the entry points usable as kind.
func (s *ShaderSource) EntryPointNames(kind metadata.ShaderStageKind) []string {
	var names []string
	for _, ep := range s.EntryPoints {
		if ep.Kind == kind {
			names = append(names, ep.Name)
		}
	}
	return names
}

type ShaderLoader struct{}

func (ShaderLoader) Load(path string) (*ShaderSource, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, entries, err := DecodeShader(code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ShaderSource{Path: path, Code: code, EntryPoints: entries}, nil
}

// ParseEntryPoints returns the entry points of a SPIR-V module in
// declaration order.
func ParseEntryPoints(code []byte) ([]EntryPoint, error) {
	_, entries, err := DecodeShader(code)
	return entries, err
}

// DecodeShader decodes a SPIR-V module in either byte order. It returns the
// module re-encoded in host byte order, which is what vkCreateShaderModule
// reads, along with its entry points.
func DecodeShader(code []byte) ([]byte, []EntryPoint, error) {
	if len(code) < 5*4 || len(code)%4 != 0 {
		return nil, nil, fmt.Errorf("%w: %d bytes is not a whole module", ErrInvalidSPIRV, len(code))
	}

	dec := spirv.NewDecoder(bytes.NewReader(code))
	hdr, err := dec.DecodeHeader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSPIRV, err)
	}

	words := make([]uint32, 0, len(code)/4)
	words = append(words, spirv.MagicLE, hdr.Version, hdr.GeneratorMagic, uint32(hdr.Bound), hdr.Reserved)

	var entries []EntryPoint
	for {
		inst, err := dec.DecodeInstructionWords()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: instruction at word %d: %v", ErrInvalidSPIRV, len(words), err)
		}
		if inst[0]&0xffff == opEntryPoint {
			ep, err := decodeEntryPoint(inst)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: OpEntryPoint at word %d: %v", ErrInvalidSPIRV, len(words), err)
			}
			entries = append(entries, EntryPoint{Name: string(ep.Name), Kind: stageKindOf(ep.ExecutionModel)})
		}
		words = append(words, inst...)
	}

	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.NativeEndian.AppendUint32(out, w)
	}
	return out, entries, nil
}

// decodeEntryPoint decodes the execution model, function id and name of an
// OpEntryPoint instruction. spirv.DecodeInstruction reads a literal string
// to the end of the operands, so the interface ids are cut off first.
func decodeEntryPoint(inst []uint32) (*spirv.OpEntryPoint, error) {
	if len(inst) < 4 {
		return nil, spirv.ErrMissingInstructionArgs
	}
	n := 0
	for i, w := range inst[3:] {
		if w&0xff == 0 || w&0xff00 == 0 || w&0xff0000 == 0 || w&0xff000000 == 0 {
			n = i + 1
			break
		}
	}
	if n == 0 {
		return nil, errors.New("unterminated literal string")
	}

	operands := make([]uint32, 3+n)
	operands[0] = uint32(len(operands))<<16 | opEntryPoint
	copy(operands[1:], inst[1:3+n])
	decoded, err := spirv.DecodeInstruction(operands)
	if err != nil {
		return nil, err
	}
	ep, ok := decoded.(*spirv.OpEntryPoint)
	if !ok {
		return nil, fmt.Errorf("decoded %T", decoded)
	}
	return ep, nil
}

func stageKindOf(model spirv.ExecutionModel) metadata.ShaderStageKind {
	switch model {
	case spirv.ExecutionModelVertex:
		return metadata.ShaderStageVertex
	case spirv.ExecutionModelFragment:
		return metadata.ShaderStageFragment
	default:
		return 0
	}
}
