// Package dist defines the wire format for bytecode bundles: the CBOR
// encoding in which an external front end hands compiled chunks to the
// runtime.
package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/kilnlang/kiln/vm"
)

// WireVersion is the current bundle format version.
const WireVersion = 1

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Const is the wire form of a constant-pool entry. Only scalars and
// strings travel over the wire; container constants have no wire form.
type Const struct {
	Kind  uint8   `cbor:"k"`
	Int   int64   `cbor:"i,omitempty"`
	Float float64 `cbor:"f,omitempty"`
	Bool  bool    `cbor:"b,omitempty"`
	Str   string  `cbor:"s,omitempty"`
}

// SourceLoc is the wire form of a source-map entry.
type SourceLoc struct {
	Offset int `cbor:"o"`
	Line   int `cbor:"l"`
	Col    int `cbor:"c"`
}

// Chunk is the wire form of one function's bytecode.
type Chunk struct {
	Name      string      `cbor:"name"`
	Params    []string    `cbor:"params,omitempty"`
	NumLocals int         `cbor:"locals"`
	Code      []byte      `cbor:"code"`
	Consts    []Const     `cbor:"consts,omitempty"`
	SourceMap []SourceLoc `cbor:"srcmap,omitempty"`
}

// Bundle is an ordered collection of chunks plus the entry function.
type Bundle struct {
	Version int      `cbor:"v"`
	Entry   string   `cbor:"entry,omitempty"`
	Chunks  []*Chunk `cbor:"chunks"`
}

// MarshalBundle serializes a bundle to CBOR bytes.
func MarshalBundle(b *Bundle) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// UnmarshalBundle deserializes a bundle from CBOR bytes.
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("dist: unmarshal bundle: %w", err)
	}
	if b.Version != WireVersion {
		return nil, fmt.Errorf("dist: unsupported bundle version %d", b.Version)
	}
	return &b, nil
}

// FromVM converts a runtime chunk to its wire form.
func FromVM(c *vm.Chunk) (*Chunk, error) {
	wc := &Chunk{
		Name:      c.Name,
		Params:    c.Params,
		NumLocals: c.NumLocals,
		Code:      c.Code,
	}
	for i, v := range c.Consts {
		var k Const
		switch v.Kind() {
		case vm.KindNone:
			k = Const{Kind: uint8(vm.KindNone)}
		case vm.KindInt:
			k = Const{Kind: uint8(vm.KindInt), Int: v.Int()}
		case vm.KindFloat:
			k = Const{Kind: uint8(vm.KindFloat), Float: v.Float()}
		case vm.KindBool:
			k = Const{Kind: uint8(vm.KindBool), Bool: v.Bool()}
		case vm.KindString:
			k = Const{Kind: uint8(vm.KindString), Str: v.Str()}
		default:
			return nil, fmt.Errorf("dist: constant %d of %q has no wire form (%s)", i, c.Name, v.Kind())
		}
		wc.Consts = append(wc.Consts, k)
	}
	for _, l := range c.SourceMap {
		wc.SourceMap = append(wc.SourceMap, SourceLoc{Offset: l.Offset, Line: l.Line, Col: l.Col})
	}
	return wc, nil
}

// ToVM converts a wire chunk to its runtime form.
func ToVM(wc *Chunk) (*vm.Chunk, error) {
	c := &vm.Chunk{
		Name:      wc.Name,
		Params:    wc.Params,
		NumLocals: wc.NumLocals,
		Code:      wc.Code,
	}
	if c.NumLocals < len(c.Params) {
		return nil, fmt.Errorf("dist: chunk %q declares %d locals for %d params", wc.Name, wc.NumLocals, len(wc.Params))
	}
	for i, k := range wc.Consts {
		switch vm.Kind(k.Kind) {
		case vm.KindNone:
			c.Consts = append(c.Consts, vm.None)
		case vm.KindInt:
			c.Consts = append(c.Consts, vm.FromInt(k.Int))
		case vm.KindFloat:
			c.Consts = append(c.Consts, vm.FromFloat(k.Float))
		case vm.KindBool:
			c.Consts = append(c.Consts, vm.FromBool(k.Bool))
		case vm.KindString:
			c.Consts = append(c.Consts, vm.FromString(k.Str))
		default:
			return nil, fmt.Errorf("dist: constant %d of %q has invalid kind %d", i, wc.Name, k.Kind)
		}
	}
	for _, l := range wc.SourceMap {
		c.SourceMap = append(c.SourceMap, vm.SourceLoc{Offset: l.Offset, Line: l.Line, Col: l.Col})
	}
	return c, nil
}

// Load registers every chunk of a bundle with a machine and returns the
// entry function name ("main" when the bundle does not name one).
func Load(m *vm.Machine, b *Bundle) (string, error) {
	for _, wc := range b.Chunks {
		c, err := ToVM(wc)
		if err != nil {
			return "", err
		}
		if err := m.RegisterChunk(c); err != nil {
			return "", fmt.Errorf("dist: %w", err)
		}
	}
	entry := b.Entry
	if entry == "" {
		entry = "main"
	}
	return entry, nil
}
