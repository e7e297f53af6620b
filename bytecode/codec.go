package bytecode

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Magic prefixes every encoded module: "RAFT".
var Magic = []byte{'R', 'A', 'F', 'T'}

// cborEncMode uses canonical encoding so identical modules encode to
// identical bytes.
var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// Encode serializes a module to its wire form.
func Encode(m *Module) ([]byte, error) {
	if m.Version == "" {
		m.Version = FormatVersion
	}
	body, err := cborEncMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bytecode: encode module %q: %w", m.Name, err)
	}
	out := make([]byte, 0, len(Magic)+len(body))
	out = append(out, Magic...)
	return append(out, body...), nil
}

// Decode parses a module from its wire form. The result is not validated;
// callers register it through a loader that knows the module registry.
func Decode(data []byte) (*Module, error) {
	if len(data) < len(Magic) || !bytes.Equal(data[:len(Magic)], Magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrLoad)
	}
	var m Module
	if err := cborDecMode.Unmarshal(data[len(Magic):], &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	return &m, nil
}

// WriteFile encodes a module to the named file.
func WriteFile(filename string, m *Module) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// ReadFile reads and decodes a module file.
func ReadFile(filename string) (*Module, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", filename, err)
	}
	return Decode(data)
}
