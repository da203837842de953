// Package bundle implements the CBOR wire format for compiler output: a set
// of class registrations plus an optional entry method, sealed with a
// SHA-256 digest.
package bundle

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Version is the bundle format version this package reads and writes.
const Version = 1

// Bundle is the unit a compiler hands to the VM.
type Bundle struct {
	Version uint8    `cbor:"1,keyasint"`
	Classes []Class  `cbor:"2,keyasint,omitempty"`
	Entry   *Method  `cbor:"3,keyasint,omitempty"`
	Digest  [32]byte `cbor:"4,keyasint"`
}

// Class is a class registration.
type Class struct {
	Name         string   `cbor:"1,keyasint"`
	Superclass   string   `cbor:"2,keyasint,omitempty"`
	Format       string   `cbor:"3,keyasint,omitempty"`
	InstanceVars []string `cbor:"4,keyasint,omitempty"`
	Methods      []Method `cbor:"5,keyasint,omitempty"`
	ClassMethods []Method `cbor:"6,keyasint,omitempty"`
}

// Method is a compiled method or block body.
type Method struct {
	Selector      string    `cbor:"1,keyasint,omitempty"`
	ArgCount      int       `cbor:"2,keyasint"`
	TempCount     int       `cbor:"3,keyasint"`
	TempNames     []string  `cbor:"4,keyasint,omitempty"`
	Primitive     int       `cbor:"5,keyasint,omitempty"`
	HomeTempCount int       `cbor:"6,keyasint,omitempty"`
	Bytecodes     []byte    `cbor:"7,keyasint"`
	Literals      []Literal `cbor:"8,keyasint,omitempty"`
}

// Literal is one literal pool entry. Kind uses the vm.LiteralKind values.
type Literal struct {
	Kind     uint8     `cbor:"1,keyasint"`
	Int      int64     `cbor:"2,keyasint,omitempty"`
	Float    float64   `cbor:"3,keyasint,omitempty"`
	Text     string    `cbor:"4,keyasint,omitempty"`
	Block    *Method   `cbor:"5,keyasint,omitempty"`
	Elements []Literal `cbor:"6,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Seal computes the digest of b's contents and stores it in b.
func (b *Bundle) Seal() error {
	d, err := b.digest()
	if err != nil {
		return err
	}
	b.Digest = d
	return nil
}

func (b *Bundle) digest() ([32]byte, error) {
	unsealed := *b
	unsealed.Digest = [32]byte{}
	data, err := cborEncMode.Marshal(&unsealed)
	if err != nil {
		return [32]byte{}, fmt.Errorf("bundle: marshal: %w", err)
	}
	return sha256.Sum256(data), nil
}

// Marshal seals b and serializes it to canonical CBOR.
func Marshal(b *Bundle) ([]byte, error) {
	if b.Version == 0 {
		b.Version = Version
	}
	if err := b.Seal(); err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(b)
}

// Unmarshal deserializes a bundle and checks its version and digest.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("bundle: unsupported version %d", b.Version)
	}
	want, err := b.digest()
	if err != nil {
		return nil, err
	}
	if want != b.Digest {
		return nil, fmt.Errorf("bundle: digest mismatch: declared %x, computed %x", b.Digest, want)
	}
	return &b, nil
}

// ReadFile loads a bundle from path.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	b, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// WriteFile seals b and writes it to path.
func WriteFile(path string, b *Bundle) error {
	data, err := Marshal(b)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	return nil
}
