package vm

import (
	"encoding/gob"
	"fmt"
	"io"
)

// Compiled-bundle format: a 4-byte magic, a format version byte, then the
// gob-encoded instruction stream.
var bundleMagic = [4]byte{'L', 'M', 'B', 0}

const bundleVersion = 1

// WriteBundle serializes a program.
func WriteBundle(w io.Writer, program []Instruction) error {
	if _, err := w.Write(bundleMagic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{bundleVersion}); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(program)
}

// ReadBundle deserializes a program written by WriteBundle.
func ReadBundle(r io.Reader) ([]Instruction, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading bundle header: %w", err)
	}
	if [4]byte(header[:4]) != bundleMagic {
		return nil, fmt.Errorf("not a compiled bundle")
	}
	if header[4] != bundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", header[4])
	}
	var program []Instruction
	if err := gob.NewDecoder(r).Decode(&program); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	return program, nil
}
