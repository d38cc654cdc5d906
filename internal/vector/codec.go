package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCodec is returned when an embedding blob cannot be decoded.
var ErrCodec = errors.New("vector: invalid embedding blob")

// Blob layout: magic (4) | dimension uint32 LE (4) | dimension * float32 LE.
var blobMagic = [4]byte{'S', 'H', 'V', '1'}

const headerSize = 8

// Encode serializes vec into the persisted embedding format. Empty vectors are
// rejected: an asset either has a complete embedding or none at all.
func Encode(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrCodec)
	}
	if uint64(len(vec)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: dimension %d too large", ErrCodec, len(vec))
	}
	b := make([]byte, headerSize+len(vec)*4)
	copy(b[:4], blobMagic[:])
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[headerSize+i*4:], math.Float32bits(v))
	}
	return b, nil
}

// Decode is the inverse of Encode. Values are restored bit for bit.
func Decode(b []byte) ([]float32, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: blob length %d shorter than header", ErrCodec, len(b))
	}
	if [4]byte(b[:4]) != blobMagic {
		return nil, fmt.Errorf("%w: unknown format %q", ErrCodec, b[:4])
	}
	dim := binary.LittleEndian.Uint32(b[4:8])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCodec)
	}
	if want := uint64(headerSize) + uint64(dim)*4; uint64(len(b)) != want {
		return nil, fmt.Errorf("%w: blob length %d, want %d for dimension %d", ErrCodec, len(b), want, dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[headerSize+i*4:]))
	}
	return vec, nil
}
