package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// MetadataChecksum is the metadata key holding the hex SHA-256 of the
// data section. WriteSafeTensors always sets it.
const MetadataChecksum = "data_sha256"

// ErrChecksumMismatch is returned when the data section does not match
// the checksum recorded in the header.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ComputeChecksumReader computes the SHA-256 of everything r yields.
func ComputeChecksumReader(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// VerifyChecksum hashes the data section and compares it with the
// checksum in the metadata. ok is false when the file carries none.
func (r *SafeTensorsReader) VerifyChecksum() (ok bool, err error) {
	stored, found := r.header.Metadata[MetadataChecksum]
	if !found {
		return false, nil
	}
	want, err := hex.DecodeString(stored)
	if err != nil || len(want) != sha256.Size {
		return true, fmt.Errorf("malformed %s %q", MetadataChecksum, stored)
	}

	got, err := ComputeChecksumReader(io.NewSectionReader(r.file, r.dataOffset, r.dataSize))
	if err != nil {
		return true, fmt.Errorf("hash data: %w", err)
	}
	if string(got[:]) != string(want) {
		return true, fmt.Errorf("%w: header %s, data %x", ErrChecksumMismatch, stored, got)
	}
	return true, nil
}
