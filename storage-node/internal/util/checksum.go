package util

import (
	"encoding/binary"
	"hash/crc32"
)

// ChecksumSize is the number of bytes AppendChecksum adds
const ChecksumSize = 4

var crc32Table = crc32.MakeTable(crc32.IEEE)

// ComputeChecksum computes a CRC32 (IEEE) checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// AppendChecksum appends the little-endian checksum of data to data.
// Format: [data][checksum (4 bytes)]
func AppendChecksum(data []byte) []byte {
	return binary.LittleEndian.AppendUint32(data, ComputeChecksum(data))
}

// ValidateAndStripChecksum splits off the trailing checksum and reports
// whether it matches. It returns the expected and actual checksums for
// error reporting.
func ValidateAndStripChecksum(dataWithChecksum []byte) (data []byte, expected, actual uint32, ok bool) {
	if len(dataWithChecksum) < ChecksumSize {
		return nil, 0, 0, false
	}

	n := len(dataWithChecksum) - ChecksumSize
	data = dataWithChecksum[:n]
	expected = binary.LittleEndian.Uint32(dataWithChecksum[n:])
	actual = ComputeChecksum(data)
	return data, expected, actual, expected == actual
}
