// Package transfer implements the bulk copy side channel between storage
// nodes: a TCP stream of checksummed entry frames ended by an empty frame,
// optionally zstd compressed, answered by an empty acknowledgement frame.
package transfer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/storage-node/internal/errors"
	"github.com/devrev/pairdb/storage-node/internal/model"
	"github.com/devrev/pairdb/storage-node/internal/util"
)

const (
	magic byte = 'P'

	// header flags
	flagCompressed byte = 1 << 0

	// entry flags
	flagTombstone byte = 1 << 0

	// MaxFrameSize bounds a single encoded entry
	MaxFrameSize = 64 << 20
)

func writeHeader(w io.Writer, compressed bool) error {
	var flags byte
	if compressed {
		flags |= flagCompressed
	}
	_, err := w.Write([]byte{magic, flags})
	return err
}

func readHeader(r io.Reader) (compressed bool, err error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return false, err
	}
	if hdr[0] != magic {
		return false, errors.CorruptedData(fmt.Sprintf("bad transfer magic %#x", hdr[0]), nil)
	}
	return hdr[1]&flagCompressed != 0, nil
}

// encodeEntry appends the length-prefixed frame for e to buf
func encodeEntry(buf []byte, e model.Entry) []byte {
	body := make([]byte, 0, len(e.Key)+len(e.Value)+2*binary.MaxVarintLen64+9+util.ChecksumSize)
	body = binary.AppendUvarint(body, uint64(len(e.Key)))
	body = append(body, e.Key...)
	body = binary.AppendUvarint(body, uint64(len(e.Value)))
	body = append(body, e.Value...)
	body = binary.BigEndian.AppendUint64(body, uint64(e.Timestamp))
	var flags byte
	if e.Tombstone {
		flags |= flagTombstone
	}
	body = append(body, flags)
	body = util.AppendChecksum(body)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

func writeTerminator(w io.Writer) error {
	_, err := w.Write([]byte{0, 0, 0, 0})
	return err
}

// frameReader decodes frames from a stream, reusing its read buffer
type frameReader struct {
	r   io.Reader
	buf []byte
}

// next reads one frame. It returns ok=false on the terminator.
func (fr *frameReader) next() (e model.Entry, size int, ok bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return model.Entry{}, 0, false, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return model.Entry{}, 0, false, nil
	}
	if n > MaxFrameSize {
		return model.Entry{}, 0, false, errors.CorruptedData(fmt.Sprintf("frame of %d bytes exceeds limit", n), nil)
	}

	if cap(fr.buf) < int(n) {
		fr.buf = make([]byte, n)
	}
	frame := fr.buf[:n]
	if _, err := io.ReadFull(fr.r, frame); err != nil {
		return model.Entry{}, 0, false, err
	}

	body, expected, actual, valid := util.ValidateAndStripChecksum(frame)
	if !valid {
		return model.Entry{}, 0, false, errors.ChecksumFailed(expected, actual)
	}
	e, err = decodeEntry(body)
	if err != nil {
		return model.Entry{}, 0, false, err
	}
	return e, int(n), true, nil
}

func decodeEntry(body []byte) (model.Entry, error) {
	var e model.Entry

	keyLen, k := binary.Uvarint(body)
	if k <= 0 || uint64(len(body)-k) < keyLen {
		return e, errors.CorruptedData("truncated key", nil)
	}
	body = body[k:]
	e.Key = string(body[:keyLen])
	body = body[keyLen:]

	valueLen, k := binary.Uvarint(body)
	if k <= 0 || uint64(len(body)-k) < valueLen {
		return e, errors.CorruptedData("truncated value", nil)
	}
	body = body[k:]
	if valueLen > 0 {
		e.Value = append([]byte(nil), body[:valueLen]...)
	}
	body = body[valueLen:]

	if len(body) != 9 {
		return e, errors.CorruptedData("bad frame trailer", nil)
	}
	e.Timestamp = clock.Timestamp(binary.BigEndian.Uint64(body))
	e.Tombstone = body[8]&flagTombstone != 0
	return e, nil
}
