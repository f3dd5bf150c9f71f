package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// ChunkHeaderSize is the fixed header in front of every chunked-transfer frame:
// seq (uint64 BE), flags (uint8), crc32 of the payload (uint32 BE).
const ChunkHeaderSize = 8 + 1 + 4

const chunkFlagFinal = 0x01

var (
	// ErrShortChunk indicates a binary frame too short to hold a chunk header.
	ErrShortChunk = errors.New("chunk shorter than header")
	// ErrChunkChecksum indicates the payload does not match the header CRC32.
	ErrChunkChecksum = errors.New("chunk checksum mismatch")
)

// Chunk is one frame of a chunked file transfer. Payload aliases the frame it
// was decoded from.
type Chunk struct {
	Seq     uint64
	Final   bool
	Payload []byte
}

// EncodeChunk appends the wire form of c to dst.
func EncodeChunk(dst []byte, c Chunk) []byte {
	var hdr [ChunkHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], c.Seq)
	if c.Final {
		hdr[8] = chunkFlagFinal
	}
	binary.BigEndian.PutUint32(hdr[9:13], crc32.ChecksumIEEE(c.Payload))
	dst = append(dst, hdr[:]...)
	return append(dst, c.Payload...)
}

// DecodeChunk parses a chunk frame and verifies its checksum.
func DecodeChunk(frame []byte) (Chunk, error) {
	if len(frame) < ChunkHeaderSize {
		return Chunk{}, fmt.Errorf("%w: %d bytes", ErrShortChunk, len(frame))
	}
	c := Chunk{
		Seq:     binary.BigEndian.Uint64(frame[0:8]),
		Final:   frame[8]&chunkFlagFinal != 0,
		Payload: frame[ChunkHeaderSize:],
	}
	want := binary.BigEndian.Uint32(frame[9:13])
	if got := crc32.ChecksumIEEE(c.Payload); got != want {
		return Chunk{}, fmt.Errorf("%w: seq %d: got %08x, want %08x", ErrChunkChecksum, c.Seq, got, want)
	}
	return c, nil
}
