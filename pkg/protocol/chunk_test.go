package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestChunk_EncodeDecode(t *testing.T) {
	payload := []byte("%PDF-1.7 chunk body")
	frame := EncodeChunk(nil, Chunk{Seq: 42, Final: true, Payload: payload})
	if len(frame) != ChunkHeaderSize+len(payload) {
		t.Fatalf("frame length = %d, want %d", len(frame), ChunkHeaderSize+len(payload))
	}

	c, err := DecodeChunk(frame)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if c.Seq != 42 {
		t.Errorf("Seq = %d, want 42", c.Seq)
	}
	if !c.Final {
		t.Error("Final = false, want true")
	}
	if !bytes.Equal(c.Payload, payload) {
		t.Errorf("Payload = %q, want %q", c.Payload, payload)
	}
}

func TestChunk_EmptyPayload(t *testing.T) {
	c, err := DecodeChunk(EncodeChunk(nil, Chunk{Seq: 3}))
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if c.Final || len(c.Payload) != 0 || c.Seq != 3 {
		t.Errorf("unexpected chunk %+v", c)
	}
}

func TestChunk_Corrupt(t *testing.T) {
	frame := EncodeChunk(nil, Chunk{Seq: 1, Payload: []byte("abcdef")})
	frame[len(frame)-1] ^= 0xff
	if _, err := DecodeChunk(frame); !errors.Is(err, ErrChunkChecksum) {
		t.Errorf("error = %v, want ErrChunkChecksum", err)
	}
	if _, err := DecodeChunk(frame[:ChunkHeaderSize-1]); !errors.Is(err, ErrShortChunk) {
		t.Errorf("error = %v, want ErrShortChunk", err)
	}
}
