package server

import (
	"errors"
	"fmt"

	"github.com/sheerbytes/wsdrop/internal/storage"
	"github.com/sheerbytes/wsdrop/pkg/protocol"
)

// sink handles a binary message of n bytes sitting in the receive buffer.
// A returned error is a storage fault and ends the connection.
func (s *Server) sink(c *connection, n int) error {
	data := c.buf[:n]
	if c.chunked != nil {
		return s.sinkChunk(c, data)
	}
	if c.pending == "" {
		c.logger.Debug("binary message without pending file, discarding", "bytes", n)
		return nil
	}

	name := c.pending
	c.pending = ""
	written, err := s.store.SaveNew(name, data)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	if written {
		c.logger.Info("file saved", "file", name, "bytes", n)
	} else {
		c.logger.Info("file already exists, skipping", "file", name)
	}
	return c.reply(protocol.Ack{Code: protocol.CodeReceiveFile, Status: protocol.StatusOK})
}

// sinkChunk appends one chunk to the in-flight chunked transfer and commits it
// on the final chunk. Protocol violations abort the transfer and are reported
// to the peer; the connection stays open.
func (s *Server) sinkChunk(c *connection, frame []byte) error {
	chunk, err := protocol.DecodeChunk(frame)
	if err == nil {
		err = c.chunked.Append(chunk.Seq, chunk.Payload)
	}
	if err != nil {
		name := c.chunked.Name()
		c.abortChunked(err.Error())
		if isChunkViolation(err) {
			return c.reply(protocol.Ack{Code: protocol.CodeReceiveChunked, Status: err.Error()})
		}
		return fmt.Errorf("chunked transfer of %s: %w", name, err)
	}
	if !chunk.Final {
		return nil
	}

	p := c.chunked
	c.chunked = nil
	written, err := p.Commit()
	if err != nil {
		return fmt.Errorf("commit %s: %w", p.Name(), err)
	}
	if written {
		c.logger.Info("file saved", "file", p.Name(), "bytes", p.Size(), "chunks", chunk.Seq+1)
	} else {
		c.logger.Info("file already exists, skipping", "file", p.Name())
	}
	return c.reply(protocol.Ack{Code: protocol.CodeReceiveChunked, Status: protocol.StatusOK})
}

func isChunkViolation(err error) bool {
	return errors.Is(err, protocol.ErrShortChunk) ||
		errors.Is(err, protocol.ErrChunkChecksum) ||
		errors.Is(err, storage.ErrSequence) ||
		errors.Is(err, storage.ErrTooLarge)
}
