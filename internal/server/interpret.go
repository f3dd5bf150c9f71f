package server

import (
	"context"

	"github.com/sheerbytes/wsdrop/internal/storage"
	"github.com/sheerbytes/wsdrop/pkg/protocol"
)

// interpret executes one text command. Text that is not a command envelope is
// logged and left unanswered; the returned error is only for failed replies.
func (s *Server) interpret(ctx context.Context, c *connection, text string) error {
	cmd, err := protocol.ParseCommand(text)
	if err != nil {
		c.logger.Error("cannot parse command", "error", err, "text", truncate(text, 64))
		return nil
	}
	c.logger.Info("command received", "command", cmd.Kind.String(), "code", cmd.Code)

	switch cmd.Kind {
	case protocol.KindReceiveFile:
		return s.receiveFile(c, cmd.Payload)
	case protocol.KindSendMessage:
		return s.sendMessage(ctx, c, cmd.Payload)
	case protocol.KindReceiveChunked:
		if !s.opts.Chunked {
			return c.reply(protocol.UndefinedAck)
		}
		return s.receiveChunked(c, cmd.Payload)
	default:
		return c.reply(protocol.UndefinedAck)
	}
}

// receiveFile remembers the target of the next binary message.
func (s *Server) receiveFile(c *connection, payload string) error {
	c.abortChunked("replaced by receive-file command")

	name, err := storage.SanitizeName(payload)
	if err != nil {
		c.pending = ""
		c.logger.Warn("rejecting filename", "error", err)
		return c.reply(protocol.Ack{Code: protocol.CodeReceiveFile, Status: protocol.StatusInvalidFilename})
	}
	c.pending = name
	c.logger.Info("awaiting file", "file", name)
	return c.reply(protocol.Ack{Code: protocol.CodeReceiveFile, Status: protocol.StatusOK})
}

// sendMessage acknowledges a text message by echoing it back.
func (s *Server) sendMessage(ctx context.Context, c *connection, payload string) error {
	c.logger.Info("message received", "text", truncate(payload, 256))
	if s.opts.OnMessage != nil {
		s.opts.OnMessage(ctx, c.info, payload)
	}
	return c.reply(protocol.Ack{Code: protocol.CodeSendMessage, Status: payload})
}

// receiveChunked starts a multi-message transfer; see sinkChunk.
func (s *Server) receiveChunked(c *connection, payload string) error {
	c.abortChunked("replaced by new chunked transfer")
	c.pending = ""

	name, err := storage.SanitizeName(payload)
	if err != nil {
		c.logger.Warn("rejecting filename", "error", err)
		return c.reply(protocol.Ack{Code: protocol.CodeReceiveChunked, Status: protocol.StatusInvalidFilename})
	}
	p, err := s.store.Begin(name, s.opts.MaxFileBytes)
	if err != nil {
		c.logger.Warn("cannot start chunked transfer", "file", name, "error", err)
		return c.reply(protocol.Ack{Code: protocol.CodeReceiveChunked, Status: err.Error()})
	}
	c.chunked = p
	c.logger.Info("awaiting chunked file", "file", name)
	return c.reply(protocol.Ack{Code: protocol.CodeReceiveChunked, Status: protocol.StatusOK})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
