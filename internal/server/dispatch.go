package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"

	"github.com/sheerbytes/wsdrop/internal/progress"
)

// errMessageTooBig reports a message that does not fit the receive buffer.
var errMessageTooBig = errors.New("message too big")

// dispatch is the receive loop: one message is read and fully handled before
// the next is received. It returns when the peer closes, a receive fails, a
// message is too big, or handling a message fails.
func (s *Server) dispatch(ctx context.Context, c *connection) {
	defer c.abortChunked("connection ended")

	for {
		msgType, n, err := c.receive()
		if err != nil {
			s.receiveFailed(ctx, c, err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			err = s.interpret(ctx, c, string(c.buf[:n]))
		case websocket.BinaryMessage:
			err = s.sink(c, n)
		}
		if err != nil {
			if isBenign(ctx, err) {
				c.logger.Debug("connection ended while handling message", "error", err)
			} else {
				c.logger.Error("handling message failed", "error", err)
			}
			return
		}
	}
}

// receive reads the next whole message into the connection's buffer. With an
// idle timeout set, the deadline is re-armed before waiting and after every read
// that delivers data, so a slow message that keeps arriving is never cut off.
func (c *connection) receive() (msgType int, n int, err error) {
	if c.touch != nil {
		c.touch()
	}
	msgType, r, err := c.ws.NextReader()
	if err != nil {
		return 0, 0, err
	}
	if c.touch != nil {
		r = &touchReader{r: r, touch: c.touch}
	}
	n, err = readMessage(r, c.buf)
	return msgType, n, err
}

// touchReader calls touch whenever a read returns data.
type touchReader struct {
	r     io.Reader
	touch func()
}

func (t *touchReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.touch()
	}
	return n, err
}

// readMessage reads the message in r into buf. It stops reading as soon as
// the message proves larger than buf, so oversized payloads are never buffered.
func readMessage(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return n, nil
	case err != nil:
		return n, err
	}

	// Buffer is full; the message fits only if nothing is left.
	var probe [1]byte
	m, err := io.ReadFull(r, probe[:])
	switch {
	case m > 0:
		return n, errMessageTooBig
	case err == io.EOF:
		return n, nil
	default:
		return n, err
	}
}

func (s *Server) receiveFailed(ctx context.Context, c *connection, err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.Is(err, errMessageTooBig):
		c.logger.Warn("message exceeds receive buffer, closing connection",
			"max", progress.FormatBytes(int64(len(c.buf))))
		c.closeWithReason(websocket.CloseMessageTooBig,
			fmt.Sprintf("message too big: frame cannot exceed %d bytes", len(c.buf)))
	case errors.As(err, &closeErr):
		if websocket.IsUnexpectedCloseError(err,
			websocket.CloseNormalClosure, websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
			c.logger.Warn("client closed with error", "code", closeErr.Code, "text", closeErr.Text)
			return
		}
		c.logger.Info("client initiated close", "code", closeErr.Code, "text", closeErr.Text)
	case isBenign(ctx, err):
		c.logger.Debug("receive stopped", "error", err)
	case isTimeout(err):
		c.logger.Info("connection idle timeout")
	default:
		c.logger.Warn("receive failed", "error", err)
	}
}

// isBenign reports errors caused by the connection already being torn down.
func isBenign(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, context.Canceled)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
