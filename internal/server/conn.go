package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sheerbytes/wsdrop/internal/session"
	"github.com/sheerbytes/wsdrop/internal/storage"
	"github.com/sheerbytes/wsdrop/pkg/protocol"
)

// connection is the state of one upgraded websocket. pending, chunked and buf
// are owned by the dispatch goroutine and never shared with other connections.
type connection struct {
	ws     *websocket.Conn
	info   session.Session
	logger *slog.Logger
	buf    []byte

	// pending is the file the next binary message is written to.
	pending string
	// chunked is the in-flight chunked transfer, if any.
	chunked *storage.PartialFile
	// touch extends the idle deadline; nil when no idle timeout is set.
	touch func()

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, info session.Session, buf []byte, logger *slog.Logger) *connection {
	return &connection{
		ws:     ws,
		info:   info,
		logger: logger,
		buf:    buf,
	}
}

// reply sends an acknowledgement as a text message.
func (c *connection) reply(ack protocol.Ack) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(ack.String())); err != nil {
		return fmt.Errorf("send %q: %w", ack.String(), err)
	}
	return nil
}

// closeWithReason sends a close frame and waits briefly for the peer's close so
// the frame is not lost to a connection reset. Unread data is discarded.
func (c *connection) closeWithReason(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("send close frame", "error", err)
		return
	}
	c.ws.SetReadDeadline(time.Now().Add(closeGrace))
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("close websocket", "error", err)
		}
	})
}

// enableIdleTimeout closes the connection after d without inbound traffic.
// Messages, pings and pongs all count as traffic.
func (c *connection) enableIdleTimeout(d time.Duration) {
	extend := func() {
		c.ws.SetReadDeadline(time.Now().Add(d))
	}
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	c.ws.SetPingHandler(func(appData string) error {
		extend()
		err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	c.touch = extend
}

// keepAlive pings the peer every interval until ctx is done or a ping fails.
func (c *connection) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

// abortChunked discards any in-flight chunked transfer.
func (c *connection) abortChunked(reason string) {
	if c.chunked == nil {
		return
	}
	c.logger.Info("chunked transfer aborted", "file", c.chunked.Name(), "received_bytes", c.chunked.Size(), "reason", reason)
	c.chunked.Abort()
	c.chunked = nil
}
