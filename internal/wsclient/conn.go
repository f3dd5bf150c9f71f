package wsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sheerbytes/wsdrop/internal/progress"
	"github.com/sheerbytes/wsdrop/pkg/protocol"
)

// ErrRejected is returned when the server answers a command with a non-success status.
var ErrRejected = errors.New("server rejected request")

// Conn is a websocket connection to a wsdrop server. Commands are sent and
// answered one at a time; Conn is not safe for concurrent use apart from Close.
type Conn struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Dial establishes a websocket connection, offering subprotocols in order of preference.
func Dial(ctx context.Context, wsURL string, subprotocols []string, logger *slog.Logger) (*Conn, error) {
	d := dialer
	d.Subprotocols = subprotocols

	conn, resp, err := d.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{conn: conn, logger: logger}, nil
}

// Subprotocol returns the sub-protocol the server selected, or "".
func (c *Conn) Subprotocol() string {
	return c.conn.Subprotocol()
}

// SendText writes one text message.
func (c *Conn) SendText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

// SendBinary writes one binary message.
func (c *Conn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return c.conn.WriteMessage(msgType, data)
}

// ReadAck waits for the next text reply. Binary messages are skipped.
func (c *Conn) ReadAck(ctx context.Context) (protocol.Ack, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.Ack{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return protocol.ParseAck(string(data))
	}
}

// Do sends cmd and returns the server's reply.
func (c *Conn) Do(ctx context.Context, cmd protocol.Command) (protocol.Ack, error) {
	if err := c.SendText(cmd.String()); err != nil {
		return protocol.Ack{}, fmt.Errorf("send command: %w", err)
	}
	return c.ReadAck(ctx)
}

// SendMessage sends a text message and returns the server's echo.
func (c *Conn) SendMessage(ctx context.Context, text string) (string, error) {
	ack, err := c.Do(ctx, protocol.NewCommand(protocol.CodeSendMessage, text))
	if err != nil {
		return "", err
	}
	return ack.Status, nil
}

// SendFile transfers data as name in a single binary message.
func (c *Conn) SendFile(ctx context.Context, name string, data []byte) error {
	if err := c.expectOK(ctx, protocol.NewCommand(protocol.CodeReceiveFile, name)); err != nil {
		return err
	}
	if err := c.SendBinary(data); err != nil {
		return fmt.Errorf("send file data: %w", err)
	}
	ack, err := c.ReadAck(ctx)
	if err != nil {
		return fmt.Errorf("wait for transfer ack: %w", err)
	}
	if !ack.OK() {
		return fmt.Errorf("%w: %s", ErrRejected, ack)
	}
	c.logger.Debug("file sent", "file", name, "size", progress.FormatBytes(int64(len(data))))
	return nil
}

// SendFileChunked streams r as name in chunks of chunkSize bytes.
func (c *Conn) SendFileChunked(ctx context.Context, name string, r io.Reader, chunkSize int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if err := c.expectOK(ctx, protocol.NewCommand(protocol.CodeReceiveChunked, name)); err != nil {
		return err
	}

	// Reading one chunk ahead tells us which chunk is the last one.
	cur := make([]byte, chunkSize)
	next := make([]byte, chunkSize)
	frame := make([]byte, 0, protocol.ChunkHeaderSize+chunkSize)
	meter := progress.NewMeter(0)

	n, err := io.ReadFull(r, cur)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("read %s: %w", name, err)
	}
	for seq := uint64(0); ; seq++ {
		final := err != nil
		m := 0
		if !final {
			m, err = io.ReadFull(r, next)
			switch {
			case err == io.EOF:
				final = true
			case err != nil && err != io.ErrUnexpectedEOF:
				return fmt.Errorf("read %s: %w", name, err)
			}
		}

		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		frame = protocol.EncodeChunk(frame[:0], protocol.Chunk{Seq: seq, Final: final, Payload: cur[:n]})
		if werr := c.SendBinary(frame); werr != nil {
			return fmt.Errorf("send chunk %d: %w", seq, werr)
		}
		meter.Add(n)
		if final {
			break
		}
		cur, next = next, cur
		n = m
	}

	ack, err := c.ReadAck(ctx)
	if err != nil {
		return fmt.Errorf("wait for transfer ack: %w", err)
	}
	if !ack.OK() {
		return fmt.Errorf("%w: %s", ErrRejected, ack)
	}
	stats := meter.Snapshot()
	c.logger.Debug("chunked file sent", "file", name,
		"size", progress.FormatBytes(stats.Bytes),
		"elapsed", stats.Elapsed.Round(time.Millisecond),
		"rate", progress.FormatRate(stats.RateBps))
	return nil
}

func (c *Conn) expectOK(ctx context.Context, cmd protocol.Command) error {
	ack, err := c.Do(ctx, cmd)
	if err != nil {
		return err
	}
	if ack.Code != cmd.Code || !ack.OK() {
		return fmt.Errorf("%w: %s", ErrRejected, ack)
	}
	return nil
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
