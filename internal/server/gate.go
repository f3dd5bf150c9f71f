package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sheerbytes/wsdrop/internal/session"
)

// SubprotocolSet is the unordered set of sub-protocol names a server accepts.
// Matching is exact and case-sensitive.
type SubprotocolSet map[string]struct{}

// NewSubprotocolSet builds a set from names.
func NewSubprotocolSet(names ...string) SubprotocolSet {
	set := make(SubprotocolSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Negotiate returns the first name in requested, in client order, that is in
// the set. It returns "" when nothing matches; negotiation never fails.
func (s SubprotocolSet) Negotiate(requested []string) string {
	for _, name := range requested {
		if _, ok := s[name]; ok {
			return name
		}
	}
	return ""
}

// Names returns the accepted names in sorted order.
func (s SubprotocolSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// handleUpgrade negotiates the sub-protocol, completes the websocket handshake
// and runs the connection until it ends.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	requested := websocket.Subprotocols(r)
	subprotocol := s.supported.Negotiate(requested)
	switch {
	case subprotocol != "":
		logger.Info("requested sub-protocol is supported", "subprotocol", subprotocol)
	case len(requested) > 0:
		logger.Warn("no supported sub-protocol requested, continuing without one",
			"requested", requested, "supported", s.supported.Names())
	}

	var header http.Header
	if subprotocol != "" {
		header = http.Header{}
		header.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already answered the client with an HTTP error.
		logger.Warn("websocket handshake failed", "error", err)
		return
	}
	logger.Info("websocket handshake complete", "subprotocol", ws.Subprotocol())

	// The connection's cancellation scope: canceled when this handler returns,
	// which closes the socket and unblocks any pending receive.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	info := session.Session{
		ID:          connID(r.Context()),
		RemoteAddr:  r.RemoteAddr,
		Subprotocol: ws.Subprotocol(),
		ConnectedAt: time.Now(),
	}
	removeSession := s.sessions.Add(info)
	defer removeSession()

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	c := newConnection(ws, info, buf, logger)
	defer c.close()

	go func() {
		<-ctx.Done()
		c.close()
	}()
	if s.opts.IdleTimeout > 0 {
		c.enableIdleTimeout(s.opts.IdleTimeout)
	}
	if s.opts.KeepAlive > 0 {
		go c.keepAlive(ctx, s.opts.KeepAlive)
	}

	s.dispatch(ctx, c)
	logger.Info("connection closed")
}
