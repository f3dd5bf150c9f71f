package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedCommand is returned for text that does not match "<code>;<payload>".
var ErrMalformedCommand = errors.New("malformed command")

// Kind identifies which command a text message carries.
type Kind int

const (
	KindUndefined Kind = iota
	KindReceiveFile
	KindSendMessage
	KindReceiveChunked
)

func (k Kind) String() string {
	switch k {
	case KindReceiveFile:
		return "receive_file"
	case KindSendMessage:
		return "send_message"
	case KindReceiveChunked:
		return "receive_chunked"
	default:
		return "undefined"
	}
}

// Command is a parsed control message. Values are only produced by ParseCommand.
type Command struct {
	Kind    Kind
	Code    int    // code as sent by the peer, kept for logging undefined commands
	Payload string // everything after the first delimiter, untouched
}

// ParseCommand parses "<code>;<payload>". Only the first delimiter splits, so the
// payload may contain further delimiters. The code must be a non-negative integer;
// whitespace around it is ignored. Unknown codes yield KindUndefined, not an error.
func ParseCommand(text string) (Command, error) {
	rawCode, payload, found := strings.Cut(text, Delimiter)
	if !found {
		return Command{}, fmt.Errorf("%w: missing %q delimiter", ErrMalformedCommand, Delimiter)
	}
	code, err := strconv.Atoi(strings.TrimSpace(rawCode))
	if err != nil {
		return Command{}, fmt.Errorf("%w: invalid code %q", ErrMalformedCommand, rawCode)
	}
	if code < 0 {
		return Command{}, fmt.Errorf("%w: negative code %d", ErrMalformedCommand, code)
	}

	return Command{Kind: kindOf(code), Code: code, Payload: payload}, nil
}

func kindOf(code int) Kind {
	switch code {
	case CodeReceiveFile:
		return KindReceiveFile
	case CodeSendMessage:
		return KindSendMessage
	case CodeReceiveChunked:
		return KindReceiveChunked
	default:
		return KindUndefined
	}
}

// String renders the command back into wire form.
func (c Command) String() string {
	return strconv.Itoa(c.Code) + Delimiter + c.Payload
}

// NewCommand builds a command for sending; used by clients.
func NewCommand(code int, payload string) Command {
	return Command{Kind: kindOf(code), Code: code, Payload: payload}
}

// Ack is a reply of the form "<code>;<status-or-text>".
type Ack struct {
	Code   int
	Status string
}

func (a Ack) String() string {
	return strconv.Itoa(a.Code) + Delimiter + a.Status
}

// OK reports whether the ack carries the success status.
func (a Ack) OK() bool {
	return a.Status == StatusOK
}

// UndefinedAck is the reply to any unknown command code.
var UndefinedAck = Ack{Code: CodeUndefined, Status: StatusUndefined}

// ParseAck parses a reply sent by the server.
func ParseAck(text string) (Ack, error) {
	rawCode, status, found := strings.Cut(text, Delimiter)
	if !found {
		return Ack{}, fmt.Errorf("%w: missing %q delimiter", ErrMalformedCommand, Delimiter)
	}
	code, err := strconv.Atoi(strings.TrimSpace(rawCode))
	if err != nil {
		return Ack{}, fmt.Errorf("%w: invalid code %q", ErrMalformedCommand, rawCode)
	}
	return Ack{Code: code, Status: status}, nil
}
