package protocol

// Command codes carried in the first field of a text message.
const (
	CodeReceiveFile    = 0
	CodeSendMessage    = 1
	CodeReceiveChunked = 2
	CodeUndefined      = 9
)

// Status values carried in the second field of an acknowledgement.
const (
	StatusOK              = "0"
	StatusUndefined       = "undefined command"
	StatusInvalidFilename = "invalid filename"
)

// Delimiter separates the code from the payload in both directions.
const Delimiter = ";"

// DefaultSubprotocol is the sub-protocol name clients ask for during the upgrade.
const DefaultSubprotocol = "tccs"
