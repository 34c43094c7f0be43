// Package frame models the STOMP 1.2 wire frame: command, headers, body.
package frame

import "strings"

// Recognized STOMP commands, lowercased. IsValidCommand accepts exactly this
// set. The protocol engine dispatches only the client-to-server commands
// among them; anything else, including a server-to-client command sent by a
// client, is a protocol error.
const (
	CONNECT     = "connect"
	STOMP       = "stomp"
	CONNECTED   = "connected"
	SEND        = "send"
	MESSAGE     = "message"
	SUBSCRIBE   = "subscribe"
	UNSUBSCRIBE = "unsubscribe"
	BEGIN       = "begin"
	COMMIT      = "commit"
	ABORT       = "abort"
	ACK         = "ack"
	NACK        = "nack"
	DISCONNECT  = "disconnect"
	ERROR       = "error"
	RECEIPT     = "receipt"
)

// Well-known header names.
const (
	HeaderDestination  = "destination"
	HeaderAcceptVer    = "accept-version"
	HeaderToken        = "token"
	HeaderSession      = "session"
	HeaderVersion      = "version"
	HeaderReceipt      = "receipt"
	HeaderReceiptID    = "receipt-id"
	HeaderMessageID    = "message-id"
	HeaderSubscription = "subscription"
	HeaderID           = "id"
	HeaderMessage      = "message"
	HeaderContentLen   = "content-length"
	HeaderContentType  = "content-type"
	HeaderTransaction  = "transaction"
)

const TextPlain = "text/plain"

// SupportedVersion is the only STOMP protocol version this broker negotiates.
const SupportedVersion = "1.2"

var validCommands = map[string]struct{}{
	CONNECT: {}, STOMP: {}, CONNECTED: {}, SEND: {}, MESSAGE: {},
	SUBSCRIBE: {}, UNSUBSCRIBE: {}, BEGIN: {}, COMMIT: {}, ABORT: {},
	ACK: {}, NACK: {}, DISCONNECT: {}, ERROR: {}, RECEIPT: {},
}

// IsValidCommand reports whether cmd (already lowercased) is one of the
// commands this broker recognizes at the dispatch layer.
func IsValidCommand(cmd string) bool {
	_, ok := validCommands[cmd]
	return ok
}

// Header is a single name/value pair, in wire order.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered collection of headers. Lookups return the first
// occurrence of a name, per STOMP 1.2's duplicate-header rule.
type Headers []Header

// Get returns the first value for name, if present.
func (h Headers) Get(name string) (string, bool) {
	for _, hdr := range h {
		if hdr.Name == name {
			return hdr.Value, true
		}
	}
	return "", false
}

// Add appends a header, preserving wire order. It does not deduplicate;
// callers that need first-wins semantics should check Get first (this is
// what the parser does).
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Set overwrites the first existing occurrence of name, or appends a new
// header if name is not present. Used when the engine or a manager stamps
// a computed header (message-id, subscription, session, ...).
func (h *Headers) Set(name, value string) {
	for i := range *h {
		if (*h)[i].Name == name {
			(*h)[i].Value = value
			return
		}
	}
	h.Add(name, value)
}

// SetDefault sets name to value only if it is not already present.
func (h *Headers) SetDefault(name, value string) {
	if _, ok := h.Get(name); !ok {
		h.Add(name, value)
	}
}

// Frame is one STOMP protocol message.
type Frame struct {
	Command string
	Headers Headers
	Body    []byte
}

// New constructs a frame with a lowercased command and no headers/body.
func New(command string) *Frame {
	return &Frame{Command: strings.ToLower(command)}
}

// Header returns the first value of name on this frame, if present.
func (f *Frame) Header(name string) (string, bool) {
	return f.Headers.Get(name)
}

// Equal reports structural equality: same command, same headers in the
// same order, same body.
func (f *Frame) Equal(other *Frame) bool {
	if other == nil {
		return false
	}
	if f.Command != other.Command {
		return false
	}
	if len(f.Headers) != len(other.Headers) {
		return false
	}
	for i := range f.Headers {
		if f.Headers[i] != other.Headers[i] {
			return false
		}
	}
	return string(f.Body) == string(other.Body)
}

// NewError builds an ERROR frame carrying message both as a header and
// (when body is nil) as the body, with content-length stamped on Marshal.
func NewError(message string, body []byte) *Frame {
	f := New(ERROR)
	f.Headers.Set(HeaderMessage, message)
	if body == nil {
		body = []byte(message)
	}
	f.Body = body
	return f
}

// NewReceipt builds a RECEIPT frame echoing the given receipt id.
func NewReceipt(receiptID string) *Frame {
	f := New(RECEIPT)
	f.Headers.Set(HeaderReceiptID, receiptID)
	return f
}

// NewConnected builds a CONNECTED frame for the given opaque session id.
func NewConnected(sessionID string) *Frame {
	f := New(CONNECTED)
	f.Headers.Set(HeaderSession, sessionID)
	f.Headers.Set(HeaderVersion, SupportedVersion)
	return f
}
