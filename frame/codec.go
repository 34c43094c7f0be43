package frame

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// Decoder parses a stream of bytes into a lazy sequence of Frames. It owns
// no socket-level concerns (timeouts, TLS, buffering strategy) beyond the
// bufio.Reader it is handed — those belong to the transport, out of scope
// for this package.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r for frame-at-a-time decoding.
func NewDecoder(r io.Reader) *Decoder {
	if br, ok := r.(*bufio.Reader); ok {
		return &Decoder{r: br}
	}
	return &Decoder{r: bufio.NewReader(r)}
}

// Next reads and parses exactly one frame from the stream.
func (d *Decoder) Next() (*Frame, error) {
	return parseFrame(d.r)
}

// Encoder serializes Frames onto a stream.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for frame-at-a-time encoding.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame to the stream.
func (e *Encoder) Encode(f *Frame) error {
	_, err := e.w.Write(f.Marshal())
	return err
}

// Parse parses exactly one frame out of a fixed byte buffer. It is a
// convenience wrapper over Decoder for callers that already have a whole
// frame buffered (tests, small fixtures).
func Parse(b []byte) (*Frame, error) {
	return parseFrame(bufio.NewReader(bytes.NewReader(b)))
}

func parseFrame(r *bufio.Reader) (*Frame, error) {
	commandLine, err := readLine(r)
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmptyBuffer
		}
		return nil, err
	}

	command := strings.ToLower(strings.TrimSpace(commandLine))
	if command == "" {
		return nil, ErrEmptyCommand
	}

	f := New(command)

	for {
		line, err := readLine(r)
		if err != nil {
			if err == io.EOF {
				return nil, ErrIncompleteFrame
			}
			return nil, err
		}
		if line == "" {
			break
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			// Malformed header line with no colon; per the STOMP 1.2
			// grammar this cannot be split into name/value, so skip it
			// rather than fail the whole frame.
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// First-wins on duplicate header names (STOMP 1.2 §3.2).
		if _, exists := f.Headers.Get(name); !exists {
			f.Headers.Add(name, value)
		}
	}

	body, err := readBody(r, f.Headers)
	if err != nil {
		return nil, err
	}
	f.Body = body

	return f, nil
}

// readLine reads up to and including a line terminator, tolerating a CR
// before the LF, and returns the line with the terminator stripped.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			// Either no data at all, or a trailing line with no final
			// LF; either way the caller treats this as EOF mid-parse.
			return "", io.EOF
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func readBody(r *bufio.Reader, headers Headers) ([]byte, error) {
	if raw, ok := headers.Get(HeaderContentLen); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, ErrInvalidContentLength
		}

		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, ErrIncompleteFrame
		}

		terminator, err := r.ReadByte()
		if err != nil {
			return nil, ErrIncompleteFrame
		}
		if terminator != 0x00 {
			return nil, ErrBodyNotTerminated
		}
		return body, nil
	}

	body, err := r.ReadBytes(0x00)
	if err != nil {
		if err == io.EOF {
			return nil, ErrIncompleteFrame
		}
		return nil, err
	}
	// Strip the trailing NUL that ReadBytes includes in its result.
	return body[:len(body)-1], nil
}

// Marshal serializes the frame to its wire form: an upper-cased command
// line, each header as "name:value", a blank line, the body, and a
// trailing NUL. content-length is stamped with the body's byte length
// when not already present.
func (f *Frame) Marshal() []byte {
	headers := f.Headers
	if _, ok := headers.Get(HeaderContentLen); !ok {
		headers = append(Headers(nil), headers...)
		headers.Set(HeaderContentLen, strconv.Itoa(len(f.Body)))
	}

	var buf bytes.Buffer
	buf.WriteString(strings.ToUpper(f.Command))
	buf.WriteByte('\n')
	for _, h := range headers {
		buf.WriteString(h.Name)
		buf.WriteByte(':')
		buf.WriteString(h.Value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0x00)
	return buf.Bytes()
}
