// Package wire provides CRLF line framing and reply formatting for the
// sensorlog protocol.
//
// Every request and reply is one line of text terminated by CR LF. A bare
// LF inside a line is data, not a terminator.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
)

// Terminator ends every frame.
const Terminator = "\r\n"

// Reader reads CRLF-terminated frames from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r   *bufio.Reader
	max int
	buf []byte
	mu  sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
// maxFrame limits the frame body length; zero or less uses the default.
func NewReader(r io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = config.DefaultMaxFrameSize
	}
	return &Reader{r: bufio.NewReader(r), max: maxFrame}
}

// ReadFrame reads the next frame and returns it without the terminator.
//
// It returns io.EOF when the stream ends cleanly between frames,
// io.ErrUnexpectedEOF when it ends inside a frame, and ErrFrameTooLarge
// when the body would exceed the limit. After ErrFrameTooLarge the stream
// position is undefined and the connection must be closed.
func (r *Reader) ReadFrame() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = r.buf[:0]
	for {
		chunk, err := r.r.ReadSlice('\n')
		r.buf = append(r.buf, chunk...)

		n := len(r.buf)
		if err == nil && n >= 2 && r.buf[n-2] == '\r' {
			if n-2 > r.max {
				return "", fmt.Errorf("%d bytes, limit %d: %w", n-2, r.max, errors.ErrFrameTooLarge)
			}
			return string(r.buf[:n-2]), nil
		}

		// Unterminated and already past the limit plus a possible CR.
		if n > r.max+1 {
			return "", fmt.Errorf("over %d bytes: %w", r.max, errors.ErrFrameTooLarge)
		}

		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if n == 0 {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		default:
			return "", fmt.Errorf("read frame: %w", err)
		}
	}
}

// Writer writes CRLF-terminated frames to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w   io.Writer
	buf []byte
	mu  sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes body followed by the terminator in a single write.
func (w *Writer) WriteFrame(body string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf[:0], body...)
	w.buf = append(w.buf, Terminator...)
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter, maxFrame int) *Conn {
	return &Conn{
		Reader: NewReader(rw, maxFrame),
		Writer: NewWriter(rw),
	}
}
