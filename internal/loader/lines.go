package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/sdpower/claude-usage/internal/types"
)

// ErrLineTooLong marks a line longer than MaxLineSize. The line is consumed
// up to its newline so reading can continue with the next one.
var ErrLineTooLong = fmt.Errorf("%w: line exceeds %d bytes", types.ErrInvalidFormat, MaxLineSize)

// LineReader splits a stream into newline-terminated lines. Unlike
// bufio.Scanner it survives an oversized line: that line is reported as
// ErrLineTooLong and the following lines are still returned.
type LineReader struct {
	r   *bufio.Reader
	buf []byte
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next line without its trailing newline. The slice is only
// valid until the following call. It returns io.EOF once the stream is
// exhausted; a final line without a newline is still returned first.
func (lr *LineReader) Next() ([]byte, error) {
	lr.buf = lr.buf[:0]
	var read, tooLong bool

	for {
		chunk, err := lr.r.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		if !tooLong {
			if len(lr.buf)+len(chunk) > MaxLineSize+1 {
				tooLong = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil:
		case errors.Is(err, io.EOF):
			if !read {
				return nil, io.EOF
			}
		default:
			return nil, err
		}

		if tooLong {
			return nil, ErrLineTooLong
		}
		if n := len(lr.buf); n > 0 && lr.buf[n-1] == '\n' {
			lr.buf = lr.buf[:n-1]
		}
		return lr.buf, nil
	}
}
