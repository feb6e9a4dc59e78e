package element

import (
	"context"
	"io"
)

// Scanner drives ExtractNext against an io.Reader in bounded chunks. The
// internal buffer only ever holds at most one incomplete element plus the
// next chunk, which is what bounds memory on very large documents.
type Scanner struct {
	r         io.Reader
	buf       []byte
	chunk     []byte
	bytesRead int64
	eof       bool
}

// NewScanner creates a scanner reading chunkSize bytes per iteration.
func NewScanner(r io.Reader, chunkSize int) *Scanner {
	if chunkSize <= 0 {
		chunkSize = 256 * 1024
	}
	return &Scanner{
		r:     r,
		chunk: make([]byte, chunkSize),
	}
}

// BytesRead returns the number of raw bytes consumed so far.
func (s *Scanner) BytesRead() int64 {
	return s.bytesRead
}

// Next returns the next element from the stream, or io.EOF when the stream is
// exhausted. Cancellation is observed before every chunk read.
func (s *Scanner) Next(ctx context.Context) (Element, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Element{}, err
		}

		if elem, rest, ok := ExtractNext(s.buf); ok {
			// Copy the remainder so the consumed prefix can be collected.
			s.buf = append(s.buf[:0:0], rest...)
			return elem, nil
		}

		if s.eof {
			return Element{}, io.EOF
		}

		n, err := s.r.Read(s.chunk)
		if n > 0 {
			s.bytesRead += int64(n)
			s.buf = append(s.buf, s.chunk[:n]...)
		}
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return Element{}, err
		}
	}
}
