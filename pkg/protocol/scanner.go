package protocol

// Scanner splits a byte stream into fixed-size frames.
//
// Bytes that do not start with Prefix are discarded. When a candidate frame
// fails validation only its prefix byte is dropped, so a valid frame starting
// inside a corrupted one is still found.
type Scanner struct {
	size int
	buf  []byte

	// Counters for diagnostics.
	Frames    int // valid frames returned
	Dropped   int // candidate frames rejected by checksum
	Discarded int // bytes skipped while looking for a prefix
}

// NewScanner creates a scanner for frames of the given size.
func NewScanner(size int) *Scanner {
	return &Scanner{
		size: size,
		buf:  make([]byte, 0, size*4),
	}
}

// Write appends stream bytes to the scanner. It never fails.
func (s *Scanner) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Next returns the next valid frame, or false if more bytes are needed.
// The returned slice is only valid until the next call to Write or Next.
func (s *Scanner) Next() ([]byte, bool) {
	for {
		s.skipToPrefix()
		if len(s.buf) < s.size {
			return nil, false
		}

		frame := s.buf[:s.size]
		if frame[s.size-1] != Checksum(frame[:s.size-1]) {
			s.Dropped++
			s.consume(1)
			continue
		}

		out := make([]byte, s.size)
		copy(out, frame)
		s.consume(s.size)
		s.Frames++
		return out, true
	}
}

// Reset drops all buffered bytes. Counters are kept.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}

func (s *Scanner) skipToPrefix() {
	i := 0
	for i < len(s.buf) && s.buf[i] != Prefix {
		i++
	}
	if i > 0 {
		s.Discarded += i
		s.consume(i)
	}
}

func (s *Scanner) consume(n int) {
	rest := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
}
