package ptyio

// DefaultMaxFrame bounds a single command line.
const DefaultMaxFrame = 4096

// Framer splits a byte stream into newline-terminated frames. Carriage
// returns are dropped and empty lines are skipped, so CRLF and LF senders
// look the same.
type Framer struct {
	buf      []byte
	max      int
	dropping bool
}

func NewFramer(maxFrame int) *Framer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Framer{max: maxFrame}
}

// Feed consumes data and calls emit once per complete frame. emit owns the
// slice it receives. Frames longer than the limit are discarded whole; the
// count of discarded frames is returned.
func (f *Framer) Feed(data []byte, emit func(frame []byte)) (discarded int) {
	for _, b := range data {
		switch {
		case b == '\r':
			continue
		case b == '\n':
			if f.dropping {
				f.dropping = false
				discarded++
			} else if len(f.buf) > 0 {
				emit(append([]byte(nil), f.buf...))
			}
			f.buf = f.buf[:0]
		case f.dropping:
		case len(f.buf) >= f.max:
			f.dropping = true
			f.buf = f.buf[:0]
		default:
			f.buf = append(f.buf, b)
		}
	}
	return discarded
}

// Pending returns the bytes of the unfinished frame.
func (f *Framer) Pending() []byte {
	return append([]byte(nil), f.buf...)
}

// Reset drops any unfinished frame.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.dropping = false
}
