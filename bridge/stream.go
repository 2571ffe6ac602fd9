package bridge

import (
	"fmt"
	"io"
	"sync"
)

type streamState int

const (
	streamWritable streamState = iota
	streamClosed
	streamErrored
)

func (s streamState) String() string {
	switch s {
	case streamWritable:
		return "writable"
	case streamClosed:
		return "closed"
	default:
		return "errored"
	}
}

type writeSink interface {
	write(p []byte) error
	close()
	abort(reason error)
}

// WriteStream is the writable side of a Port. Writes are delivered to the
// sink one at a time in call order.
type WriteStream struct {
	sink writeSink

	mu       sync.Mutex
	state    streamState
	reason   error
	locked   bool
	writeSeq sync.Mutex
}

func newWriteStream(sink writeSink) *WriteStream {
	return &WriteStream{sink: sink}
}

// Write routes one command buffer. A rejected command leaves the stream
// writable.
func (w *WriteStream) Write(p []byte) (int, error) {
	if w.Locked() {
		return 0, ErrStreamLocked
	}
	return w.write(p)
}

func (w *WriteStream) Close() error {
	if w.Locked() {
		return ErrStreamLocked
	}
	return w.close()
}

func (w *WriteStream) Abort(reason error) error {
	if w.Locked() {
		return ErrStreamLocked
	}
	return w.abort(reason)
}

func (w *WriteStream) Locked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.locked
}

// GetWriter locks the stream to the returned writer until ReleaseLock.
func (w *WriteStream) GetWriter() (*StreamWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.locked {
		return nil, ErrStreamLocked
	}
	w.locked = true
	return &StreamWriter{stream: w}, nil
}

func (w *WriteStream) currentState() streamState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WriteStream) checkWritable() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case streamClosed:
		return ErrPortClosed
	case streamErrored:
		return fmt.Errorf("%w: %v", ErrStreamErrored, w.reason)
	}
	return nil
}

func (w *WriteStream) write(p []byte) (int, error) {
	w.writeSeq.Lock()
	defer w.writeSeq.Unlock()

	if err := w.checkWritable(); err != nil {
		return 0, err
	}
	if err := w.sink.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WriteStream) close() error {
	// queued behind in-flight writes
	w.writeSeq.Lock()
	defer w.writeSeq.Unlock()

	w.mu.Lock()
	switch w.state {
	case streamClosed:
		w.mu.Unlock()
		return ErrPortClosed
	case streamErrored:
		reason := w.reason
		w.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStreamErrored, reason)
	}
	w.state = streamClosed
	w.mu.Unlock()

	w.sink.close()
	return nil
}

func (w *WriteStream) abort(reason error) error {
	w.mu.Lock()
	if w.state != streamWritable {
		w.mu.Unlock()
		return nil
	}
	if reason == nil {
		reason = ErrPortClosed
	}
	w.state = streamErrored
	w.reason = reason
	w.mu.Unlock()

	w.sink.abort(reason)
	return nil
}

// StreamWriter holds the lock on a WriteStream.
type StreamWriter struct {
	stream *WriteStream

	mu       sync.Mutex
	released bool
}

var _ io.WriteCloser = (*StreamWriter)(nil)

func (sw *StreamWriter) active() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.released {
		return ErrWriterReleased
	}
	return nil
}

func (sw *StreamWriter) Write(p []byte) (int, error) {
	if err := sw.active(); err != nil {
		return 0, err
	}
	return sw.stream.write(p)
}

func (sw *StreamWriter) Close() error {
	if err := sw.active(); err != nil {
		return err
	}
	return sw.stream.close()
}

func (sw *StreamWriter) Abort(reason error) error {
	if err := sw.active(); err != nil {
		return err
	}
	return sw.stream.abort(reason)
}

// ReleaseLock unlocks the stream; later calls on the writer fail.
func (sw *StreamWriter) ReleaseLock() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.released {
		return
	}
	sw.released = true

	sw.stream.mu.Lock()
	sw.stream.locked = false
	sw.stream.mu.Unlock()
}

// ReadStream is the readable side of a Port. Nothing is ever delivered; reads
// block until the port closes and then report io.EOF.
type ReadStream struct {
	closed chan struct{}
	once   sync.Once
}

func newReadStream() *ReadStream {
	return &ReadStream{closed: make(chan struct{})}
}

func (r *ReadStream) Read([]byte) (int, error) {
	<-r.closed
	return 0, io.EOF
}

// Done is closed together with the stream.
func (r *ReadStream) Done() <-chan struct{} { return r.closed }

func (r *ReadStream) Close() error {
	r.close()
	return nil
}

func (r *ReadStream) close() {
	r.once.Do(func() { close(r.closed) })
}
