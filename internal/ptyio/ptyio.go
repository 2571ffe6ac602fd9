// Package ptyio exposes a pseudo-terminal whose slave side accepts one JSON
// command per line. Bytes read from the master are staged in a ring buffer
// and framed on a separate goroutine, so a slow consumer never stalls the
// terminal.
//
//	ep, err := ptyio.Open(ptyio.Options{
//	    Link:    "/tmp/bleport0",
//	    OnFrame: func(frame []byte) { port.Writable().Write(frame) },
//	})
//	// ep.TTYName() -> "/dev/pts/X"
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/bleport/internal/groutine"
)

const (
	DefaultRingCap     = 16 * 1024
	DefaultPollTimeout = 50 * time.Millisecond
)

// Options configures Open. Zero values pick the defaults above.
type Options struct {
	RingCap     int
	MaxFrame    int
	PollTimeout time.Duration

	// Link, when set, is a symlink created to the slave path and removed on Close.
	Link string

	Logger *logrus.Logger

	// OnFrame receives every complete line without its terminator. It runs on
	// the dispatcher goroutine; frames are delivered in order.
	OnFrame func(frame []byte)
	// OnError is called at most once when the read loop dies.
	OnError func(err error)
}

// Stats are running counters for one endpoint.
type Stats struct {
	BytesRead       uint64
	DroppedBytes    uint64
	Frames          uint64
	DiscardedFrames uint64
}

// Endpoint is an open PTY pair feeding frames to OnFrame.
type Endpoint struct {
	opts   Options
	logger *logrus.Logger

	master  *os.File
	slave   *os.File
	ttyName string
	link    string

	ring   *ringbuffer.RingBuffer
	ready  chan struct{}
	framer *Framer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	errorOnce sync.Once

	bytesRead       atomic.Uint64
	droppedBytes    atomic.Uint64
	frames          atomic.Uint64
	discardedFrames atomic.Uint64
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Open creates the PTY pair, optionally links it and starts the loops.
func Open(opts Options) (*Endpoint, error) {
	if opts.RingCap <= 0 {
		opts.RingCap = DefaultRingCap
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		opts:    opts,
		logger:  logger,
		master:  master,
		slave:   slave,
		ttyName: slave.Name(),
		ring:    ringbuffer.New(opts.RingCap),
		ready:   make(chan struct{}, 1),
		framer:  NewFramer(opts.MaxFrame),
		ctx:     ctx,
		cancel:  cancel,
	}

	if opts.Link != "" {
		if err := createLink(e.ttyName, opts.Link); err != nil {
			cancel()
			_ = master.Close()
			_ = slave.Close()
			return nil, err
		}
		e.link = opts.Link
		logger.WithFields(logrus.Fields{"link": e.link, "tty": e.ttyName}).Info("Created PTY symlink")
	}

	e.wg.Add(2)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) {
		defer e.wg.Done()
		e.readLoop()
	})
	groutine.Go(ctx, "pty-frame-dispatcher", func(context.Context) {
		defer e.wg.Done()
		e.dispatch()
	})

	logger.WithField("tty", e.ttyName).Info("PTY ready")
	return e, nil
}

// TTYName is the slave device path, e.g. /dev/pts/5.
func (e *Endpoint) TTYName() string { return e.ttyName }

// Link is the symlink path, empty when none was requested.
func (e *Endpoint) Link() string { return e.link }

func (e *Endpoint) Stats() Stats {
	return Stats{
		BytesRead:       e.bytesRead.Load(),
		DroppedBytes:    e.droppedBytes.Load(),
		Frames:          e.frames.Load(),
		DiscardedFrames: e.discardedFrames.Load(),
	}
}

// Close stops both loops, removes the symlink and closes the pair. Safe to
// call more than once.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()

	// symlink first so nobody opens a tty that is about to vanish
	if e.link != "" {
		if err := os.Remove(e.link); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.WithError(err).WithField("link", e.link).Warn("Failed to remove PTY symlink")
		}
	}

	var errs []error
	if err := e.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty master: %w", err))
	}
	if err := e.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty slave: %w", err))
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		e.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(e.opts.PollTimeout*4 + time.Second):
		e.logger.WithField("tty", e.ttyName).Error("PTY loops did not stop in time")
	}

	e.logger.WithField("tty", e.ttyName).Debug("PTY closed")
	return errors.Join(errs...)
}

func (e *Endpoint) readLoop() {
	fd := int32(e.master.Fd())
	pollFds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
	timeout := int(e.opts.PollTimeout / time.Millisecond)
	buf := make([]byte, 4096)

	for e.ctx.Err() == nil {
		n, err := unix.Poll(pollFds, timeout)
		if err != nil {
			if !errors.Is(err, syscall.EINTR) {
				e.logger.WithError(err).Warn("PTY poll failed")
			}
			continue
		}
		if n == 0 {
			continue
		}

		n, err = e.master.Read(buf)
		if n > 0 {
			e.stage(buf[:n])
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
			e.logger.WithError(err).Debug("PTY read loop stopping")
			return
		default:
			e.logger.WithError(err).Error("PTY read loop failed")
			if e.opts.OnError != nil {
				e.errorOnce.Do(func() { e.opts.OnError(fmt.Errorf("pty read: %w", err)) })
			}
			return
		}
	}
}

// stage moves bytes from the tty into the ring and wakes the dispatcher.
func (e *Endpoint) stage(data []byte) {
	written, err := e.ring.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		e.logger.WithError(err).Warn("PTY ring write failed")
	}
	e.bytesRead.Add(uint64(written))
	if dropped := len(data) - written; dropped > 0 {
		e.droppedBytes.Add(uint64(dropped))
		e.logger.WithField("dropped", dropped).Warn("PTY input ring full; bytes dropped")
	}
	if written > 0 {
		select {
		case e.ready <- struct{}{}:
		default:
		}
	}
}

func (e *Endpoint) dispatch() {
	chunk := make([]byte, 4096)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.ready:
		}

		for e.ctx.Err() == nil {
			n, err := e.ring.TryRead(chunk)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			discarded := e.framer.Feed(chunk[:n], e.deliver)
			if discarded > 0 {
				e.discardedFrames.Add(uint64(discarded))
				e.logger.WithField("max_frame", e.framer.max).Warn("Oversized PTY line discarded")
			}
		}
	}
}

func (e *Endpoint) deliver(frame []byte) {
	e.frames.Add(1)
	if e.opts.OnFrame == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).Error("PTY frame handler panicked")
		}
	}()
	e.opts.OnFrame(frame)
}

// openRaw opens a PTY pair with the slave in raw mode and a non-blocking master.
func openRaw() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, cause error) (*os.File, *os.File, error) {
		closeErr := errors.Join(master.Close(), slave.Close())
		if closeErr != nil {
			return nil, nil, fmt.Errorf("failed to %s on %s: %w (cleanup: %v)", step, slave.Name(), cause, closeErr)
		}
		return nil, nil, fmt.Errorf("failed to %s on %s: %w", step, slave.Name(), cause)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("set raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("set non-blocking mode", err)
	}
	return master, slave, nil
}

// createLink points path at target, replacing a stale symlink but never a
// regular file.
func createLink(target, path string) error {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("refusing to replace %s: not a symlink", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale symlink %s: %w", path, err)
		}
	}
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", path, target, err)
	}
	return nil
}
