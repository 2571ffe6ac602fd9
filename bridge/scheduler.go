package bridge

import (
	"context"
	"sync"

	"github.com/srg/bleport/internal/groutine"
)

const schedulerBacklog = 64

// scheduler serializes every Store access onto one goroutine.
type scheduler struct {
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newScheduler(ctx context.Context) *scheduler {
	s := &scheduler{
		tasks: make(chan func(), schedulerBacklog),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	groutine.Go(ctx, "bridge-scheduler", s.loop)
	return s
}

func (s *scheduler) loop(context.Context) {
	defer close(s.done)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the scheduler and waits for it to finish.
func (s *scheduler) do(ctx context.Context, fn func()) error {
	select {
	case <-s.quit:
		return ErrSerialClosed
	default:
	}

	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.tasks <- task:
	case <-s.quit:
		return ErrSerialClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		// the loop may have picked quit before the queued task
		select {
		case <-finished:
			return nil
		default:
			return ErrSerialClosed
		}
	}
}

// post queues fn without waiting for it. It must not be called from the
// scheduler goroutine itself.
func (s *scheduler) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.tasks <- fn:
		return true
	case <-s.quit:
		return false
	}
}

func (s *scheduler) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}
