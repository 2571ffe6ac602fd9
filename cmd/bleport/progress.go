package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/bleport/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (<phase> Ns)" on one terminal line while a
// device is being acquired. Unlike a one-shot spinner it can be restarted,
// since serve acquires several ports through the same requester.
//
//	p := NewProgressPrinter(os.Stderr, "selecting")
//	p.Begin("Acquiring port 1", "scanning")
//	defer p.End()
//
// Phases listed as stop phases end the line immediately, so an interactive
// prompt is not overwritten.
type ProgressPrinter struct {
	out        io.Writer
	stopPhases map[string]struct{}

	phase atomic.Value // string

	mu      sync.Mutex
	prefix  string
	started time.Time
	stop    chan struct{}
	done    chan struct{}
}

func NewProgressPrinter(out io.Writer, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{out: out, stopPhases: stopSet}
	p.phase.Store("")
	return p
}

// Begin starts a new progress line, ending any previous one.
func (p *ProgressPrinter) Begin(prefix, phase string) {
	p.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.prefix = prefix
	p.phase.Store(phase)
	p.started = time.Now()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	fmt.Fprintf(p.out, "\r%s (%s...)   ", prefix, phase)

	stop, done, started := p.stop, p.done, p.started
	groutine.Go(context.Background(), "progress-printer", func(context.Context) {
		defer close(done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				seconds := int(time.Since(started).Seconds())
				if seconds > 0 {
					fmt.Fprintf(p.out, "\r%s (%s %ds)   ", prefix, p.phase.Load().(string), seconds)
				}
			}
		}
	})
}

// Callback returns a phase sink for device.WithProgress.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStop := p.stopPhases[phase]; isStop {
			p.End()
		}
	}
}

// End clears the line. Safe to call when nothing is running.
func (p *ProgressPrinter) End() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	fmt.Fprint(p.out, clearLineSequence)
}
