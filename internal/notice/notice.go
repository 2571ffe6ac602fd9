// Package notice shows blocking-style user messages ("modals") outside the log stream.
package notice

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Notifier presents a titled message to the user.
type Notifier interface {
	Notify(title, message string)
}

// Func adapts a plain function to Notifier.
type Func func(title, message string)

func (f Func) Notify(title, message string) { f(title, message) }

// Discard drops every notice.
var Discard Notifier = Func(func(string, string) {})

// Console prints a framed, colored block to Out (stderr when nil).
type Console struct {
	Out io.Writer

	mu sync.Mutex
}

func NewConsole(out io.Writer) *Console {
	return &Console{Out: out}
}

func (c *Console) Notify(title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.Out
	if out == nil {
		out = os.Stderr
	}

	frame := color.New(color.FgRed)
	heading := color.New(color.FgRed, color.Bold)

	_, _ = frame.Fprint(out, "┌ ")
	_, _ = heading.Fprintln(out, title)
	for _, line := range strings.Split(strings.TrimRight(message, "\n"), "\n") {
		_, _ = frame.Fprint(out, "│ ")
		_, _ = fmt.Fprintln(out, line)
	}
	_, _ = frame.Fprintln(out, "└")
}

// Notice is a single recorded message.
type Notice struct {
	Title   string
	Message string
}

// Recorder keeps every notice it receives; safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Title: title, Message: message})
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
