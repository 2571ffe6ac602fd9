package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Selector chooses one peripheral out of a ranked candidate list.
// Returning ErrSelectionCancelled means the user backed out.
type Selector interface {
	Select(ctx context.Context, candidates []Candidate) (Candidate, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, candidates []Candidate) (Candidate, error)

func (f SelectorFunc) Select(ctx context.Context, candidates []Candidate) (Candidate, error) {
	return f(ctx, candidates)
}

// FirstSelector picks the best ranked candidate without asking.
type FirstSelector struct{}

func (FirstSelector) Select(_ context.Context, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoDeviceFound
	}
	return candidates[0], nil
}

// AddressSelector picks the candidate with the given address.
type AddressSelector struct {
	Address string
}

func (s AddressSelector) Select(_ context.Context, candidates []Candidate) (Candidate, error) {
	for _, c := range candidates {
		if strings.EqualFold(c.Address, s.Address) {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: %s", ErrNoDeviceFound, s.Address)
}

// PromptSelector lists the candidates on Out and reads a choice from In.
// An empty answer, "q" or end of input cancels the selection.
type PromptSelector struct {
	In  io.Reader
	Out io.Writer
}

func (s PromptSelector) Select(ctx context.Context, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoDeviceFound
	}

	known := color.New(color.FgGreen).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Fprintln(s.Out, "Select a Bluetooth device:")
	for i, c := range candidates {
		marker := ""
		if c.Known {
			marker = " " + known("[supported]")
		}
		fmt.Fprintf(s.Out, "  %2d) %-24s %s %s%s\n", i+1, c.DisplayName(), c.Address, dim(fmt.Sprintf("%d dBm", c.RSSI)), marker)
	}

	lines := make(chan string)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(s.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
			return
		}
		errs <- io.EOF
	}()

	for {
		fmt.Fprintf(s.Out, "Device number [1-%d, empty to cancel]: ", len(candidates))

		select {
		case <-ctx.Done():
			return Candidate{}, ctx.Err()
		case err := <-errs:
			if err == io.EOF {
				return Candidate{}, ErrSelectionCancelled
			}
			return Candidate{}, fmt.Errorf("failed to read selection: %w", err)
		case line := <-lines:
			answer := strings.TrimSpace(line)
			if answer == "" || strings.EqualFold(answer, "q") {
				return Candidate{}, ErrSelectionCancelled
			}
			n, err := strconv.Atoi(answer)
			if err != nil || n < 1 || n > len(candidates) {
				fmt.Fprintf(s.Out, "Invalid choice %q\n", answer)
				continue
			}
			return candidates[n-1], nil
		}
	}
}
