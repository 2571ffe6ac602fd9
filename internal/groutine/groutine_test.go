package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_PropagatesName(t *testing.T) {
	names := make(chan string, 1)
	Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		require.Fail(t, "goroutine MUST run")
	}
}

func TestGo_RecoversPanics(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "panicky", func(ctx context.Context) { //nolint:staticcheck // nil parent is supported
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "panicking goroutine MUST still finish")
	}
}

func TestGetName_WithoutLabel(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck // nil context is supported
}
