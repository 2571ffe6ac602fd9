package notice

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleport/internal/testutils"
)

func TestConsole_Notify(t *testing.T) {
	// GOAL: Verify the console modal frames the title and every message line
	//
	// TEST SCENARIO: Notify with a two-line message into a buffer → framed block without colors

	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	NewConsole(&buf).Notify("Connection failed", "first line\nsecond line\n")

	expected := `
┌ Connection failed
│ first line
│ second line
└
`
	testutils.NewTextAsserter(t).Assert(buf.String(), expected)
}

func TestRecorder(t *testing.T) {
	// GOAL: Verify the recorder keeps notices in arrival order and returns a copy
	//
	// TEST SCENARIO: Record two notices, mutate the returned slice → recorder unaffected

	r := &Recorder{}
	r.Notify("a", "1")
	r.Notify("b", "2")

	got := r.Notices()
	require.Len(t, got, 2, "MUST record every notice")
	assert.Equal(t, Notice{Title: "a", Message: "1"}, got[0], "MUST keep arrival order")

	got[0].Title = "mutated"
	assert.Equal(t, "a", r.Notices()[0].Title, "MUST return a copy")
}

func TestFuncAndDiscard(t *testing.T) {
	// GOAL: Verify Func adapts plain functions and Discard is silent

	var seen string
	Func(func(title, _ string) { seen = title }).Notify("hello", "")
	assert.Equal(t, "hello", seen, "MUST forward to the wrapped function")

	assert.NotPanics(t, func() { Discard.Notify("x", "y") }, "MUST accept notices silently")
}
