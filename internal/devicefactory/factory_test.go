package devicefactory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goble "github.com/srg/bleport/internal/device/go-ble"
	tinyble "github.com/srg/bleport/internal/device/tinygo"
)

func TestAdapterFactory(t *testing.T) {
	// GOAL: Verify backend names select the matching adapter implementation
	//
	// TEST SCENARIO: goble, TinyGo (case-insensitive), empty default, unknown name

	a, err := AdapterFactory("goble", nil)
	require.NoError(t, err)
	assert.IsType(t, &goble.Adapter{}, a)

	a, err = AdapterFactory(" TinyGo ", nil)
	require.NoError(t, err)
	assert.IsType(t, &tinyble.Adapter{}, a, "backend names MUST be case-insensitive")

	a, err = AdapterFactory("", nil)
	require.NoError(t, err)
	assert.IsType(t, &goble.Adapter{}, a, "empty backend MUST default to goble")

	_, err = AdapterFactory("bluez-raw", nil)
	assert.ErrorContains(t, err, `unknown bluetooth backend "bluez-raw" (supported: goble, tinygo)`)
}

func TestNewCentral(t *testing.T) {
	c, err := NewCentral("goble", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewCentral("nope", nil, nil)
	assert.Error(t, err)
}
