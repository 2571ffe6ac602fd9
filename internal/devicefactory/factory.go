// Package devicefactory picks the BLE backend named in the configuration.
package devicefactory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/device"
	goble "github.com/srg/bleport/internal/device/go-ble"
	tinyble "github.com/srg/bleport/internal/device/tinygo"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

var backends = map[string]func(*logrus.Logger) device.Adapter{
	BackendGoBLE:  func(l *logrus.Logger) device.Adapter { return goble.NewAdapter(l) },
	BackendTinyGo: func(l *logrus.Logger) device.Adapter { return tinyble.NewAdapter(l) },
}

// Backends lists the supported backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AdapterFactory creates the radio adapter for backend.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(backend string, logger *logrus.Logger) (device.Adapter, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" {
		name = BackendGoBLE
	}
	build, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown bluetooth backend %q (supported: %s)", backend, strings.Join(Backends(), ", "))
	}
	return build(logger), nil
}

// NewCentral builds a Requester on top of the backend adapter.
func NewCentral(backend string, selector device.Selector, logger *logrus.Logger, opts ...device.RequesterOption) (*device.Requester, error) {
	adapter, err := AdapterFactory(backend, logger)
	if err != nil {
		return nil, err
	}
	return device.NewRequester(adapter, selector, logger, opts...), nil
}
