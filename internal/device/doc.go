// Package device defines the Bluetooth Low Energy capability the bridge runs on:
// scanning, device selection, GATT connect, service and characteristic lookup,
// write-without-response and notifications.
//
// Concrete stacks live in sub-packages:
//   - go-ble: github.com/go-ble/ble (CoreBluetooth on macOS, HCI on Linux)
//   - tinygo: tinygo.org/x/bluetooth (BlueZ, CoreBluetooth, WinRT)
//
// Both implement Adapter. Requester turns an Adapter into a Central that
// scans, ranks and lets a Selector pick the peripheral to connect to.
package device
