// Package fleet keeps the firmware manager in step with the device
// catalogue.
//
// Every catalogue device with updates enabled is attached: its node is
// registered with the mesh link, its persisted firmware state is loaded,
// and an updater is added to the manager. Catalogue edits re-attach or
// detach devices, and installed versions reported by the manager are
// written back to the catalogue.
//
//	device.Registry ──► Fleet ──► Link (zwave.Bridge)
//	       ▲              │
//	       │              └────► firmware.Manager
//	       └── SetFirmwareVersion ◄── Observer
package fleet
