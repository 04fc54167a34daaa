// Package device provides the node catalogue for Gray Logic OTA.
//
// The catalogue records which Z-Wave nodes the service manages, their
// network node IDs and the firmware version last seen. Nodes with
// UpdatesEnabled get a firmware updater at startup and when created
// through the API.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Node Catalogue                         │
//	│                                                               │
//	│  ┌──────────────────┐    ┌──────────────────┐                 │
//	│  │     Registry     │───▶│    Repository    │                 │
//	│  │ • CRUD ops       │    │ • SQLite queries │                 │
//	│  │ • In-memory cache│    │ • Tags as JSON   │                 │
//	│  │ • Node ID unique │    └────────┬─────────┘                 │
//	│  └──────────────────┘             │                           │
//	└───────────────────────────────────│───────────────────────────┘
//	                                    ▼
//	                          ┌──────────────────┐
//	                          │  devices table   │
//	                          └──────────────────┘
//
// # Usage
//
//	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev := &device.Device{Name: "Hall Sensor", NodeID: 12, UpdatesEnabled: true}
//	if err := registry.CreateDevice(ctx, dev); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The Repository implementation
// must also be thread-safe.
package device
