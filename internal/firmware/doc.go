// Package firmware orchestrates over-the-air firmware updates for devices
// reachable over an unreliable mesh-radio link.
//
// For each device an Updater discovers available firmware from the
// controller's registry, gates every operation behind device readiness,
// and drives a sequential multi-file OTA install using the asynchronous
// progress and completion events reported by the device link.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────┐
//	│                Manager (manager.go)                   │
//	│  One Updater per device, one shared Limiter           │
//	│  ┌──────────────┐   ┌──────────────┐                 │
//	│  │   Updater    │──▶│  Discoverer  │──▶ Controller   │
//	│  │ (updater.go) │   │(discovery.go)│   (registry)    │
//	│  └──────┬───────┘   └──────┬───────┘                 │
//	│         │                  ▼                          │
//	│         │           ┌──────────────┐                 │
//	│         │           │   Limiter    │                 │
//	│         ▼           └──────────────┘                 │
//	│  ┌──────────────┐   ┌──────────────┐                 │
//	│  │     Gate     │   │ Install      │──▶ Controller   │
//	│  │  (gate.go)   │   │ (driver.go)  │   (transfer)    │
//	│  └──────────────┘   └──────────────┘                 │
//	└──────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Node: the device as seen through the link (status, version, events)
//   - Controller: registry lookup and OTA transfer initiation
//   - Candidate: a selected firmware release with its ordered files
//   - Updater: per-device orchestrator exposing install and version state
//   - Limiter: admission gate bounding concurrent registry queries
//   - Observer: receives state changes, check results and install outcomes
//
// # Thread Safety
//
// Updater, Manager, Gate and Limiter are safe for concurrent use. Node
// implementations must deliver events asynchronously: listeners are never
// invoked from inside On or Once.
//
// # Usage
//
//	limiter := firmware.NewLimiter(cfg.Firmware.MaxConcurrent)
//	mgr := firmware.NewManager(controller, limiter, firmware.ManagerConfig{
//	    APIKey:        cfg.Firmware.APIKey,
//	    CheckInterval: cfg.Firmware.CheckInterval,
//	}, log)
//	mgr.SetObserver(firmware.Observers{recorder, hub, metrics})
//	mgr.Start(ctx)
//
//	u, err := mgr.Add(node)
//	err = u.Install(ctx, u.LatestVersion(), false)
package firmware
