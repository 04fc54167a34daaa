// Package metrics exposes Prometheus metrics for Gray Logic OTA.
//
// Metrics live on a private registry rather than the global default so
// tests and multiple instances do not collide. Firmware metrics are fed
// through the firmware.Observer interface; HTTP metrics come from the
// Middleware wrapped around the API router.
//
//	ota_firmware_checks_total{outcome}
//	ota_firmware_check_duration_seconds
//	ota_firmware_installs_total{status}
//	ota_firmware_install_duration_seconds
//	ota_firmware_install_progress_percent{device_id}
//	ota_firmware_installs_active
//	ota_firmware_updates_available
//	ota_firmware_transfer_slots{state="in_use"|"capacity"}
//	ota_http_requests_total{path,method,status}
//	ota_http_request_duration_seconds{path,method,status}
package metrics
