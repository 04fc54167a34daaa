// Package fwregistry is an HTTP client for the firmware registry that
// publishes releases for managed devices.
//
// The registry answers
//
//	GET {base}/api/v1/updates?device_id={id}&firmware_version={v}
//	X-API-Key: {key}
//
// with a JSON array of candidates:
//
//	[{"version":"1.2.0","changelog":"...","files":[{"target":0,"url":"...","integrity":"sha256:...","size":1234}]}]
//
// An empty array means the device has nothing on offer.
package fwregistry
