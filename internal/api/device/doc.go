// Package device exposes the HTTP API consumed by the physical
// confirmation device: a state poll and a camera-frame scan upload.
package device
