// Package server wires the alarm server process: configuration, storage,
// the QR codec, the Telegram adapters, the alarm core with its scheduler,
// and the HTTP device API, with ordered graceful shutdown.
package server
