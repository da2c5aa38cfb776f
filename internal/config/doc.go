// Package config defines server settings and provides helpers to load,
// validate and save them in YAML format.
//
// The Config type holds the HTTP listen address, the SQLite database path,
// the Telegram bot token and the scheduler timing knobs.
package config
