// Package notifier delivers alarm events to users.
//
// The Notifier interface is implemented by a Telegram sender and by Noop,
// which is wired in when no bot token is configured.
package notifier
