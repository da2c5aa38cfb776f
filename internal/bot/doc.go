// Package bot is the Telegram chat adapter: it translates slash commands
// into core alarm operations and runs the registration flow for new users.
package bot
