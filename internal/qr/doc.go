// Package qr implements the confirmation token codec: token generation,
// QR image rendering for delivery to the user, and QR extraction from
// camera frames uploaded by the device.
package qr
