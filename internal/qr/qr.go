package qr

import (
	"bytes"
	"fmt"
	"image"
	// Devices upload JPEG frames; Telegram previews are PNG.
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/google/uuid"
	"github.com/makiuchi-d/gozxing"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// tokenPrefix marks tokens generated by this system so unrelated QR
	// codes in the camera frame never match.
	tokenPrefix = "alarm_"

	// tokenHexLength is the number of hex characters after the prefix.
	tokenHexLength = 12

	// imageSize is the side length in pixels of generated QR images.
	imageSize = 410
)

// Codec produces a QR image from a token and extracts a token from a
// captured camera frame.
type Codec interface {
	// Encode renders the token as a PNG QR image.
	Encode(token string) ([]byte, error)
	// Decode extracts a token from image bytes. The second return value is
	// false when no QR code was found; a decode failure is not an error.
	Decode(imageBytes []byte) (string, bool)
}

// ImageCodec is the production Codec built on go-qrcode and gozxing.
type ImageCodec struct{}

var _ Codec = ImageCodec{}

// NewToken returns a fresh confirmation token.
func NewToken() string {
	id := uuid.New()

	return tokenPrefix + fmt.Sprintf("%x", id[:])[:tokenHexLength]
}

// Encode renders the token as a PNG QR image with medium error correction,
// enough redundancy for a phone screen photographed by a cheap camera.
func (ImageCodec) Encode(token string) ([]byte, error) {
	data, err := qrcode.Encode(token, qrcode.Medium, imageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	return data, nil
}

// Decode extracts the first QR code found in the image bytes.
func (ImageCodec) Decode(imageBytes []byte) (string, bool) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", false
	}

	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}

	result, err := zxqrcode.NewQRCodeReader().Decode(bitmap, nil)
	if err != nil {
		return "", false
	}

	text := strings.TrimSpace(result.GetText())
	if text == "" {
		return "", false
	}

	return text, true
}
