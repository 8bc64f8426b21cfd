package identity

import (
	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the default side length, in pixels, of a rendered QR image.
const QRSize = 256

// EncodeQR renders the payload as a PNG QR code ready for display.
func EncodeQR(p Payload) ([]byte, error) {
	data, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(string(data), qrcode.Medium, QRSize)
}
