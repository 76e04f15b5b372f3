package wallets

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

// AddressQR renders the wallet address as a PNG QR code for funding.
func AddressQR(address string, size int) ([]byte, error) {
	if size == 0 {
		size = 256
	}
	if size < 128 || size > 1024 {
		return nil, errors.New("invalid size: must be between 128 and 1024")
	}
	if address == "" {
		return nil, errors.New("address is required")
	}

	qr, err := qrcode.New(address, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return qr.PNG(size)
}
