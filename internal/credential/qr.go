package credential

import (
	qrcode "github.com/skip2/go-qrcode"

	"github.com/iliyamo/event-credentials/internal/apperrors"
)

// DefaultQRSize is the PNG edge length in pixels.
const DefaultQRSize = 256

// QRCode renders token as a PNG image.  Medium error correction keeps
// the code readable on printed badges with some wear.
func QRCode(token string, size int) ([]byte, error) {
	if token == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "token is required")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCredential, "render qr code")
	}
	return png, nil
}
