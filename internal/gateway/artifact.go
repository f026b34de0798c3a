package gateway

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// qrImageSize is the rendered QR PNG edge length in pixels. 256 keeps the
// payload small while remaining scannable on phone screens.
const qrImageSize = 256

// renderQRArtifact builds the challenge artifact for the QR flow: the raw
// payload plus a base64 PNG rendering for display clients that cannot encode
// QR codes themselves.
//
// A render failure is not fatal: the raw payload is still usable, so the
// artifact is returned with an empty image.
func renderQRArtifact(payload string) *AuthArtifact {
	art := &AuthArtifact{QR: payload}

	// Medium error correction is enough for screen-to-camera scanning.
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return art
	}

	art.QRImage = base64.StdEncoding.EncodeToString(png)
	return art
}

// pairCodeArtifact builds the challenge artifact for the numeric flow.
func pairCodeArtifact(code string) *AuthArtifact {
	return &AuthArtifact{PairCode: code}
}

// FormatPairCode adds a separator halfway through a numeric linking code for
// readability: "ABCD1234" -> "ABCD-1234". Codes with odd length are returned
// unchanged.
func FormatPairCode(code string) string {
	if len(code) == 0 || len(code)%2 != 0 {
		return code
	}
	half := len(code) / 2
	return fmt.Sprintf("%s-%s", code[:half], code[half:])
}
