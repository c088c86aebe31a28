package qr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Result is the local QR decode outcome.
type Result struct {
	Detected bool   `json:"detected"`
	Payload  string `json:"payload,omitempty"`
}

// Decode scans image bytes for a QR code. It never returns an error: any
// decode failure, including a panic inside the reader, reports Detected=false.
func Decode(data []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
		}
	}()
	payload, err := decode(data)
	if err != nil || strings.TrimSpace(payload) == "" {
		return Result{}
	}
	return Result{Detected: true, Payload: payload}
}

func decode(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	out, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return out.GetText(), nil
}

// Merge combines the local decode with the vision model's hint. Either
// signal marks the image as carrying a QR code; the local payload wins.
func Merge(local Result, hintDetected bool, hintPayload string) Result {
	out := Result{Detected: local.Detected || hintDetected}
	switch {
	case local.Payload != "":
		out.Payload = local.Payload
	case hintDetected:
		out.Payload = strings.TrimSpace(hintPayload)
	}
	return out
}
